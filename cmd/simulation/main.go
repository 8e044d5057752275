package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freightmatch/freight-api/internal/auth"
	"github.com/freightmatch/freight-api/internal/database"
	"github.com/freightmatch/freight-api/internal/loads"
	"github.com/freightmatch/freight-api/internal/matching"
	"github.com/freightmatch/freight-api/internal/negotiation"
	"github.com/freightmatch/freight-api/internal/pricing"
	"github.com/freightmatch/freight-api/internal/realtime"
	"github.com/freightmatch/freight-api/internal/types"
	"github.com/freightmatch/freight-api/pkg/middleware"
)

const (
	simJWTSecret  = "freight-secret-key"
	minLoads      = 10
	maxLoads      = 60
	numWorkers    = 5
	numCarriers   = 6
	serverAddress = "http://localhost:8080"
)

var (
	cities = []string{
		"Chicago, IL", "Dallas, TX", "Atlanta, GA",
		"Denver, CO", "Los Angeles, CA", "Memphis, TN",
	}
	equipmentTypes = []string{"dry_van", "reefer", "flatbed", "step_deck"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the freight API.
// It holds one shipper token plus a token per simulated carrier.
type simulationClient struct {
	baseURL       string
	shipperToken  string
	carrierTokens []string
	client        *http.Client
	stats         map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates the shipper and every carrier and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"profile": {name: "Carrier Profile"},
			"load":    {name: "Post Load"},
			"matches": {name: "Rank Matches"},
			"rate":    {name: "Predict Rate"},
			"quote":   {name: "Submit Quote"},
			"accept":  {name: "Accept Quote"},
		},
	}

	// Get shipper token
	token, err := sc.authenticate(auth.TestShipperKey, auth.TestShipperSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate shipper: %w", err)
	}
	sc.shipperToken = token

	// Get one token per carrier
	for i := 0; i < numCarriers; i++ {
		token, err := sc.authenticate(carrierKey(i), carrierSecret(i))
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate carrier %d: %w", i, err)
		}
		sc.carrierTokens = append(sc.carrierTokens, token)
	}

	return sc, nil
}

func carrierKey(i int) string {
	return fmt.Sprintf("sim-carrier-key-%d", i)
}

func carrierSecret(i int) string {
	return fmt.Sprintf("sim-carrier-secret-%d", i)
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// doJSON issues an authenticated JSON request and decodes the envelope data
// into out. A nil body sends an empty request body.
func (sc *simulationClient) doJSON(method, path, token string, payload, out interface{}) error {
	var buf io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w, body: %s", err, string(respBody))
	}
	return nil
}

// upsertCarrierProfile registers the carrier's equipment and coverage
func (sc *simulationClient) upsertCarrierProfile(carrierIdx int, profile *loads.CarrierProfileRequest) error {
	start := time.Now()
	defer func() {
		sc.stats["profile"].addDuration(time.Since(start))
	}()

	var out types.CarrierProfile
	err := sc.doJSON("PUT", "/api/v1/carriers/profile", sc.carrierTokens[carrierIdx], profile, &out)
	if err != nil {
		sc.stats["profile"].failures++
	}
	return err
}

// postLoad submits a new load to the API
// Returns the load ID on success
func (sc *simulationClient) postLoad(load *loads.CreateLoadRequest) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["load"].addDuration(time.Since(start))
	}()

	var out types.Load
	if err := sc.doJSON("POST", "/api/v1/loads", sc.shipperToken, load, &out); err != nil {
		sc.stats["load"].failures++
		return "", err
	}
	if out.LoadID == "" {
		return "", fmt.Errorf("no load ID in response")
	}
	return out.LoadID, nil
}

// rankMatches runs the carrier ranking for a load
func (sc *simulationClient) rankMatches(loadID string) (*types.RankResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["matches"].addDuration(time.Since(start))
	}()

	var out types.RankResponse
	path := fmt.Sprintf("/api/v1/loads/%s/matches", loadID)
	if err := sc.doJSON("POST", path, sc.shipperToken, nil, &out); err != nil {
		sc.stats["matches"].failures++
		return nil, err
	}
	return &out, nil
}

// predictRate fetches the market rate prediction for a load
func (sc *simulationClient) predictRate(loadID string) (*types.RateResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["rate"].addDuration(time.Since(start))
	}()

	var out types.RateResponse
	path := fmt.Sprintf("/api/v1/loads/%s/rate", loadID)
	if err := sc.doJSON("GET", path, sc.shipperToken, nil, &out); err != nil {
		sc.stats["rate"].failures++
		return nil, err
	}
	return &out, nil
}

// submitQuote bids on a load as the given carrier
// Returns the quote ID on success
func (sc *simulationClient) submitQuote(carrierIdx int, quote *negotiation.SubmitQuoteRequest) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["quote"].addDuration(time.Since(start))
	}()

	var out types.Quote
	if err := sc.doJSON("POST", "/api/v1/quotes", sc.carrierTokens[carrierIdx], quote, &out); err != nil {
		sc.stats["quote"].failures++
		return "", err
	}
	if out.QuoteID == "" {
		return "", fmt.Errorf("no quote ID in response")
	}
	return out.QuoteID, nil
}

// acceptQuote accepts a pending quote as the shipper
func (sc *simulationClient) acceptQuote(quoteID string) (*types.AcceptQuoteResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["accept"].addDuration(time.Since(start))
	}()

	var out types.AcceptQuoteResponse
	path := fmt.Sprintf("/api/v1/quotes/%s/accept", quoteID)
	if err := sc.doJSON("POST", path, sc.shipperToken, nil, &out); err != nil {
		sc.stats["accept"].failures++
		return nil, err
	}
	return &out, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the marketplace simulation
// It starts a local API server, registers carriers, and drives loads through
// posting, ranking, quoting, and acceptance
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Register carrier profiles with random equipment and coverage
	for i := 0; i < numCarriers; i++ {
		profile := &loads.CarrierProfileRequest{
			CompanyName:     fmt.Sprintf("Sim Freight Co %d", i),
			EquipmentTypes:  randomSubset(equipmentTypes, 2),
			ServiceAreas:    randomSubset(cities, 3),
			InsuranceAmount: float64(rand.Intn(200)+50) * 1000,
			Rating:          3.5 + rand.Float64()*1.5,
			Active:          true,
		}
		if err := simClient.upsertCarrierProfile(i, profile); err != nil {
			log.Fatal().Err(err).Int("carrier", i).Msg("Failed to register carrier profile")
		}
	}
	log.Info().Int("carriers", numCarriers).Msg("Carrier profiles registered")

	// Generate random number of loads to post
	targetLoads := rand.Intn(maxLoads-minLoads) + minLoads
	log.Info().Int("target_loads", targetLoads).Msg("Starting simulation")

	// Channel to collect load IDs
	loadsChan := make(chan string, targetLoads)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			postLoadsHTTP(workerID, targetLoads/numWorkers, simClient, loadsChan)
		}(i)
	}

	// Wait for all loads to be posted
	wg.Wait()
	close(loadsChan)

	// Collect all load IDs
	var loadIDs []string
	for loadID := range loadsChan {
		loadIDs = append(loadIDs, loadID)
	}

	log.Info().Int("loads_posted", len(loadIDs)).Msg("All loads posted")

	// Collect statistics during processing
	stats := struct {
		TotalLoads     int
		RankedLoads    int
		QuotedLoads    int
		AssignedLoads  int
		ExpiredQuotes  int
		TotalValue     float64
		FailedRankings int
		FailedQuotes   int
		FailedAccepts  int
		StartTime      time.Time
		Equipment      map[string]int
		Lanes          map[string]int
	}{
		StartTime: time.Now(),
		Equipment: make(map[string]int),
		Lanes:     make(map[string]int),
	}

	stats.TotalLoads = len(loadIDs)

	// Rank, price, quote, and accept each load
	for _, loadID := range loadIDs {
		ranking, err := simClient.rankMatches(loadID)
		if err != nil {
			log.Error().Err(err).Str("load_id", loadID).Msg("Failed to rank matches")
			stats.FailedRankings++
			continue
		}
		stats.RankedLoads++
		log.Info().
			Str("load_id", loadID).
			Int("candidates", len(ranking.Candidates)).
			Msg("Matches ranked")

		prediction, err := simClient.predictRate(loadID)
		if err != nil {
			log.Error().Err(err).Str("load_id", loadID).Msg("Failed to predict rate")
			continue
		}
		baseRate := prediction.Prediction.PredictedRate
		if baseRate <= 0 {
			baseRate = float64(rand.Intn(2000) + 1000)
		}
		log.Info().
			Str("load_id", loadID).
			Float64("predicted_rate", baseRate).
			Str("trend", prediction.Prediction.Trend).
			Msg("Rate predicted")

		// A few carriers submit competing quotes around the predicted rate
		bidders := rand.Intn(numCarriers-1) + 2
		type bid struct {
			quoteID string
			price   float64
		}
		var bids []bid
		for _, idx := range rand.Perm(numCarriers)[:bidders] {
			price := baseRate * (0.85 + rand.Float64()*0.3)
			quoteID, err := simClient.submitQuote(idx, &negotiation.SubmitQuoteRequest{
				LoadID:               loadID,
				Price:                math.Round(price),
				ProposedDeliveryDate: time.Now().Add(time.Duration(rand.Intn(5)+2) * 24 * time.Hour),
				Terms:                "standard",
			})
			if err != nil {
				log.Error().Err(err).Str("load_id", loadID).Int("carrier", idx).Msg("Failed to submit quote")
				stats.FailedQuotes++
				continue
			}
			bids = append(bids, bid{quoteID: quoteID, price: math.Round(price)})
		}
		if len(bids) == 0 {
			continue
		}
		stats.QuotedLoads++

		// Shipper accepts the cheapest bid
		sort.Slice(bids, func(i, j int) bool { return bids[i].price < bids[j].price })
		accepted, err := simClient.acceptQuote(bids[0].quoteID)
		if err != nil {
			log.Error().Err(err).Str("quote_id", bids[0].quoteID).Msg("Failed to accept quote")
			stats.FailedAccepts++
			continue
		}
		stats.AssignedLoads++
		stats.ExpiredQuotes += len(accepted.ExpiredQuoteIDs)
		stats.TotalValue += accepted.Quote.Price

		log.Info().
			Str("load_id", loadID).
			Str("quote_id", accepted.Quote.QuoteID).
			Str("shipment_id", accepted.Shipment.ShipmentID).
			Float64("price", accepted.Quote.Price).
			Int("expired_quotes", len(accepted.ExpiredQuoteIDs)).
			Msg("Quote accepted")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚚 FREIGHT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Load Statistics
------------------
Total Loads:      %d
Ranked:           %d
Quoted:           %d
Assigned:         %d
Expired Quotes:   %d
Failed Rankings:  %d
Failed Quotes:    %d
Failed Accepts:   %d
Total Value:      $%.2f
Duration:         %v
`, stats.TotalLoads, stats.RankedLoads, stats.QuotedLoads, stats.AssignedLoads,
		stats.ExpiredQuotes, stats.FailedRankings, stats.FailedQuotes, stats.FailedAccepts,
		stats.TotalValue, duration.Round(time.Millisecond))

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Success rate calculation
	successRate := float64(stats.AssignedLoads) / float64(stats.TotalLoads) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_loads", stats.TotalLoads).
		Int("assigned_loads", stats.AssignedLoads).
		Float64("total_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// postLoadsHTTP generates and submits random loads to the API
// Runs as a worker goroutine, sending created load IDs to loadsChan
func postLoadsHTTP(workerID, numLoads int, simClient *simulationClient, loadsChan chan<- string) {
	for i := 0; i < numLoads; i++ {
		origin := cities[rand.Intn(len(cities))]
		destination := cities[rand.Intn(len(cities))]
		for destination == origin {
			destination = cities[rand.Intn(len(cities))]
		}

		pickup := time.Now().Add(time.Duration(rand.Intn(7)+1) * 24 * time.Hour)
		load := &loads.CreateLoadRequest{
			Origin:        origin,
			Destination:   destination,
			EquipmentType: equipmentTypes[rand.Intn(len(equipmentTypes))],
			WeightLbs:     float64(rand.Intn(40000) + 5000),
			PickupDate:    pickup,
			DeliveryDate:  pickup.Add(time.Duration(rand.Intn(4)+1) * 24 * time.Hour),
			AskingRate:    float64(rand.Intn(3000) + 800),
		}

		loadID, err := simClient.postLoad(load)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("origin", load.Origin).
				Msg("Failed to post load")
			continue
		}

		loadsChan <- loadID
		log.Info().
			Int("worker_id", workerID).
			Str("load_id", loadID).
			Str("origin", load.Origin).
			Str("destination", load.Destination).
			Str("equipment_type", load.EquipmentType).
			Float64("asking_rate", load.AskingRate).
			Msg("Load posted")

		// Random sleep between loads
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// randomSubset picks min(n, len(values)) distinct entries from values.
func randomSubset(values []string, n int) []string {
	if n > len(values) {
		n = len(values)
	}
	out := make([]string, 0, n)
	for _, idx := range rand.Perm(len(values))[:n] {
		out = append(out, values[idx])
	}
	return out
}

// startServer initializes and starts the freight API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(simJWTSecret)
	hub := realtime.NewHub(db, 500)
	loadsService := loads.NewService(db)
	matchingService := matching.NewService(db)
	pricingService := pricing.NewService(db)
	negotiationService := negotiation.NewService(db, hub)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestShipperKey, auth.TestShipperSecret, "SIM_SHIPPER", types.RoleShipper)
	for i := 0; i < numCarriers; i++ {
		authService.RegisterAPICredentials(carrierKey(i), carrierSecret(i), fmt.Sprintf("SIM_CARRIER_%d", i), types.RoleCarrier)
	}

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	loadsHandlers := loads.NewGinHandlers(loadsService)
	matchingHandlers := matching.NewGinHandlers(matchingService, hub)
	pricingHandlers := pricing.NewGinHandlers(pricingService, hub)
	negotiationHandlers := negotiation.NewGinHandlers(negotiationService)
	gateway := realtime.NewGateway(hub, authService, negotiationService, matchingService, pricingService)

	// Setup routes
	setupRoutes(router, authHandlers, loadsHandlers, matchingHandlers, pricingHandlers, negotiationHandlers, gateway)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	loadsHandlers *loads.GinHandlers,
	matchingHandlers *matching.GinHandlers,
	pricingHandlers *pricing.GinHandlers,
	negotiationHandlers *negotiation.GinHandlers,
	gateway *realtime.Gateway,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Load routes
		loadGroup := v1.Group("/loads")
		loadGroup.Use(middleware.JWTAuth(simJWTSecret))
		{
			loadGroup.POST("", loadsHandlers.CreateLoadHandler())
			loadGroup.GET("/:load_id", loadsHandlers.GetLoadHandler())
			loadGroup.PATCH("/:load_id", loadsHandlers.UpdateLoadHandler())
			loadGroup.POST("/:load_id/cancel", loadsHandlers.CancelLoadHandler())
			loadGroup.POST("/:load_id/matches", matchingHandlers.RankMatchesHandler())
			loadGroup.GET("/:load_id/rate", pricingHandlers.PredictRateHandler())
		}

		// Carrier profile routes
		carrierGroup := v1.Group("/carriers")
		carrierGroup.Use(middleware.JWTAuth(simJWTSecret))
		{
			carrierGroup.PUT("/profile", loadsHandlers.UpsertCarrierHandler())
			carrierGroup.GET("/:carrier_id", loadsHandlers.GetCarrierHandler())
		}

		// Quote routes
		quoteGroup := v1.Group("/quotes")
		quoteGroup.Use(middleware.JWTAuth(simJWTSecret))
		{
			quoteGroup.POST("", negotiationHandlers.SubmitQuoteHandler())
			quoteGroup.GET("/:quote_id", negotiationHandlers.GetQuoteHandler())
			quoteGroup.POST("/:quote_id/accept", negotiationHandlers.AcceptQuoteHandler())
			quoteGroup.POST("/:quote_id/reject", negotiationHandlers.RejectQuoteHandler())
		}

		// Real-time session gateway
		v1.GET("/ws", gateway.Handler())
	}
}
