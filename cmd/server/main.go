package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/freightmatch/freight-api/internal/auth"
	"github.com/freightmatch/freight-api/internal/database"
	"github.com/freightmatch/freight-api/internal/loads"
	"github.com/freightmatch/freight-api/internal/matching"
	"github.com/freightmatch/freight-api/internal/negotiation"
	"github.com/freightmatch/freight-api/internal/pricing"
	"github.com/freightmatch/freight-api/internal/realtime"
	"github.com/freightmatch/freight-api/internal/types"
	"github.com/freightmatch/freight-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const jwtSecret = "freight-secret-key"

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the freight marketplace API server with
// graceful shutdown support. It sets up all engine services, the real-time
// hub, the background quote expiry processor, and the API routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials outside production
	if os.Getenv("ENV") != "production" {
		authService.RegisterAPICredentials(auth.TestShipperKey, auth.TestShipperSecret, "shipper-demo", types.RoleShipper)
		authService.RegisterAPICredentials(auth.TestCarrierKey, auth.TestCarrierSecret, "carrier-demo", types.RoleCarrier)
	}

	hub := realtime.NewHub(db, envInt("REPLAY_DEPTH", 500))

	loadsService := loads.NewService(db)
	loadsHandlers := loads.NewGinHandlers(loadsService)

	matchingService := matching.NewService(db)
	matchingHandlers := matching.NewGinHandlers(matchingService, hub)

	pricingService := pricing.NewService(db)
	pricingHandlers := pricing.NewGinHandlers(pricingService, hub)

	negotiationService := negotiation.NewService(db, hub)
	negotiationHandlers := negotiation.NewGinHandlers(negotiationService)

	gateway := realtime.NewGateway(hub, authService, negotiationService, matchingService, pricingService)

	// Create and start the quote expiry processor
	sweepInterval := time.Duration(envInt("QUOTE_SWEEP_INTERVAL", 60)) * time.Second
	expiryProcessor := negotiation.NewProcessor(negotiationService, sweepInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go expiryProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, loadsHandlers, matchingHandlers, pricingHandlers, negotiationHandlers, gateway)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Load, carrier, quote routes: Protected by JWT authentication
// - The /ws route: authenticates in-band within the socket's first frame
// - Internal routes: Protected by internal network authentication
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
		loadGroup.Use(middleware.JWTAuth(jwtSecret))
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
		carrierGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			carrierGroup.PUT("/profile", loadsHandlers.UpsertCarrierHandler())
			carrierGroup.GET("/:carrier_id", loadsHandlers.GetCarrierHandler())
		}

		// Quote routes
		quoteGroup := v1.Group("/quotes")
		quoteGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			quoteGroup.POST("", negotiationHandlers.SubmitQuoteHandler())
			quoteGroup.GET("/:quote_id", negotiationHandlers.GetQuoteHandler())
			quoteGroup.POST("/:quote_id/accept", negotiationHandlers.AcceptQuoteHandler())
			quoteGroup.POST("/:quote_id/reject", negotiationHandlers.RejectQuoteHandler())
		}

		// Real-time session gateway
		v1.GET("/ws", gateway.Handler())

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/quotes/expire", negotiationHandlers.ExpireSweepHandler())
		}
	}
}
