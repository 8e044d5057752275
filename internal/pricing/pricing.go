package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/freightmatch/freight-api/internal/types"
	"github.com/freightmatch/freight-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Publisher fans a typed event out to a room's current subscribers.
type Publisher interface {
	Publish(roomID, eventType, entityID, batchID string, payload interface{}) (int64, error)
}

const (
	// Historical window
	sampleLimit  = 100
	recentWindow = 10

	// Multiplicative adjustment factors, applied in fixed order:
	// distance first, then season.
	longHaulFactor   = 1.10 // origin and destination differ
	peakSummerFactor = 1.15 // months 6-8
	peakWinterFactor = 1.20 // months 11-12

	// Confidence is a constant whenever any history exists. It is not
	// derived from sample size or variance; kept for compatibility with
	// the established marketplace behavior.
	historyConfidence  = 0.8
	fallbackConfidence = 0.5
)

// Service predicts fair market rates from historical comparable loads
type Service struct {
	db *Database
}

// NewService creates a new pricing service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Predict computes a rate prediction for the load from the most recent
// delivered loads of the same equipment type. Missing history degrades to a
// defined low-confidence result rather than an error; only a store failure
// is surfaced, and that as ErrUpstreamUnavailable.
func (s *Service) Predict(load *types.Load) (*types.RatePrediction, error) {
	logger := log.With().
		Str("load_id", load.LoadID).
		Str("equipment_type", load.EquipmentType).
		Str("service", "pricing").
		Logger()

	history, err := s.db.GetRecentDeliveredLoads(load.EquipmentType, sampleLimit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch historical loads")
		return nil, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}

	if len(history) == 0 {
		logger.Info().Msg("no comparable history, returning degraded prediction")
		return &types.RatePrediction{
			PredictedRate:   math.Round(load.AskingRate),
			Confidence:      fallbackConfidence,
			Factors:         []string{"insufficient history"},
			Trend:           types.TrendStable,
			TrendPercentage: 0,
		}, nil
	}

	var total float64
	for i := range history {
		total += history[i].AskingRate
	}
	avgRate := total / float64(len(history))

	recentCount := recentWindow
	if len(history) < recentCount {
		recentCount = len(history)
	}
	var recentTotal float64
	for i := 0; i < recentCount; i++ {
		recentTotal += history[i].AskingRate
	}
	recentAvg := recentTotal / float64(recentCount)

	trend := types.TrendStable
	switch {
	case recentAvg > avgRate:
		trend = types.TrendUp
	case recentAvg < avgRate:
		trend = types.TrendDown
	}

	trendPercentage := 0.0
	if avgRate > 0 {
		trendPercentage = math.Abs(recentAvg-avgRate) / avgRate * 100
	}

	factors := make([]string, 0, 2)
	adjustment := 1.0

	if distanceFactor := distanceAdjustment(load); distanceFactor != 1.0 {
		adjustment *= distanceFactor
		factors = append(factors, fmt.Sprintf("long-haul adjustment: %+.1f%%", (distanceFactor-1)*100))
	}

	if seasonFactor := seasonalAdjustment(load.PickupDate); seasonFactor != 1.0 {
		adjustment *= seasonFactor
		factors = append(factors, fmt.Sprintf("peak season adjustment: %+.1f%%", (seasonFactor-1)*100))
	}

	// Intermediate multiplications keep full precision; rounding happens
	// only at the point of return.
	prediction := &types.RatePrediction{
		PredictedRate:   math.Round(avgRate * adjustment),
		Confidence:      historyConfidence,
		Factors:         factors,
		Trend:           trend,
		TrendPercentage: trendPercentage,
	}

	logger.Info().
		Int("sample_size", len(history)).
		Float64("avg_rate", avgRate).
		Float64("recent_avg", recentAvg).
		Float64("predicted_rate", prediction.PredictedRate).
		Str("trend", trend).
		Msg("computed rate prediction")

	return prediction, nil
}

// PredictByID resolves the load and computes its prediction.
func (s *Service) PredictByID(loadID string) (*types.Load, *types.RatePrediction, error) {
	load, err := s.db.GetLoad(loadID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	if load == nil {
		return nil, nil, types.ErrNotFound
	}
	prediction, err := s.Predict(load)
	return load, prediction, err
}

// distanceAdjustment approximates lane length without a mapping provider:
// a load leaving its origin region is priced as a long haul.
func distanceAdjustment(load *types.Load) float64 {
	if load.Origin != load.Destination {
		return longHaulFactor
	}
	return 1.0
}

// seasonalAdjustment applies peak-season multipliers by pickup month.
func seasonalAdjustment(pickup time.Time) float64 {
	switch pickup.Month() {
	case time.June, time.July, time.August:
		return peakSummerFactor
	case time.November, time.December:
		return peakWinterFactor
	default:
		return 1.0
	}
}

// GinHandlers contains HTTP handlers for pricing endpoints
type GinHandlers struct {
	service   *Service
	publisher Publisher
}

// NewGinHandlers creates a new set of HTTP handlers for pricing endpoints
func NewGinHandlers(service *Service, publisher Publisher) *GinHandlers {
	return &GinHandlers{
		service:   service,
		publisher: publisher,
	}
}

// PredictRateHandler handles GET requests for a load's rate prediction.
// The result is also pushed to the load's room as a rate.predicted event.
func (h *GinHandlers) PredictRateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		loadID := c.Param("load_id")

		_, prediction, err := h.service.PredictByID(loadID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		if _, err := h.publisher.Publish(types.LoadRoom(loadID), types.EventRatePredicted, loadID, "", types.RatePredictedPayload{
			LoadID:     loadID,
			Prediction: *prediction,
		}); err != nil {
			log.Error().Err(err).Str("load_id", loadID).Msg("failed to broadcast rate prediction")
		}

		response.Success(c, types.RateResponse{
			LoadID:      loadID,
			Prediction:  *prediction,
			PredictedAt: time.Now(),
		})
	}
}
