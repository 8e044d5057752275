package negotiation

import (
	"fmt"
	"sync"
	"time"

	"github.com/freightmatch/freight-api/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Publisher fans a typed event out to a room's current subscribers.
// Implemented by the realtime hub.
type Publisher interface {
	Publish(roomID, eventType, entityID, batchID string, payload interface{}) (int64, error)
}

// Service owns the quote lifecycle: submission, shipper accept/reject, and
// time-based expiry. Each load is the unit of serialization: transitions
// on one load are mutually exclusive, loads do not contend with each other.
type Service struct {
	db        *Database
	publisher Publisher
	locks     *loadLocks
}

// NewService creates a new negotiation service with the given database
// connection and event publisher.
func NewService(gormDB *gorm.DB, publisher Publisher) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		publisher: publisher,
		locks:     newLoadLocks(),
	}
}

// GetDB exposes the database wrapper for collaborators that need read access
// to quotes.
func (s *Service) GetDB() *Database {
	return s.db
}

// loadLocks hands out one mutex per load id so transitions on the same load
// serialize while different loads proceed in parallel.
type loadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLoadLocks() *loadLocks {
	return &loadLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *loadLocks) lock(loadID string) func() {
	l.mu.Lock()
	m, ok := l.locks[loadID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[loadID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// SubmitQuote creates a pending quote from a carrier against a load.
// The load must still be open for bidding and the carrier must not already
// hold a pending quote on it.
func (s *Service) SubmitQuote(carrierID string, req *SubmitQuoteRequest) (*types.Quote, error) {
	logger := log.With().
		Str("load_id", req.LoadID).
		Str("carrier_id", carrierID).
		Str("service", "negotiation").
		Logger()

	// Lock before reading so the status check sees the outcome of any
	// accept that committed on this load.
	unlock := s.locks.lock(req.LoadID)
	defer unlock()

	load, err := s.db.GetLoad(req.LoadID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch load: %w", err)
	}
	if load == nil {
		return nil, types.ErrNotFound
	}

	switch load.Status {
	case types.LoadStatusPosted, types.LoadStatusMatching, types.LoadStatusNegotiating:
	default:
		logger.Info().Str("load_status", load.Status).Msg("quote submitted against closed load")
		return nil, types.ErrInvalidTransition
	}

	exists, err := s.db.HasPendingQuote(load.LoadID, carrierID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for pending quote: %w", err)
	}
	if exists {
		return nil, types.ErrDuplicateQuote
	}

	quote := &types.Quote{
		QuoteID:              "QT_" + uuid.New().String(),
		LoadID:               load.LoadID,
		CarrierID:            carrierID,
		Price:                req.Price,
		ProposedDeliveryDate: req.ProposedDeliveryDate,
		Terms:                req.Terms,
		Status:               types.QuoteStatusPending,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}

	transitioned, err := s.db.CreateQuoteWithTransition(quote)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote: %w", err)
	}

	logger.Info().
		Str("quote_id", quote.QuoteID).
		Float64("price", quote.Price).
		Bool("load_transitioned", transitioned).
		Msg("quote submitted")

	s.publishQuoteEvent(types.EventQuoteSubmitted, quote, "")
	if transitioned {
		s.publishLoadStatus(load.LoadID, types.LoadStatusNegotiating, "")
	}

	return quote, nil
}

// AcceptQuote executes the shipper's accept on a pending quote. All side
// effects (shipment creation, load assignment, expiry of competing quotes)
// commit atomically; the events fanned out afterwards share one batch id so
// subscribers can reconcile them as a single logical update. Under
// concurrent accepts on the same load only the first wins; the second
// observes ErrInvalidTransition.
func (s *Service) AcceptQuote(shipperID, quoteID string) (*types.AcceptQuoteResponse, error) {
	logger := log.With().
		Str("quote_id", quoteID).
		Str("shipper_id", shipperID).
		Str("service", "negotiation").
		Logger()

	quote, err := s.db.GetQuote(quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	if quote == nil {
		return nil, types.ErrNotFound
	}

	load, err := s.db.GetLoad(quote.LoadID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch load: %w", err)
	}
	if load == nil {
		return nil, types.ErrNotFound
	}
	if load.ShipperID != shipperID {
		return nil, types.ErrForbidden
	}

	unlock := s.locks.lock(load.LoadID)
	defer unlock()

	result, err := s.db.AcceptQuoteTx(quote)
	if err != nil {
		logger.Info().Err(err).Msg("accept transition did not apply")
		return nil, err
	}

	batchID := "BATCH_" + uuid.New().String()

	logger.Info().
		Str("load_id", load.LoadID).
		Str("shipment_id", result.Shipment.ShipmentID).
		Int("expired_quotes", len(result.ExpiredQuotes)).
		Str("batch_id", batchID).
		Msg("quote accepted")

	s.publishQuoteEvent(types.EventQuoteAccepted, result.Quote, batchID)
	for i := range result.ExpiredQuotes {
		s.publishQuoteEvent(types.EventQuoteExpired, &result.ExpiredQuotes[i], batchID)
	}
	s.publishShipmentCreated(result.Shipment, batchID)
	s.publishLoadStatus(load.LoadID, types.LoadStatusAssigned, batchID)

	expiredIDs := make([]string, len(result.ExpiredQuotes))
	for i := range result.ExpiredQuotes {
		expiredIDs[i] = result.ExpiredQuotes[i].QuoteID
	}

	return &types.AcceptQuoteResponse{
		Quote:           *result.Quote,
		Shipment:        *result.Shipment,
		ExpiredQuoteIDs: expiredIDs,
		BatchID:         batchID,
	}, nil
}

// RejectQuote moves a pending quote to rejected. No other quote or load
// mutation occurs.
func (s *Service) RejectQuote(shipperID, quoteID string) (*types.Quote, error) {
	quote, err := s.db.GetQuote(quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	if quote == nil {
		return nil, types.ErrNotFound
	}

	load, err := s.db.GetLoad(quote.LoadID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch load: %w", err)
	}
	if load == nil {
		return nil, types.ErrNotFound
	}
	if load.ShipperID != shipperID {
		return nil, types.ErrForbidden
	}

	unlock := s.locks.lock(load.LoadID)
	defer unlock()

	moved, err := s.db.RejectQuoteIf(quoteID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, types.ErrInvalidTransition
	}

	quote.Status = types.QuoteStatusRejected
	quote.UpdatedAt = time.Now()

	log.Info().
		Str("quote_id", quoteID).
		Str("load_id", quote.LoadID).
		Str("service", "negotiation").
		Msg("quote rejected")

	s.publishQuoteEvent(types.EventQuoteRejected, quote, "")

	return quote, nil
}

// GetQuote retrieves a quote, visible only to the bidding carrier and the
// load's shipper.
func (s *Service) GetQuote(userID, quoteID string) (*types.Quote, error) {
	quote, err := s.db.GetQuote(quoteID)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, types.ErrNotFound
	}
	if quote.CarrierID == userID {
		return quote, nil
	}

	load, err := s.db.GetLoad(quote.LoadID)
	if err != nil {
		return nil, err
	}
	if load == nil || load.ShipperID != userID {
		return nil, types.ErrForbidden
	}
	return quote, nil
}

// ExpireDueQuotes transitions every pending quote whose proposed delivery
// date has passed. Load status is not touched. Quotes accepted concurrently
// with the sweep are skipped by the conditional update.
func (s *Service) ExpireDueQuotes(now time.Time) (int, error) {
	due, err := s.db.GetDuePendingQuotes(now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		moved, err := s.db.ExpireQuoteIf(due[i].QuoteID)
		if err != nil {
			log.Error().Err(err).
				Str("quote_id", due[i].QuoteID).
				Str("service", "negotiation").
				Msg("failed to expire quote")
			continue
		}
		if !moved {
			continue
		}

		due[i].Status = types.QuoteStatusExpired
		due[i].UpdatedAt = now
		s.publishQuoteEvent(types.EventQuoteExpired, &due[i], "")
		expired++
	}

	return expired, nil
}

// Events are fanned out after the transaction commits; a failed publish is
// logged but never fails the already-committed transition.

func (s *Service) publishQuoteEvent(eventType string, quote *types.Quote, batchID string) {
	payload := types.QuoteEventPayload{
		QuoteID:   quote.QuoteID,
		LoadID:    quote.LoadID,
		CarrierID: quote.CarrierID,
		Status:    quote.Status,
	}
	s.publish(types.LoadRoom(quote.LoadID), eventType, quote.QuoteID, batchID, payload)
	s.publish(types.QuoteRoom(quote.QuoteID), eventType, quote.QuoteID, batchID, payload)
}

func (s *Service) publishLoadStatus(loadID, status, batchID string) {
	s.publish(types.LoadRoom(loadID), types.EventLoadStatusChanged, loadID, batchID, types.LoadStatusPayload{
		LoadID: loadID,
		Status: status,
	})
}

func (s *Service) publishShipmentCreated(shipment *types.Shipment, batchID string) {
	s.publish(types.LoadRoom(shipment.LoadID), types.EventShipmentCreated, shipment.ShipmentID, batchID, types.ShipmentCreatedPayload{
		ShipmentID: shipment.ShipmentID,
		LoadID:     shipment.LoadID,
		CarrierID:  shipment.CarrierID,
	})
}

func (s *Service) publish(roomID, eventType, entityID, batchID string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(roomID, eventType, entityID, batchID, payload); err != nil {
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("event_type", eventType).
			Str("service", "negotiation").
			Msg("failed to publish event")
	}
}
