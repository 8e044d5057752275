package negotiation

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/freightmatch/freight-api/internal/database"
	"github.com/freightmatch/freight-api/internal/types"
	"gorm.io/gorm"
)

// --- Mock publisher ---

type publishedEvent struct {
	roomID    string
	eventType string
	entityID  string
	batchID   string
}

type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (m *mockPublisher) Publish(roomID, eventType, entityID, batchID string, payload interface{}) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{roomID, eventType, entityID, batchID})
	return int64(len(m.events)), nil
}

func (m *mockPublisher) byType(eventType string) []publishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedEvent
	for _, e := range m.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- Test helpers ---

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *mockPublisher) {
	t.Helper()
	db := testDB(t)
	publisher := &mockPublisher{}
	return NewService(db, publisher), db, publisher
}

func seedLoad(t *testing.T, db *gorm.DB, loadID, status string) *types.Load {
	t.Helper()
	load := &types.Load{
		LoadID:        loadID,
		ShipperID:     "shipper-1",
		Origin:        "Chicago, IL",
		Destination:   "Dallas, TX",
		EquipmentType: "dry_van",
		AskingRate:    1000,
		PickupDate:    time.Now().Add(48 * time.Hour),
		Status:        status,
	}
	if err := db.Create(load).Error; err != nil {
		t.Fatalf("create load: %v", err)
	}
	return load
}

func submitQuote(t *testing.T, s *Service, loadID, carrierID string, price float64) *types.Quote {
	t.Helper()
	quote, err := s.SubmitQuote(carrierID, &SubmitQuoteRequest{
		LoadID:               loadID,
		Price:                price,
		ProposedDeliveryDate: time.Now().Add(72 * time.Hour),
		Terms:                "standard",
	})
	if err != nil {
		t.Fatalf("submit quote for %s: %v", carrierID, err)
	}
	return quote
}

func loadStatus(t *testing.T, db *gorm.DB, loadID string) string {
	t.Helper()
	var load types.Load
	if err := db.Where("load_id = ?", loadID).First(&load).Error; err != nil {
		t.Fatalf("fetch load: %v", err)
	}
	return load.Status
}

func quoteStatus(t *testing.T, db *gorm.DB, quoteID string) string {
	t.Helper()
	var quote types.Quote
	if err := db.Where("quote_id = ?", quoteID).First(&quote).Error; err != nil {
		t.Fatalf("fetch quote: %v", err)
	}
	return quote.Status
}

// --- Tests ---

func TestSubmitQuote(t *testing.T) {
	s, db, publisher := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)

	quote := submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	if quote.Status != types.QuoteStatusPending {
		t.Errorf("quote status = %q, want pending", quote.Status)
	}
	if quote.QuoteID == "" {
		t.Error("quote ID is empty")
	}

	// First quote moves the load into negotiation
	if got := loadStatus(t, db, "LOAD_1"); got != types.LoadStatusNegotiating {
		t.Errorf("load status = %q, want negotiating", got)
	}

	// Submitted event reaches both the load room and the quote room
	submitted := publisher.byType(types.EventQuoteSubmitted)
	if len(submitted) != 2 {
		t.Fatalf("quote.submitted events = %d, want 2", len(submitted))
	}
	if submitted[0].roomID != types.LoadRoom("LOAD_1") {
		t.Errorf("first event room = %q, want load room", submitted[0].roomID)
	}
	if submitted[1].roomID != types.QuoteRoom(quote.QuoteID) {
		t.Errorf("second event room = %q, want quote room", submitted[1].roomID)
	}

	statusEvents := publisher.byType(types.EventLoadStatusChanged)
	if len(statusEvents) != 1 {
		t.Errorf("load.status_changed events = %d, want 1", len(statusEvents))
	}
}

func TestSubmitQuote_SecondQuoteDoesNotRetransition(t *testing.T) {
	s, db, publisher := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)

	submitQuote(t, s, "LOAD_1", "carrier-1", 950)
	submitQuote(t, s, "LOAD_1", "carrier-2", 900)

	if got := loadStatus(t, db, "LOAD_1"); got != types.LoadStatusNegotiating {
		t.Errorf("load status = %q, want negotiating", got)
	}
	statusEvents := publisher.byType(types.EventLoadStatusChanged)
	if len(statusEvents) != 1 {
		t.Errorf("load.status_changed events = %d, want 1 (only the first quote transitions)", len(statusEvents))
	}
}

func TestSubmitQuote_Duplicate(t *testing.T) {
	s, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)

	submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	_, err := s.SubmitQuote("carrier-1", &SubmitQuoteRequest{
		LoadID:               "LOAD_1",
		Price:                800,
		ProposedDeliveryDate: time.Now().Add(72 * time.Hour),
	})
	if !errors.Is(err, types.ErrDuplicateQuote) {
		t.Errorf("err = %v, want ErrDuplicateQuote", err)
	}
}

func TestSubmitQuote_ClosedLoad(t *testing.T) {
	s, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusAssigned)

	_, err := s.SubmitQuote("carrier-1", &SubmitQuoteRequest{
		LoadID:               "LOAD_1",
		Price:                950,
		ProposedDeliveryDate: time.Now().Add(72 * time.Hour),
	})
	if !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestSubmitQuote_LoadNotFound(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.SubmitQuote("carrier-1", &SubmitQuoteRequest{
		LoadID:               "LOAD_missing",
		Price:                950,
		ProposedDeliveryDate: time.Now().Add(72 * time.Hour),
	})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAcceptQuote(t *testing.T) {
	s, db, publisher := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)

	winner := submitQuote(t, s, "LOAD_1", "carrier-1", 950)
	loser := submitQuote(t, s, "LOAD_1", "carrier-2", 900)

	result, err := s.AcceptQuote("shipper-1", winner.QuoteID)
	if err != nil {
		t.Fatalf("AcceptQuote: %v", err)
	}

	if result.Quote.Status != types.QuoteStatusAccepted {
		t.Errorf("accepted quote status = %q", result.Quote.Status)
	}
	if result.Shipment.ShipmentID == "" {
		t.Error("no shipment created")
	}
	if result.Shipment.CarrierID != "carrier-1" {
		t.Errorf("shipment carrier = %q, want carrier-1", result.Shipment.CarrierID)
	}
	if result.BatchID == "" {
		t.Error("batch ID is empty")
	}
	if len(result.ExpiredQuoteIDs) != 1 || result.ExpiredQuoteIDs[0] != loser.QuoteID {
		t.Errorf("expired quotes = %v, want [%s]", result.ExpiredQuoteIDs, loser.QuoteID)
	}

	// Durable state after the transaction
	if got := loadStatus(t, db, "LOAD_1"); got != types.LoadStatusAssigned {
		t.Errorf("load status = %q, want assigned", got)
	}
	if got := quoteStatus(t, db, winner.QuoteID); got != types.QuoteStatusAccepted {
		t.Errorf("winner status = %q, want accepted", got)
	}
	if got := quoteStatus(t, db, loser.QuoteID); got != types.QuoteStatusExpired {
		t.Errorf("loser status = %q, want expired", got)
	}

	var shipments int64
	if err := db.Model(&types.Shipment{}).Where("load_id = ?", "LOAD_1").Count(&shipments).Error; err != nil {
		t.Fatalf("count shipments: %v", err)
	}
	if shipments != 1 {
		t.Errorf("shipments = %d, want 1", shipments)
	}

	// Accept fan-out shares one batch id
	accepted := publisher.byType(types.EventQuoteAccepted)
	expired := publisher.byType(types.EventQuoteExpired)
	created := publisher.byType(types.EventShipmentCreated)
	if len(accepted) != 2 || len(expired) != 2 || len(created) != 1 {
		t.Fatalf("event counts accepted=%d expired=%d created=%d", len(accepted), len(expired), len(created))
	}
	for _, e := range append(append(accepted, expired...), created...) {
		if e.batchID != result.BatchID {
			t.Errorf("event %s batch = %q, want %q", e.eventType, e.batchID, result.BatchID)
		}
	}
}

func TestAcceptQuote_WrongShipper(t *testing.T) {
	s, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)
	quote := submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	_, err := s.AcceptQuote("shipper-2", quote.QuoteID)
	if !errors.Is(err, types.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}

	if got := quoteStatus(t, db, quote.QuoteID); got != types.QuoteStatusPending {
		t.Errorf("quote status = %q, want pending (no side effects)", got)
	}
}

func TestAcceptQuote_NotFound(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.AcceptQuote("shipper-1", "QT_missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAcceptQuote_TerminalQuote(t *testing.T) {
	s, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)
	quote := submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	if _, err := s.RejectQuote("shipper-1", quote.QuoteID); err != nil {
		t.Fatalf("RejectQuote: %v", err)
	}

	_, err := s.AcceptQuote("shipper-1", quote.QuoteID)
	if !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}

	// A failed accept leaves nothing behind
	var shipments int64
	if err := db.Model(&types.Shipment{}).Count(&shipments).Error; err != nil {
		t.Fatalf("count shipments: %v", err)
	}
	if shipments != 0 {
		t.Errorf("shipments = %d, want 0", shipments)
	}
}

func TestAcceptQuote_ConcurrentAccepts(t *testing.T) {
	s, db, publisher := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)

	quotes := make([]*types.Quote, 4)
	for i := range quotes {
		quotes[i] = submitQuote(t, s, "LOAD_1", fmt.Sprintf("carrier-%d", i), 900+float64(i)*10)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(quotes))
	for i := range quotes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AcceptQuote("shipper-1", quotes[i].QuoteID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, types.ErrInvalidTransition):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	var acceptedCount, shipmentCount int64
	db.Model(&types.Quote{}).Where("load_id = ? AND status = ?", "LOAD_1", types.QuoteStatusAccepted).Count(&acceptedCount)
	db.Model(&types.Shipment{}).Where("load_id = ?", "LOAD_1").Count(&shipmentCount)
	if acceptedCount != 1 {
		t.Errorf("accepted quotes = %d, want 1", acceptedCount)
	}
	if shipmentCount != 1 {
		t.Errorf("shipments = %d, want 1", shipmentCount)
	}

	created := publisher.byType(types.EventShipmentCreated)
	if len(created) != 1 {
		t.Errorf("shipment.created events = %d, want 1", len(created))
	}
}

func TestRejectQuote(t *testing.T) {
	s, db, publisher := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)
	quote := submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	rejected, err := s.RejectQuote("shipper-1", quote.QuoteID)
	if err != nil {
		t.Fatalf("RejectQuote: %v", err)
	}
	if rejected.Status != types.QuoteStatusRejected {
		t.Errorf("status = %q, want rejected", rejected.Status)
	}

	// A reject never touches the load
	if got := loadStatus(t, db, "LOAD_1"); got != types.LoadStatusNegotiating {
		t.Errorf("load status = %q, want negotiating", got)
	}

	events := publisher.byType(types.EventQuoteRejected)
	if len(events) != 2 {
		t.Errorf("quote.rejected events = %d, want 2", len(events))
	}
}

func TestRejectQuote_Terminal(t *testing.T) {
	s, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)
	quote := submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	if _, err := s.RejectQuote("shipper-1", quote.QuoteID); err != nil {
		t.Fatalf("first reject: %v", err)
	}
	_, err := s.RejectQuote("shipper-1", quote.QuoteID)
	if !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestGetQuote_Visibility(t *testing.T) {
	s, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)
	quote := submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	if _, err := s.GetQuote("carrier-1", quote.QuoteID); err != nil {
		t.Errorf("carrier visibility: %v", err)
	}
	if _, err := s.GetQuote("shipper-1", quote.QuoteID); err != nil {
		t.Errorf("shipper visibility: %v", err)
	}
	if _, err := s.GetQuote("carrier-2", quote.QuoteID); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden for third parties", err)
	}
}

func TestExpireDueQuotes(t *testing.T) {
	s, db, publisher := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusNegotiating)

	now := time.Now()
	stale := &types.Quote{
		QuoteID:              "QT_stale",
		LoadID:               "LOAD_1",
		CarrierID:            "carrier-1",
		Price:                950,
		ProposedDeliveryDate: now.Add(-time.Hour),
		Status:               types.QuoteStatusPending,
	}
	fresh := &types.Quote{
		QuoteID:              "QT_fresh",
		LoadID:               "LOAD_1",
		CarrierID:            "carrier-2",
		Price:                900,
		ProposedDeliveryDate: now.Add(72 * time.Hour),
		Status:               types.QuoteStatusPending,
	}
	settled := &types.Quote{
		QuoteID:              "QT_settled",
		LoadID:               "LOAD_1",
		CarrierID:            "carrier-3",
		Price:                850,
		ProposedDeliveryDate: now.Add(-time.Hour),
		Status:               types.QuoteStatusAccepted,
	}
	for _, q := range []*types.Quote{stale, fresh, settled} {
		if err := db.Create(q).Error; err != nil {
			t.Fatalf("create quote: %v", err)
		}
	}

	expired, err := s.ExpireDueQuotes(now)
	if err != nil {
		t.Fatalf("ExpireDueQuotes: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}

	if got := quoteStatus(t, db, "QT_stale"); got != types.QuoteStatusExpired {
		t.Errorf("stale quote = %q, want expired", got)
	}
	if got := quoteStatus(t, db, "QT_fresh"); got != types.QuoteStatusPending {
		t.Errorf("fresh quote = %q, want pending", got)
	}
	if got := quoteStatus(t, db, "QT_settled"); got != types.QuoteStatusAccepted {
		t.Errorf("settled quote = %q, want accepted", got)
	}

	events := publisher.byType(types.EventQuoteExpired)
	if len(events) != 2 {
		t.Errorf("quote.expired events = %d, want 2 (load room and quote room)", len(events))
	}

	// The sweep never touches load status
	if got := loadStatus(t, db, "LOAD_1"); got != types.LoadStatusNegotiating {
		t.Errorf("load status = %q, want negotiating", got)
	}
}

func TestSubmitQuote_AcceptCommitsFirst(t *testing.T) {
	s, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusPosted)
	winner := submitQuote(t, s, "LOAD_1", "carrier-1", 950)

	// Hold the load's lock so the second submission blocks, then commit an
	// accept underneath it. The unblocked submission must observe the
	// assigned load, not its pre-lock snapshot.
	unlock := s.locks.lock("LOAD_1")

	done := make(chan error, 1)
	go func() {
		_, err := s.SubmitQuote("carrier-2", &SubmitQuoteRequest{
			LoadID:               "LOAD_1",
			Price:                900,
			ProposedDeliveryDate: time.Now().Add(72 * time.Hour),
		})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)

	if _, err := s.db.AcceptQuoteTx(winner); err != nil {
		unlock()
		t.Fatalf("AcceptQuoteTx: %v", err)
	}
	unlock()

	if err := <-done; !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("late submit error = %v, want ErrInvalidTransition", err)
	}

	var pending int64
	if err := db.Model(&types.Quote{}).
		Where("load_id = ? AND status = ?", "LOAD_1", types.QuoteStatusPending).
		Count(&pending).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending quotes on assigned load = %d, want 0", pending)
	}
}

func TestCreateQuoteWithTransition_ClosedLoad(t *testing.T) {
	_, db, _ := newTestService(t)
	seedLoad(t, db, "LOAD_1", types.LoadStatusAssigned)

	d := NewDatabase(db)
	_, err := d.CreateQuoteWithTransition(&types.Quote{
		QuoteID:              "QT_late",
		LoadID:               "LOAD_1",
		CarrierID:            "carrier-2",
		Price:                900,
		ProposedDeliveryDate: time.Now().Add(72 * time.Hour),
		Status:               types.QuoteStatusPending,
	})
	if !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}

	var count int64
	if err := db.Model(&types.Quote{}).Where("quote_id = ?", "QT_late").Count(&count).Error; err != nil {
		t.Fatalf("count quotes: %v", err)
	}
	if count != 0 {
		t.Errorf("quote rows created = %d, want 0", count)
	}
}
