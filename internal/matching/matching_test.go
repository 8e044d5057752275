package matching

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/freightmatch/freight-api/internal/database"
	"github.com/freightmatch/freight-api/internal/types"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func seedLoad(t *testing.T, db *gorm.DB) *types.Load {
	t.Helper()
	load := &types.Load{
		LoadID:        "LOAD_rank",
		ShipperID:     "shipper-1",
		Origin:        "Chicago, IL",
		Destination:   "Dallas, TX",
		EquipmentType: "dry_van",
		AskingRate:    1000,
		PickupDate:    time.Now().Add(48 * time.Hour),
		Status:        types.LoadStatusPosted,
	}
	if err := db.Create(load).Error; err != nil {
		t.Fatalf("create load: %v", err)
	}
	return load
}

func seedCarrier(t *testing.T, db *gorm.DB, id, equipment, areas string, insurance, rating float64, active bool) {
	t.Helper()
	carrier := &types.CarrierProfile{
		CarrierID:       id,
		EquipmentTypes:  equipment,
		ServiceAreas:    areas,
		InsuranceAmount: insurance,
		Rating:          rating,
		Active:          active,
	}
	if err := db.Create(carrier).Error; err != nil {
		t.Fatalf("create carrier %s: %v", id, err)
	}
}

func TestRank_OrderAndTieBreak(t *testing.T) {
	db := testDB(t)
	seedLoad(t, db)

	// full match: 90
	seedCarrier(t, db, "carrier-c", `["dry_van"]`, `["Chicago, IL"]`, 100000, 4.8, true)
	// equipment only: 30, two carriers tied
	seedCarrier(t, db, "carrier-b", `["dry_van"]`, `["Denver, CO"]`, 0, 0, true)
	seedCarrier(t, db, "carrier-a", `["dry_van"]`, `["Denver, CO"]`, 0, 0, true)
	// inactive carriers never rank
	seedCarrier(t, db, "carrier-z", `["dry_van"]`, `["Chicago, IL"]`, 100000, 5.0, false)

	service := NewService(db)
	ranking, err := service.Rank("LOAD_rank")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	candidates := ranking.Drain()
	if len(candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(candidates))
	}
	if candidates[0].CarrierID != "carrier-c" || candidates[0].Score != 90 {
		t.Errorf("top candidate = %s/%d, want carrier-c/90", candidates[0].CarrierID, candidates[0].Score)
	}
	// Ties resolve by carrier id ascending
	if candidates[1].CarrierID != "carrier-a" {
		t.Errorf("second candidate = %s, want carrier-a", candidates[1].CarrierID)
	}
	if candidates[2].CarrierID != "carrier-b" {
		t.Errorf("third candidate = %s, want carrier-b", candidates[2].CarrierID)
	}
}

func TestRank_ReasonsOnCandidates(t *testing.T) {
	db := testDB(t)
	seedLoad(t, db)
	seedCarrier(t, db, "carrier-r", `["dry_van"]`, `["Dallas, TX"]`, 0, 0, true)

	service := NewService(db)
	ranking, err := service.Rank("LOAD_rank")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	candidates := ranking.Drain()
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	want := []string{string(ReasonEquipmentMatch), string(ReasonServiceAreaMatch)}
	got := candidates[0].Reasons
	if len(got) != len(want) {
		t.Fatalf("reasons = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRank_LoadNotFound(t *testing.T) {
	db := testDB(t)

	service := NewService(db)
	_, err := service.Rank("LOAD_missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRankingCursor(t *testing.T) {
	db := testDB(t)
	seedLoad(t, db)
	seedCarrier(t, db, "carrier-1", `["dry_van"]`, `[]`, 0, 0, true)
	seedCarrier(t, db, "carrier-2", `["reefer"]`, `[]`, 0, 0, true)

	service := NewService(db)
	ranking, err := service.Rank("LOAD_rank")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	if ranking.Remaining() != 2 {
		t.Errorf("Remaining = %d, want 2", ranking.Remaining())
	}

	first, ok := ranking.Next()
	if !ok || first.CarrierID != "carrier-1" {
		t.Errorf("first = %v/%v, want carrier-1", first, ok)
	}
	if ranking.Remaining() != 1 {
		t.Errorf("Remaining after Next = %d, want 1", ranking.Remaining())
	}

	rest := ranking.Drain()
	if len(rest) != 1 || rest[0].CarrierID != "carrier-2" {
		t.Errorf("Drain = %v, want [carrier-2]", rest)
	}

	// The cursor is not restartable
	if _, ok := ranking.Next(); ok {
		t.Error("Next after Drain = true, want false")
	}
	if ranking.Remaining() != 0 {
		t.Errorf("Remaining after Drain = %d, want 0", ranking.Remaining())
	}
}

func TestGetLoadOwner(t *testing.T) {
	db := testDB(t)
	seedLoad(t, db)

	service := NewService(db)
	owner, err := service.GetLoadOwner("LOAD_rank")
	if err != nil {
		t.Fatalf("GetLoadOwner: %v", err)
	}
	if owner != "shipper-1" {
		t.Errorf("owner = %q, want shipper-1", owner)
	}

	if _, err := service.GetLoadOwner("LOAD_missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
