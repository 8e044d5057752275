package pricing

import (
	"errors"
	"fmt"
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

// seedHistory inserts delivered dry_van loads, newest first in the rates
// slice. UpdatedAt spacing keeps the recency ordering deterministic.
func seedHistory(t *testing.T, db *gorm.DB, rates []float64) {
	t.Helper()
	base := time.Now()
	for i, rate := range rates {
		load := &types.Load{
			LoadID:        fmt.Sprintf("LOAD_hist_%d", i),
			ShipperID:     "shipper-1",
			Origin:        "Chicago, IL",
			Destination:   "Dallas, TX",
			EquipmentType: "dry_van",
			AskingRate:    rate,
			Status:        types.LoadStatusDelivered,
			CreatedAt:     base.Add(-time.Duration(i+1) * time.Hour),
			UpdatedAt:     base.Add(-time.Duration(i+1) * time.Hour),
		}
		if err := db.Create(load).Error; err != nil {
			t.Fatalf("create history load %d: %v", i, err)
		}
	}
}

func subjectLoad(origin, destination string, pickup time.Time) *types.Load {
	return &types.Load{
		LoadID:        "LOAD_subject",
		ShipperID:     "shipper-1",
		Origin:        origin,
		Destination:   destination,
		EquipmentType: "dry_van",
		AskingRate:    1500,
		PickupDate:    pickup,
		Status:        types.LoadStatusPosted,
	}
}

func TestPredict_NoHistory(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	load := subjectLoad("Chicago, IL", "Dallas, TX", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	prediction, err := service.Predict(load)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if prediction.PredictedRate != 1500 {
		t.Errorf("PredictedRate = %v, want 1500 (asking rate fallback)", prediction.PredictedRate)
	}
	if prediction.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", prediction.Confidence)
	}
	if prediction.Trend != types.TrendStable {
		t.Errorf("Trend = %q, want stable", prediction.Trend)
	}
	if len(prediction.Factors) != 1 || prediction.Factors[0] != "insufficient history" {
		t.Errorf("Factors = %v, want [insufficient history]", prediction.Factors)
	}
}

func TestPredict_TrendAndAdjustments(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	// 10 recent loads at 1100, 10 older at 900: overall average 1000,
	// recent average 1100, so the trend is up by exactly 10%.
	rates := make([]float64, 0, 20)
	for i := 0; i < 10; i++ {
		rates = append(rates, 1100)
	}
	for i := 0; i < 10; i++ {
		rates = append(rates, 900)
	}
	seedHistory(t, db, rates)

	// July pickup on a long haul: 1000 * 1.10 * 1.15 = 1265
	load := subjectLoad("Chicago, IL", "Dallas, TX", time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	prediction, err := service.Predict(load)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if prediction.PredictedRate != 1265 {
		t.Errorf("PredictedRate = %v, want 1265", prediction.PredictedRate)
	}
	if prediction.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", prediction.Confidence)
	}
	if prediction.Trend != types.TrendUp {
		t.Errorf("Trend = %q, want up", prediction.Trend)
	}
	if prediction.TrendPercentage != 10 {
		t.Errorf("TrendPercentage = %v, want 10", prediction.TrendPercentage)
	}
	if len(prediction.Factors) != 2 {
		t.Fatalf("Factors = %v, want 2 entries", prediction.Factors)
	}
	if prediction.Factors[0] != "long-haul adjustment: +10.0%" {
		t.Errorf("Factors[0] = %q", prediction.Factors[0])
	}
	if prediction.Factors[1] != "peak season adjustment: +15.0%" {
		t.Errorf("Factors[1] = %q", prediction.Factors[1])
	}
}

func TestPredict_TrendDown(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	rates := make([]float64, 0, 20)
	for i := 0; i < 10; i++ {
		rates = append(rates, 900)
	}
	for i := 0; i < 10; i++ {
		rates = append(rates, 1100)
	}
	seedHistory(t, db, rates)

	load := subjectLoad("Chicago, IL", "Chicago, IL", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	prediction, err := service.Predict(load)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if prediction.Trend != types.TrendDown {
		t.Errorf("Trend = %q, want down", prediction.Trend)
	}
	if prediction.TrendPercentage != 10 {
		t.Errorf("TrendPercentage = %v, want 10", prediction.TrendPercentage)
	}
}

func TestPredict_NoAdjustments(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	seedHistory(t, db, []float64{1000, 1000, 1000})

	// Same-city move in March: no distance or seasonal factor applies.
	load := subjectLoad("Chicago, IL", "Chicago, IL", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	prediction, err := service.Predict(load)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if prediction.PredictedRate != 1000 {
		t.Errorf("PredictedRate = %v, want 1000", prediction.PredictedRate)
	}
	if prediction.Trend != types.TrendStable {
		t.Errorf("Trend = %q, want stable", prediction.Trend)
	}
	if len(prediction.Factors) != 0 {
		t.Errorf("Factors = %v, want empty", prediction.Factors)
	}
}

func TestPredict_WinterFactor(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	seedHistory(t, db, []float64{1000})

	// December long haul: 1000 * 1.10 * 1.20 = 1320
	load := subjectLoad("Chicago, IL", "Dallas, TX", time.Date(2026, 12, 5, 0, 0, 0, 0, time.UTC))
	prediction, err := service.Predict(load)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if prediction.PredictedRate != 1320 {
		t.Errorf("PredictedRate = %v, want 1320", prediction.PredictedRate)
	}
	if prediction.Factors[1] != "peak season adjustment: +20.0%" {
		t.Errorf("Factors[1] = %q", prediction.Factors[1])
	}
}

func TestPredict_IgnoresOtherEquipmentAndOpenLoads(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	seedHistory(t, db, []float64{1000})

	// Same lane but wrong equipment or not yet delivered; never sampled.
	noise := []*types.Load{
		{LoadID: "LOAD_noise_1", EquipmentType: "reefer", AskingRate: 9000, Status: types.LoadStatusDelivered},
		{LoadID: "LOAD_noise_2", EquipmentType: "dry_van", AskingRate: 9000, Status: types.LoadStatusPosted},
		{LoadID: "LOAD_noise_3", EquipmentType: "dry_van", AskingRate: 0, Status: types.LoadStatusDelivered},
	}
	for _, n := range noise {
		if err := db.Create(n).Error; err != nil {
			t.Fatalf("create noise load: %v", err)
		}
	}

	load := subjectLoad("Chicago, IL", "Chicago, IL", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	prediction, err := service.Predict(load)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if prediction.PredictedRate != 1000 {
		t.Errorf("PredictedRate = %v, want 1000", prediction.PredictedRate)
	}
}

func TestPredictByID_NotFound(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	_, _, err := service.PredictByID("LOAD_missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSeasonalAdjustment(t *testing.T) {
	cases := []struct {
		month time.Month
		want  float64
	}{
		{time.January, 1.0},
		{time.May, 1.0},
		{time.June, 1.15},
		{time.July, 1.15},
		{time.August, 1.15},
		{time.September, 1.0},
		{time.November, 1.20},
		{time.December, 1.20},
	}
	for _, tc := range cases {
		pickup := time.Date(2026, tc.month, 10, 0, 0, 0, 0, time.UTC)
		if got := seasonalAdjustment(pickup); got != tc.want {
			t.Errorf("seasonalAdjustment(%s) = %v, want %v", tc.month, got, tc.want)
		}
	}
}
