package matching

import (
	"strings"

	"github.com/freightmatch/freight-api/internal/types"
)

// Fixed scoring weights. These are documented marketplace policy, not
// learned parameters; mismatches earn no penalty, they just rank lower.
const (
	equipmentMatchWeight      = 30
	serviceAreaMatchWeight    = 25
	insuranceSufficientWeight = 15
	ratingHighWeight          = 20 // rating >= 4.5
	ratingGoodWeight          = 10 // 4.0 <= rating < 4.5

	ratingHighThreshold = 4.5
	ratingGoodThreshold = 4.0
)

// Score computes the weighted match score of a carrier against a load and
// the ordered reasons for each weight that applied. Pure and side-effect
// free; missing optional fields (no asking rate, unrated carrier) simply
// skip their term. Callers must not assume a fixed ceiling.
func Score(load *types.Load, carrier *types.CarrierProfile) (int, []Reason) {
	score := 0
	reasons := make([]Reason, 0, 4)

	for _, equipment := range carrier.EquipmentTypeList() {
		if equipment == load.EquipmentType {
			score += equipmentMatchWeight
			reasons = append(reasons, ReasonEquipmentMatch)
			break
		}
	}

	if areaOverlaps(load, carrier) {
		score += serviceAreaMatchWeight
		reasons = append(reasons, ReasonServiceAreaMatch)
	}

	if load.AskingRate > 0 && carrier.InsuranceAmount >= load.AskingRate {
		score += insuranceSufficientWeight
		reasons = append(reasons, ReasonInsuranceSufficient)
	}

	switch {
	case carrier.Rating >= ratingHighThreshold:
		score += ratingHighWeight
		reasons = append(reasons, ReasonRatingHigh)
	case carrier.Rating >= ratingGoodThreshold:
		score += ratingGoodWeight
		reasons = append(reasons, ReasonRatingGood)
	}

	return score, reasons
}

// areaOverlaps reports whether the load's origin or destination falls inside
// any declared service area. Areas are free-form region codes ("NY",
// "NY, NJ, PA"), so containment is a substring check.
func areaOverlaps(load *types.Load, carrier *types.CarrierProfile) bool {
	for _, area := range carrier.ServiceAreaList() {
		if area == "" {
			continue
		}
		if strings.Contains(area, load.Origin) || strings.Contains(area, load.Destination) {
			return true
		}
	}
	return false
}
