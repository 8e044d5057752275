package matching

// Reason tags why a carrier earned part of its match score. Tags travel on
// the wire; display text is a rendering concern layered on top.
type Reason string

const (
	ReasonEquipmentMatch      Reason = "equipment_match"
	ReasonServiceAreaMatch    Reason = "service_area_match"
	ReasonInsuranceSufficient Reason = "insurance_sufficient"
	ReasonRatingHigh          Reason = "rating_high"
	ReasonRatingGood          Reason = "rating_good"
)

var reasonText = map[Reason]string{
	ReasonEquipmentMatch:      "Equipment type matches the load",
	ReasonServiceAreaMatch:    "Carrier serves the load's lane",
	ReasonInsuranceSufficient: "Insurance covers the asking rate",
	ReasonRatingHigh:          "Highly rated carrier (4.5+)",
	ReasonRatingGood:          "Well rated carrier (4.0+)",
}

// Display returns the human-readable rendering of a reason tag.
func (r Reason) Display() string {
	if text, ok := reasonText[r]; ok {
		return text
	}
	return string(r)
}
