package types

// Event types delivered through the negotiation broadcast hub.
const (
	EventMatchRanked       = "match.ranked"
	EventRatePredicted     = "rate.predicted"
	EventQuoteSubmitted    = "quote.submitted"
	EventQuoteAccepted     = "quote.accepted"
	EventQuoteRejected     = "quote.rejected"
	EventQuoteExpired      = "quote.expired"
	EventLoadStatusChanged = "load.status_changed"
	EventShipmentCreated   = "shipment.created"
)

// LoadRoom returns the room id for a load's negotiation thread.
func LoadRoom(loadID string) string {
	return "load:" + loadID
}

// QuoteRoom returns the room id for a single quote thread.
func QuoteRoom(quoteID string) string {
	return "quote:" + quoteID
}

// QuoteEventPayload is the payload for all quote.* events.
type QuoteEventPayload struct {
	QuoteID   string `json:"quote_id"`
	LoadID    string `json:"load_id"`
	CarrierID string `json:"carrier_id"`
	Status    string `json:"status"`
}

// LoadStatusPayload is the payload for load.status_changed events.
type LoadStatusPayload struct {
	LoadID string `json:"load_id"`
	Status string `json:"status"`
}

// ShipmentCreatedPayload is the payload for shipment.created events.
type ShipmentCreatedPayload struct {
	ShipmentID string `json:"shipment_id"`
	LoadID     string `json:"load_id"`
	CarrierID  string `json:"carrier_id"`
}

// MatchRankedPayload is the payload for match.ranked events.
type MatchRankedPayload struct {
	LoadID     string           `json:"load_id"`
	Candidates []MatchCandidate `json:"candidates"`
}

// RatePredictedPayload is the payload for rate.predicted events.
type RatePredictedPayload struct {
	LoadID     string         `json:"load_id"`
	Prediction RatePrediction `json:"prediction"`
}
