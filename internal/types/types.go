package types

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Load statuses
const (
	LoadStatusPosted      = "posted"
	LoadStatusMatching    = "matching"
	LoadStatusNegotiating = "negotiating"
	LoadStatusAssigned    = "assigned"
	LoadStatusInTransit   = "in_transit"
	LoadStatusDelivered   = "delivered"
	LoadStatusCancelled   = "cancelled"
)

// Quote statuses; all but pending are terminal
const (
	QuoteStatusPending  = "pending"
	QuoteStatusAccepted = "accepted"
	QuoteStatusRejected = "rejected"
	QuoteStatusExpired  = "expired"
)

// Shipment statuses
const (
	ShipmentStatusPending   = "pending"
	ShipmentStatusInTransit = "in_transit"
	ShipmentStatusDelivered = "delivered"
	ShipmentStatusCompleted = "completed"
)

// User roles carried in JWT claims
const (
	RoleShipper = "shipper"
	RoleCarrier = "carrier"
)

// Rate trend directions
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

type Load struct {
	gorm.Model    `json:"-"`
	LoadID        string    `gorm:"uniqueIndex" json:"load_id"`
	ShipperID     string    `json:"shipper_id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	EquipmentType string    `json:"equipment_type"`
	WeightLbs     float64   `json:"weight_lbs"`
	PickupDate    time.Time `json:"pickup_date"`
	DeliveryDate  time.Time `json:"delivery_date"`
	AskingRate    float64   `json:"asking_rate"` // 0 means no rate quoted
	Status        string    `json:"status"`      // posted, matching, negotiating, assigned, in_transit, delivered, cancelled
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CarrierProfile struct {
	gorm.Model      `json:"-"`
	CarrierID       string    `gorm:"uniqueIndex" json:"carrier_id"`
	CompanyName     string    `json:"company_name"`
	EquipmentTypes  string    `json:"equipment_types"` // JSON array of equipment type codes
	ServiceAreas    string    `json:"service_areas"`   // JSON array of region codes
	InsuranceAmount float64   `json:"insurance_amount"`
	Rating          float64   `json:"rating"` // 0 means unrated
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EquipmentTypeList decodes the JSON-encoded equipment type column.
// Malformed data yields an empty list rather than an error.
func (c *CarrierProfile) EquipmentTypeList() []string {
	return decodeStringList(c.EquipmentTypes)
}

// ServiceAreaList decodes the JSON-encoded service area column.
func (c *CarrierProfile) ServiceAreaList() []string {
	return decodeStringList(c.ServiceAreas)
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

type Quote struct {
	gorm.Model           `json:"-"`
	QuoteID              string    `gorm:"uniqueIndex" json:"quote_id"`
	LoadID               string    `json:"load_id"`
	CarrierID            string    `json:"carrier_id"`
	Price                float64   `json:"price"`
	ProposedDeliveryDate time.Time `json:"proposed_delivery_date"`
	Terms                string    `json:"terms"`
	Status               string    `json:"status"` // pending, accepted, rejected, expired
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type Shipment struct {
	gorm.Model      `json:"-"`
	ShipmentID      string    `gorm:"uniqueIndex" json:"shipment_id"`
	LoadID          string    `json:"load_id"`
	CarrierID       string    `json:"carrier_id"`
	Status          string    `json:"status"` // pending, in_transit, delivered, completed
	CurrentLocation string    `json:"current_location"`
	ETA             time.Time `json:"eta"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NegotiationEvent is the durable unit of real-time broadcast. Sequence is
// strictly increasing per room and is the basis for client-side ordering and
// gap detection on reconnect.
type NegotiationEvent struct {
	gorm.Model `json:"-"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	RoomID     string    `gorm:"index" json:"room_id"`
	Type       string    `json:"type"`
	EntityID   string    `json:"entity_id"`
	BatchID    string    `json:"batch_id,omitempty"` // ties together events from one atomic transition
	Payload    string    `json:"-"`                  // JSON document, see payload types in responses.go
	Sequence   int64     `json:"sequence_number"`
	CreatedAt  time.Time `json:"timestamp"`
}

// MatchCandidate is produced fresh per ranking request and never persisted.
type MatchCandidate struct {
	CarrierID string   `json:"carrier_id"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons"`
}

// RatePrediction is the ephemeral output of the rate predictor.
type RatePrediction struct {
	PredictedRate   float64  `json:"predicted_rate"`
	Confidence      float64  `json:"confidence"`
	Factors         []string `json:"factors"`
	Trend           string   `json:"trend"` // up, down, stable
	TrendPercentage float64  `json:"trend_percentage"`
}
