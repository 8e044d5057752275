package loads

import "time"

// CreateLoadRequest is the shipper-facing load posting body.
type CreateLoadRequest struct {
	Origin        string    `json:"origin" binding:"required"`
	Destination   string    `json:"destination" binding:"required"`
	EquipmentType string    `json:"equipment_type" binding:"required"`
	WeightLbs     float64   `json:"weight_lbs"`
	PickupDate    time.Time `json:"pickup_date" binding:"required"`
	DeliveryDate  time.Time `json:"delivery_date" binding:"required"`
	AskingRate    float64   `json:"asking_rate"`
}

// UpdateLoadRequest carries shipper edits, permitted only while the load
// is still posted. Zero values leave the field unchanged.
type UpdateLoadRequest struct {
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	EquipmentType string    `json:"equipment_type"`
	WeightLbs     float64   `json:"weight_lbs"`
	PickupDate    time.Time `json:"pickup_date"`
	DeliveryDate  time.Time `json:"delivery_date"`
	AskingRate    float64   `json:"asking_rate"`
}

// CarrierProfileRequest is the carrier-facing profile upsert body.
type CarrierProfileRequest struct {
	CompanyName     string   `json:"company_name"`
	EquipmentTypes  []string `json:"equipment_types" binding:"required"`
	ServiceAreas    []string `json:"service_areas" binding:"required"`
	InsuranceAmount float64  `json:"insurance_amount"`
	Rating          float64  `json:"rating"`
	Active          bool     `json:"active"`
}
