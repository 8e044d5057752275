package negotiation

import (
	"time"

	"github.com/freightmatch/freight-api/internal/types"
)

// SubmitQuoteRequest is the carrier-facing quote submission body.
type SubmitQuoteRequest struct {
	LoadID               string    `json:"load_id" binding:"required"`
	Price                float64   `json:"price" binding:"required"`
	ProposedDeliveryDate time.Time `json:"proposed_delivery_date" binding:"required"`
	Terms                string    `json:"terms"`
}

// AcceptResult captures everything one accept transaction changed.
type AcceptResult struct {
	Quote         *types.Quote
	Shipment      *types.Shipment
	ExpiredQuotes []types.Quote
	Load          *types.Load
}
