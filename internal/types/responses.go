package types

import "time"

// AcceptQuoteResponse summarizes the full effect of a quote acceptance:
// the winning quote, the created shipment, and every competing quote that
// was expired as part of the same transaction.
type AcceptQuoteResponse struct {
	Quote           Quote    `json:"quote"`
	Shipment        Shipment `json:"shipment"`
	ExpiredQuoteIDs []string `json:"expired_quote_ids"`
	BatchID         string   `json:"batch_id"`
}

// RankResponse is the HTTP view of a match ranking run.
type RankResponse struct {
	LoadID     string           `json:"load_id"`
	Candidates []MatchCandidate `json:"candidates"`
	RankedAt   time.Time        `json:"ranked_at"`
}

// RateResponse is the HTTP view of a rate prediction run.
type RateResponse struct {
	LoadID      string         `json:"load_id"`
	Prediction  RatePrediction `json:"prediction"`
	PredictedAt time.Time      `json:"predicted_at"`
}
