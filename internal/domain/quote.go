package domain

import "time"

// PriceQuote is a single venue observation. Quotes are produced fresh on every
// poll and never mutated.
type PriceQuote struct {
	Venue      string    `json:"venue"`
	Token      string    `json:"token"`
	Price      float64   `json:"price"`
	Liquidity  float64   `json:"liquidity,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}
