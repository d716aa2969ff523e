package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is the aggregate view of all resting orders at one price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookSnapshot is a point-in-time depth view of one instrument's order book.
// Bids are sorted best (highest) first, asks best (lowest) first.
type BookSnapshot struct {
	MarketID  string           `json:"market_id"`
	Outcome   int              `json:"outcome"`
	Bids      []PriceLevel     `json:"bids"`
	Asks      []PriceLevel     `json:"asks"`
	BestBid   *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk   *decimal.Decimal `json:"best_ask,omitempty"`
	Sequence  uint64           `json:"sequence"`
	Timestamp time.Time        `json:"timestamp"`
}
