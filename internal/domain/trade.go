package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable execution record. The price is always the resting
// (maker) order's limit price; price improvement accrues to the taker.
type Trade struct {
	ID           string          `json:"id"`
	MarketID     string          `json:"market_id"`
	Outcome      int             `json:"outcome"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	MakerAccount string          `json:"maker_account"`
	TakerAccount string          `json:"taker_account"`
	MakerSide    Side            `json:"maker_side"`
	TakerSide    Side            `json:"taker_side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	MakerFee     decimal.Decimal `json:"maker_fee"`
	TakerFee     decimal.Decimal `json:"taker_fee"`
	Sequence     uint64          `json:"sequence"`
	ExecutedAt   time.Time       `json:"executed_at"`
}
