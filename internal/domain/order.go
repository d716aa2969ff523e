package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether an order buys or sells outcome shares.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType indicates the execution style for an order.
type OrderType string

const (
	OrderTypeMarket   OrderType = "market"
	OrderTypeLimit    OrderType = "limit"
	OrderTypePostOnly OrderType = "post_only" // maker-only order
)

// TimeInForce controls how long an order remains eligible for matching.
type TimeInForce string

const (
	TIFGoodTillCancelled TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
	TIFGoodTillDate      TimeInForce = "GTD"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// Order is a single order request and its execution state. Identity and
// parameters are fixed at admission; Remaining, Status, and UpdatedAt are
// mutated only by the matching engine under its per-instrument lock.
type Order struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"market_id"`
	Outcome       int             `json:"outcome"`
	AccountID     string          `json:"account_id"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	Price         decimal.Decimal `json:"price"` // zero for market orders
	Quantity      decimal.Decimal `json:"quantity"`
	Remaining     decimal.Decimal `json:"remaining"`
	Status        OrderStatus     `json:"status"`
	Sequence      uint64          `json:"sequence"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"` // set for GTD
	ClientOrderID string          `json:"client_order_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Filled returns the executed quantity so far.
func (o Order) Filled() decimal.Decimal {
	return o.Quantity.Sub(o.Remaining)
}

// IsActive reports whether the order is still eligible for matching or
// cancellation.
func (o Order) IsActive() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// IsTerminal reports whether the order has reached a final state.
func (o Order) IsTerminal() bool {
	return !o.IsActive()
}

// PlaceOrderRequest is the validated order submission handed to the engine by
// the API layer. Authentication and broader authorization happen upstream.
type PlaceOrderRequest struct {
	MarketID      string          `json:"market_id"`
	Outcome       int             `json:"outcome"`
	AccountID     string          `json:"account_id"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

// CancelOrderRequest asks the engine to remove a resting order. The engine
// verifies the requesting account owns the order.
type CancelOrderRequest struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
}

// PlaceOrderResult is the synchronous outcome of a place operation: the final
// state of the taker order plus any trades produced by the matching pass.
type PlaceOrderResult struct {
	Order  Order   `json:"order"`
	Trades []Trade `json:"trades"`
}
