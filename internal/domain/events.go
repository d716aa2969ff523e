package domain

import "github.com/shopspring/decimal"

// EventType discriminates engine event payloads.
type EventType string

const (
	EventTradeExecuted      EventType = "trade_executed"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventBookUpdated        EventType = "book_updated"
)

// Event is the envelope the engine hands to the outbound dispatch channel
// after a successful mutation. Exactly one of the payload fields is set,
// according to Type. Delivery is best-effort; the engine's responsibility
// ends once the event is enqueued.
type Event struct {
	Type  EventType           `json:"type"`
	Trade *Trade              `json:"trade,omitempty"`
	Order *OrderStatusChange  `json:"order,omitempty"`
	Book  *BookUpdate         `json:"book,omitempty"`
}

// OrderStatusChange describes a single order lifecycle transition.
type OrderStatusChange struct {
	OrderID   string          `json:"order_id"`
	MarketID  string          `json:"market_id"`
	Outcome   int             `json:"outcome"`
	AccountID string          `json:"account_id"`
	OldStatus OrderStatus     `json:"old_status"`
	NewStatus OrderStatus     `json:"new_status"`
	Remaining decimal.Decimal `json:"remaining"`
}

// BookUpdate signals that an instrument's top-of-book or depth changed.
// Consumers re-read the snapshot rather than applying deltas.
type BookUpdate struct {
	MarketID string       `json:"market_id"`
	Outcome  int          `json:"outcome"`
	Snapshot BookSnapshot `json:"snapshot"`
}
