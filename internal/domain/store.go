package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists order state. The in-memory book is authoritative;
// the store is a derived, eventually-consistent copy.
type OrderStore interface {
	Upsert(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Order, error)
	ListByMarket(ctx context.Context, marketID string, outcome int, opts ListOpts) ([]Order, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TradeStore persists executed trades.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByMarket(ctx context.Context, marketID string, outcome int, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BookCache mirrors engine book snapshots so read traffic can be served
// without touching the matching path.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, marketID string, outcome int) (BookSnapshot, error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the outbound event fabric: pub/sub for ephemeral fan-out to
// the WebSocket edge, streams for durable ordered delivery.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter enforces request-per-window limits keyed by caller identity.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter stores archive objects in object storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
