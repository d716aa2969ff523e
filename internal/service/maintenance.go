package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/versebet/exchange/internal/engine"
)

// Maintenance runs the periodic background chores around the engine: the
// GTD expiry sweep and retention pruning of terminal state. Both are
// idempotent, so a missed tick is harmless.
type Maintenance struct {
	engine  *engine.Engine
	service *TradingService
	log     *slog.Logger

	SweepInterval     time.Duration
	RetentionInterval time.Duration
	RetentionMaxAge   time.Duration
}

func NewMaintenance(eng *engine.Engine, svc *TradingService, log *slog.Logger) *Maintenance {
	return &Maintenance{
		engine:            eng,
		service:           svc,
		log:               log.With("component", "maintenance"),
		SweepInterval:     time.Second,
		RetentionInterval: time.Hour,
		RetentionMaxAge:   30 * 24 * time.Hour,
	}
}

// RunExpirySweep expires due GTD orders on a fixed cadence. Matching also
// expires lazily; the sweep covers instruments with no traffic.
func (m *Maintenance) RunExpirySweep(ctx context.Context) error {
	ticker := time.NewTicker(m.SweepInterval)
	defer ticker.Stop()
	m.log.InfoContext(ctx, "expiry sweep started", "interval", m.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.engine.SweepExpired(now)
		}
	}
}

// RunRetention prunes terminal orders from engine memory and expired rows
// from durable storage once they age past the retention window.
func (m *Maintenance) RunRetention(ctx context.Context) error {
	ticker := time.NewTicker(m.RetentionInterval)
	defer ticker.Stop()
	m.log.InfoContext(ctx, "retention started",
		"interval", m.RetentionInterval, "max_age", m.RetentionMaxAge)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.runOnce(ctx, now)
		}
	}
}

func (m *Maintenance) runOnce(ctx context.Context, now time.Time) {
	cutoff := now.Add(-m.RetentionMaxAge)

	released := m.engine.PruneClosedBefore(cutoff)
	trimmed := m.engine.TrimTradesBefore(cutoff)

	var ordersDropped, tradesDropped int64
	if m.service.orders != nil {
		n, err := m.service.orders.DeleteBefore(ctx, cutoff)
		if err != nil {
			m.log.ErrorContext(ctx, "order retention failed", "error", err)
		} else {
			ordersDropped = n
		}
	}
	if m.service.trades != nil {
		n, err := m.service.trades.DeleteBefore(ctx, cutoff)
		if err != nil {
			m.log.ErrorContext(ctx, "trade retention failed", "error", err)
		} else {
			tradesDropped = n
		}
	}
	if released > 0 || trimmed > 0 || ordersDropped > 0 || tradesDropped > 0 {
		m.log.InfoContext(ctx, "retention pass complete",
			"cutoff", cutoff, "memory_released", released, "ledger_trimmed", trimmed,
			"orders_dropped", ordersDropped, "trades_dropped", tradesDropped)
	}
}
