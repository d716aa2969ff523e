package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/versebet/exchange/internal/domain"
)

// Archiver moves aged trades and terminal orders out of the primary store
// into object storage as JSONL files, one object per pass under a year-month
// prefix. Rows are deleted from the store only after the archive object is
// written.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	orders domain.OrderStore
	log    *slog.Logger

	// Interval is the cadence of archive passes; MaxAge is how old a record
	// must be before it is archived. BatchLimit caps rows per pass.
	Interval   time.Duration
	MaxAge     time.Duration
	BatchLimit int
}

// NewArchiver creates an Archiver with default cadence: daily passes
// archiving records older than seven days.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, orders domain.OrderStore, log *slog.Logger) *Archiver {
	return &Archiver{
		writer:     writer,
		trades:     trades,
		orders:     orders,
		log:        log.With("component", "archiver"),
		Interval:   24 * time.Hour,
		MaxAge:     7 * 24 * time.Hour,
		BatchLimit: 100000,
	}
}

// Run executes archive passes on the configured cadence until the context
// ends.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	a.log.InfoContext(ctx, "archiver started", "interval", a.Interval, "max_age", a.MaxAge)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			cutoff := now.Add(-a.MaxAge)
			if n, err := a.ArchiveTrades(ctx, cutoff); err != nil {
				a.log.ErrorContext(ctx, "trade archive failed", "error", err)
			} else if n > 0 {
				a.log.InfoContext(ctx, "trades archived", "count", n, "cutoff", cutoff)
			}
			if n, err := a.ArchiveOrders(ctx, cutoff); err != nil {
				a.log.ErrorContext(ctx, "order archive failed", "error", err)
			} else if n > 0 {
				a.log.InfoContext(ctx, "orders archived", "count", n, "cutoff", cutoff)
			}
		}
	}
}

// ArchiveTrades uploads trades executed before the cutoff to a fresh object
// under archive/trades/ and deletes them from the store.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before, a.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	if err := a.writer.Write(ctx, archivePath("trades", before), buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	// The archive is durable; only now do the rows leave the store.
	deleted, err := a.trades.DeleteBefore(ctx, trades[len(trades)-1].ExecutedAt.Add(time.Nanosecond))
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades delete: %w", err)
	}
	return deleted, nil
}

// ArchiveOrders uploads terminal orders last updated before the cutoff to a
// fresh object under archive/orders/ and deletes them from the store. Open
// orders are never archived.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListTerminalBefore(ctx, before, a.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}
	if err := a.writer.Write(ctx, archivePath("orders", before), buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	deleted, err := a.orders.DeleteBefore(ctx, orders[len(orders)-1].UpdatedAt.Add(time.Nanosecond))
	if err != nil {
		return int64(len(orders)), fmt.Errorf("s3blob: archive orders delete: %w", err)
	}
	return deleted, nil
}

// archivePath builds the S3 key for one archive pass, partitioned by
// year-month and keyed by the pass cutoff. Rows are deleted after upload, so
// each pass must write a fresh object; reusing a key would overwrite records
// that no longer exist anywhere else.
func archivePath(kind string, before time.Time) string {
	t := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, t.Format("2006-01"), t.Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
