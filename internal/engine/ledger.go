package engine

import (
	"time"

	"github.com/versebet/exchange/internal/domain"
)

// ledger is the append-only in-memory trade history for one instrument.
// Durable history lives in the trade store; the ledger serves the hot
// recent-trades path without a round trip.
type ledger struct {
	trades []domain.Trade
}

func newLedger() *ledger {
	return &ledger{}
}

func (l *ledger) append(trades []domain.Trade) {
	l.trades = append(l.trades, trades...)
}

// recent returns up to limit trades, most recent first. limit <= 0 returns
// the full history.
func (l *ledger) recent(limit int) []domain.Trade {
	n := len(l.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.trades[i])
	}
	return out
}

// trimBefore drops trades executed before cutoff, bounding memory for
// long-lived instruments. Trades are appended in execution order, so the
// drop is always a prefix. Returns the number of trades dropped.
func (l *ledger) trimBefore(cutoff time.Time) int {
	i := 0
	for i < len(l.trades) && l.trades[i].ExecutedAt.Before(cutoff) {
		i++
	}
	if i == 0 {
		return 0
	}
	l.trades = append([]domain.Trade(nil), l.trades[i:]...)
	return i
}
