package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeInsertQuery = `
	INSERT INTO trades (
		id, market_id, outcome, maker_order_id, taker_order_id,
		maker_account, taker_account, maker_side, taker_side,
		price, quantity, maker_fee, taker_fee, sequence, executed_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9,
		$10, $11, $12, $13, $14, $15
	)
	ON CONFLICT (id) DO NOTHING`

func tradeInsertArgs(t domain.Trade) []any {
	return []any{
		t.ID, t.MarketID, t.Outcome, t.MakerOrderID, t.TakerOrderID,
		t.MakerAccount, t.TakerAccount, string(t.MakerSide), string(t.TakerSide),
		t.Price.String(), t.Quantity.String(), t.MakerFee.String(), t.TakerFee.String(),
		int64(t.Sequence), t.ExecutedAt,
	}
}

// Insert writes one trade. Trades are immutable; replays are ignored.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	if _, err := s.pool.Exec(ctx, tradeInsertQuery, tradeInsertArgs(t)...); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// InsertBatch writes multiple trades in a single round trip.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(tradeInsertQuery, tradeInsertArgs(t)...)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range trades {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch: %w", err)
		}
	}
	return nil
}

const tradeSelectCols = `id, market_id, outcome, maker_order_id, taker_order_id,
	maker_account, taker_account, maker_side, taker_side,
	price::text, quantity::text, maker_fee::text, taker_fee::text,
	sequence, executed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var makerSide, takerSide string
		var price, quantity, makerFee, takerFee string
		var sequence int64

		err := rows.Scan(
			&t.ID, &t.MarketID, &t.Outcome, &t.MakerOrderID, &t.TakerOrderID,
			&t.MakerAccount, &t.TakerAccount, &makerSide, &takerSide,
			&price, &quantity, &makerFee, &takerFee,
			&sequence, &t.ExecutedAt,
		)
		if err != nil {
			return nil, err
		}

		t.MakerSide = domain.Side(makerSide)
		t.TakerSide = domain.Side(takerSide)
		t.Sequence = uint64(sequence)
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", quantity, err)
		}
		if t.MakerFee, err = decimal.NewFromString(makerFee); err != nil {
			return nil, fmt.Errorf("parse maker fee %q: %w", makerFee, err)
		}
		if t.TakerFee, err = decimal.NewFromString(takerFee); err != nil {
			return nil, fmt.Errorf("parse taker fee %q: %w", takerFee, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListByMarket returns an instrument's trades, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, outcome int, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE market_id = $1 AND outcome = $2`
	query, args := appendListOpts(query, []any{marketID, outcome}, "executed_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades executed before cutoff, oldest first, for
// archival.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", cutoff, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before cutoff: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades executed before cutoff.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
