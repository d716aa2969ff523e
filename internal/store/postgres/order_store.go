package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert writes the current state of an order, inserting on first sight.
// The engine replays the full order on every status change, so last write
// wins is the correct merge.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, market_id, outcome, account_id, side, order_type, time_in_force,
			price, quantity, remaining, status, sequence,
			expires_at, client_order_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)
		ON CONFLICT (id) DO UPDATE SET
			remaining = EXCLUDED.remaining,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.MarketID, o.Outcome, o.AccountID,
		string(o.Side), string(o.Type), string(o.TimeInForce),
		o.Price.String(), o.Quantity.String(), o.Remaining.String(),
		string(o.Status), int64(o.Sequence),
		o.ExpiresAt, nullIfEmpty(o.ClientOrderID), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// orderSelectCols casts NUMERIC columns to text so decimals round-trip
// without precision loss.
const orderSelectCols = `id, market_id, outcome, account_id, side, order_type, time_in_force,
	price::text, quantity::text, remaining::text, status, sequence,
	expires_at, client_order_id, created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var side, orderType, tif, status string
	var price, quantity, remaining string
	var sequence int64
	var clientOrderID *string

	err := scanner.Scan(
		&o.ID, &o.MarketID, &o.Outcome, &o.AccountID,
		&side, &orderType, &tif,
		&price, &quantity, &remaining, &status, &sequence,
		&o.ExpiresAt, &clientOrderID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.Side(side)
	o.Type = domain.OrderType(orderType)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.Sequence = uint64(sequence)
	if clientOrderID != nil {
		o.ClientOrderID = *clientOrderID
	}

	if o.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Order{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return domain.Order{}, fmt.Errorf("parse quantity %q: %w", quantity, err)
	}
	if o.Remaining, err = decimal.NewFromString(remaining); err != nil {
		return domain.Order{}, fmt.Errorf("parse remaining %q: %w", remaining, err)
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByAccount returns an account's orders, newest first.
func (s *OrderStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE account_id = $1`
	query, args := appendListOpts(query, []any{accountID}, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by account: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by account: %w", err)
	}
	return orders, nil
}

// ListByMarket returns orders for one instrument, newest first.
func (s *OrderStore) ListByMarket(ctx context.Context, marketID string, outcome int, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE market_id = $1 AND outcome = $2`
	query, args := appendListOpts(query, []any{marketID, outcome}, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by market: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by market: %w", err)
	}
	return orders, nil
}

// ListTerminalBefore returns terminal orders last updated before cutoff,
// oldest first, for archival.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE updated_at < $1
		  AND status IN ('filled', 'cancelled', 'rejected', 'expired')
		ORDER BY updated_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal orders: %w", err)
	}
	return orders, nil
}

// DeleteBefore removes terminal orders last updated before cutoff. Open
// orders are never deleted regardless of age.
func (s *OrderStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orders
		 WHERE updated_at < $1
		   AND status IN ('filled', 'cancelled', 'rejected', 'expired')`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// appendListOpts extends a query with the shared time-window, ordering, and
// pagination clauses from ListOpts.
func appendListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
