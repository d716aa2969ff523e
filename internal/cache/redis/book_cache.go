package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/versebet/exchange/internal/domain"
)

// snapshotTTL bounds staleness when the engine stops publishing updates for
// an instrument. Readers fall back to the engine on a miss.
const snapshotTTL = 5 * time.Minute

// BookCache implements domain.BookCache by mirroring engine book snapshots
// into Redis as JSON values, one key per instrument.
type BookCache struct {
	rdb *redis.Client
}

var _ domain.BookCache = (*BookCache)(nil)

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.rdb}
}

func bookKey(marketID string, outcome int) string {
	return "book:" + marketID + ":" + strconv.Itoa(outcome)
}

// SetSnapshot replaces the cached snapshot for an instrument.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode book snapshot: %w", err)
	}
	key := bookKey(snap.MarketID, snap.Outcome)
	if err := bc.rdb.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot reads the cached snapshot for an instrument. Returns
// domain.ErrNotFound on a miss.
func (bc *BookCache) GetSnapshot(ctx context.Context, marketID string, outcome int) (domain.BookSnapshot, error) {
	key := bookKey(marketID, outcome)
	data, err := bc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BookSnapshot{}, domain.ErrNotFound
		}
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book snapshot %s: %w", key, err)
	}

	var snap domain.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: decode book snapshot %s: %w", key, err)
	}
	return snap, nil
}
