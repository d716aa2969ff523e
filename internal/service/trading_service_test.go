package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versebet/exchange/internal/domain"
	"github.com/versebet/exchange/internal/engine"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]domain.Order)}
}

func (f *fakeOrderStore) Upsert(_ context.Context, o domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) ListByMarket(_ context.Context, marketID string, outcome int, _ domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) ListTerminalBefore(_ context.Context, _ time.Time, _ int) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, o := range f.orders {
		if o.UpdatedAt.Before(cutoff) {
			delete(f.orders, id)
			n++
		}
	}
	return n, nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (f *fakeTradeStore) Insert(_ context.Context, t domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeTradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	for _, t := range trades {
		if err := f.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTradeStore) ListByMarket(_ context.Context, _ string, _ int, _ domain.ListOpts) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Trade(nil), f.trades...), nil
}

func (f *fakeTradeStore) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeBookCache struct {
	mu    sync.Mutex
	snaps map[string]domain.BookSnapshot
}

func newFakeBookCache() *fakeBookCache {
	return &fakeBookCache{snaps: make(map[string]domain.BookSnapshot)}
}

func (f *fakeBookCache) SetSnapshot(_ context.Context, snap domain.BookSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.MarketID] = snap
	return nil
}

func (f *fakeBookCache) GetSnapshot(_ context.Context, marketID string, _ int) (domain.BookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[marketID]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	stream   [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{messages: make(map[string][][]byte)}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channel] = append(f.messages[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream = append(f.stream, payload)
	return nil
}

func (f *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

var (
	_ domain.OrderStore = (*fakeOrderStore)(nil)
	_ domain.TradeStore = (*fakeTradeStore)(nil)
	_ domain.BookCache  = (*fakeBookCache)(nil)
	_ domain.SignalBus  = (*fakeBus)(nil)
)

func newTestService(t *testing.T) (*TradingService, *fakeOrderStore, *fakeTradeStore, *fakeBookCache, *fakeBus) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(engine.DefaultConfig(), log)
	require.NoError(t, err)
	orders := newFakeOrderStore()
	trades := &fakeTradeStore{}
	books := newFakeBookCache()
	bus := newFakeBus()
	return NewTradingService(eng, orders, trades, books, bus, log), orders, trades, books, bus
}

// pump drains pending engine events through the dispatcher synchronously.
func pump(ctx context.Context, s *TradingService) {
	for {
		select {
		case ev := <-s.engine.Events():
			s.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func placeReq(account string, side domain.Side, price, qty string) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{
		MarketID:    "mkt-1",
		AccountID:   account,
		Side:        side,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       decimal.RequireFromString(price),
		Quantity:    decimal.RequireFromString(qty),
	}
}

func TestEventPumpFansOut(t *testing.T) {
	svc, orders, trades, books, bus := newTestService(t)
	ctx := context.Background()

	maker, err := svc.PlaceOrder(ctx, placeReq("alice", domain.SideSell, "0.50", "10"))
	require.NoError(t, err)
	taker, err := svc.PlaceOrder(ctx, placeReq("bob", domain.SideBuy, "0.50", "10"))
	require.NoError(t, err)
	require.Len(t, taker.Trades, 1)

	pump(ctx, svc)

	trades.mu.Lock()
	require.Len(t, trades.trades, 1)
	assert.Equal(t, taker.Trades[0].ID, trades.trades[0].ID)
	trades.mu.Unlock()

	makerStored, err := orders.GetByID(ctx, maker.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, makerStored.Status)
	takerStored, err := orders.GetByID(ctx, taker.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, takerStored.Status)

	snap, err := books.GetSnapshot(ctx, "mkt-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "mkt-1", snap.MarketID)

	bus.mu.Lock()
	assert.Len(t, bus.messages[ChannelTrades], 1)
	assert.NotEmpty(t, bus.messages[ChannelOrders])
	assert.NotEmpty(t, bus.messages[ChannelBook])
	assert.Len(t, bus.stream, 1)
	bus.mu.Unlock()
}

func TestRestingOrderReachesStore(t *testing.T) {
	svc, orders, _, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.PlaceOrder(ctx, placeReq("alice", domain.SideBuy, "0.40", "10"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, res.Order.Status)

	pump(ctx, svc)

	stored, err := orders.GetByID(ctx, res.Order.ID)
	require.NoError(t, err, "open resting order must be durably persisted")
	assert.Equal(t, domain.OrderStatusOpen, stored.Status)
	assert.True(t, stored.Remaining.Equal(res.Order.Remaining))
}

func TestGetOrderFallsBackToStore(t *testing.T) {
	svc, orders, _, _, _ := newTestService(t)
	ctx := context.Background()

	stored := domain.Order{
		ID:        "archived-1",
		MarketID:  "mkt-1",
		AccountID: "alice",
		Status:    domain.OrderStatusFilled,
	}
	require.NoError(t, orders.Upsert(ctx, stored))

	got, err := svc.GetOrder(ctx, "archived-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)

	_, err = svc.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenOrders(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.PlaceOrder(ctx, placeReq("alice", domain.SideBuy, "0.40", "10"))
	require.NoError(t, err)

	open := svc.OpenOrders("alice")
	require.Len(t, open, 1)
	assert.Equal(t, res.Order.ID, open[0].ID)

	_, err = svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: res.Order.ID, AccountID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, svc.OpenOrders("alice"))
}
