package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versebet/exchange/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return e
}

func limitReq(account string, side domain.Side, price, qty string) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{
		MarketID:    "mkt-1",
		Outcome:     0,
		AccountID:   account,
		Side:        side,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       d(price),
		Quantity:    d(qty),
	}
}

func marketReq(account string, side domain.Side, qty string) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{
		MarketID:    "mkt-1",
		Outcome:     0,
		AccountID:   account,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		TimeInForce: domain.TIFImmediateOrCancel,
		Quantity:    d(qty),
	}
}

func mustPlace(t *testing.T, e *Engine, req domain.PlaceOrderRequest) domain.PlaceOrderResult {
	t.Helper()
	res, err := e.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	return res
}

func drainEvents(e *Engine) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPlaceOrderRestsWhenNotCrossing(t *testing.T) {
	e := newTestEngine(t)

	res := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.45", "100"))
	assert.Equal(t, domain.OrderStatusOpen, res.Order.Status)
	assert.Empty(t, res.Trades)
	assert.True(t, res.Order.Remaining.Equal(d("100")))

	snap := e.BookSnapshot("mkt-1", 0, 0)
	require.NotNil(t, snap.BestBid)
	assert.True(t, snap.BestBid.Equal(d("0.45")))
	assert.Nil(t, snap.BestAsk)
}

func TestMatchExecutesAtMakerPrice(t *testing.T) {
	e := newTestEngine(t)

	maker := mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "100"))
	res := mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.60", "100"))

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.True(t, trade.Price.Equal(d("0.50")), "taker improvement accrues to the taker")
	assert.True(t, trade.Quantity.Equal(d("100")))
	assert.Equal(t, maker.Order.ID, trade.MakerOrderID)
	assert.Equal(t, res.Order.ID, trade.TakerOrderID)
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)

	got, err := e.GetOrder(maker.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
}

func TestPricePriority(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.55", "10"))
	best := mustPlace(t, e, limitReq("bob", domain.SideSell, "0.52", "10"))

	res := mustPlace(t, e, limitReq("carol", domain.SideBuy, "0.60", "10"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, best.Order.ID, res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Price.Equal(d("0.52")))
}

func TestTimePriorityWithinLevel(t *testing.T) {
	e := newTestEngine(t)

	first := mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	second := mustPlace(t, e, limitReq("bob", domain.SideSell, "0.50", "10"))

	res := mustPlace(t, e, limitReq("carol", domain.SideBuy, "0.50", "15"))
	require.Len(t, res.Trades, 2)
	assert.Equal(t, first.Order.ID, res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Quantity.Equal(d("10")))
	assert.Equal(t, second.Order.ID, res.Trades[1].MakerOrderID)
	assert.True(t, res.Trades[1].Quantity.Equal(d("5")))

	got, err := e.GetOrder(second.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, got.Status)
	assert.True(t, got.Remaining.Equal(d("5")))
}

func TestPartialFillKeepsQueuePosition(t *testing.T) {
	e := newTestEngine(t)

	partial := mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "20"))
	later := mustPlace(t, e, limitReq("bob", domain.SideSell, "0.50", "20"))

	mustPlace(t, e, limitReq("carol", domain.SideBuy, "0.50", "5"))

	res := mustPlace(t, e, limitReq("dave", domain.SideBuy, "0.50", "20"))
	require.Len(t, res.Trades, 2)
	assert.Equal(t, partial.Order.ID, res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Quantity.Equal(d("15")))
	assert.Equal(t, later.Order.ID, res.Trades[1].MakerOrderID)
	assert.True(t, res.Trades[1].Quantity.Equal(d("5")))
}

func TestQuantityConservation(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.40", "30"))
	mustPlace(t, e, limitReq("bob", domain.SideSell, "0.45", "30"))

	res := mustPlace(t, e, limitReq("carol", domain.SideBuy, "0.45", "100"))

	filled := decimal.Zero
	for _, tr := range res.Trades {
		filled = filled.Add(tr.Quantity)
	}
	assert.True(t, filled.Add(res.Order.Remaining).Equal(res.Order.Quantity))
	assert.True(t, res.Order.Remaining.Equal(d("40")))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, res.Order.Status)

	// The remainder rests as the new best bid; the book never crosses.
	snap := e.BookSnapshot("mkt-1", 0, 0)
	require.NotNil(t, snap.BestBid)
	assert.True(t, snap.BestBid.Equal(d("0.45")))
	assert.Nil(t, snap.BestAsk)
}

func TestIOCRemainderCancelled(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))

	req := limitReq("bob", domain.SideBuy, "0.50", "25")
	req.TimeInForce = domain.TIFImmediateOrCancel
	res := mustPlace(t, e, req)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
	assert.True(t, res.Order.Remaining.Equal(d("15")))

	snap := e.BookSnapshot("mkt-1", 0, 0)
	assert.Nil(t, snap.BestBid, "IOC remainder never rests")
}

func TestIOCNoLiquidityCancelled(t *testing.T) {
	e := newTestEngine(t)

	req := limitReq("bob", domain.SideBuy, "0.50", "25")
	req.TimeInForce = domain.TIFImmediateOrCancel
	res := mustPlace(t, e, req)

	assert.Empty(t, res.Trades)
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
}

func TestFOKAllOrNothing(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideSell, "0.55", "10"))

	req := limitReq("carol", domain.SideBuy, "0.55", "30")
	req.TimeInForce = domain.TIFFillOrKill
	res, err := e.PlaceOrder(context.Background(), req)

	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectFOKInsufficient, rej.Reason)
	assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)
	assert.Empty(t, res.Trades)

	// Rejection left both makers untouched.
	snap := e.BookSnapshot("mkt-1", 0, 0)
	require.Len(t, snap.Asks, 2)
	assert.True(t, snap.Asks[0].Quantity.Equal(d("10")))
	assert.True(t, snap.Asks[1].Quantity.Equal(d("10")))

	// Exactly fillable succeeds atomically.
	req.Quantity = d("20")
	res = mustPlace(t, e, req)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)
}

func TestPostOnly(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))

	crossing := limitReq("bob", domain.SideBuy, "0.50", "10")
	crossing.Type = domain.OrderTypePostOnly
	res, err := e.PlaceOrder(context.Background(), crossing)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectPostOnlyWouldCross, rej.Reason)
	assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)

	passive := limitReq("bob", domain.SideBuy, "0.49", "10")
	passive.Type = domain.OrderTypePostOnly
	res = mustPlace(t, e, passive)
	assert.Equal(t, domain.OrderStatusOpen, res.Order.Status)
}

func TestMarketOrder(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.PlaceOrder(context.Background(), marketReq("bob", domain.SideBuy, "10"))
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectNoLiquidity, rej.Reason)
	assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.90", "10"))

	res = mustPlace(t, e, marketReq("bob", domain.SideBuy, "30"))
	require.Len(t, res.Trades, 2)
	assert.True(t, res.Trades[0].Price.Equal(d("0.50")))
	assert.True(t, res.Trades[1].Price.Equal(d("0.90")))
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status, "unfilled market tail is cancelled")
	assert.True(t, res.Order.Remaining.Equal(d("10")))
}

func TestSelfTradePreventionSkip(t *testing.T) {
	e := newTestEngine(t)

	own := mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	other := mustPlace(t, e, limitReq("bob", domain.SideSell, "0.50", "10"))

	res := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.50", "10"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, other.Order.ID, res.Trades[0].MakerOrderID)

	got, err := e.GetOrder(own.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, got.Status, "own maker stays on the book")
}

func TestSelfTradePreventionCancelResting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfTradePrevention = STPCancelResting
	e, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	own := mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	other := mustPlace(t, e, limitReq("bob", domain.SideSell, "0.50", "10"))

	res := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.50", "10"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, other.Order.ID, res.Trades[0].MakerOrderID)

	got, err := e.GetOrder(own.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}

func TestSelfTradePreventionOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfTradePrevention = STPOff
	e, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	res := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.50", "10"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "alice", res.Trades[0].MakerAccount)
	assert.Equal(t, "alice", res.Trades[0].TakerAccount)
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.40", "10"))

	_, err := e.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: res.Order.ID, AccountID: "mallory"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := e.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: res.Order.ID, AccountID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	_, err = e.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: res.Order.ID, AccountID: "alice"})
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)

	_, err = e.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: "nope", AccountID: "alice"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap := e.BookSnapshot("mkt-1", 0, 0)
	assert.Nil(t, snap.BestBid)
}

func TestCancelFilledOrder(t *testing.T) {
	e := newTestEngine(t)

	maker := mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.50", "10"))

	_, err := e.CancelOrder(context.Background(), domain.CancelOrderRequest{
		OrderID: maker.Order.ID, AccountID: "alice",
	})
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
}

func TestGTDExpiry(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	e.clock = func() time.Time { return now }

	expiry := base.Add(time.Minute)
	req := limitReq("alice", domain.SideSell, "0.50", "10")
	req.TimeInForce = domain.TIFGoodTillDate
	req.ExpiresAt = &expiry
	res := mustPlace(t, e, req)
	assert.Equal(t, domain.OrderStatusOpen, res.Order.Status)

	// Not yet due.
	assert.Equal(t, 0, e.SweepExpired(now.Add(30*time.Second)))

	now = base.Add(2 * time.Minute)
	assert.Equal(t, 1, e.SweepExpired(now))

	got, err := e.GetOrder(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)

	snap := e.BookSnapshot("mkt-1", 0, 0)
	assert.Nil(t, snap.BestAsk)
}

func TestExpireIfDue(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	e.clock = func() time.Time { return now }

	expiry := base.Add(time.Minute)
	req := limitReq("alice", domain.SideSell, "0.50", "10")
	req.TimeInForce = domain.TIFGoodTillDate
	req.ExpiresAt = &expiry
	res := mustPlace(t, e, req)

	gtc := mustPlace(t, e, limitReq("bob", domain.SideSell, "0.60", "10"))

	// Not yet due, nothing happens.
	expired, err := e.ExpireIfDue(res.Order.ID, now)
	require.NoError(t, err)
	assert.False(t, expired)

	// GTC orders never expire.
	expired, err = e.ExpireIfDue(gtc.Order.ID, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, expired)

	now = base.Add(2 * time.Minute)
	expired, err = e.ExpireIfDue(res.Order.ID, now)
	require.NoError(t, err)
	assert.True(t, expired)

	got, err := e.GetOrder(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)

	// Second call is a no-op on the now-terminal order.
	expired, err = e.ExpireIfDue(res.Order.ID, now)
	require.NoError(t, err)
	assert.False(t, expired)

	_, err = e.ExpireIfDue("nope", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGTDLazyExpiryDuringMatch(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	e.clock = func() time.Time { return now }

	expiry := base.Add(time.Minute)
	stale := limitReq("alice", domain.SideSell, "0.50", "10")
	stale.TimeInForce = domain.TIFGoodTillDate
	stale.ExpiresAt = &expiry
	staleRes := mustPlace(t, e, stale)

	live := mustPlace(t, e, limitReq("bob", domain.SideSell, "0.50", "10"))

	now = base.Add(2 * time.Minute)
	res := mustPlace(t, e, limitReq("carol", domain.SideBuy, "0.50", "10"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, live.Order.ID, res.Trades[0].MakerOrderID)

	got, err := e.GetOrder(staleRes.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)
}

func TestValidationRejections(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.PlaceOrderRequest)
		reason domain.RejectReason
	}{
		{"below min", func(r *domain.PlaceOrderRequest) { r.Quantity = d("0.5") }, domain.RejectQuantityBelowMin},
		{"above max", func(r *domain.PlaceOrderRequest) { r.Quantity = d("1000001") }, domain.RejectQuantityAboveMax},
		{"price zero", func(r *domain.PlaceOrderRequest) { r.Price = d("0") }, domain.RejectPriceOutOfRange},
		{"price one", func(r *domain.PlaceOrderRequest) { r.Price = d("1") }, domain.RejectPriceOutOfRange},
		{"off tick", func(r *domain.PlaceOrderRequest) { r.Price = d("0.505") }, domain.RejectPriceNotTickAligned},
		{"expiry past", func(r *domain.PlaceOrderRequest) {
			r.TimeInForce = domain.TIFGoodTillDate
			past := time.Now().Add(-time.Hour)
			r.ExpiresAt = &past
		}, domain.RejectExpiryInPast},
		{"post-only IOC", func(r *domain.PlaceOrderRequest) {
			r.Type = domain.OrderTypePostOnly
			r.TimeInForce = domain.TIFImmediateOrCancel
		}, domain.RejectInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := limitReq("alice", domain.SideBuy, "0.50", "10")
			tc.mutate(&req)
			res, err := e.PlaceOrder(ctx, req)
			rej, ok := domain.AsRejection(err)
			require.True(t, ok)
			assert.Equal(t, tc.reason, rej.Reason)
			assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)
		})
	}

	// A rejected order is still retrievable.
	req := limitReq("alice", domain.SideBuy, "0.505", "10")
	res, err := e.PlaceOrder(ctx, req)
	require.Error(t, err)
	got, err := e.GetOrder(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, got.Status)
}

func TestFees(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "1000"))
	res := mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.50", "1000"))

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	// notional 500: maker 0.1% = 0.5, taker 0.2% = 1.0
	assert.True(t, trade.MakerFee.Equal(d("0.5")), "maker fee %s", trade.MakerFee)
	assert.True(t, trade.TakerFee.Equal(d("1")), "taker fee %s", trade.TakerFee)
}

func TestFeeMinimumFloor(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "1"))
	res := mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.50", "1"))

	require.Len(t, res.Trades, 1)
	// notional 0.5: raw fees 0.0005 / 0.001 both floor to 0.01
	assert.True(t, res.Trades[0].MakerFee.Equal(d("0.01")))
	assert.True(t, res.Trades[0].TakerFee.Equal(d("0.01")))
}

func TestRecentTrades(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.51", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.50", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.51", "10"))

	trades := e.RecentTrades("mkt-1", 0, 10)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Sequence > trades[1].Sequence, "newest first")
	assert.True(t, trades[0].Price.Equal(d("0.51")))

	one := e.RecentTrades("mkt-1", 0, 1)
	require.Len(t, one, 1)
	assert.Equal(t, trades[0].ID, one[0].ID)

	assert.Nil(t, e.RecentTrades("mkt-unknown", 0, 10))
}

func TestInstrumentIsolation(t *testing.T) {
	e := newTestEngine(t)

	yes := limitReq("alice", domain.SideSell, "0.50", "10")
	yes.Outcome = 0
	mustPlace(t, e, yes)

	no := limitReq("bob", domain.SideBuy, "0.50", "10")
	no.Outcome = 1
	res := mustPlace(t, e, no)
	assert.Empty(t, res.Trades, "outcomes are separate instruments")

	snapYes := e.BookSnapshot("mkt-1", 0, 0)
	snapNo := e.BookSnapshot("mkt-1", 1, 0)
	assert.NotNil(t, snapYes.BestAsk)
	assert.NotNil(t, snapNo.BestBid)
}

func TestOpenOrdersByAccount(t *testing.T) {
	e := newTestEngine(t)

	a := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.40", "10"))
	b := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.41", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.42", "10"))

	open := e.OpenOrdersByAccount("alice")
	require.Len(t, open, 2)

	_, err := e.CancelOrder(context.Background(), domain.CancelOrderRequest{OrderID: a.Order.ID, AccountID: "alice"})
	require.NoError(t, err)

	open = e.OpenOrdersByAccount("alice")
	require.Len(t, open, 1)
	assert.Equal(t, b.Order.ID, open[0].ID)

	assert.Empty(t, e.OpenOrdersByAccount("nobody"))
}

func TestRestingOrderEmitsStatusChange(t *testing.T) {
	e := newTestEngine(t)

	res := mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.60", "10"))
	require.Equal(t, domain.OrderStatusOpen, res.Order.Status)

	events := drainEvents(e)

	var orders, books int
	for _, ev := range events {
		switch ev.Type {
		case domain.EventOrderStatusChanged:
			orders++
			require.NotNil(t, ev.Order)
			assert.Equal(t, res.Order.ID, ev.Order.OrderID)
			assert.Equal(t, domain.OrderStatusOpen, ev.Order.NewStatus)
			assert.True(t, ev.Order.Remaining.Equal(d("10")))
		case domain.EventBookUpdated:
			books++
		case domain.EventTradeExecuted:
			t.Fatalf("unexpected trade event for a non-crossing order")
		}
	}
	assert.Equal(t, 1, orders, "resting order must announce itself once")
	assert.Equal(t, 1, books)
}

func TestEventsEmitted(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	drainEvents(e)

	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.50", "10"))
	events := drainEvents(e)

	var trades, orders, books int
	for _, ev := range events {
		switch ev.Type {
		case domain.EventTradeExecuted:
			trades++
			require.NotNil(t, ev.Trade)
		case domain.EventOrderStatusChanged:
			orders++
			require.NotNil(t, ev.Order)
		case domain.EventBookUpdated:
			books++
			require.NotNil(t, ev.Book)
		}
	}
	assert.Equal(t, 1, trades)
	assert.GreaterOrEqual(t, orders, 2, "maker fill and taker fill transitions")
	assert.Equal(t, 1, books)
}

func TestBookNeverCrossedAfterMixedFlow(t *testing.T) {
	e := newTestEngine(t)

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.52", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.48", "10"))
	mustPlace(t, e, limitReq("carol", domain.SideBuy, "0.52", "5"))
	mustPlace(t, e, limitReq("dave", domain.SideSell, "0.48", "5"))

	snap := e.BookSnapshot("mkt-1", 0, 0)
	if snap.BestBid != nil && snap.BestAsk != nil {
		assert.True(t, snap.BestBid.LessThan(*snap.BestAsk))
	}
}

func TestBestQuote(t *testing.T) {
	e := newTestEngine(t)

	bid, ask := e.BestQuote("mkt-1", 0)
	assert.Nil(t, bid)
	assert.Nil(t, ask)

	mustPlace(t, e, limitReq("alice", domain.SideBuy, "0.40", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideSell, "0.60", "10"))

	bid, ask = e.BestQuote("mkt-1", 0)
	require.NotNil(t, bid)
	require.NotNil(t, ask)
	assert.True(t, bid.Equal(d("0.40")))
	assert.True(t, ask.Equal(d("0.60")))
}

func TestTrimTradesBefore(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	e.clock = func() time.Time { return now }

	mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.50", "10"))

	now = base.Add(time.Hour)
	mustPlace(t, e, limitReq("carol", domain.SideSell, "0.50", "5"))
	mustPlace(t, e, limitReq("dave", domain.SideBuy, "0.50", "5"))

	require.Len(t, e.RecentTrades("mkt-1", 0, 0), 2)

	assert.Equal(t, 0, e.TrimTradesBefore(base))
	assert.Equal(t, 1, e.TrimTradesBefore(base.Add(time.Minute)))

	remaining := e.RecentTrades("mkt-1", 0, 0)
	require.Len(t, remaining, 1)
	assert.Equal(t, base.Add(time.Hour), remaining[0].ExecutedAt)
}

func TestPruneClosedBefore(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	e.clock = func() time.Time { return now }

	maker := mustPlace(t, e, limitReq("alice", domain.SideSell, "0.50", "10"))
	mustPlace(t, e, limitReq("bob", domain.SideBuy, "0.50", "10"))

	_, err := e.GetOrder(maker.Order.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, e.PruneClosedBefore(base))
	pruned := e.PruneClosedBefore(base.Add(time.Hour))
	assert.Equal(t, 2, pruned)

	_, err = e.GetOrder(maker.Order.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
