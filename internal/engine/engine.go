package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/domain"
)

// snapshotDepth bounds the depth of the book view attached to update events.
// Full-depth reads go through BookSnapshot directly.
const snapshotDepth = 20

// instrumentKey identifies one tradable instrument: an outcome of a market.
type instrumentKey struct {
	MarketID string
	Outcome  int
}

// shard owns all mutable matching state for one instrument. Every access
// goes through mu; the engine never touches two shards under one lock, so
// instruments cannot deadlock or contend with each other.
type shard struct {
	mu     sync.RWMutex
	cfg    Config
	book   *book
	ledger *ledger

	// closed retains terminal orders for lookups and idempotent cancel
	// checks. PruneClosedBefore bounds its growth.
	closed map[string]*domain.Order

	orderSeq uint64
	tradeSeq uint64
}

func newShard(cfg Config, key instrumentKey) *shard {
	return &shard{
		cfg:    cfg,
		book:   newBook(key.MarketID, key.Outcome),
		ledger: newLedger(),
		closed: make(map[string]*domain.Order),
	}
}

func (s *shard) newID() string {
	return uuid.NewString()
}

// retire removes a resting order from the book and records it as terminal.
func (s *shard) retire(o *domain.Order, to domain.OrderStatus, now time.Time) domain.OrderStatusChange {
	change := s.transition(o, to, now)
	s.book.remove(o.ID)
	s.closed[o.ID] = o
	return change
}

// Engine is the concurrent matching facade. It routes each operation to the
// owning instrument shard, serializes mutations per instrument, and emits
// events describing every state change on a buffered channel.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	clock func() time.Time

	shards sync.Map // instrumentKey -> *shard
	routes sync.Map // orderID -> instrumentKey

	accountMu sync.RWMutex
	accounts  map[string]map[string]struct{} // accountID -> open order IDs

	events chan domain.Event
}

// New builds an Engine with the given matching parameters.
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = DefaultConfig().EventBuffer
	}
	return &Engine{
		cfg:      cfg,
		log:      log.With("component", "engine"),
		clock:    time.Now,
		accounts: make(map[string]map[string]struct{}),
		events:   make(chan domain.Event, buf),
	}, nil
}

// Events exposes the outbound event stream. The channel is never closed;
// consumers stop via their own context.
func (e *Engine) Events() <-chan domain.Event {
	return e.events
}

func (e *Engine) emit(ev domain.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("event buffer full, dropping event", "type", ev.Type)
	}
}

func (e *Engine) emitAll(trades []domain.Trade, changes []domain.OrderStatusChange) {
	for i := range trades {
		t := trades[i]
		e.emit(domain.Event{Type: domain.EventTradeExecuted, Trade: &t})
	}
	for i := range changes {
		c := changes[i]
		e.emit(domain.Event{Type: domain.EventOrderStatusChanged, Order: &c})
	}
}

func (e *Engine) emitBook(s *shard, now time.Time) {
	snap := s.book.snapshot(snapshotDepth, now)
	e.emit(domain.Event{Type: domain.EventBookUpdated, Book: &domain.BookUpdate{
		MarketID: snap.MarketID,
		Outcome:  snap.Outcome,
		Snapshot: snap,
	}})
}

// shard returns the instrument's shard, creating it on first use. Instruments
// exist implicitly: placing the first order on a (market, outcome) pair
// creates its book.
func (e *Engine) shard(key instrumentKey) *shard {
	if v, ok := e.shards.Load(key); ok {
		return v.(*shard)
	}
	v, _ := e.shards.LoadOrStore(key, newShard(e.cfg, key))
	return v.(*shard)
}

func (e *Engine) trackOpen(accountID, orderID string) {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	set, ok := e.accounts[accountID]
	if !ok {
		set = make(map[string]struct{})
		e.accounts[accountID] = set
	}
	set[orderID] = struct{}{}
}

func (e *Engine) untrackOpen(accountID, orderID string) {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	if set, ok := e.accounts[accountID]; ok {
		delete(set, orderID)
		if len(set) == 0 {
			delete(e.accounts, accountID)
		}
	}
}

// settleIndex applies terminal status changes to the open-order account index.
func (e *Engine) settleIndex(changes []domain.OrderStatusChange) {
	for _, c := range changes {
		switch c.NewStatus {
		case domain.OrderStatusFilled, domain.OrderStatusCancelled,
			domain.OrderStatusExpired, domain.OrderStatusRejected:
			e.untrackOpen(c.AccountID, c.OrderID)
		}
	}
}

// PlaceOrder validates, matches, and (when eligible) rests an order. The
// returned result reflects the final synchronous state: for a rejection the
// order carries status rejected and the error unwraps to a domain.Rejection;
// otherwise trades lists every execution the order produced.
func (e *Engine) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlaceOrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.PlaceOrderResult{}, err
	}
	now := e.clock()

	if err := validateRequest(e.cfg, req, now); err != nil {
		if req.MarketID == "" || req.AccountID == "" {
			return domain.PlaceOrderResult{}, err
		}
		return e.rejectOrder(req, err, now)
	}

	key := instrumentKey{MarketID: req.MarketID, Outcome: req.Outcome}
	s := e.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq++
	order := &domain.Order{
		ID:            s.newID(),
		MarketID:      req.MarketID,
		Outcome:       req.Outcome,
		AccountID:     req.AccountID,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Remaining:     req.Quantity,
		Status:        domain.OrderStatusOpen,
		Sequence:      s.orderSeq,
		ExpiresAt:     req.ExpiresAt,
		ClientOrderID: req.ClientOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	plan := s.planMatch(order, now)

	// Admission outcomes that depend on available liquidity. These reject
	// before any mutation, so a refused order leaves the book untouched.
	var rejection *domain.Rejection
	switch {
	case order.Type == domain.OrderTypePostOnly && len(plan.fills) > 0:
		rejection = domain.Reject(domain.RejectPostOnlyWouldCross,
			"post-only order would execute immediately")
	case order.TimeInForce == domain.TIFFillOrKill && plan.remaining.Sign() > 0:
		rejection = domain.Reject(domain.RejectFOKInsufficient,
			"insufficient liquidity for fill-or-kill quantity "+order.Quantity.String())
	case order.Type == domain.OrderTypeMarket && len(plan.fills) == 0:
		rejection = domain.Reject(domain.RejectNoLiquidity, "no crossable liquidity")
	}
	if rejection != nil {
		change := s.transition(order, domain.OrderStatusRejected, now)
		s.closed[order.ID] = order
		e.routes.Store(order.ID, key)
		e.emitAll(nil, []domain.OrderStatusChange{change})
		e.log.InfoContext(ctx, "order rejected",
			"order_id", order.ID, "market_id", order.MarketID,
			"outcome", order.Outcome, "reason", rejection.Reason)
		return domain.PlaceOrderResult{Order: *order}, rejection
	}

	trades, changes := s.applyPlan(order, plan, now)

	var takerChanges []domain.OrderStatusChange
	if order.Remaining.IsZero() {
		s.transitionTaker(order, domain.OrderStatusFilled, now, &takerChanges)
		s.closed[order.ID] = order
	} else {
		if len(trades) > 0 {
			s.transitionTaker(order, domain.OrderStatusPartiallyFilled, now, &takerChanges)
		}
		if e.rests(order) {
			s.book.insertResting(order)
			e.trackOpen(order.AccountID, order.ID)
			if len(takerChanges) == 0 {
				// A taker resting with no fills has no transition to
				// report, but downstream persistence still needs to see
				// it enter the book.
				s.transitionTaker(order, domain.OrderStatusOpen, now, &takerChanges)
			}
		} else {
			// IOC remainder and the unfilled tail of a market order are
			// cancelled rather than rested.
			s.transitionTaker(order, domain.OrderStatusCancelled, now, &takerChanges)
			s.closed[order.ID] = order
		}
	}
	e.routes.Store(order.ID, key)

	changes = append(changes, takerChanges...)
	e.settleIndex(changes)
	e.emitAll(trades, changes)
	e.emitBook(s, now)

	e.log.InfoContext(ctx, "order placed",
		"order_id", order.ID, "market_id", order.MarketID, "outcome", order.Outcome,
		"side", order.Side, "type", order.Type, "tif", order.TimeInForce,
		"status", order.Status, "trades", len(trades), "remaining", order.Remaining)

	return domain.PlaceOrderResult{Order: *order, Trades: trades}, nil
}

// rests reports whether an order with unfilled quantity stays on the book.
func (e *Engine) rests(o *domain.Order) bool {
	if o.Type == domain.OrderTypeMarket {
		return false
	}
	return o.TimeInForce == domain.TIFGoodTillCancelled || o.TimeInForce == domain.TIFGoodTillDate
}

func (s *shard) transitionTaker(o *domain.Order, to domain.OrderStatus, now time.Time, out *[]domain.OrderStatusChange) {
	*out = append(*out, s.transition(o, to, now))
}

// rejectOrder records an admission rejection as a terminal order so the
// caller and downstream consumers see a consistent lifecycle.
func (e *Engine) rejectOrder(req domain.PlaceOrderRequest, cause error, now time.Time) (domain.PlaceOrderResult, error) {
	key := instrumentKey{MarketID: req.MarketID, Outcome: req.Outcome}
	s := e.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq++
	order := &domain.Order{
		ID:            s.newID(),
		MarketID:      req.MarketID,
		Outcome:       req.Outcome,
		AccountID:     req.AccountID,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Remaining:     req.Quantity,
		Status:        domain.OrderStatusRejected,
		Sequence:      s.orderSeq,
		ExpiresAt:     req.ExpiresAt,
		ClientOrderID: req.ClientOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.closed[order.ID] = order
	e.routes.Store(order.ID, key)

	e.emit(domain.Event{Type: domain.EventOrderStatusChanged, Order: &domain.OrderStatusChange{
		OrderID:   order.ID,
		MarketID:  order.MarketID,
		Outcome:   order.Outcome,
		AccountID: order.AccountID,
		OldStatus: domain.OrderStatusOpen,
		NewStatus: domain.OrderStatusRejected,
		Remaining: order.Remaining,
	}})

	if rej, ok := domain.AsRejection(cause); ok {
		e.log.Info("order rejected",
			"order_id", order.ID, "market_id", order.MarketID,
			"outcome", order.Outcome, "reason", rej.Reason)
	}
	return domain.PlaceOrderResult{Order: *order}, cause
}

// CancelOrder removes a resting order. Only the owning account may cancel;
// terminal orders return ErrOrderNotCancellable, unknown IDs ErrNotFound.
func (e *Engine) CancelOrder(ctx context.Context, req domain.CancelOrderRequest) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	v, ok := e.routes.Load(req.OrderID)
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	s := e.shard(v.(instrumentKey))
	now := e.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.closed[req.OrderID]; ok {
		if o.AccountID != req.AccountID {
			return domain.Order{}, domain.ErrForbidden
		}
		return domain.Order{}, domain.ErrOrderNotCancellable
	}
	o, ok := s.book.orders[req.OrderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if o.AccountID != req.AccountID {
		return domain.Order{}, domain.ErrForbidden
	}

	// An order past its expiry is expired, not cancelled, even when the
	// sweep has not reached it yet.
	status := domain.OrderStatusCancelled
	var resultErr error
	if o.TimeInForce == domain.TIFGoodTillDate && o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
		status = domain.OrderStatusExpired
		resultErr = domain.ErrOrderNotCancellable
	}

	change := s.retire(o, status, now)
	e.untrackOpen(o.AccountID, o.ID)
	e.emitAll(nil, []domain.OrderStatusChange{change})
	e.emitBook(s, now)

	e.log.InfoContext(ctx, "order cancelled",
		"order_id", o.ID, "market_id", o.MarketID, "outcome", o.Outcome, "status", o.Status)

	if resultErr != nil {
		return domain.Order{}, resultErr
	}
	return *o, nil
}

// GetOrder returns the current state of any order the engine still remembers.
func (e *Engine) GetOrder(orderID string) (domain.Order, error) {
	v, ok := e.routes.Load(orderID)
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	s := e.shard(v.(instrumentKey))

	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.book.orders[orderID]; ok {
		return *o, nil
	}
	if o, ok := s.closed[orderID]; ok {
		return *o, nil
	}
	return domain.Order{}, domain.ErrNotFound
}

// OpenOrdersByAccount lists every resting order owned by the account, across
// all instruments.
func (e *Engine) OpenOrdersByAccount(accountID string) []domain.Order {
	e.accountMu.RLock()
	ids := make([]string, 0, len(e.accounts[accountID]))
	for id := range e.accounts[accountID] {
		ids = append(ids, id)
	}
	e.accountMu.RUnlock()

	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if o, err := e.GetOrder(id); err == nil && o.IsActive() {
			out = append(out, o)
		}
	}
	return out
}

// BookSnapshot returns a depth view of an instrument's book. Instruments are
// created lazily, so an unknown instrument is indistinguishable from an empty
// one and yields an empty snapshot.
func (e *Engine) BookSnapshot(marketID string, outcome, depth int) domain.BookSnapshot {
	now := e.clock()
	v, ok := e.shards.Load(instrumentKey{MarketID: marketID, Outcome: outcome})
	if !ok {
		return domain.BookSnapshot{
			MarketID:  marketID,
			Outcome:   outcome,
			Bids:      []domain.PriceLevel{},
			Asks:      []domain.PriceLevel{},
			Timestamp: now,
		}
	}
	s := v.(*shard)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.snapshot(depth, now)
}

// RecentTrades returns up to limit trades for the instrument, newest first.
func (e *Engine) RecentTrades(marketID string, outcome, limit int) []domain.Trade {
	v, ok := e.shards.Load(instrumentKey{MarketID: marketID, Outcome: outcome})
	if !ok {
		return nil
	}
	s := v.(*shard)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.recent(limit)
}

// BestQuote returns the current best bid and ask for an instrument.
func (e *Engine) BestQuote(marketID string, outcome int) (bid, ask *decimal.Decimal) {
	v, ok := e.shards.Load(instrumentKey{MarketID: marketID, Outcome: outcome})
	if !ok {
		return nil, nil
	}
	s := v.(*shard)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.book.bestBid(); ok {
		bid = &b
	}
	if a, ok := s.book.bestAsk(); ok {
		ask = &a
	}
	return bid, ask
}

// ExpireIfDue expires a single resting GTD order if its deadline has passed.
// It reports whether the order was expired by this call. Non-GTD orders,
// orders whose deadline is still in the future, and terminal orders are left
// untouched. Unknown IDs return ErrNotFound.
func (e *Engine) ExpireIfDue(orderID string, now time.Time) (bool, error) {
	v, ok := e.routes.Load(orderID)
	if !ok {
		return false, domain.ErrNotFound
	}
	s := e.shard(v.(instrumentKey))

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.book.orders[orderID]
	if !ok {
		if _, closed := s.closed[orderID]; closed {
			return false, nil
		}
		return false, domain.ErrNotFound
	}
	if o.TimeInForce != domain.TIFGoodTillDate || o.ExpiresAt == nil || o.ExpiresAt.After(now) {
		return false, nil
	}

	change := s.retire(o, domain.OrderStatusExpired, now)
	e.untrackOpen(o.AccountID, o.ID)
	e.emitAll(nil, []domain.OrderStatusChange{change})
	e.emitBook(s, now)
	return true, nil
}

// SweepExpired expires every resting GTD order whose deadline has passed.
// Expiry is also applied lazily during matching and cancellation; the sweep
// guarantees progress for instruments with no traffic. Returns the number of
// orders expired.
func (e *Engine) SweepExpired(now time.Time) int {
	total := 0
	e.shards.Range(func(_, v any) bool {
		s := v.(*shard)
		s.mu.Lock()

		var due []*domain.Order
		for _, o := range s.book.orders {
			if o.TimeInForce == domain.TIFGoodTillDate && o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
				due = append(due, o)
			}
		}
		var changes []domain.OrderStatusChange
		for _, o := range due {
			changes = append(changes, s.retire(o, domain.OrderStatusExpired, now))
		}
		if len(changes) > 0 {
			e.settleIndex(changes)
			e.emitAll(nil, changes)
			e.emitBook(s, now)
			total += len(changes)
		}
		s.mu.Unlock()
		return true
	})
	if total > 0 {
		e.log.Info("expired resting orders", "count", total)
	}
	return total
}

// TrimTradesBefore drops in-memory ledger entries executed before cutoff.
// Durable trade history remains in the trade store. Returns the number of
// trades released.
func (e *Engine) TrimTradesBefore(cutoff time.Time) int {
	total := 0
	e.shards.Range(func(_, v any) bool {
		s := v.(*shard)
		s.mu.Lock()
		total += s.ledger.trimBefore(cutoff)
		s.mu.Unlock()
		return true
	})
	return total
}

// PruneClosedBefore drops terminal orders last updated before cutoff from
// engine memory. Durable history remains in the order store. Returns the
// number of orders released.
func (e *Engine) PruneClosedBefore(cutoff time.Time) int {
	total := 0
	e.shards.Range(func(_, v any) bool {
		s := v.(*shard)
		s.mu.Lock()
		for id, o := range s.closed {
			if o.UpdatedAt.Before(cutoff) {
				delete(s.closed, id)
				e.routes.Delete(id)
				total++
			}
		}
		s.mu.Unlock()
		return true
	})
	return total
}
