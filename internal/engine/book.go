package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/domain"
)

// level holds every resting order at one exact price in FIFO admission order.
// An order never moves within a level; a partial fill keeps its position.
type level struct {
	price decimal.Decimal
	queue []*domain.Order
}

func (l *level) totalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.queue {
		total = total.Add(o.Remaining)
	}
	return total
}

func (l *level) removeOrder(orderID string) bool {
	for i, o := range l.queue {
		if o.ID == orderID {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return true
		}
	}
	return false
}

// book is the central limit order book for one (market, outcome) instrument.
// Bids are kept sorted best-first (descending price), asks best-first
// (ascending price). The book is not safe for concurrent use; the owning
// shard serializes access.
type book struct {
	marketID string
	outcome  int
	bids     []*level
	asks     []*level
	orders   map[string]*domain.Order
	sequence uint64 // bumped on every structural change, stamped on snapshots
}

func newBook(marketID string, outcome int) *book {
	return &book{
		marketID: marketID,
		outcome:  outcome,
		orders:   make(map[string]*domain.Order),
	}
}

func (b *book) sideLevels(side domain.Side) *[]*level {
	if side == domain.SideBuy {
		return &b.bids
	}
	return &b.asks
}

// levelIndex locates the insertion point for price on the given side. Bids
// are descending, asks ascending. Returns the index and whether an exact
// level already exists there.
func (b *book) levelIndex(side domain.Side, price decimal.Decimal) (int, bool) {
	levels := *b.sideLevels(side)
	var i int
	if side == domain.SideBuy {
		i = sort.Search(len(levels), func(j int) bool {
			return levels[j].price.LessThanOrEqual(price)
		})
	} else {
		i = sort.Search(len(levels), func(j int) bool {
			return levels[j].price.GreaterThanOrEqual(price)
		})
	}
	if i < len(levels) && levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

func (b *book) bestBid() (decimal.Decimal, bool) {
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].price, true
}

func (b *book) bestAsk() (decimal.Decimal, bool) {
	if len(b.asks) == 0 {
		return decimal.Zero, false
	}
	return b.asks[0].price, true
}

// insertResting adds an order to the tail of its price level, creating the
// level if absent. Time priority is admission order; a partial fill never
// restores priority.
func (b *book) insertResting(o *domain.Order) {
	levels := b.sideLevels(o.Side)
	i, found := b.levelIndex(o.Side, o.Price)
	if found {
		(*levels)[i].queue = append((*levels)[i].queue, o)
	} else {
		lvl := &level{price: o.Price, queue: []*domain.Order{o}}
		*levels = append(*levels, nil)
		copy((*levels)[i+1:], (*levels)[i:])
		(*levels)[i] = lvl
	}
	b.orders[o.ID] = o
	b.sequence++
}

// remove deletes a resting order from the book, dropping the price level if
// it becomes empty. Returns domain.ErrNotFound if the order is not resting.
func (b *book) remove(orderID string) (*domain.Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	levels := b.sideLevels(o.Side)
	i, found := b.levelIndex(o.Side, o.Price)
	if !found || !(*levels)[i].removeOrder(orderID) {
		// The index and the level disagree; the book is corrupt.
		return nil, domain.ErrInternal
	}
	if len((*levels)[i].queue) == 0 {
		*levels = append((*levels)[:i], (*levels)[i+1:]...)
	}
	delete(b.orders, orderID)
	b.sequence++
	return o, nil
}

// opposingLevels returns the levels the given taker side crosses against,
// best price first.
func (b *book) opposingLevels(takerSide domain.Side) []*level {
	return *b.sideLevels(takerSide.Opposite())
}

// crossed reports whether the book itself is in an invalid crossed state.
func (b *book) crossed() bool {
	bid, okBid := b.bestBid()
	ask, okAsk := b.bestAsk()
	return okBid && okAsk && bid.GreaterThanOrEqual(ask)
}

func (b *book) depth(side domain.Side, max int) []domain.PriceLevel {
	levels := *b.sideLevels(side)
	if max <= 0 || max > len(levels) {
		max = len(levels)
	}
	out := make([]domain.PriceLevel, 0, max)
	for _, lvl := range levels[:max] {
		out = append(out, domain.PriceLevel{
			Price:    lvl.price,
			Quantity: lvl.totalQuantity(),
			Orders:   len(lvl.queue),
		})
	}
	return out
}

// snapshot builds a depth view of the book. depth <= 0 means full depth.
func (b *book) snapshot(depth int, now time.Time) domain.BookSnapshot {
	snap := domain.BookSnapshot{
		MarketID:  b.marketID,
		Outcome:   b.outcome,
		Bids:      b.depth(domain.SideBuy, depth),
		Asks:      b.depth(domain.SideSell, depth),
		Sequence:  b.sequence,
		Timestamp: now,
	}
	if bid, ok := b.bestBid(); ok {
		snap.BestBid = &bid
	}
	if ask, ok := b.bestAsk(); ok {
		snap.BestAsk = &ask
	}
	return snap
}
