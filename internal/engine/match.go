package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/domain"
)

// Outcome share prices are probabilities: strictly inside (0, 1).
var (
	priceFloor = decimal.Zero
	priceCeil  = decimal.New(1, 0)
)

// validateRequest performs the side-effect-free admission checks. A failure
// produces a typed Rejection; the order never touches the book.
func validateRequest(cfg Config, req domain.PlaceOrderRequest, now time.Time) error {
	if req.MarketID == "" || req.AccountID == "" {
		return domain.Reject(domain.RejectInvalidRequest, "market_id and account_id are required")
	}
	if req.Outcome < 0 {
		return domain.Reject(domain.RejectInvalidRequest, "outcome index must be non-negative")
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return domain.Reject(domain.RejectInvalidRequest, fmt.Sprintf("unknown side %q", req.Side))
	}

	switch req.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypePostOnly:
	default:
		return domain.Reject(domain.RejectInvalidRequest, fmt.Sprintf("unknown order type %q", req.Type))
	}
	switch req.TimeInForce {
	case domain.TIFGoodTillCancelled, domain.TIFImmediateOrCancel, domain.TIFFillOrKill, domain.TIFGoodTillDate:
	default:
		return domain.Reject(domain.RejectInvalidRequest, fmt.Sprintf("unknown time in force %q", req.TimeInForce))
	}
	if req.Type == domain.OrderTypePostOnly &&
		(req.TimeInForce == domain.TIFImmediateOrCancel || req.TimeInForce == domain.TIFFillOrKill) {
		return domain.Reject(domain.RejectInvalidRequest, "post-only orders cannot be IOC or FOK")
	}

	if req.Quantity.LessThan(cfg.MinOrderSize) {
		return domain.Reject(domain.RejectQuantityBelowMin,
			fmt.Sprintf("quantity %s below minimum %s", req.Quantity, cfg.MinOrderSize))
	}
	if req.Quantity.GreaterThan(cfg.MaxOrderSize) {
		return domain.Reject(domain.RejectQuantityAboveMax,
			fmt.Sprintf("quantity %s above maximum %s", req.Quantity, cfg.MaxOrderSize))
	}

	if req.Type == domain.OrderTypeLimit || req.Type == domain.OrderTypePostOnly {
		if req.Price.LessThanOrEqual(priceFloor) || req.Price.GreaterThanOrEqual(priceCeil) {
			return domain.Reject(domain.RejectPriceOutOfRange,
				fmt.Sprintf("price %s must be strictly between 0 and 1", req.Price))
		}
		if !req.Price.Mod(cfg.TickSize).IsZero() {
			return domain.Reject(domain.RejectPriceNotTickAligned,
				fmt.Sprintf("price %s is not a multiple of tick size %s", req.Price, cfg.TickSize))
		}
	}

	if req.TimeInForce == domain.TIFGoodTillDate {
		if req.ExpiresAt == nil {
			return domain.Reject(domain.RejectInvalidRequest, "GTD orders require expires_at")
		}
		if !req.ExpiresAt.After(now) {
			return domain.Reject(domain.RejectExpiryInPast,
				fmt.Sprintf("expires_at %s is not in the future", req.ExpiresAt.Format(time.RFC3339)))
		}
	}

	return nil
}

// fill pairs a resting maker with the quantity it will trade.
type fill struct {
	maker    *domain.Order
	quantity decimal.Decimal
}

// matchPlan is the read-only result of walking the opposing book for a taker.
// Nothing in the book is mutated while planning, so an aborted plan (FOK
// shortfall, invariant violation) leaves no partial state behind.
type matchPlan struct {
	fills      []fill
	stpCancels []*domain.Order // makers cancelled under the cancel-resting policy
	expired    []*domain.Order // GTD makers found expired during the walk
	remaining  decimal.Decimal // taker quantity left after all planned fills
}

// crossable reports whether the taker can trade at the maker price.
func crossable(taker *domain.Order, makerPrice decimal.Decimal) bool {
	if taker.Type == domain.OrderTypeMarket {
		return true
	}
	if taker.Side == domain.SideBuy {
		return makerPrice.LessThanOrEqual(taker.Price)
	}
	return makerPrice.GreaterThanOrEqual(taker.Price)
}

// planMatch walks crossable opposing levels best-price-first and, within a
// level, oldest-first. Self-trade prevention and lazy GTD expiry are decided
// here so the apply phase cannot fail.
func (s *shard) planMatch(taker *domain.Order, now time.Time) matchPlan {
	plan := matchPlan{remaining: taker.Remaining}
	seenCancel := make(map[string]bool)

	for _, lvl := range s.book.opposingLevels(taker.Side) {
		if plan.remaining.IsZero() || !crossable(taker, lvl.price) {
			break
		}
		for _, maker := range lvl.queue {
			if plan.remaining.IsZero() {
				break
			}
			if maker.TimeInForce == domain.TIFGoodTillDate &&
				maker.ExpiresAt != nil && !maker.ExpiresAt.After(now) {
				plan.expired = append(plan.expired, maker)
				continue
			}
			if maker.AccountID == taker.AccountID {
				switch s.cfg.SelfTradePrevention {
				case STPSkip:
					continue
				case STPCancelResting:
					if !seenCancel[maker.ID] {
						seenCancel[maker.ID] = true
						plan.stpCancels = append(plan.stpCancels, maker)
					}
					continue
				}
			}
			qty := decimal.Min(plan.remaining, maker.Remaining)
			if qty.Sign() <= 0 {
				continue
			}
			plan.fills = append(plan.fills, fill{maker: maker, quantity: qty})
			plan.remaining = plan.remaining.Sub(qty)
		}
	}
	return plan
}

// fee computes a single trade fee: rate x notional, floored at the minimum.
func (s *shard) fee(rate, price, quantity decimal.Decimal) decimal.Decimal {
	f := rate.Mul(price).Mul(quantity)
	if f.LessThan(s.cfg.MinFee) {
		return s.cfg.MinFee
	}
	return f
}

// applyPlan commits a match plan: emits trades, decrements both sides,
// removes exhausted or cancelled makers. All failure modes were resolved
// during planning, so this phase only performs mutations that cannot fail.
func (s *shard) applyPlan(taker *domain.Order, plan matchPlan, now time.Time) ([]domain.Trade, []domain.OrderStatusChange) {
	var trades []domain.Trade
	var changes []domain.OrderStatusChange

	for _, o := range plan.expired {
		changes = append(changes, s.retire(o, domain.OrderStatusExpired, now))
	}
	for _, o := range plan.stpCancels {
		changes = append(changes, s.retire(o, domain.OrderStatusCancelled, now))
	}

	for _, f := range plan.fills {
		maker := f.maker
		s.tradeSeq++
		trade := domain.Trade{
			ID:           s.newID(),
			MarketID:     s.book.marketID,
			Outcome:      s.book.outcome,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			MakerAccount: maker.AccountID,
			TakerAccount: taker.AccountID,
			MakerSide:    maker.Side,
			TakerSide:    taker.Side,
			Price:        maker.Price,
			Quantity:     f.quantity,
			MakerFee:     s.fee(s.cfg.MakerFeeRate, maker.Price, f.quantity),
			TakerFee:     s.fee(s.cfg.TakerFeeRate, maker.Price, f.quantity),
			Sequence:     s.tradeSeq,
			ExecutedAt:   now,
		}
		trades = append(trades, trade)

		maker.Remaining = maker.Remaining.Sub(f.quantity)
		taker.Remaining = taker.Remaining.Sub(f.quantity)

		if maker.Remaining.IsZero() {
			changes = append(changes, s.retire(maker, domain.OrderStatusFilled, now))
		} else {
			changes = append(changes, s.transition(maker, domain.OrderStatusPartiallyFilled, now))
		}
	}

	s.ledger.append(trades)
	return trades, changes
}

// transition updates an order's status and returns the corresponding change
// record. Transitions to the same status still refresh Remaining in the
// record (partial fill followed by partial fill).
func (s *shard) transition(o *domain.Order, to domain.OrderStatus, now time.Time) domain.OrderStatusChange {
	change := domain.OrderStatusChange{
		OrderID:   o.ID,
		MarketID:  o.MarketID,
		Outcome:   o.Outcome,
		AccountID: o.AccountID,
		OldStatus: o.Status,
		NewStatus: to,
		Remaining: o.Remaining,
	}
	o.Status = to
	o.UpdatedAt = now
	return change
}
