package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/domain"
	"github.com/versebet/exchange/internal/engine"
)

// Pub/sub channels and streams carrying engine events outward.
const (
	ChannelTrades = "exchange:trades"
	ChannelOrders = "exchange:orders"
	ChannelBook   = "exchange:book"
	StreamTrades  = "exchange:stream:trades"
)

// TradingService fronts the matching engine. Mutations go straight to the
// engine; the event pump then fans the resulting events out to persistence,
// the book cache, and the signal bus. Downstream state is eventually
// consistent with the engine, never the other way around.
type TradingService struct {
	engine *engine.Engine
	orders domain.OrderStore
	trades domain.TradeStore
	books  domain.BookCache
	bus    domain.SignalBus
	log    *slog.Logger
}

func NewTradingService(
	eng *engine.Engine,
	orders domain.OrderStore,
	trades domain.TradeStore,
	books domain.BookCache,
	bus domain.SignalBus,
	log *slog.Logger,
) *TradingService {
	return &TradingService{
		engine: eng,
		orders: orders,
		trades: trades,
		books:  books,
		bus:    bus,
		log:    log.With("component", "trading_service"),
	}
}

// PlaceOrder submits an order to the engine. The synchronous result is
// authoritative; persistence and fan-out happen via the event pump.
func (s *TradingService) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlaceOrderResult, error) {
	return s.engine.PlaceOrder(ctx, req)
}

// CancelOrder cancels a resting order on behalf of its owner.
func (s *TradingService) CancelOrder(ctx context.Context, req domain.CancelOrderRequest) (domain.Order, error) {
	return s.engine.CancelOrder(ctx, req)
}

// GetOrder resolves an order from engine memory first, then falls back to
// the store for orders already pruned from memory.
func (s *TradingService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := s.engine.GetOrder(orderID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.orders == nil {
		return domain.Order{}, err
	}
	return s.orders.GetByID(ctx, orderID)
}

// OpenOrders lists the account's resting orders across all instruments.
func (s *TradingService) OpenOrders(accountID string) []domain.Order {
	return s.engine.OpenOrdersByAccount(accountID)
}

// OrderHistory lists the account's orders from durable storage, terminal
// orders included.
func (s *TradingService) OrderHistory(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Order, error) {
	if s.orders == nil {
		return nil, domain.ErrNotFound
	}
	return s.orders.ListByAccount(ctx, accountID, opts)
}

// Book returns a live depth snapshot for an instrument.
func (s *TradingService) Book(marketID string, outcome, depth int) domain.BookSnapshot {
	return s.engine.BookSnapshot(marketID, outcome, depth)
}

// BestQuote returns the current best bid and ask for an instrument. A nil
// pointer means that side of the book is empty.
func (s *TradingService) BestQuote(marketID string, outcome int) (bid, ask *decimal.Decimal) {
	return s.engine.BestQuote(marketID, outcome)
}

// RecentTrades returns the newest executions for an instrument.
func (s *TradingService) RecentTrades(marketID string, outcome, limit int) []domain.Trade {
	return s.engine.RecentTrades(marketID, outcome, limit)
}

// TradeHistory lists an instrument's trades from durable storage.
func (s *TradingService) TradeHistory(ctx context.Context, marketID string, outcome int, opts domain.ListOpts) ([]domain.Trade, error) {
	if s.trades == nil {
		return nil, domain.ErrNotFound
	}
	return s.trades.ListByMarket(ctx, marketID, outcome, opts)
}

// Run drives the event pump until the context ends. Every engine event is
// dispatched to persistence and fan-out; a failing sink is logged and
// skipped, it never stalls the pump or the matching path.
func (s *TradingService) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "event pump started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("event pump stopped")
			return ctx.Err()
		case ev := <-s.engine.Events():
			s.dispatch(ctx, ev)
		}
	}
}

func (s *TradingService) dispatch(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventTradeExecuted:
		if ev.Trade == nil {
			return
		}
		s.handleTrade(ctx, *ev.Trade)
	case domain.EventOrderStatusChanged:
		if ev.Order == nil {
			return
		}
		s.handleOrderChange(ctx, *ev.Order)
	case domain.EventBookUpdated:
		if ev.Book == nil {
			return
		}
		s.handleBookUpdate(ctx, *ev.Book)
	default:
		s.log.Warn("unknown event type", "type", ev.Type)
	}
}

func (s *TradingService) handleTrade(ctx context.Context, trade domain.Trade) {
	if s.trades != nil {
		if err := s.trades.Insert(ctx, trade); err != nil {
			s.log.ErrorContext(ctx, "persist trade failed", "trade_id", trade.ID, "error", err)
		}
	}
	payload, err := json.Marshal(trade)
	if err != nil {
		s.log.ErrorContext(ctx, "encode trade failed", "trade_id", trade.ID, "error", err)
		return
	}
	s.publish(ctx, ChannelTrades, payload)
	if s.bus != nil {
		if err := s.bus.StreamAppend(ctx, StreamTrades, payload); err != nil {
			s.log.ErrorContext(ctx, "stream append failed", "trade_id", trade.ID, "error", err)
		}
	}
}

func (s *TradingService) handleOrderChange(ctx context.Context, change domain.OrderStatusChange) {
	if s.orders != nil {
		// The change record is a delta; persist the full current order.
		if o, err := s.engine.GetOrder(change.OrderID); err == nil {
			if err := s.orders.Upsert(ctx, o); err != nil {
				s.log.ErrorContext(ctx, "persist order failed", "order_id", change.OrderID, "error", err)
			}
		}
	}
	payload, err := json.Marshal(change)
	if err != nil {
		s.log.ErrorContext(ctx, "encode order change failed", "order_id", change.OrderID, "error", err)
		return
	}
	s.publish(ctx, ChannelOrders, payload)
}

func (s *TradingService) handleBookUpdate(ctx context.Context, update domain.BookUpdate) {
	if s.books != nil {
		if err := s.books.SetSnapshot(ctx, update.Snapshot); err != nil {
			s.log.ErrorContext(ctx, "cache book snapshot failed",
				"market_id", update.MarketID, "outcome", update.Outcome, "error", err)
		}
	}
	payload, err := json.Marshal(update)
	if err != nil {
		s.log.ErrorContext(ctx, "encode book update failed", "market_id", update.MarketID, "error", err)
		return
	}
	s.publish(ctx, ChannelBook, payload)
}

func (s *TradingService) publish(ctx context.Context, channel string, payload []byte) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.log.ErrorContext(ctx, "publish failed", "channel", channel, "error", err)
	}
}
