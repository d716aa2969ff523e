package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/versebet/exchange/internal/domain"
	"github.com/versebet/exchange/internal/service"
)

// TradeHandler serves trade history endpoints.
type TradeHandler struct {
	svc    *service.TradingService
	logger *slog.Logger
}

func NewTradeHandler(svc *service.TradingService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{svc: svc, logger: logger.With("handler", "trades")}
}

// RecentTrades returns the newest executions for one instrument from engine
// memory, newest first.
// GET /api/markets/{id}/trades?outcome=0&limit=50
func (h *TradeHandler) RecentTrades(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades := h.svc.RecentTrades(marketID, parseOutcome(r), limit)
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// TradeHistory returns an instrument's trades from durable storage with
// pagination and time filters.
// GET /api/markets/{id}/trades/history?outcome=0&limit=50&since=...
func (h *TradeHandler) TradeHistory(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	trades, err := h.svc.TradeHistory(r.Context(), marketID, parseOutcome(r), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "trade history failed", "market_id", marketID, "error", err)
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
