package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/versebet/exchange/internal/service"
)

// BookHandler serves order book depth views.
type BookHandler struct {
	svc    *service.TradingService
	logger *slog.Logger
}

func NewBookHandler(svc *service.TradingService, logger *slog.Logger) *BookHandler {
	return &BookHandler{svc: svc, logger: logger.With("handler", "book")}
}

// GetBook returns a depth snapshot for one instrument. depth=0 (the
// default) returns full depth.
// GET /api/markets/{id}/book?outcome=0&depth=10
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			depth = n
		}
	}

	snap := h.svc.Book(marketID, parseOutcome(r), depth)
	writeJSON(w, http.StatusOK, snap)
}

// quoteResponse is the top-of-book view. A nil side means no resting orders.
type quoteResponse struct {
	MarketID string           `json:"market_id"`
	Outcome  int              `json:"outcome"`
	BestBid  *decimal.Decimal `json:"best_bid"`
	BestAsk  *decimal.Decimal `json:"best_ask"`
}

// GetQuote returns only the best bid and ask for one instrument.
// GET /api/markets/{id}/quote?outcome=0
func (h *BookHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	outcome := parseOutcome(r)
	bid, ask := h.svc.BestQuote(marketID, outcome)
	writeJSON(w, http.StatusOK, quoteResponse{
		MarketID: marketID,
		Outcome:  outcome,
		BestBid:  bid,
		BestAsk:  ask,
	})
}
