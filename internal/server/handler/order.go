package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/versebet/exchange/internal/domain"
	"github.com/versebet/exchange/internal/server/middleware"
	"github.com/versebet/exchange/internal/service"
)

// resolveAccount reconciles a request's account with the account bound by an
// account-scoped API key: the bound account fills in a missing one and must
// match an explicit one.
func resolveAccount(r *http.Request, requested string) (string, bool) {
	bound, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		return requested, true
	}
	if requested == "" || requested == bound {
		return bound, true
	}
	return "", false
}

// OrderHandler serves the order lifecycle endpoints.
type OrderHandler struct {
	svc    *service.TradingService
	logger *slog.Logger
}

func NewOrderHandler(svc *service.TradingService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, logger: logger.With("handler", "orders")}
}

// PlaceOrder submits a new order to the matching engine.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, ok := resolveAccount(r, req.AccountID)
	if !ok {
		writeError(w, http.StatusForbidden, "account does not match credentials")
		return
	}
	req.AccountID = account

	result, err := h.svc.PlaceOrder(r.Context(), req)
	if err != nil {
		if _, ok := domain.AsRejection(err); ok {
			// A rejection still produced a terminal order record; return it
			// alongside the reason.
			rej, _ := domain.AsRejection(err)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"order":  result.Order,
				"reason": string(rej.Reason),
				"detail": rej.Detail,
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "place order failed", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// CancelOrder cancels a resting order on behalf of its owner. The owning
// account is taken from the account query parameter.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	accountID, ok := resolveAccount(r, r.URL.Query().Get("account"))
	if !ok {
		writeError(w, http.StatusForbidden, "account does not match credentials")
		return
	}
	if orderID == "" || accountID == "" {
		writeError(w, http.StatusBadRequest, "order id and account are required")
		return
	}

	order, err := h.svc.CancelOrder(r.Context(), domain.CancelOrderRequest{
		OrderID:   orderID,
		AccountID: accountID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// GetOrder returns the current state of a single order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}

	order, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ListOrders returns an account's orders. With status=open only resting
// orders are returned, straight from engine memory; otherwise the durable
// history is queried with pagination.
// GET /api/orders?account=...&status=open
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID, ok := resolveAccount(r, r.URL.Query().Get("account"))
	if !ok {
		writeError(w, http.StatusForbidden, "account does not match credentials")
		return
	}
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}

	if r.URL.Query().Get("status") == "open" {
		writeJSON(w, http.StatusOK, map[string]any{
			"orders": h.svc.OpenOrders(accountID),
		})
		return
	}

	orders, err := h.svc.OrderHistory(r.Context(), accountID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed", "account", accountID, "error", err)
		writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
