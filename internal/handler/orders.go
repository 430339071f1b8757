package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
	"github.com/mesa-pos/api/internal/ledger"
)

// OrderLedger defines the ledger methods needed by order handlers.
// Satisfied by *ledger.Ledger; narrow interface for testability.
type OrderLedger interface {
	Snapshot(ctx context.Context, orderID string) (database.Order, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
	DeleteLine(ctx context.Context, orderID string, position int) (bool, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	ledger OrderLedger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(l OrderLedger) *OrderHandler {
	return &OrderHandler{ledger: l}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a restaurant-scoped subrouter:
// /restaurants/{rid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/status", h.UpdateStatus)
	r.Delete("/{id}/lines/{position}", h.DeleteLine)
}

// --- Request types ---

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

// allowedTransitions defines the valid order status transitions.
// Cancellation is allowed from any non-terminal status.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusSent, enum.OrderStatusCancelled},
	enum.OrderStatusSent:      {enum.OrderStatusPreparing, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing: {enum.OrderStatusReady, enum.OrderStatusCancelled},
	enum.OrderStatusReady:     {enum.OrderStatusServed, enum.OrderStatusCancelled},
}

func validateStatusTransition(from, to string) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// --- Handlers ---

// Get handles GET /restaurants/{rid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.ledger.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateStatus handles PATCH /restaurants/{rid}/orders/{id}/status.
// Transition policy lives here; the ledger records whatever it is told.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req updateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !enum.IsValidOrderStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	order, err := h.ledger.Snapshot(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order for status update: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if !validateStatusTransition(order.Status, req.Status) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "cannot transition from " + order.Status + " to " + req.Status,
		})
		return
	}

	if err := h.ledger.UpdateStatus(r.Context(), orderID, req.Status); err != nil {
		if errors.Is(err, ledger.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: update order status: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	order.Status = req.Status
	writeJSON(w, http.StatusOK, order)
}

// DeleteLine handles DELETE /restaurants/{rid}/orders/{id}/lines/{position}.
// The line is soft-deleted; the position stays occupied.
func (h *OrderHandler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil || position < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line position"})
		return
	}

	deleted, err := h.ledger.DeleteLine(r.Context(), orderID, position)
	if err != nil {
		log.Printf("ERROR: delete order line: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "line not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
