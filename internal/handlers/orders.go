package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/storefrontapp/storefront/internal/db"
	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/services"
)

type orderResponse struct {
	Success      bool                 `json:"success"`
	Order        *models.Order        `json:"order"`
	Transactions []models.Transaction `json:"transactions,omitempty"`
}

type statusUpdateRequest struct {
	Status         models.OrderStatus `json:"status"`
	TrackingNumber string             `json:"trackingNumber"`
	TrackingURL    string             `json:"trackingUrl"`
	Carrier        string             `json:"carrier"`
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	details, err := h.reconciler.GetOrder(ctx, orderID)
	if errors.Is(err, db.ErrOrderNotFound) {
		writeError(ctx, w, http.StatusNotFound, codeOrderNotFound, "Order not found")
		return
	}
	if err != nil {
		logger.Error("failed to load order", "error", err, "order_id", orderID)
		writeError(ctx, w, http.StatusInternalServerError, codeInternalError, "Failed to load order")
		return
	}

	writeJSON(ctx, w, http.StatusOK, orderResponse{
		Success:      true,
		Order:        details.Order,
		Transactions: details.Transactions,
	})
}

func (h *Handlers) AdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var body statusUpdateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}

	order, err := h.reconciler.UpdateOrderStatus(ctx, orderID, services.StatusChange{
		Status:         models.OrderStatus(strings.TrimSpace(string(body.Status))),
		TrackingNumber: strings.TrimSpace(body.TrackingNumber),
		TrackingURL:    strings.TrimSpace(body.TrackingURL),
		Carrier:        strings.TrimSpace(body.Carrier),
	})
	switch {
	case errors.Is(err, db.ErrOrderNotFound):
		writeError(ctx, w, http.StatusNotFound, codeOrderNotFound, "Order not found")
		return
	case errors.Is(err, db.ErrInvalidStatusTransition):
		writeError(ctx, w, http.StatusConflict, codeInvalidStatusTransition, err.Error())
		return
	case err != nil:
		logger.Error("failed to update order status", "error", err, "order_id", orderID)
		writeError(ctx, w, http.StatusInternalServerError, codeInternalError, "Failed to update order status")
		return
	}

	logger.Info("order status updated", "order_id", orderID, "status", order.Status)
	writeJSON(ctx, w, http.StatusOK, orderResponse{Success: true, Order: order})
}

func orderIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, codeValidationFailed, "Invalid order ID")
		return uuid.Nil, false
	}
	return orderID, true
}
