package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/services"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

type transactionsResponse struct {
	Success      bool                 `json:"success"`
	UserID       string               `json:"userId"`
	Transactions []models.Transaction `json:"transactions"`
}

type orphansResponse struct {
	Success  bool                          `json:"success"`
	OrderRef string                        `json:"orderRef"`
	Orphans  []models.OrphanedNotification `json:"orphans"`
}

func (h *Handlers) AdminListUserTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	userID := strings.TrimSpace(mux.Vars(r)["userId"])
	if userID == "" {
		writeError(ctx, w, http.StatusBadRequest, codeValidationFailed, "User ID is required")
		return
	}

	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTransactionLimit {
			writeError(ctx, w, http.StatusBadRequest, codeValidationFailed, "limit must be between 1 and "+strconv.Itoa(maxTransactionLimit))
			return
		}
		limit = parsed
	}

	txns, err := h.reconciler.ListUserTransactions(ctx, userID, limit)
	if err != nil {
		logger.Error("failed to list user transactions", "error", err, "user_id", userID)
		writeError(ctx, w, http.StatusInternalServerError, codeInternalError, "Failed to list transactions")
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}

	writeJSON(ctx, w, http.StatusOK, transactionsResponse{Success: true, UserID: userID, Transactions: txns})
}

// AdminListOrphans shows what was recorded for a reference an operator was
// alerted about.
func (h *Handlers) AdminListOrphans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	orderRef := mux.Vars(r)["orderRef"]
	orphans, err := h.reconciler.ListOrphans(ctx, orderRef)
	if errors.Is(err, services.ErrMissingOrderRef) {
		writeError(ctx, w, http.StatusBadRequest, codeValidationFailed, "Order reference is required")
		return
	}
	if err != nil {
		logger.Error("failed to list orphaned notifications", "error", err, "order_ref", orderRef)
		writeError(ctx, w, http.StatusInternalServerError, codeInternalError, "Failed to list orphaned notifications")
		return
	}
	if orphans == nil {
		orphans = []models.OrphanedNotification{}
	}

	writeJSON(ctx, w, http.StatusOK, orphansResponse{Success: true, OrderRef: orderRef, Orphans: orphans})
}
