package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/services"
)

type verifyRequest struct {
	OrderRef string `json:"orderRef"`
}

type finalizeResponse struct {
	Success bool             `json:"success"`
	Outcome services.Outcome `json:"outcome"`
	Order   *models.Order    `json:"order,omitempty"`
	Message string           `json:"message,omitempty"`
	Code    string           `json:"code,omitempty"`
}

// VerifyPayment is called by the browser after the gateway redirects back.
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body verifyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}
	h.finalize(w, r, strings.TrimSpace(body.OrderRef), services.SourceClientVerify)
}

// PaymentStatus asks the gateway directly for the outcome of orderRef.
func (h *Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, strings.TrimSpace(mux.Vars(r)["orderRef"]), services.SourceManualQuery)
}

func (h *Handlers) finalize(w http.ResponseWriter, r *http.Request, orderRef string, source services.Source) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	result, err := h.reconciler.Finalize(ctx, orderRef, source, nil)
	if errors.Is(err, services.ErrMissingOrderRef) {
		writeError(ctx, w, http.StatusBadRequest, codeValidationFailed, "orderRef is required")
		return
	}
	if err != nil {
		logger.Error("payment finalize failed", "error", err, "order_ref", orderRef, "source", source)
		writeError(ctx, w, http.StatusInternalServerError, codeInternalError, "Could not confirm payment, please retry")
		return
	}

	status, response := finalizeHTTPResponse(result)
	writeJSON(ctx, w, status, response)
}

func finalizeHTTPResponse(result *services.FinalizeResult) (int, finalizeResponse) {
	response := finalizeResponse{Outcome: result.Outcome, Order: result.Order}
	switch result.Outcome {
	case services.OutcomeCreated, services.OutcomeAlreadyFinalized:
		response.Success = true
		return http.StatusOK, response
	case services.OutcomeRejected:
		response.Message = "Payment was not completed"
		response.Code = codePaymentFailed
		return http.StatusPaymentRequired, response
	case services.OutcomeOrphaned:
		response.Message = "No checkout found for this order reference"
		response.Code = codeOrphanedNotification
		return http.StatusNotFound, response
	default:
		response.Message = "Payment is still being processed, please check again shortly"
		response.Code = codePaymentPending
		return http.StatusAccepted, response
	}
}
