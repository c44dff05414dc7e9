package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/storefrontapp/storefront/internal/logging"
)

// Error codes returned in JSON error bodies.
const (
	codeInvalidJSON             = "INVALID_JSON"
	codeValidationFailed        = "VALIDATION_FAILED"
	codeGatewayError            = "GATEWAY_ERROR"
	codePaymentPending          = "PAYMENT_PENDING"
	codePaymentFailed           = "PAYMENT_FAILED"
	codeOrphanedNotification    = "ORPHANED_NOTIFICATION"
	codeOrderNotFound           = "ORDER_NOT_FOUND"
	codeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	codeUnauthorized            = "UNAUTHORIZED"
	codeInternalError           = "INTERNAL_ERROR"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(ctx, nil).Error("failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	writeJSON(ctx, w, status, errorResponse{Success: false, Message: message, Code: code})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if contentType := r.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("content type must be application/json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}
