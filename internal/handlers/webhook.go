package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/storefrontapp/storefront/internal/cache"
	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/observability"
	"github.com/storefrontapp/storefront/internal/services"
)

// paymentWebhookIdempotencyTTL is how long processed delivery IDs are kept for deduplication
const paymentWebhookIdempotencyTTL = 24 * time.Hour

// PaymentWebhook receives server-to-server payment notifications. It always
// answers 200 so the gateway stops retrying; failures are logged and counted.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("gateway", h.gateway.Name()))
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("failed to read payment webhook body", "error", err)
		meter.Count("webhook.rejected", 1, sentry.WithAttributes(attribute.String("reason", "unreadable_body")))
		w.WriteHeader(http.StatusOK)
		return
	}

	notification, err := h.gateway.ParseNotification(payload, r.Header.Get(h.gateway.SignatureHeader()))
	switch {
	case errors.Is(err, gateway.ErrIgnoredEvent):
		logger.Debug("payment webhook ignored", "reason", err)
		meter.Count("webhook.ignored", 1)
		w.WriteHeader(http.StatusOK)
		return
	case errors.Is(err, gateway.ErrInvalidSignature):
		logger.Warn("payment webhook signature rejected", "error", err)
		meter.Count("webhook.rejected", 1, sentry.WithAttributes(attribute.String("reason", "invalid_signature")))
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		logger.Error("failed to parse payment webhook", "error", err)
		meter.Count("webhook.rejected", 1, sentry.WithAttributes(attribute.String("reason", "malformed")))
		w.WriteHeader(http.StatusOK)
		return
	}

	logger = logger.With("order_ref", notification.OrderRef, "event_id", notification.EventID, "state", notification.State)

	cacheKey := cache.WebhookKey(h.gateway.Name(), notification.EventID)
	if _, err := h.cacheProvider.Get(ctx, cacheKey); err == nil {
		logger.Info("webhook already processed")
		meter.Count("webhook.duplicate", 1)
		w.WriteHeader(http.StatusOK)
		return
	}

	result, processErr := h.reconciler.Finalize(ctx, notification.OrderRef, services.SourceWebhook, notification)
	if processErr != nil {
		logger.Error("failed to process payment webhook", "error", processErr)
		meter.Count("webhook.failed", 1)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Inconclusive deliveries stay unmarked so a retry can still settle them.
	if result.Outcome != services.OutcomeInconclusive {
		if _, err := h.cacheProvider.SetIfAbsent(ctx, cacheKey, string(result.Outcome), paymentWebhookIdempotencyTTL); err != nil {
			logger.Error("failed to mark webhook as processed in cache", "error", err)
		}
	}

	logger.Info("payment webhook processed", "outcome", result.Outcome)
	meter.Count("webhook.processed", 1, sentry.WithAttributes(attribute.String("outcome", string(result.Outcome))))
	w.WriteHeader(http.StatusOK)
}
