package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/storefrontapp/storefront/internal/auth"
	"github.com/storefrontapp/storefront/internal/cache"
	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/logging"
	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/services"
)

const (
	maxWebhookBodyBytes = 1 << 20 // 1 MB
	maxRequestBodyBytes = 256 << 10
)

type reconciler interface {
	InitiateCheckout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutResult, error)
	Finalize(ctx context.Context, orderRef string, source services.Source, notification *gateway.Notification) (*services.FinalizeResult, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, change services.StatusChange) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*services.OrderDetails, error)
	ListUserTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	ListOrphans(ctx context.Context, orderRef string) ([]models.OrphanedNotification, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handlers provides HTTP request handlers for the storefront checkout API.
type Handlers struct {
	db            pinger
	reconciler    reconciler
	gateway       gateway.Client
	cacheProvider cache.Provider
	authenticator *auth.Authenticator
	logger        *slog.Logger
}

type Dependencies struct {
	DB            pinger
	Reconciler    reconciler
	Gateway       gateway.Client
	CacheProvider cache.Provider
	Authenticator *auth.Authenticator
	Logger        *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.Reconciler == nil {
		return nil, fmt.Errorf("handlers dependencies: reconciler is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("handlers dependencies: gateway is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("handlers dependencies: authenticator is required")
	}

	return &Handlers{
		db:            deps.DB,
		reconciler:    deps.Reconciler,
		gateway:       deps.Gateway,
		cacheProvider: deps.CacheProvider,
		authenticator: deps.Authenticator,
		logger:        logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}
