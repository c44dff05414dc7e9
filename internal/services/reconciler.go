package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/storefrontapp/storefront/internal/cache"
	"github.com/storefrontapp/storefront/internal/catalog"
	"github.com/storefrontapp/storefront/internal/db"
	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/logging"
	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/observability"
	"github.com/storefrontapp/storefront/internal/pending"
)

// Source names the trigger that delivered a payment outcome.
type Source string

const (
	SourceClientVerify Source = "client_verify"
	SourceWebhook      Source = "webhook"
	SourceManualQuery  Source = "manual_query"
)

// Outcome is the result of one finalize attempt.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeAlreadyFinalized Outcome = "already_finalized"
	OutcomeRejected         Outcome = "rejected"
	OutcomeOrphaned         Outcome = "orphaned"
	OutcomeInconclusive     Outcome = "inconclusive"
)

type FinalizeResult struct {
	Outcome Outcome
	Order   *models.Order
	State   gateway.State
	Reason  string
}

var (
	ErrInvalidCheckout    = errors.New("invalid checkout request")
	ErrMissingOrderRef    = errors.New("order reference is required")
	ErrNotificationNeeded = errors.New("webhook finalize requires a notification")
)

const (
	defaultPendingTTL    = 30 * time.Minute
	defaultNotifyTimeout = 30 * time.Second
	minRestageTTL        = time.Minute
	rejectionMarkerTTL   = 24 * time.Hour
	orphanAlertTTL       = 7 * 24 * time.Hour
	// sessionExpiryGrace keeps a checkout staged a little past the gateway
	// session so a payment accepted at the last moment still finds it.
	sessionExpiryGrace = 5 * time.Minute
)

type orderLedger interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByPaymentReference(ctx context.Context, orderRef string) (*models.Order, error)
	CreateCashOrder(ctx context.Context, order *models.Order) (*models.Transaction, error)
	CreatePaidOrder(ctx context.Context, order *models.Order, txn *models.Transaction) error
	UpdatePaymentObservation(ctx context.Context, orderID uuid.UUID, next models.PaymentStatus, response json.RawMessage) (models.PaymentStatus, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, update db.StatusUpdate) (*models.Order, error)
}

type transactionLister interface {
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
}

type orphanRecorder interface {
	Record(ctx context.Context, orphan *models.OrphanedNotification) error
	ListByOrderRef(ctx context.Context, orderRef string) ([]models.OrphanedNotification, error)
}

// OrphanAlerter raises an operator-facing alert for an orphaned notification.
type OrphanAlerter interface {
	ReportOrphan(ctx context.Context, orphan *models.OrphanedNotification) error
}

type ReconcilerConfig struct {
	PublicBaseURL string
	PendingTTL    time.Duration
	NotifyTimeout time.Duration
	// OrphanGrace is how long a caller that lost the pending checkout waits
	// before re-reading the ledger a final time.
	OrphanGrace time.Duration
}

type ReconcilerDeps struct {
	Ledger       orderLedger
	Transactions transactionLister
	Orphans      orphanRecorder
	Pending      pending.Store
	Gateway      gateway.Client
	Markers      cache.Provider
	Notifier     OrderNotifier
	Alerter      OrphanAlerter
	Methods      *catalog.Methods
}

// Reconciler is the only component that creates or mutates orders in
// response to payment events.
type Reconciler struct {
	ledger       orderLedger
	transactions transactionLister
	orphans      orphanRecorder
	pending      pending.Store
	gateway      gateway.Client
	markers      cache.Provider
	notifier     OrderNotifier
	alerter      OrphanAlerter
	methods      *catalog.Methods
	cfg          ReconcilerConfig
	logger       *slog.Logger

	flights       singleflight.Group
	notifications sync.WaitGroup
	now           func() time.Time
	newOrderRef   func() string
}

func NewReconciler(deps ReconcilerDeps, cfg ReconcilerConfig, logger *slog.Logger) (*Reconciler, error) {
	if deps.Ledger == nil || deps.Pending == nil || deps.Gateway == nil {
		return nil, fmt.Errorf("reconciler requires a ledger, a pending store and a gateway client")
	}
	if deps.Markers == nil {
		return nil, fmt.Errorf("reconciler requires a cache provider")
	}
	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("invalid public base URL: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = defaultPendingTTL
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.OrphanGrace < 0 {
		cfg.OrphanGrace = 0
	}
	if deps.Notifier == nil {
		deps.Notifier = noopOrderNotifier{}
	}

	return &Reconciler{
		ledger:       deps.Ledger,
		transactions: deps.Transactions,
		orphans:      deps.Orphans,
		pending:      deps.Pending,
		gateway:      deps.Gateway,
		markers:      deps.Markers,
		notifier:     deps.Notifier,
		alerter:      deps.Alerter,
		methods:      deps.Methods,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		newOrderRef:  newOrderRef,
	}, nil
}

func (r *Reconciler) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, r.logger)
}

// Wait blocks until every in-flight customer notification has finished.
func (r *Reconciler) Wait() {
	r.notifications.Wait()
}

type CheckoutRequest struct {
	Items           []models.LineItem
	Customer        gateway.Customer
	ShippingAddress string
	TotalAmount     decimal.Decimal
	PaymentMethod   models.PaymentMethod
}

// CheckoutResult carries either a cash order or a gateway redirect.
type CheckoutResult struct {
	Order       *models.Order
	OrderRef    string
	SessionRef  string
	RedirectURL string
}

func (req CheckoutRequest) validate() error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidCheckout)
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: line item without product", ErrInvalidCheckout)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidCheckout, item.ProductID)
		}
	}
	if !req.TotalAmount.IsPositive() {
		return fmt.Errorf("%w: total amount must be positive", ErrInvalidCheckout)
	}
	if strings.TrimSpace(req.ShippingAddress) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrInvalidCheckout)
	}
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Phone) == "" {
		return fmt.Errorf("%w: customer name and phone are required", ErrInvalidCheckout)
	}
	return nil
}

// InitiateCheckout creates a cash order directly, or opens a gateway payment
// session and stages the checkout until its outcome is known.
func (r *Reconciler) InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.reconciler.initiate_checkout",
		sentry.WithOpName("service.reconciler"),
		sentry.WithDescription("InitiateCheckout"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := r.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("payment_method", string(req.PaymentMethod)))
	recordFailure := func(reason string) {
		span.Status = sentry.SpanStatusInternalError
		meter.Count("checkout.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}
	meter.Count("checkout.received", 1)

	if err := req.validate(); err != nil {
		recordFailure("invalid_request")
		return nil, err
	}
	if _, ok := r.methods.Lookup(req.PaymentMethod); !ok {
		recordFailure("unsupported_method")
		return nil, fmt.Errorf("%w: payment method %q is not accepted", ErrInvalidCheckout, req.PaymentMethod)
	}

	if r.methods.IsCash(req.PaymentMethod) {
		order := &models.Order{
			ID:              uuid.New(),
			Items:           req.Items,
			UserID:          req.Customer.UserID,
			CustomerName:    strings.TrimSpace(req.Customer.Name),
			CustomerEmail:   strings.TrimSpace(req.Customer.Email),
			ShippingAddress: strings.TrimSpace(req.ShippingAddress),
			Phone:           strings.TrimSpace(req.Customer.Phone),
			TotalPrice:      req.TotalAmount,
			Payment: models.Payment{
				Method: req.PaymentMethod,
				Status: models.PaymentPending,
			},
			Status: models.StatusConfirmed,
		}
		if _, err := r.ledger.CreateCashOrder(ctx, order); err != nil {
			recordFailure("ledger_write_failed")
			return nil, err
		}

		logger.Info("cash order created", "order_id", order.ID, "total", order.TotalPrice.StringFixed(2))
		meter.Count("checkout.created", 1, sentry.WithAttributes(attribute.String("route", string(catalog.RouteCash))))
		span.Status = sentry.SpanStatusOK
		r.notifyAsync(ctx, "order_confirmed", order, r.notifier.OrderConfirmed)
		return &CheckoutResult{Order: order}, nil
	}

	amountMinor, err := gateway.ToMinorUnits(req.TotalAmount)
	if err != nil {
		recordFailure("invalid_amount")
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckout, err)
	}

	orderRef := r.newOrderRef()
	createdAt := r.now()
	session, err := r.gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderRef:    orderRef,
		AmountMinor: amountMinor,
		Customer:    req.Customer,
		RedirectURL: r.cfg.PublicBaseURL + "/checkout/complete/" + orderRef,
		NotifyURL:   r.cfg.PublicBaseURL + "/webhooks/payment",
		ExpiresAt:   createdAt.Add(r.cfg.PendingTTL),
	})
	if err != nil {
		recordFailure("gateway_error")
		logger.Warn("failed to create payment session", "error", err, "order_ref", orderRef, "gateway", r.gateway.Name())
		return nil, err
	}

	checkout := &models.PendingCheckout{
		OrderRef:        orderRef,
		SessionRef:      session.SessionRef,
		Items:           req.Items,
		UserID:          req.Customer.UserID,
		CustomerName:    strings.TrimSpace(req.Customer.Name),
		CustomerEmail:   strings.TrimSpace(req.Customer.Email),
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Phone:           strings.TrimSpace(req.Customer.Phone),
		TotalAmount:     req.TotalAmount,
		Method:          req.PaymentMethod,
		CreatedAt:       createdAt,
	}
	if err := r.pending.Stage(ctx, checkout, r.stageTTL(createdAt, session)); err != nil {
		recordFailure("stage_failed")
		return nil, fmt.Errorf("failed to stage checkout: %w", err)
	}

	logger.Info("payment session created", "order_ref", orderRef, "session_ref", session.SessionRef, "gateway", r.gateway.Name())
	meter.Count("checkout.created", 1, sentry.WithAttributes(attribute.String("route", string(catalog.RouteGateway))))
	span.Status = sentry.SpanStatusOK
	return &CheckoutResult{
		OrderRef:    orderRef,
		SessionRef:  session.SessionRef,
		RedirectURL: session.RedirectURL,
	}, nil
}

// Finalize resolves orderRef into at most one order. Concurrent calls for the
// same reference within this process share one attempt; across processes the
// atomic pending take and the ledger's unique payment reference keep the
// result single.
func (r *Reconciler) Finalize(ctx context.Context, orderRef string, source Source, notification *gateway.Notification) (*FinalizeResult, error) {
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return nil, ErrMissingOrderRef
	}
	if source == SourceWebhook {
		if notification == nil {
			return nil, ErrNotificationNeeded
		}
		if notification.OrderRef != orderRef {
			return nil, fmt.Errorf("notification is for %s, not %s", notification.OrderRef, orderRef)
		}
	}

	value, err, _ := r.flights.Do(orderRef, func() (any, error) {
		return r.finalize(ctx, orderRef, source, notification)
	})
	if err != nil {
		return nil, err
	}
	return value.(*FinalizeResult), nil
}

func (r *Reconciler) finalize(ctx context.Context, orderRef string, source Source, notification *gateway.Notification) (*FinalizeResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.reconciler.finalize",
		sentry.WithOpName("service.reconciler"),
		sentry.WithDescription("Finalize"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := r.loggerFromContext(ctx).With("order_ref", orderRef, "source", string(source))
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("source", string(source)))
	meter.Count("finalize.received", 1)

	result, err := r.resolve(ctx, logger, orderRef, source, notification)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		meter.Count("finalize.failed", 1)
		return nil, err
	}

	span.Status = sentry.SpanStatusOK
	meter.Count("finalize.completed", 1, sentry.WithAttributes(
		attribute.String("outcome", string(result.Outcome)),
	))
	logger.Info("finalize resolved", "outcome", result.Outcome, "state", result.State, "reason", result.Reason)
	return result, nil
}

func (r *Reconciler) resolve(ctx context.Context, logger *slog.Logger, orderRef string, source Source, notification *gateway.Notification) (*FinalizeResult, error) {
	var status *gateway.Status
	if source == SourceWebhook {
		status = &notification.Status
	} else {
		queried, err := r.gateway.QuerySessionStatus(ctx, orderRef)
		if err != nil {
			reason := "payment gateway unavailable"
			if gateway.IsTimeout(err) {
				reason = "payment gateway timed out"
			}
			logger.Warn("failed to query payment status", "error", err)
			return &FinalizeResult{Outcome: OutcomeInconclusive, State: gateway.StatePending, Reason: reason}, nil
		}
		status = queried
	}

	existing, err := r.ledger.GetByPaymentReference(ctx, orderRef)
	if err == nil {
		r.observe(ctx, logger, existing, status)
		return &FinalizeResult{Outcome: OutcomeAlreadyFinalized, Order: existing, State: status.State}, nil
	}
	if !errors.Is(err, db.ErrOrderNotFound) {
		return nil, fmt.Errorf("failed to look up order by payment reference: %w", err)
	}

	if status.State == gateway.StatePending {
		return &FinalizeResult{Outcome: OutcomeInconclusive, State: status.State, Reason: "payment is still pending"}, nil
	}

	checkout, err := r.pending.Take(ctx, orderRef)
	if errors.Is(err, pending.ErrNotFound) {
		return r.resolveMissing(ctx, logger, orderRef, source, status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take pending checkout: %w", err)
	}

	if status.State.IsFailure() {
		if err := r.markers.Set(ctx, cache.RejectionKey(orderRef), string(status.State), rejectionMarkerTTL); err != nil {
			logger.Warn("failed to store rejection marker", "error", err)
		}
		return &FinalizeResult{Outcome: OutcomeRejected, State: status.State, Reason: "payment " + string(status.State)}, nil
	}

	return r.createPaidOrder(ctx, logger, checkout, status)
}

func (r *Reconciler) createPaidOrder(ctx context.Context, logger *slog.Logger, checkout *models.PendingCheckout, status *gateway.Status) (*FinalizeResult, error) {
	if status.AmountMinor > 0 {
		if staged, err := gateway.ToMinorUnits(checkout.TotalAmount); err == nil && staged != status.AmountMinor {
			logger.Warn("gateway amount differs from staged total", "staged_minor", staged, "gateway_minor", status.AmountMinor)
			observability.MeterFromContext(ctx).Count("finalize.amount_mismatch", 1)
		}
	}

	order := &models.Order{
		ID:              uuid.New(),
		Items:           checkout.Items,
		UserID:          checkout.UserID,
		CustomerName:    checkout.CustomerName,
		CustomerEmail:   checkout.CustomerEmail,
		ShippingAddress: checkout.ShippingAddress,
		Phone:           checkout.Phone,
		TotalPrice:      checkout.TotalAmount,
		Payment: models.Payment{
			Method:        checkout.Method,
			TransactionID: checkout.OrderRef,
			Status:        models.PaymentCompleted,
			ResponseData:  status.Raw,
		},
		Status: models.StatusProcessing,
	}
	txn := &models.Transaction{
		ID:                   uuid.New(),
		UserID:               checkout.UserID,
		Amount:               checkout.TotalAmount,
		Method:               checkout.Method,
		Status:               models.TransactionSuccess,
		GatewayTransactionID: status.GatewayTransactionID,
	}

	err := r.ledger.CreatePaidOrder(ctx, order, txn)
	if errors.Is(err, db.ErrDuplicatePaymentReference) {
		existing, lookupErr := r.ledger.GetByPaymentReference(ctx, checkout.OrderRef)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to load existing order: %w", lookupErr)
		}
		return &FinalizeResult{Outcome: OutcomeAlreadyFinalized, Order: existing, State: status.State}, nil
	}
	if err != nil {
		r.restage(ctx, logger, checkout)
		return nil, err
	}

	logger.Info("paid order created", "order_id", order.ID, "total", order.TotalPrice.StringFixed(2))
	r.notifyAsync(ctx, "order_confirmed", order, r.notifier.OrderConfirmed)
	return &FinalizeResult{Outcome: OutcomeCreated, Order: order, State: status.State}, nil
}

// stageTTL keeps the checkout at least as long as the gateway will accept
// payment for its session.
func (r *Reconciler) stageTTL(createdAt time.Time, session *gateway.Session) time.Duration {
	ttl := r.cfg.PendingTTL
	if session.ExpiresAt.IsZero() {
		return ttl
	}
	if sessionTTL := session.ExpiresAt.Sub(createdAt) + sessionExpiryGrace; sessionTTL > ttl {
		ttl = sessionTTL
	}
	return ttl
}

// restage puts a consumed checkout back after a failed ledger write so the
// next trigger for the same reference can finish the job.
func (r *Reconciler) restage(ctx context.Context, logger *slog.Logger, checkout *models.PendingCheckout) {
	ttl := checkout.Remaining(r.now())
	if ttl < minRestageTTL {
		ttl = minRestageTTL
	}
	if err := r.pending.Stage(context.WithoutCancel(ctx), checkout, ttl); err != nil {
		logger.Error("failed to restage checkout after ledger failure", "error", err)
		return
	}
	logger.Warn("restaged checkout after ledger failure", "ttl", ttl.String())
}

// resolveMissing handles a caller that found no pending checkout: another
// caller consumed it, the payment was rejected earlier, or it expired.
func (r *Reconciler) resolveMissing(ctx context.Context, logger *slog.Logger, orderRef string, source Source, status *gateway.Status) (*FinalizeResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if r.cfg.OrphanGrace == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.OrphanGrace):
			}
		}

		existing, err := r.ledger.GetByPaymentReference(ctx, orderRef)
		if err == nil {
			r.observe(ctx, logger, existing, status)
			return &FinalizeResult{Outcome: OutcomeAlreadyFinalized, Order: existing, State: status.State}, nil
		}
		if !errors.Is(err, db.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to look up order by payment reference: %w", err)
		}

		marker, err := r.markers.Get(ctx, cache.RejectionKey(orderRef))
		if err == nil {
			return &FinalizeResult{Outcome: OutcomeRejected, State: gateway.State(marker), Reason: "payment " + marker}, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			logger.Warn("failed to read rejection marker", "error", err)
		}
	}

	orphan := &models.OrphanedNotification{
		OrderRef:     orderRef,
		Source:       string(source),
		GatewayState: string(status.State),
		Raw:          status.Raw,
	}
	observability.MeterFromContext(ctx).Count("finalize.orphaned", 1, sentry.WithAttributes(
		attribute.String("state", string(status.State)),
	))
	logger.Warn("orphaned payment notification", "state", status.State)

	if r.orphans != nil {
		if err := r.orphans.Record(ctx, orphan); err != nil {
			logger.Error("failed to record orphaned notification", "error", err)
		}
	}
	r.alertOrphan(ctx, logger, orphan, status.State)

	return &FinalizeResult{
		Outcome: OutcomeOrphaned,
		State:   status.State,
		Reason:  "no pending checkout or order for this reference",
	}, nil
}

// alertOrphan pages operators once per reference, and only when the gateway
// says money was taken. Anyone can submit a reference to the verify endpoint.
func (r *Reconciler) alertOrphan(ctx context.Context, logger *slog.Logger, orphan *models.OrphanedNotification, state gateway.State) {
	if r.alerter == nil || state != gateway.StateCompleted {
		return
	}
	first, err := r.markers.SetIfAbsent(ctx, cache.OrphanAlertKey(orphan.OrderRef), orphan.Source, orphanAlertTTL)
	if err != nil {
		logger.Warn("failed to claim orphan alert marker", "error", err)
		return
	}
	if !first {
		return
	}
	if err := r.alerter.ReportOrphan(ctx, orphan); err != nil {
		logger.Warn("failed to raise orphan alert", "error", err)
		if err := r.markers.Delete(ctx, cache.OrphanAlertKey(orphan.OrderRef)); err != nil {
			logger.Warn("failed to release orphan alert marker", "error", err)
		}
	}
}

// observe records a late payment observation on an already finalized order.
// It never fails the caller.
func (r *Reconciler) observe(ctx context.Context, logger *slog.Logger, order *models.Order, status *gateway.Status) {
	next := paymentStatusFor(status.State)
	if next == order.Payment.Status {
		return
	}
	updated, err := r.ledger.UpdatePaymentObservation(ctx, order.ID, next, status.Raw)
	if err != nil {
		logger.Warn("failed to record payment observation", "error", err, "order_id", order.ID)
		return
	}
	if updated != order.Payment.Status {
		logger.Info("payment status advanced", "order_id", order.ID, "from", order.Payment.Status, "to", updated)
	}
	order.Payment.Status = updated
	if len(status.Raw) > 0 {
		order.Payment.ResponseData = status.Raw
	}
}

func paymentStatusFor(state gateway.State) models.PaymentStatus {
	switch state {
	case gateway.StateCompleted:
		return models.PaymentCompleted
	case gateway.StateFailed, gateway.StateCancelled:
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

type StatusChange struct {
	Status         models.OrderStatus
	TrackingNumber string
	TrackingURL    string
	Carrier        string
}

// UpdateOrderStatus applies a fulfillment transition and tells the customer
// about shipments, deliveries and cancellations.
func (r *Reconciler) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, change StatusChange) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.reconciler.update_order_status",
		sentry.WithOpName("service.reconciler"),
		sentry.WithDescription("UpdateOrderStatus"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := r.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("status", string(change.Status)))

	if !change.Status.Valid() {
		span.Status = sentry.SpanStatusInvalidArgument
		return nil, fmt.Errorf("%w: unknown status %q", db.ErrInvalidStatusTransition, change.Status)
	}

	update := db.StatusUpdate{Status: change.Status}
	if change.Status == models.StatusShipped {
		update.Carrier, update.TrackingNumber, update.TrackingURL = resolveTracking(change.Carrier, change.TrackingNumber, change.TrackingURL)
	}

	order, err := r.ledger.UpdateStatus(ctx, orderID, update)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		meter.Count("order.status.failed", 1)
		return nil, err
	}

	logger.Info("order status updated", "order_id", order.ID, "status", order.Status, "payment_status", order.Payment.Status)
	meter.Count("order.status.updated", 1)
	span.Status = sentry.SpanStatusOK

	switch order.Status {
	case models.StatusShipped:
		r.notifyAsync(ctx, "order_shipped", order, r.notifier.OrderShipped)
	case models.StatusDelivered:
		r.notifyAsync(ctx, "order_delivered", order, r.notifier.OrderDelivered)
	case models.StatusCancelled:
		r.notifyAsync(ctx, "order_cancelled", order, r.notifier.OrderCancelled)
	}
	return order, nil
}

type OrderDetails struct {
	Order        *models.Order
	Transactions []models.Transaction
}

func (r *Reconciler) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderDetails, error) {
	order, err := r.ledger.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	details := &OrderDetails{Order: order}
	if r.transactions != nil {
		details.Transactions, err = r.transactions.ListByOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}
	}
	return details, nil
}

// ListUserTransactions returns a customer's most recent payment attempts.
func (r *Reconciler) ListUserTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if r.transactions == nil {
		return []models.Transaction{}, nil
	}
	txns, err := r.transactions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// ListOrphans returns every orphaned notification recorded for a reference.
func (r *Reconciler) ListOrphans(ctx context.Context, orderRef string) ([]models.OrphanedNotification, error) {
	if strings.TrimSpace(orderRef) == "" {
		return nil, ErrMissingOrderRef
	}
	if r.orphans == nil {
		return []models.OrphanedNotification{}, nil
	}
	orphans, err := r.orphans.ListByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned notifications: %w", err)
	}
	return orphans, nil
}

func (r *Reconciler) notifyAsync(ctx context.Context, event string, order *models.Order, send func(context.Context, *models.Order) error) {
	logger := r.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	snapshot := *order
	ctx = context.WithoutCancel(ctx)

	r.notifications.Add(1)
	go func() {
		defer r.notifications.Done()
		ctx, cancel := context.WithTimeout(ctx, r.cfg.NotifyTimeout)
		defer cancel()

		if err := send(ctx, &snapshot); err != nil {
			logger.Warn("failed to send customer notification", "error", err, "event", event, "order_id", snapshot.ID)
			meter.Count("notification.failed", 1, sentry.WithAttributes(attribute.String("event", event)))
			return
		}
		meter.Count("notification.sent", 1, sentry.WithAttributes(attribute.String("event", event)))
	}()
}

func newOrderRef() string {
	return "ORD_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
