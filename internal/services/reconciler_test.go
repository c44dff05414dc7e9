package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefrontapp/storefront/internal/catalog"
	"github.com/storefrontapp/storefront/internal/db"
	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/pending"
)

func checkoutRequest(total string, method models.PaymentMethod) CheckoutRequest {
	return CheckoutRequest{
		Items: []models.LineItem{
			{ProductID: "prod_tee", Name: "Logo Tee", Quantity: 1, UnitPrice: decimal.RequireFromString(total)},
		},
		Customer: gateway.Customer{
			UserID: "user_42",
			Name:   "Asha Rao",
			Email:  "asha@example.com",
			Phone:  "+919800000000",
		},
		ShippingAddress: "12 MG Road, Bengaluru 560001",
		TotalAmount:     decimal.RequireFromString(total),
		PaymentMethod:   method,
	}
}

func completedNotification(orderRef string, amountMinor int64) *gateway.Notification {
	return &gateway.Notification{
		Status: gateway.Status{
			OrderRef:             orderRef,
			State:                gateway.StateCompleted,
			AmountMinor:          amountMinor,
			GatewayTransactionID: "T" + orderRef,
			Raw:                  []byte(`{"code":"PAYMENT_SUCCESS"}`),
		},
		EventID: "T" + orderRef + ":completed",
	}
}

func failedNotification(orderRef string) *gateway.Notification {
	return &gateway.Notification{
		Status: gateway.Status{
			OrderRef: orderRef,
			State:    gateway.StateFailed,
			Raw:      []byte(`{"code":"PAYMENT_ERROR"}`),
		},
		EventID: orderRef + ":failed",
	}
}

// stageGatewayCheckout runs a gateway checkout and returns its order reference.
func stageGatewayCheckout(t *testing.T, f *reconcilerFixture, total string) string {
	t.Helper()
	result, err := f.reconciler.InitiateCheckout(context.Background(), checkoutRequest(total, models.MethodGatewayPay))
	if err != nil {
		t.Fatalf("InitiateCheckout() error = %v", err)
	}
	return result.OrderRef
}

func TestInitiateCheckout_CashOnDelivery(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	result, err := f.reconciler.InitiateCheckout(context.Background(), checkoutRequest("499.00", models.MethodCashOnDelivery))
	if err != nil {
		t.Fatalf("InitiateCheckout() error = %v", err)
	}
	f.reconciler.Wait()

	order := result.Order
	if order == nil {
		t.Fatal("expected a cash order to be returned")
	}
	if result.OrderRef != "" || result.RedirectURL != "" {
		t.Fatalf("cash checkout returned gateway fields: %+v", result)
	}
	if order.Status != models.StatusConfirmed {
		t.Fatalf("status = %q, want %q", order.Status, models.StatusConfirmed)
	}
	if order.Payment.Status != models.PaymentPending || order.Payment.Method != models.MethodCashOnDelivery {
		t.Fatalf("payment = %+v, want pending cod", order.Payment)
	}
	if !order.TotalPrice.Equal(decimal.RequireFromString("499.00")) {
		t.Fatalf("total = %s, want 499.00", order.TotalPrice)
	}
	if f.gateway.createCalls != 0 {
		t.Fatalf("gateway was called %d times for a cash order", f.gateway.createCalls)
	}

	txns, err := f.ledger.ListByOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("ListByOrder() error = %v", err)
	}
	if len(txns) != 1 || txns[0].Status != models.TransactionPending {
		t.Fatalf("transactions = %+v, want one pending", txns)
	}
	if got := f.notifier.snapshot(); len(got) != 1 || got[0] != "confirmed" {
		t.Fatalf("notifications = %v, want [confirmed]", got)
	}
}

func TestInitiateCheckout_GatewayScenario(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	f.reconciler.newOrderRef = func() string { return "ORD_X" }
	ctx := context.Background()

	result, err := f.reconciler.InitiateCheckout(ctx, checkoutRequest("1200.00", models.MethodGatewayPay))
	if err != nil {
		t.Fatalf("InitiateCheckout() error = %v", err)
	}
	if result.OrderRef != "ORD_X" || result.RedirectURL == "" || result.Order != nil {
		t.Fatalf("result = %+v, want ORD_X redirect and no order", result)
	}
	if f.gateway.lastRequest.AmountMinor != 120000 {
		t.Fatalf("amount minor = %d, want 120000", f.gateway.lastRequest.AmountMinor)
	}
	if f.gateway.lastRequest.NotifyURL != "https://shop.example.com/webhooks/payment" {
		t.Fatalf("notify URL = %q", f.gateway.lastRequest.NotifyURL)
	}
	if f.gateway.lastRequest.ExpiresAt.IsZero() {
		t.Fatal("session request carries no expiry")
	}
	if f.ledger.countByRef("ORD_X") != 0 {
		t.Fatal("order persisted before payment outcome")
	}

	created, err := f.reconciler.Finalize(ctx, "ORD_X", SourceWebhook, completedNotification("ORD_X", 120000))
	if err != nil {
		t.Fatalf("Finalize(webhook) error = %v", err)
	}
	if created.Outcome != OutcomeCreated {
		t.Fatalf("outcome = %q, want %q", created.Outcome, OutcomeCreated)
	}
	if !created.Order.TotalPrice.Equal(decimal.RequireFromString("1200.00")) {
		t.Fatalf("total = %s, want 1200.00", created.Order.TotalPrice)
	}
	if created.Order.Status != models.StatusProcessing || created.Order.Payment.Status != models.PaymentCompleted {
		t.Fatalf("order = %+v, want processing/completed", created.Order)
	}
	if created.Order.Payment.TransactionID != "ORD_X" {
		t.Fatalf("payment transaction id = %q, want ORD_X", created.Order.Payment.TransactionID)
	}

	f.gateway.setState("ORD_X", gateway.StateCompleted)
	verified, err := f.reconciler.Finalize(ctx, "ORD_X", SourceClientVerify, nil)
	if err != nil {
		t.Fatalf("Finalize(verify) error = %v", err)
	}
	if verified.Outcome != OutcomeAlreadyFinalized {
		t.Fatalf("outcome = %q, want %q", verified.Outcome, OutcomeAlreadyFinalized)
	}
	if verified.Order.ID != created.Order.ID || !verified.Order.TotalPrice.Equal(created.Order.TotalPrice) {
		t.Fatalf("verify returned a different order: %+v", verified.Order)
	}
	if f.ledger.countByRef("ORD_X") != 1 || f.ledger.successfulTransactions() != 1 {
		t.Fatal("expected exactly one order and one successful transaction")
	}
}

func TestInitiateCheckout_GatewayErrorStagesNothing(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	f.reconciler.newOrderRef = func() string { return "ORD_FAIL" }
	f.gateway.createErr = &gateway.Error{Code: "BAD_REQUEST", Message: "merchant not active"}

	_, err := f.reconciler.InitiateCheckout(context.Background(), checkoutRequest("250.00", models.MethodUPI))
	var gatewayErr *gateway.Error
	if !errors.As(err, &gatewayErr) || gatewayErr.Code != "BAD_REQUEST" {
		t.Fatalf("InitiateCheckout() error = %v, want gateway error", err)
	}
	if _, err := f.pending.Take(context.Background(), "ORD_FAIL"); !errors.Is(err, pending.ErrNotFound) {
		t.Fatalf("Take() error = %v, want ErrNotFound", err)
	}
}

func TestInitiateCheckout_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*CheckoutRequest)
	}{
		{name: "empty cart", mutate: func(r *CheckoutRequest) { r.Items = nil }},
		{name: "zero quantity", mutate: func(r *CheckoutRequest) { r.Items[0].Quantity = 0 }},
		{name: "non-positive total", mutate: func(r *CheckoutRequest) { r.TotalAmount = decimal.Zero }},
		{name: "missing address", mutate: func(r *CheckoutRequest) { r.ShippingAddress = "  " }},
		{name: "missing phone", mutate: func(r *CheckoutRequest) { r.Customer.Phone = "" }},
		{name: "unknown method", mutate: func(r *CheckoutRequest) { r.PaymentMethod = "barter" }},
		{name: "sub-cent amount", mutate: func(r *CheckoutRequest) { r.TotalAmount = decimal.RequireFromString("10.005") }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newReconcilerFixture(t)
			req := checkoutRequest("100.00", models.MethodGatewayPay)
			tt.mutate(&req)
			if _, err := f.reconciler.InitiateCheckout(context.Background(), req); !errors.Is(err, ErrInvalidCheckout) {
				t.Fatalf("InitiateCheckout() error = %v, want ErrInvalidCheckout", err)
			}
			if f.gateway.createCalls != 0 {
				t.Fatal("gateway called for an invalid checkout")
			}
		})
	}
}

func TestFinalize_ConcurrentTriggersCreateOneOrder(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "750.00")
	f.gateway.setState(orderRef, gateway.StateCompleted)

	methods := catalog.DefaultMethods()
	reconcilers := []*Reconciler{f.reconciler, f.newReconciler(t, methods), f.newReconciler(t, methods)}
	sources := []Source{SourceWebhook, SourceClientVerify, SourceManualQuery}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := sources[i%len(sources)]
			var notification *gateway.Notification
			if source == SourceWebhook {
				notification = completedNotification(orderRef, 75000)
			}
			result, err := reconcilers[i%len(reconcilers)].Finalize(context.Background(), orderRef, source, notification)
			if err != nil {
				errs <- err
				return
			}
			if result.Outcome != OutcomeCreated && result.Outcome != OutcomeAlreadyFinalized {
				errs <- errors.New("unexpected outcome " + string(result.Outcome))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Finalize() error = %v", err)
	}

	if got := f.ledger.countByRef(orderRef); got != 1 {
		t.Fatalf("orders for %s = %d, want 1", orderRef, got)
	}
	if got := f.ledger.successfulTransactions(); got != 1 {
		t.Fatalf("successful transactions = %d, want 1", got)
	}
}

func TestFinalize_FailedPaymentNeverCreatesOrder(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "300.00")
	ctx := context.Background()

	result, err := f.reconciler.Finalize(ctx, orderRef, SourceWebhook, failedNotification(orderRef))
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if result.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %q, want %q", result.Outcome, OutcomeRejected)
	}

	f.gateway.setState(orderRef, gateway.StateFailed)
	retries := []struct {
		source       Source
		notification *gateway.Notification
	}{
		{source: SourceClientVerify},
		{source: SourceWebhook, notification: failedNotification(orderRef)},
		{source: SourceWebhook, notification: completedNotification(orderRef, 30000)},
	}
	for _, retry := range retries {
		result, err := f.reconciler.Finalize(ctx, orderRef, retry.source, retry.notification)
		if err != nil {
			t.Fatalf("Finalize(%s) error = %v", retry.source, err)
		}
		if result.Outcome != OutcomeRejected {
			t.Fatalf("Finalize(%s) outcome = %q, want %q", retry.source, result.Outcome, OutcomeRejected)
		}
	}
	if got := f.ledger.countByRef(orderRef); got != 0 {
		t.Fatalf("orders = %d, want 0", got)
	}
	if len(f.orphans.records) != 0 {
		t.Fatalf("rejected payment recorded as orphan: %+v", f.orphans.records)
	}
}

func TestFinalize_ExpiredCheckoutIsOrphaned(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()
	checkout := &models.PendingCheckout{
		OrderRef:    "ORD_LATE",
		Items:       []models.LineItem{{ProductID: "prod_mug", Quantity: 2, UnitPrice: decimal.RequireFromString("5.00")}},
		TotalAmount: decimal.RequireFromString("10.00"),
		Method:      models.MethodGatewayPay,
	}
	if err := f.pending.Stage(ctx, checkout, time.Millisecond); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	result, err := f.reconciler.Finalize(ctx, "ORD_LATE", SourceWebhook, completedNotification("ORD_LATE", 1000))
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if result.Outcome != OutcomeOrphaned {
		t.Fatalf("outcome = %q, want %q", result.Outcome, OutcomeOrphaned)
	}
	if f.ledger.countByRef("ORD_LATE") != 0 {
		t.Fatal("orphaned notification created an order")
	}
	if len(f.orphans.records) != 1 || f.orphans.records[0].Source != string(SourceWebhook) {
		t.Fatalf("orphan records = %+v, want one webhook record", f.orphans.records)
	}
	if f.orphans.alerts != 1 {
		t.Fatalf("orphan alerts = %d, want 1", f.orphans.alerts)
	}
}

func TestInitiateCheckout_StagesUntilSessionExpires(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		sessionExpiry time.Duration
		wantAtLeast   time.Duration
	}{
		{name: "gateway reports no expiry", wantAtLeast: time.Minute},
		{name: "gateway extends session", sessionExpiry: 2 * time.Hour, wantAtLeast: 2 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newReconcilerFixture(t)
			now := time.Now()
			f.reconciler.now = func() time.Time { return now }
			if tt.sessionExpiry > 0 {
				f.gateway.sessionExpiry = now.Add(tt.sessionExpiry)
			}

			orderRef := stageGatewayCheckout(t, f, "250.00")
			if want := now.Add(time.Minute); !f.gateway.lastRequest.ExpiresAt.Equal(want) {
				t.Fatalf("requested expiry = %v, want %v", f.gateway.lastRequest.ExpiresAt, want)
			}

			checkout, err := f.pending.Take(context.Background(), orderRef)
			if err != nil {
				t.Fatalf("Take() error = %v", err)
			}
			if checkout.ExpiresAt.Before(now.Add(tt.wantAtLeast)) {
				t.Fatalf("staged until %v, want at least %v", checkout.ExpiresAt, now.Add(tt.wantAtLeast))
			}
		})
	}
}

func TestFinalize_RetryableDeclineStillCompletes(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "640.00")
	ctx := context.Background()

	// A declined card the customer may retry reads as pending at the gateway.
	f.gateway.setState(orderRef, gateway.StatePending)
	result, err := f.reconciler.Finalize(ctx, orderRef, SourceManualQuery, nil)
	if err != nil {
		t.Fatalf("Finalize(manual) error = %v", err)
	}
	if result.Outcome != OutcomeInconclusive {
		t.Fatalf("manual outcome = %q, want %q", result.Outcome, OutcomeInconclusive)
	}

	result, err = f.reconciler.Finalize(ctx, orderRef, SourceWebhook, completedNotification(orderRef, 64000))
	if err != nil {
		t.Fatalf("Finalize(webhook) error = %v", err)
	}
	f.reconciler.Wait()
	if result.Outcome != OutcomeCreated {
		t.Fatalf("webhook outcome = %q, want %q", result.Outcome, OutcomeCreated)
	}
	if got := f.ledger.countByRef(orderRef); got != 1 {
		t.Fatalf("orders = %d, want 1", got)
	}
}

func TestFinalize_OrphanAlerts(t *testing.T) {
	t.Parallel()

	t.Run("unpaid references are recorded without alerts", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		for i := 0; i < 5; i++ {
			ref := fmt.Sprintf("ORD_FORGED_%d", i)
			f.gateway.setState(ref, gateway.StateFailed)
			result, err := f.reconciler.Finalize(context.Background(), ref, SourceClientVerify, nil)
			if err != nil {
				t.Fatalf("Finalize(%s) error = %v", ref, err)
			}
			if result.Outcome != OutcomeOrphaned {
				t.Fatalf("outcome = %q, want %q", result.Outcome, OutcomeOrphaned)
			}
		}
		if records, alerts := f.orphans.counts(); records != 5 || alerts != 0 {
			t.Fatalf("records = %d alerts = %d, want 5 and 0", records, alerts)
		}
	})

	t.Run("paid reference alerts once", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		for i := 0; i < 3; i++ {
			result, err := f.reconciler.Finalize(context.Background(), "ORD_GONE", SourceWebhook, completedNotification("ORD_GONE", 1000))
			if err != nil {
				t.Fatalf("Finalize() error = %v", err)
			}
			if result.Outcome != OutcomeOrphaned {
				t.Fatalf("outcome = %q, want %q", result.Outcome, OutcomeOrphaned)
			}
		}
		if records, alerts := f.orphans.counts(); records != 3 || alerts != 1 {
			t.Fatalf("records = %d alerts = %d, want 3 and 1", records, alerts)
		}

		orphans, err := f.reconciler.ListOrphans(context.Background(), "ORD_GONE")
		if err != nil {
			t.Fatalf("ListOrphans() error = %v", err)
		}
		if len(orphans) != 3 {
			t.Fatalf("ListOrphans() = %d records, want 3", len(orphans))
		}
	})
}

func TestFinalize_DuplicateVerifyLeavesOrderUnchanged(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "1200.00")
	ctx := context.Background()

	created, err := f.reconciler.Finalize(ctx, orderRef, SourceWebhook, completedNotification(orderRef, 120000))
	if err != nil {
		t.Fatalf("Finalize(webhook) error = %v", err)
	}
	f.gateway.setState(orderRef, gateway.StateCompleted)

	again, err := f.reconciler.Finalize(ctx, orderRef, SourceClientVerify, nil)
	if err != nil {
		t.Fatalf("Finalize(verify) error = %v", err)
	}
	if again.Outcome != OutcomeAlreadyFinalized {
		t.Fatalf("outcome = %q, want %q", again.Outcome, OutcomeAlreadyFinalized)
	}
	if got := f.ledger.observationCount(); got != 0 {
		t.Fatalf("payment observations written = %d, want 0", got)
	}
	if string(again.Order.Payment.ResponseData) != string(created.Order.Payment.ResponseData) {
		t.Fatalf("response data = %s, want %s", again.Order.Payment.ResponseData, created.Order.Payment.ResponseData)
	}
}

func TestListUserTransactions(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "90.00")
	if _, err := f.reconciler.Finalize(context.Background(), orderRef, SourceWebhook, completedNotification(orderRef, 9000)); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	txns, err := f.reconciler.ListUserTransactions(context.Background(), "user_42", 10)
	if err != nil {
		t.Fatalf("ListUserTransactions() error = %v", err)
	}
	if len(txns) != 1 || txns[0].Status != models.TransactionSuccess {
		t.Fatalf("transactions = %+v, want one success", txns)
	}

	if _, err := f.reconciler.ListOrphans(context.Background(), " "); !errors.Is(err, ErrMissingOrderRef) {
		t.Fatalf("ListOrphans(blank) error = %v, want ErrMissingOrderRef", err)
	}
}

func TestFinalize_DuplicateWebhookIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "1200.00")
	notification := completedNotification(orderRef, 120000)

	first, err := f.reconciler.Finalize(context.Background(), orderRef, SourceWebhook, notification)
	if err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}
	second, err := f.reconciler.Finalize(context.Background(), orderRef, SourceWebhook, notification)
	if err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}
	f.reconciler.Wait()

	if first.Outcome != OutcomeCreated || second.Outcome != OutcomeAlreadyFinalized {
		t.Fatalf("outcomes = %q, %q", first.Outcome, second.Outcome)
	}
	if second.Order.ID != first.Order.ID {
		t.Fatal("duplicate webhook returned a different order")
	}
	if f.ledger.countByRef(orderRef) != 1 || f.ledger.successfulTransactions() != 1 {
		t.Fatal("expected exactly one order and one successful transaction")
	}
	if got := f.notifier.snapshot(); len(got) != 1 {
		t.Fatalf("notifications = %v, want a single confirmation", got)
	}
}

func TestFinalize_LateFailureDoesNotRegressPayment(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "80.00")
	if _, err := f.reconciler.Finalize(context.Background(), orderRef, SourceWebhook, completedNotification(orderRef, 8000)); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	result, err := f.reconciler.Finalize(context.Background(), orderRef, SourceWebhook, failedNotification(orderRef))
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if result.Outcome != OutcomeAlreadyFinalized {
		t.Fatalf("outcome = %q, want %q", result.Outcome, OutcomeAlreadyFinalized)
	}
	if result.Order.Payment.Status != models.PaymentCompleted {
		t.Fatalf("payment status = %q, want completed", result.Order.Payment.Status)
	}
	if string(result.Order.Payment.ResponseData) != `{"code":"PAYMENT_ERROR"}` {
		t.Fatalf("response data = %s, want latest observation", result.Order.Payment.ResponseData)
	}
}

func TestFinalize_InconclusiveKeepsCheckoutStaged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		queryErr   error
		wantReason string
	}{
		{name: "still pending", wantReason: "payment is still pending"},
		{
			name:       "gateway timeout",
			queryErr:   &gateway.Error{Code: "TIMEOUT", Message: "status query timed out", Err: gateway.ErrTimeout},
			wantReason: "payment gateway timed out",
		},
		{
			name:       "gateway unavailable",
			queryErr:   &gateway.Error{Code: "NETWORK_ERROR", Message: "connection refused"},
			wantReason: "payment gateway unavailable",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newReconcilerFixture(t)
			orderRef := stageGatewayCheckout(t, f, "45.50")
			f.gateway.queryErr = tt.queryErr

			result, err := f.reconciler.Finalize(context.Background(), orderRef, SourceClientVerify, nil)
			if err != nil {
				t.Fatalf("Finalize() error = %v", err)
			}
			if result.Outcome != OutcomeInconclusive || result.Reason != tt.wantReason {
				t.Fatalf("result = %+v, want inconclusive %q", result, tt.wantReason)
			}
			if _, err := f.pending.Take(context.Background(), orderRef); err != nil {
				t.Fatalf("checkout no longer staged: %v", err)
			}
		})
	}
}

func TestFinalize_LedgerFailureRestagesCheckout(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "99.99")
	f.ledger.createErr = errors.New("connection reset by peer")
	f.gateway.setState(orderRef, gateway.StateCompleted)

	if _, err := f.reconciler.Finalize(context.Background(), orderRef, SourceManualQuery, nil); err == nil {
		t.Fatal("expected ledger failure to surface")
	}
	if f.ledger.countByRef(orderRef) != 0 {
		t.Fatal("half-written order after ledger failure")
	}

	result, err := f.reconciler.Finalize(context.Background(), orderRef, SourceManualQuery, nil)
	if err != nil {
		t.Fatalf("re-driven Finalize() error = %v", err)
	}
	if result.Outcome != OutcomeCreated {
		t.Fatalf("outcome = %q, want %q", result.Outcome, OutcomeCreated)
	}
}

func TestFinalize_RejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()

	if _, err := f.reconciler.Finalize(ctx, " ", SourceClientVerify, nil); !errors.Is(err, ErrMissingOrderRef) {
		t.Fatalf("Finalize(blank) error = %v, want ErrMissingOrderRef", err)
	}
	if _, err := f.reconciler.Finalize(ctx, "ORD_A", SourceWebhook, nil); !errors.Is(err, ErrNotificationNeeded) {
		t.Fatalf("Finalize(no notification) error = %v, want ErrNotificationNeeded", err)
	}
	if _, err := f.reconciler.Finalize(ctx, "ORD_A", SourceWebhook, completedNotification("ORD_B", 100)); err == nil {
		t.Fatal("expected mismatched notification to be rejected")
	}
}

func TestUpdateOrderStatus_CancelRefundsPaidOrder(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	orderRef := stageGatewayCheckout(t, f, "640.00")
	created, err := f.reconciler.Finalize(context.Background(), orderRef, SourceWebhook, completedNotification(orderRef, 64000))
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	f.reconciler.Wait()

	cancelled, err := f.reconciler.UpdateOrderStatus(context.Background(), created.Order.ID, StatusChange{Status: models.StatusCancelled})
	if err != nil {
		t.Fatalf("UpdateOrderStatus() error = %v", err)
	}
	if cancelled.Status != models.StatusCancelled || cancelled.Payment.Status != models.PaymentRefunded {
		t.Fatalf("order = %s/%s, want cancelled/refunded", cancelled.Status, cancelled.Payment.Status)
	}

	_, err = f.reconciler.UpdateOrderStatus(context.Background(), created.Order.ID, StatusChange{Status: models.StatusShipped})
	if !errors.Is(err, db.ErrInvalidStatusTransition) {
		t.Fatalf("UpdateOrderStatus() after cancel error = %v, want ErrInvalidStatusTransition", err)
	}

	f.reconciler.Wait()
	got := f.notifier.snapshot()
	if len(got) != 2 || got[1] != "cancelled" {
		t.Fatalf("notifications = %v, want confirmation then cancellation", got)
	}
}

func TestUpdateOrderStatus_ShippedResolvesTracking(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	result, err := f.reconciler.InitiateCheckout(context.Background(), checkoutRequest("499.00", models.MethodCashOnDelivery))
	if err != nil {
		t.Fatalf("InitiateCheckout() error = %v", err)
	}

	shipped, err := f.reconciler.UpdateOrderStatus(context.Background(), result.Order.ID, StatusChange{
		Status:         models.StatusShipped,
		Carrier:        "federal express",
		TrackingNumber: " 7712 ",
	})
	if err != nil {
		t.Fatalf("UpdateOrderStatus() error = %v", err)
	}
	if shipped.Carrier != "FedEx" || shipped.TrackingNumber != "7712" {
		t.Fatalf("tracking = %q/%q, want FedEx/7712", shipped.Carrier, shipped.TrackingNumber)
	}
	if !strings.HasPrefix(shipped.TrackingURL, "https://www.fedex.com/") {
		t.Fatalf("tracking URL = %q", shipped.TrackingURL)
	}

	delivered, err := f.reconciler.UpdateOrderStatus(context.Background(), result.Order.ID, StatusChange{Status: models.StatusDelivered})
	if err != nil {
		t.Fatalf("UpdateOrderStatus(delivered) error = %v", err)
	}
	if delivered.Payment.Status != models.PaymentCompleted {
		t.Fatalf("cash payment = %q after delivery, want completed", delivered.Payment.Status)
	}
}

func TestUpdateOrderStatus_UnknownStatus(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	_, err := f.reconciler.UpdateOrderStatus(context.Background(), uuid.New(), StatusChange{Status: "lost"})
	if !errors.Is(err, db.ErrInvalidStatusTransition) {
		t.Fatalf("UpdateOrderStatus() error = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestGetOrder(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	result, err := f.reconciler.InitiateCheckout(context.Background(), checkoutRequest("15.00", models.MethodCashOnDelivery))
	if err != nil {
		t.Fatalf("InitiateCheckout() error = %v", err)
	}

	details, err := f.reconciler.GetOrder(context.Background(), result.Order.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if details.Order.ID != result.Order.ID || len(details.Transactions) != 1 {
		t.Fatalf("details = %+v", details)
	}

	if _, err := f.reconciler.GetOrder(context.Background(), uuid.New()); !errors.Is(err, db.ErrOrderNotFound) {
		t.Fatalf("GetOrder(unknown) error = %v, want ErrOrderNotFound", err)
	}
}
