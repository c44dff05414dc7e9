package stripe

import (
	"encoding/json"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/storefrontapp/storefront/internal/gateway"
)

// ParseNotification verifies the Stripe-Signature header and maps Checkout
// events onto a gateway notification. Events without a payment outcome
// return gateway.ErrIgnoredEvent.
func (c *Client) ParseNotification(payload []byte, signature string) (*gateway.Notification, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing stripe signature header", gateway.ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidSignature, err)
	}

	return notificationFromEvent(&event)
}

func notificationFromEvent(event *stripeapi.Event) (*gateway.Notification, error) {
	if event.Data == nil {
		return nil, &gateway.Error{Code: "MALFORMED_NOTIFICATION", Message: "event has no data"}
	}

	var state gateway.State
	switch event.Type {
	case stripeapi.EventTypeCheckoutSessionCompleted, stripeapi.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		state = gateway.StateCompleted
	case stripeapi.EventTypeCheckoutSessionAsyncPaymentFailed:
		state = gateway.StateFailed
	case stripeapi.EventTypeCheckoutSessionExpired:
		state = gateway.StateCancelled
	default:
		return nil, fmt.Errorf("%w: %s", gateway.ErrIgnoredEvent, event.Type)
	}

	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, &gateway.Error{Code: "MALFORMED_NOTIFICATION", Message: "invalid checkout session object", Err: err}
	}

	orderRef := session.ClientReferenceID
	if orderRef == "" {
		orderRef = session.Metadata[orderRefMetadataKey]
	}
	if orderRef == "" {
		return nil, &gateway.Error{Code: "MALFORMED_NOTIFICATION", Message: "checkout session has no order reference"}
	}

	// Completed sessions for delayed methods (bank debits) stay unpaid until
	// the async_payment_succeeded event arrives.
	if state == gateway.StateCompleted && session.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusUnpaid {
		state = gateway.StatePending
	}

	transactionID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		transactionID = session.PaymentIntent.ID
	}

	return &gateway.Notification{
		Status: gateway.Status{
			OrderRef:             orderRef,
			State:                state,
			AmountMinor:          session.AmountTotal,
			GatewayTransactionID: transactionID,
			Raw:                  append(json.RawMessage(nil), event.Data.Raw...),
		},
		EventID: event.ID,
	}, nil
}
