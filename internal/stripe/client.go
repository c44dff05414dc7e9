// Package stripe implements the payment gateway contract on Stripe Checkout.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/observability"
)

const orderRefMetadataKey = "order_ref"

// Checkout Sessions must expire between 30 minutes and 24 hours after
// creation. The lower bound carries a margin for clock skew.
const (
	minSessionLifetime = 31 * time.Minute
	maxSessionLifetime = 24 * time.Hour
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	ShopName      string
	Timeout       time.Duration
}

// Client creates Checkout Sessions keyed by the storefront order reference and
// reads outcomes back from the underlying PaymentIntent.
type Client struct {
	api           *stripeapi.Client
	webhookSecret string
	currency      string
	shopName      string
	timeout       time.Duration
}

var _ gateway.Client = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	backends := stripeapi.NewBackendsWithConfig(&stripeapi.BackendConfig{
		HTTPClient: observability.NewHTTPClient(timeout),
	})

	return &Client{
		api:           stripeapi.NewClient(cfg.SecretKey, stripeapi.WithBackends(backends)),
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		shopName:      cfg.ShopName,
		timeout:       timeout,
	}, nil
}

func (c *Client) Name() string {
	return "stripe"
}

func (c *Client) SignatureHeader() string {
	return "Stripe-Signature"
}

func (c *Client) CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	productName := "Order " + req.OrderRef
	if c.shopName != "" {
		productName = c.shopName + " order " + req.OrderRef
	}
	metadata := map[string]string{orderRefMetadataKey: req.OrderRef}

	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		ClientReferenceID: stripeapi.String(req.OrderRef),
		SuccessURL:        stripeapi.String(withOrderRef(req.RedirectURL, req.OrderRef)),
		CancelURL:         stripeapi.String(withOrderRef(req.RedirectURL, req.OrderRef)),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripeapi.String(c.currency),
					ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripeapi.String(productName),
					},
					UnitAmount: stripeapi.Int64(req.AmountMinor),
				},
				Quantity: stripeapi.Int64(1),
			},
		},
		Metadata: metadata,
		PaymentIntentData: &stripeapi.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.CustomerEmail = stripeapi.String(email)
	}
	params.ExpiresAt = stripeapi.Int64(sessionExpiry(req.ExpiresAt, time.Now()).Unix())

	sess, err := c.api.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, wrapError(ctx, "failed to create checkout session", err)
	}
	if sess.URL == "" {
		return nil, &gateway.Error{Code: "MALFORMED_RESPONSE", Message: "checkout session has no URL"}
	}

	session := &gateway.Session{SessionRef: sess.ID, RedirectURL: sess.URL}
	if sess.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(sess.ExpiresAt, 0)
	}
	return session, nil
}

// sessionExpiry clamps the requested expiry into the window Stripe accepts.
// A zero request gets the shortest lifetime.
func sessionExpiry(requested, now time.Time) time.Time {
	earliest := now.Add(minSessionLifetime)
	latest := now.Add(maxSessionLifetime)
	switch {
	case requested.Before(earliest):
		return earliest
	case requested.After(latest):
		return latest
	default:
		return requested
	}
}

// QuerySessionStatus finds the PaymentIntent tagged with orderRef. No intent
// yet means the customer has not confirmed payment, which is pending.
func (c *Client) QuerySessionStatus(ctx context.Context, orderRef string) (*gateway.Status, error) {
	if strings.TrimSpace(orderRef) == "" {
		return nil, &gateway.Error{Code: "INVALID_REQUEST", Message: "order reference is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripeapi.PaymentIntentSearchParams{
		SearchParams: stripeapi.SearchParams{
			Query: fmt.Sprintf("metadata['%s']:'%s'", orderRefMetadataKey, escapeSearchValue(orderRef)),
			Limit: stripeapi.Int64(10),
		},
	}

	var best *stripeapi.PaymentIntent
	for intent, err := range c.api.V1PaymentIntents.Search(ctx, params) {
		if err != nil {
			return nil, wrapError(ctx, "failed to search payment intents", err)
		}
		if best == nil || intentRank(intent) > intentRank(best) {
			best = intent
		}
	}

	if best == nil {
		return &gateway.Status{OrderRef: orderRef, State: gateway.StatePending}, nil
	}
	return intentStatus(orderRef, best), nil
}

func intentStatus(orderRef string, intent *stripeapi.PaymentIntent) *gateway.Status {
	return &gateway.Status{
		OrderRef:             orderRef,
		State:                intentState(intent),
		AmountMinor:          intent.Amount,
		GatewayTransactionID: intent.ID,
	}
}

func intentState(intent *stripeapi.PaymentIntent) gateway.State {
	switch intent.Status {
	case stripeapi.PaymentIntentStatusSucceeded:
		return gateway.StateCompleted
	case stripeapi.PaymentIntentStatusCanceled:
		return gateway.StateCancelled
	default:
		// requires_payment_method after a decline is retryable inside the
		// same Checkout Session, so it stays pending.
		return gateway.StatePending
	}
}

// A succeeded intent wins over retries that are still open.
func intentRank(intent *stripeapi.PaymentIntent) int {
	switch intentState(intent) {
	case gateway.StateCompleted:
		return 3
	case gateway.StatePending:
		return 2
	default:
		return 1
	}
}

func wrapError(ctx context.Context, message string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || gateway.IsTimeout(err) {
		return &gateway.Error{Code: "TIMEOUT", Message: message, Err: errors.Join(gateway.ErrTimeout, err)}
	}

	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.Code)
		if code == "" {
			code = string(stripeErr.Type)
		}
		return &gateway.Error{Code: strings.ToUpper(code), Message: message, Err: err}
	}
	return &gateway.Error{Code: "NETWORK_ERROR", Message: message, Err: err}
}

func withOrderRef(rawURL, orderRef string) string {
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return rawURL + separator + "order_ref=" + orderRef
}

func escapeSearchValue(value string) string {
	return strings.ReplaceAll(value, "'", `\'`)
}
