// Package gateway defines the payment gateway contract shared by all providers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// State is the provider-independent payment session state.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsFailure reports whether the state is a terminal unsuccessful outcome.
func (s State) IsFailure() bool {
	return s == StateFailed || s == StateCancelled
}

var (
	ErrTimeout          = errors.New("gateway request timed out")
	ErrInvalidSignature = errors.New("invalid gateway signature")
	// ErrIgnoredEvent marks a verified webhook that carries no payment outcome.
	ErrIgnoredEvent = errors.New("notification carries no payment outcome")
)

// Error is returned for every gateway failure: transport errors, provider
// rejections and malformed responses.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway error %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from a gateway call that ran out of time.
// Such outcomes are inconclusive, not failures.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type Customer struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

type SessionRequest struct {
	OrderRef    string
	AmountMinor int64
	Customer    Customer
	RedirectURL string
	NotifyURL   string
	// ExpiresAt asks the gateway to stop accepting payment after this time.
	// Gateways that cannot honor it exactly report the real expiry on Session.
	ExpiresAt time.Time
}

func (r SessionRequest) Validate() error {
	if strings.TrimSpace(r.OrderRef) == "" {
		return &Error{Code: "INVALID_REQUEST", Message: "order reference is required"}
	}
	if r.AmountMinor <= 0 {
		return &Error{Code: "INVALID_REQUEST", Message: "amount must be a positive number of minor units"}
	}
	if !isAbsoluteURL(r.RedirectURL) {
		return &Error{Code: "INVALID_REQUEST", Message: "redirect URL must be an absolute URL"}
	}
	if !isAbsoluteURL(r.NotifyURL) {
		return &Error{Code: "INVALID_REQUEST", Message: "notify URL must be an absolute URL"}
	}
	return nil
}

type Session struct {
	SessionRef  string
	RedirectURL string
	// ExpiresAt is zero when the gateway does not report one.
	ExpiresAt time.Time
}

// Status is the normalized answer to "what happened to this order reference".
type Status struct {
	OrderRef             string
	State                State
	AmountMinor          int64
	GatewayTransactionID string
	Raw                  json.RawMessage
}

// Notification is a verified server-to-server webhook delivery.
type Notification struct {
	Status
	EventID string
}

// Client is implemented by every payment provider.
type Client interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	QuerySessionStatus(ctx context.Context, orderRef string) (*Status, error)
	SignatureHeader() string
	ParseNotification(payload []byte, signature string) (*Notification, error)
}

// ToMinorUnits converts a decimal amount into an integer count of minor
// currency units. Amounts with sub-minor precision are rejected.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", amount.String())
	}
	if !shifted.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive", amount.String())
	}
	return shifted.IntPart(), nil
}

func isAbsoluteURL(value string) bool {
	parsed, err := url.Parse(strings.TrimSpace(value))
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}
