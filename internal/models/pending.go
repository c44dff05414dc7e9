package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingCheckout is the staged order payload between payment session creation
// and a known payment outcome. It never reaches the ledger unless payment succeeds.
type PendingCheckout struct {
	OrderRef        string          `json:"order_ref"`
	SessionRef      string          `json:"session_ref,omitempty"`
	Items           []LineItem      `json:"items"`
	UserID          string          `json:"user_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	ShippingAddress string          `json:"shipping_address"`
	Phone           string          `json:"phone"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Method          PaymentMethod   `json:"method"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// Remaining reports how long the checkout stays staged after now.
func (p *PendingCheckout) Remaining(now time.Time) time.Duration {
	return p.ExpiresAt.Sub(now)
}
