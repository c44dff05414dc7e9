package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Transaction is a ledger entry for one payment attempt against an order.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	UserID               string            `json:"user_id"`
	OrderID              uuid.UUID         `json:"order_id"`
	Amount               decimal.Decimal   `json:"amount"`
	Method               PaymentMethod     `json:"method"`
	Status               TransactionStatus `json:"status"`
	GatewayTransactionID string            `json:"gateway_transaction_id,omitempty"`
	FailureReason        string            `json:"failure_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}
