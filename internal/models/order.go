package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusConfirmed      OrderStatus = "confirmed"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

type PaymentMethod string

const (
	MethodCashOnDelivery PaymentMethod = "cod"
	MethodGatewayPay     PaymentMethod = "gateway_pay"
	MethodCreditCard     PaymentMethod = "credit_card"
	MethodUPI            PaymentMethod = "upi"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Payment is the payment record embedded in an order. TransactionID holds the
// gateway order reference and is empty for cash orders.
type Payment struct {
	Method        PaymentMethod   `json:"method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Status        PaymentStatus   `json:"status"`
	ResponseData  json.RawMessage `json:"response_data,omitempty"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	Items           []LineItem      `json:"items"`
	UserID          string          `json:"user_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	ShippingAddress string          `json:"shipping_address"`
	Phone           string          `json:"phone"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Payment         Payment         `json:"payment"`
	Status          OrderStatus     `json:"status"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	TrackingURL     string          `json:"tracking_url,omitempty"`
	Carrier         string          `json:"carrier,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ShippedAt       time.Time       `json:"shipped_at,omitzero"`
	DeliveredAt     time.Time       `json:"delivered_at,omitzero"`
	CancelledAt     time.Time       `json:"cancelled_at,omitzero"`
}
