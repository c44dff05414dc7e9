package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storefrontapp/storefront/internal/models"
)

var (
	ErrInvalidStatusTransition   = errors.New("invalid order status transition")
	ErrOrderNotFound             = errors.New("order not found")
	ErrDuplicatePaymentReference = errors.New("order already exists for payment reference")
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `
	id, user_id, customer_name, customer_email, items, shipping_address, phone,
	total_price::text, payment_method, payment_transaction_id, payment_status, payment_response,
	status, tracking_number, tracking_url, carrier, created_at, updated_at,
	shipped_at, delivered_at, cancelled_at
`

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// GetByPaymentReference returns the order whose payment carries the given
// gateway order reference.
func (s *OrderStore) GetByPaymentReference(ctx context.Context, orderRef string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_transaction_id = $1`, orderRef)
	return scanOrder(row)
}

// CreateCashOrder writes a cash-on-delivery order and its pending transaction
// in one database transaction.
func (s *OrderStore) CreateCashOrder(ctx context.Context, order *Order) (*Transaction, error) {
	txn := &Transaction{
		UserID: order.UserID,
		Amount: order.TotalPrice,
		Method: order.Payment.Method,
		Status: models.TransactionPending,
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted, err := insertOrder(ctx, tx, order, false)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("cash order %s was not inserted", order.ID)
		}
		txn.OrderID = order.ID
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cash order: %w", err)
	}
	return txn, nil
}

// CreatePaidOrder writes a gateway-paid order and its successful transaction
// atomically. If an order already holds the same payment reference nothing is
// written and ErrDuplicatePaymentReference is returned.
func (s *OrderStore) CreatePaidOrder(ctx context.Context, order *Order, txn *Transaction) error {
	if order.Payment.TransactionID == "" {
		return fmt.Errorf("paid order requires a payment reference")
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted, err := insertOrder(ctx, tx, order, true)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrDuplicatePaymentReference
		}
		txn.OrderID = order.ID
		return insertTransaction(ctx, tx, txn)
	})
	if errors.Is(err, ErrDuplicatePaymentReference) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to create paid order: %w", err)
	}
	return nil
}

// UpdatePaymentObservation stores the latest gateway payload and moves the
// payment status to next when the stored status may advance to it. The
// resulting payment status is returned.
func (s *OrderStore) UpdatePaymentObservation(ctx context.Context, orderID uuid.UUID, next models.PaymentStatus, response json.RawMessage) (models.PaymentStatus, error) {
	sources := make([]string, 0, 2)
	for _, status := range models.PaymentSourcesFor(next) {
		sources = append(sources, string(status))
	}

	query := `
		UPDATE orders
		SET payment_response = COALESCE($2, payment_response),
			payment_status = CASE WHEN payment_status = ANY($3) THEN $4 ELSE payment_status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING payment_status
	`
	var status string
	err := s.pool.QueryRow(ctx, query, orderID, nullableJSON(response), sources, string(next)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to update payment observation: %w", err)
	}
	return models.PaymentStatus(status), nil
}

// StatusUpdate describes a fulfillment transition. Tracking fields are only
// applied when moving to shipped.
type StatusUpdate struct {
	Status         models.OrderStatus
	TrackingNumber string
	TrackingURL    string
	Carrier        string
}

// UpdateStatus applies a fulfillment transition under a row lock. Cancelling
// a paid order refunds it; delivering a cash order settles its payment.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, update StatusUpdate) (*Order, error) {
	var order *Order
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			return err
		}
		if !models.CanTransition(current.Status, update.Status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, current.Status, update.Status)
		}

		paymentStatus := current.Payment.Status
		txnStatus := models.TransactionStatus("")
		failureReason := ""
		switch update.Status {
		case models.StatusCancelled:
			if paymentStatus == models.PaymentCompleted {
				paymentStatus = models.PaymentRefunded
			} else if paymentStatus == models.PaymentPending {
				txnStatus = models.TransactionFailed
				failureReason = "order cancelled before payment"
			}
		case models.StatusDelivered:
			if current.Payment.Method == models.MethodCashOnDelivery && paymentStatus == models.PaymentPending {
				paymentStatus = models.PaymentCompleted
				txnStatus = models.TransactionSuccess
			}
		}

		query := `
			UPDATE orders
			SET status = $2,
				payment_status = $3,
				tracking_number = CASE WHEN $2 = 'shipped' THEN COALESCE($4, tracking_number) ELSE tracking_number END,
				tracking_url = CASE WHEN $2 = 'shipped' THEN COALESCE($5, tracking_url) ELSE tracking_url END,
				carrier = CASE WHEN $2 = 'shipped' THEN COALESCE($6, carrier) ELSE carrier END,
				shipped_at = CASE WHEN $2 = 'shipped' THEN NOW() ELSE shipped_at END,
				delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE delivered_at END,
				cancelled_at = CASE WHEN $2 = 'cancelled' THEN NOW() ELSE cancelled_at END,
				updated_at = NOW()
			WHERE id = $1 AND status = $7
			RETURNING ` + orderColumns
		order, err = scanOrder(tx.QueryRow(ctx, query,
			orderID,
			string(update.Status),
			string(paymentStatus),
			nullableText(update.TrackingNumber),
			nullableText(update.TrackingURL),
			nullableText(update.Carrier),
			string(current.Status),
		))
		if err != nil {
			return err
		}

		if txnStatus != "" {
			_, err = tx.Exec(ctx, `
				UPDATE transactions
				SET status = $2, failure_reason = $3, updated_at = NOW()
				WHERE order_id = $1 AND status = 'pending'
			`, orderID, string(txnStatus), nullableText(failureReason))
			if err != nil {
				return fmt.Errorf("failed to settle transactions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return order, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, order *Order, guardReference bool) (bool, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return false, fmt.Errorf("failed to encode line items: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, user_id, customer_name, customer_email, items, shipping_address, phone,
			total_price, payment_method, payment_transaction_id, payment_status, payment_response, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13)
	`
	if guardReference {
		query += ` ON CONFLICT (payment_transaction_id) WHERE payment_transaction_id IS NOT NULL DO NOTHING`
	}
	query += ` RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		order.ID,
		order.UserID,
		order.CustomerName,
		order.CustomerEmail,
		itemsJSON,
		order.ShippingAddress,
		order.Phone,
		order.TotalPrice.StringFixed(2),
		string(order.Payment.Method),
		nullableText(order.Payment.TransactionID),
		string(order.Payment.Status),
		nullableJSON(order.Payment.ResponseData),
		string(order.Status),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert order: %w", err)
	}
	return true, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order          Order
		itemsJSON      []byte
		totalPrice     string
		paymentMethod  string
		transactionID  pgtype.Text
		paymentStatus  string
		responseJSON   []byte
		status         string
		trackingNumber pgtype.Text
		trackingURL    pgtype.Text
		carrier        pgtype.Text
		shippedAt      pgtype.Timestamptz
		deliveredAt    pgtype.Timestamptz
		cancelledAt    pgtype.Timestamptz
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.CustomerName,
		&order.CustomerEmail,
		&itemsJSON,
		&order.ShippingAddress,
		&order.Phone,
		&totalPrice,
		&paymentMethod,
		&transactionID,
		&paymentStatus,
		&responseJSON,
		&status,
		&trackingNumber,
		&trackingURL,
		&carrier,
		&order.CreatedAt,
		&order.UpdatedAt,
		&shippedAt,
		&deliveredAt,
		&cancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode line items: %w", err)
	}
	order.TotalPrice, err = decimal.NewFromString(totalPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total price: %w", err)
	}

	order.Payment = models.Payment{
		Method:        models.PaymentMethod(paymentMethod),
		TransactionID: transactionID.String,
		Status:        models.PaymentStatus(paymentStatus),
	}
	if len(responseJSON) > 0 {
		order.Payment.ResponseData = json.RawMessage(responseJSON)
	}
	order.Status = models.OrderStatus(status)
	order.TrackingNumber = trackingNumber.String
	order.TrackingURL = trackingURL.String
	order.Carrier = carrier.String
	order.ShippedAt = timeOrZero(shippedAt)
	order.DeliveredAt = timeOrZero(deliveredAt)
	order.CancelledAt = timeOrZero(cancelledAt)

	return &order, nil
}

func nullableText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return []byte(raw)
}

func timeOrZero(value pgtype.Timestamptz) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return value.Time
}
