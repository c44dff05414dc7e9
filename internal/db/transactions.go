package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/storefrontapp/storefront/internal/models"
)

type TransactionStore struct {
	pool *pgxpool.Pool
}

func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionColumns = `
	id, user_id, order_id, amount::text, method, status,
	gateway_transaction_id, failure_reason, created_at, updated_at
`

func (s *TransactionStore) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, txn *Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}

	query := `
		INSERT INTO transactions (id, user_id, order_id, amount, method, status, gateway_transaction_id, failure_reason)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		txn.ID,
		txn.UserID,
		txn.OrderID,
		txn.Amount.StringFixed(2),
		string(txn.Method),
		string(txn.Status),
		nullableText(txn.GatewayTransactionID),
		nullableText(txn.FailureReason),
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	transactions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		var (
			txn           Transaction
			amount        string
			method        string
			status        string
			gatewayTxnID  pgtype.Text
			failureReason pgtype.Text
		)
		if err := row.Scan(
			&txn.ID,
			&txn.UserID,
			&txn.OrderID,
			&amount,
			&method,
			&status,
			&gatewayTxnID,
			&failureReason,
			&txn.CreatedAt,
			&txn.UpdatedAt,
		); err != nil {
			return Transaction{}, err
		}

		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to parse amount: %w", err)
		}
		txn.Amount = parsed
		txn.Method = models.PaymentMethod(method)
		txn.Status = models.TransactionStatus(status)
		txn.GatewayTransactionID = gatewayTxnID.String
		txn.FailureReason = failureReason.String
		return txn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions: %w", err)
	}
	return transactions, nil
}
