package db

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/storefrontapp/storefront/internal/models"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	// Migrate must be repeatable.
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func cleanup(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE transactions, orders, orphaned_notifications, pending_checkouts`)
	require.NoError(t, err)
}

func paidOrder(ref string, total string) (*Order, *Transaction) {
	amount := decimal.RequireFromString(total)
	order := &Order{
		Items:           []models.LineItem{{ProductID: "p1", Name: "Lamp", Quantity: 1, UnitPrice: amount}},
		UserID:          "user-1",
		CustomerName:    "Asha",
		CustomerEmail:   "asha@example.com",
		ShippingAddress: "12 Park Street, Pune",
		Phone:           "9999999999",
		TotalPrice:      amount,
		Payment: models.Payment{
			Method:        models.MethodGatewayPay,
			TransactionID: ref,
			Status:        models.PaymentCompleted,
			ResponseData:  json.RawMessage(`{"code":"PAYMENT_SUCCESS"}`),
		},
		Status: models.StatusProcessing,
	}
	txn := &Transaction{
		UserID:               "user-1",
		Amount:               amount,
		Method:               models.MethodGatewayPay,
		Status:               models.TransactionSuccess,
		GatewayTransactionID: "T-" + ref,
	}
	return order, txn
}

func TestOrderStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := setupTestDB(t)
	orders := NewOrderStore(pool)
	transactions := NewTransactionStore(pool)
	orphans := NewOrphanStore(pool)
	ctx := context.Background()

	t.Run("paid order round trip", func(t *testing.T) {
		cleanup(t, pool)

		order, txn := paidOrder("ORD_round", "1200.00")
		require.NoError(t, orders.CreatePaidOrder(ctx, order, txn))

		got, err := orders.GetByPaymentReference(ctx, "ORD_round")
		require.NoError(t, err)
		assert.Equal(t, order.ID, got.ID)
		assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("1200")))
		assert.Equal(t, models.PaymentCompleted, got.Payment.Status)
		assert.Equal(t, models.StatusProcessing, got.Status)
		assert.Len(t, got.Items, 1)

		txns, err := transactions.ListByOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, models.TransactionSuccess, txns[0].Status)
		assert.Equal(t, "T-ORD_round", txns[0].GatewayTransactionID)
	})

	t.Run("concurrent creates for one reference yield one order", func(t *testing.T) {
		cleanup(t, pool)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				order, txn := paidOrder("ORD_race", "499.00")
				errs <- orders.CreatePaidOrder(ctx, order, txn)
			}()
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicatePaymentReference)
		}
		assert.Equal(t, 1, created)

		var count int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE payment_transaction_id = 'ORD_race'`).Scan(&count))
		assert.Equal(t, 1, count)
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE status = 'success'`).Scan(&count))
		assert.Equal(t, 1, count)
	})

	t.Run("cash orders skip the reference index", func(t *testing.T) {
		cleanup(t, pool)

		for i := 0; i < 2; i++ {
			order := &Order{
				Items:           []models.LineItem{{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("499.00")}},
				UserID:          "user-2",
				ShippingAddress: "4 Lake Road",
				Phone:           "8888888888",
				TotalPrice:      decimal.RequireFromString("499.00"),
				Payment:         models.Payment{Method: models.MethodCashOnDelivery, Status: models.PaymentPending},
				Status:          models.StatusConfirmed,
			}
			txn, err := orders.CreateCashOrder(ctx, order)
			require.NoError(t, err)
			assert.Equal(t, models.TransactionPending, txn.Status)
			assert.Equal(t, order.ID, txn.OrderID)
		}

		txns, err := transactions.ListByUser(ctx, "user-2", 10)
		require.NoError(t, err)
		assert.Len(t, txns, 2)
	})

	t.Run("cancel refunds and locks the order", func(t *testing.T) {
		cleanup(t, pool)

		order, txn := paidOrder("ORD_cancel", "1200.00")
		require.NoError(t, orders.CreatePaidOrder(ctx, order, txn))

		updated, err := orders.UpdateStatus(ctx, order.ID, StatusUpdate{Status: models.StatusCancelled})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, updated.Status)
		assert.Equal(t, models.PaymentRefunded, updated.Payment.Status)
		assert.False(t, updated.CancelledAt.IsZero())

		_, err = orders.UpdateStatus(ctx, order.ID, StatusUpdate{Status: models.StatusShipped})
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})

	t.Run("shipping stores tracking and delivery settles cash", func(t *testing.T) {
		cleanup(t, pool)

		order := &Order{
			Items:           []models.LineItem{{ProductID: "p3", Quantity: 1, UnitPrice: decimal.RequireFromString("250.00")}},
			UserID:          "user-3",
			ShippingAddress: "9 Hill View",
			Phone:           "7777777777",
			TotalPrice:      decimal.RequireFromString("250.00"),
			Payment:         models.Payment{Method: models.MethodCashOnDelivery, Status: models.PaymentPending},
			Status:          models.StatusConfirmed,
		}
		_, err := orders.CreateCashOrder(ctx, order)
		require.NoError(t, err)

		shipped, err := orders.UpdateStatus(ctx, order.ID, StatusUpdate{
			Status:         models.StatusShipped,
			TrackingNumber: "1Z999",
			Carrier:        "UPS",
			TrackingURL:    "https://www.ups.com/track?tracknum=1Z999",
		})
		require.NoError(t, err)
		assert.Equal(t, "1Z999", shipped.TrackingNumber)
		assert.False(t, shipped.ShippedAt.IsZero())

		delivered, err := orders.UpdateStatus(ctx, order.ID, StatusUpdate{Status: models.StatusDelivered})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentCompleted, delivered.Payment.Status)
		assert.Equal(t, "1Z999", delivered.TrackingNumber)

		txns, err := transactions.ListByOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, models.TransactionSuccess, txns[0].Status)
	})

	t.Run("same status is rejected", func(t *testing.T) {
		cleanup(t, pool)

		order, txn := paidOrder("ORD_same", "10.00")
		require.NoError(t, orders.CreatePaidOrder(ctx, order, txn))

		_, err := orders.UpdateStatus(ctx, order.ID, StatusUpdate{Status: models.StatusProcessing})
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})

	t.Run("payment observations never regress", func(t *testing.T) {
		cleanup(t, pool)

		order, txn := paidOrder("ORD_late", "10.00")
		require.NoError(t, orders.CreatePaidOrder(ctx, order, txn))

		status, err := orders.UpdatePaymentObservation(ctx, order.ID, models.PaymentFailed, json.RawMessage(`{"code":"PAYMENT_ERROR"}`))
		require.NoError(t, err)
		assert.Equal(t, models.PaymentCompleted, status)

		got, err := orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"code":"PAYMENT_ERROR"}`, string(got.Payment.ResponseData))
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := orders.GetByID(ctx, uuid.New())
		assert.True(t, errors.Is(err, ErrOrderNotFound))

		_, err = orders.UpdateStatus(ctx, uuid.New(), StatusUpdate{Status: models.StatusShipped})
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("orphans are recorded", func(t *testing.T) {
		cleanup(t, pool)

		orphan := &OrphanedNotification{OrderRef: "ORD_ghost", Source: "webhook", GatewayState: "completed", Raw: json.RawMessage(`{"a":1}`)}
		require.NoError(t, orphans.Record(ctx, orphan))
		assert.NotZero(t, orphan.ID)

		listed, err := orphans.ListByOrderRef(ctx, "ORD_ghost")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, "webhook", listed[0].Source)
	})
}
