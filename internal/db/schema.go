package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The partial unique index on payment_transaction_id is what makes finalize
// safe under concurrency: two writers for one order reference cannot both
// insert. Cash orders leave the column NULL.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	items JSONB NOT NULL,
	shipping_address TEXT NOT NULL,
	phone TEXT NOT NULL,
	total_price NUMERIC(12,2) NOT NULL CHECK (total_price >= 0),
	payment_method TEXT NOT NULL,
	payment_transaction_id TEXT,
	payment_status TEXT NOT NULL,
	payment_response JSONB,
	status TEXT NOT NULL,
	tracking_number TEXT,
	tracking_url TEXT,
	carrier TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	shipped_at TIMESTAMPTZ,
	delivered_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_payment_transaction_id
	ON orders(payment_transaction_id) WHERE payment_transaction_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);

CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_id UUID NOT NULL REFERENCES orders(id),
	amount NUMERIC(12,2) NOT NULL CHECK (amount >= 0),
	method TEXT NOT NULL,
	status TEXT NOT NULL,
	gateway_transaction_id TEXT,
	failure_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_order_id ON transactions(order_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_one_success
	ON transactions(order_id) WHERE status = 'success';

CREATE TABLE IF NOT EXISTS orphaned_notifications (
	id BIGSERIAL PRIMARY KEY,
	order_ref TEXT NOT NULL,
	source TEXT NOT NULL,
	gateway_state TEXT NOT NULL,
	raw JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_orphaned_notifications_order_ref ON orphaned_notifications(order_ref);

CREATE TABLE IF NOT EXISTS pending_checkouts (
	order_ref TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_checkouts_created_at ON pending_checkouts(created_at);
CREATE INDEX IF NOT EXISTS idx_pending_checkouts_expires_at ON pending_checkouts(expires_at);
`

// Migrate creates the ledger tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
