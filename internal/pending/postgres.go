package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefrontapp/storefront/internal/models"
)

// PostgresStore stages checkouts in the pending_checkouts table so they
// survive restarts. Take is a single conditional DELETE ... RETURNING.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Stage(ctx context.Context, checkout *models.PendingCheckout, ttl time.Duration) error {
	if err := prepare(checkout, ttl, time.Now().UTC()); err != nil {
		return err
	}

	payload, err := json.Marshal(checkout)
	if err != nil {
		return fmt.Errorf("failed to encode pending checkout: %w", err)
	}

	query := `
		INSERT INTO pending_checkouts (order_ref, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_ref) DO UPDATE
		SET payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.pool.Exec(ctx, query, checkout.OrderRef, payload, checkout.CreatedAt, checkout.ExpiresAt); err != nil {
		return fmt.Errorf("failed to stage pending checkout: %w", err)
	}
	return nil
}

func (s *PostgresStore) Take(ctx context.Context, orderRef string) (*models.PendingCheckout, error) {
	query := `
		DELETE FROM pending_checkouts
		WHERE order_ref = $1 AND expires_at > NOW()
		RETURNING payload
	`

	var payload []byte
	err := s.pool.QueryRow(ctx, query, orderRef).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take pending checkout: %w", err)
	}

	var checkout models.PendingCheckout
	if err := json.Unmarshal(payload, &checkout); err != nil {
		return nil, fmt.Errorf("failed to decode pending checkout: %w", err)
	}
	return &checkout, nil
}

func (s *PostgresStore) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT order_ref
		FROM pending_checkouts
		WHERE created_at < $1 AND expires_at > NOW()
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending checkouts: %w", err)
	}

	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale pending checkouts: %w", err)
	}
	return refs, nil
}

func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pending_checkouts WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep pending checkouts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool belongs to the ledger.
func (s *PostgresStore) Close() error {
	return nil
}
