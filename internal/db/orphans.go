package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrphanStore records payment notifications that could not be matched to a
// staged checkout or an existing order, for operator review.
type OrphanStore struct {
	pool *pgxpool.Pool
}

func NewOrphanStore(pool *pgxpool.Pool) *OrphanStore {
	return &OrphanStore{pool: pool}
}

func (s *OrphanStore) Record(ctx context.Context, orphan *OrphanedNotification) error {
	query := `
		INSERT INTO orphaned_notifications (order_ref, source, gateway_state, raw)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := s.pool.QueryRow(ctx, query,
		orphan.OrderRef,
		orphan.Source,
		orphan.GatewayState,
		nullableJSON(orphan.Raw),
	).Scan(&orphan.ID, &orphan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record orphaned notification: %w", err)
	}
	return nil
}

func (s *OrphanStore) ListByOrderRef(ctx context.Context, orderRef string) ([]OrphanedNotification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_ref, source, gateway_state, raw, created_at
		FROM orphaned_notifications
		WHERE order_ref = $1
		ORDER BY created_at
	`, orderRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned notifications: %w", err)
	}

	orphans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrphanedNotification, error) {
		var orphan OrphanedNotification
		var raw []byte
		err := row.Scan(&orphan.ID, &orphan.OrderRef, &orphan.Source, &orphan.GatewayState, &raw, &orphan.CreatedAt)
		if len(raw) > 0 {
			orphan.Raw = raw
		}
		return orphan, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orphaned notifications: %w", err)
	}
	return orphans, nil
}
