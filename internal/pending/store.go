// Package pending stages checkout payloads between payment session creation
// and a known payment outcome.
package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/storefrontapp/storefront/internal/models"
)

var (
	ErrNotFound  = errors.New("pending checkout not found")
	ErrStoreFull = errors.New("pending checkout store is full")
)

// Store is a keyed, time-bounded staging area. Take is an atomic
// read-and-delete: among concurrent callers for one order reference exactly
// one receives the checkout.
type Store interface {
	Stage(ctx context.Context, checkout *models.PendingCheckout, ttl time.Duration) error
	Take(ctx context.Context, orderRef string) (*models.PendingCheckout, error)
	// Stale lists unexpired order references staged more than olderThan ago,
	// oldest first.
	Stale(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
	// Sweep evicts expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	Close() error
}

type Config struct {
	Provider    string
	RedisClient *redis.Client
	Pool        *pgxpool.Pool
}

func NewStore(cfg Config) (Store, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryStore(defaultMemoryStoreSize)
	case "redis":
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis pending store requires a redis client")
		}
		return NewRedisStore(cfg.RedisClient), nil
	case "postgres":
		if cfg.Pool == nil {
			return nil, fmt.Errorf("postgres pending store requires a database pool")
		}
		return NewPostgresStore(cfg.Pool), nil
	default:
		return nil, fmt.Errorf("unsupported pending store provider: %s", cfg.Provider)
	}
}

func prepare(checkout *models.PendingCheckout, ttl time.Duration, now time.Time) error {
	if checkout == nil || checkout.OrderRef == "" {
		return fmt.Errorf("pending checkout requires an order reference")
	}
	if ttl <= 0 {
		return fmt.Errorf("pending checkout ttl must be positive")
	}
	if checkout.CreatedAt.IsZero() {
		checkout.CreatedAt = now
	}
	checkout.ExpiresAt = now.Add(ttl)
	return nil
}
