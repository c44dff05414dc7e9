// Package cache holds short-lived markers: processed webhook deliveries and
// rejected payment references.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetIfAbsent stores value only when key is missing or expired and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider string
	// RedisClient is shared with other stores and closed by its owner.
	RedisClient *redis.Client
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis cache provider requires a redis client")
		}
		return NewRedisProviderFromClient(cfg.RedisClient), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

func WebhookKey(source, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, eventID)
}

// RejectionKey marks an order reference whose payment the gateway reported as
// failed or cancelled.
func RejectionKey(orderRef string) string {
	return "rejected:" + orderRef
}

// OrphanAlertKey marks an order reference operators were already paged about.
func OrphanAlertKey(orderRef string) string {
	return "orphan-alert:" + orderRef
}
