package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefrontapp/storefront/internal/models"
)

const (
	redisKeyPrefix = "pending:checkout:"
	redisIndexKey  = "pending:index"
	redisSweepScan = 500
)

// RedisStore keeps each checkout under its own key with a native expiry, and a
// sorted set of order references scored by creation time for stale listing.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (r *RedisStore) Stage(ctx context.Context, checkout *models.PendingCheckout, ttl time.Duration) error {
	if err := prepare(checkout, ttl, r.now()); err != nil {
		return err
	}

	payload, err := json.Marshal(checkout)
	if err != nil {
		return fmt.Errorf("failed to encode pending checkout: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisCheckoutKey(checkout.OrderRef), payload, ttl)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{
			Score:  float64(checkout.CreatedAt.UnixMilli()),
			Member: checkout.OrderRef,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to stage pending checkout: %w", err)
	}
	return nil
}

// Take runs GETDEL and the index removal in one MULTI/EXEC, so only one
// caller can observe the payload and a failed exchange leaves it staged.
func (r *RedisStore) Take(ctx context.Context, orderRef string) (*models.PendingCheckout, error) {
	var get *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.GetDel(ctx, redisCheckoutKey(orderRef))
		pipe.ZRem(ctx, redisIndexKey, orderRef)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to take pending checkout: %w", err)
	}

	payload, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
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

func (r *RedisStore) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	if limit <= 0 {
		limit = redisSweepScan
	}
	cutoff := r.now().Add(-olderThan).UnixMilli()

	refs, err := r.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff, 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending checkouts: %w", err)
	}

	live, _, err := r.partition(ctx, refs)
	if err != nil {
		return nil, err
	}
	return live, nil
}

// Sweep drops index members whose checkout key has already expired.
func (r *RedisStore) Sweep(ctx context.Context) (int, error) {
	refs, err := r.client.ZRange(ctx, redisIndexKey, 0, redisSweepScan-1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan pending index: %w", err)
	}

	_, expired, err := r.partition(ctx, refs)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	members := make([]any, len(expired))
	for i, ref := range expired {
		members[i] = ref
	}
	removed, err := r.client.ZRem(ctx, redisIndexKey, members...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune pending index: %w", err)
	}
	return int(removed), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) partition(ctx context.Context, refs []string) (live, expired []string, err error) {
	if len(refs) == 0 {
		return nil, nil, nil
	}

	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, len(refs))
	for i, ref := range refs {
		checks[i] = pipe.Exists(ctx, redisCheckoutKey(ref))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to check pending checkouts: %w", err)
	}

	for i, ref := range refs {
		if checks[i].Val() > 0 {
			live = append(live, ref)
		} else {
			expired = append(expired, ref)
		}
	}
	return live, expired, nil
}

func redisCheckoutKey(orderRef string) string {
	return redisKeyPrefix + orderRef
}
