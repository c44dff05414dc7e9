package pending

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/storefrontapp/storefront/internal/models"
)

const defaultMemoryStoreSize = 100_000

// MemoryStore keeps checkouts in process memory. Entries do not survive a
// restart; use the redis or postgres store when they must. A full store
// rejects new checkouts rather than evicting a live one.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, models.PendingCheckout]
	size  int
	now   func() time.Time
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	c, err := lru.New[string, models.PendingCheckout](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: c, size: size, now: time.Now}, nil
}

func (m *MemoryStore) Stage(ctx context.Context, checkout *models.PendingCheckout, ttl time.Duration) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := prepare(checkout, ttl, now); err != nil {
		return err
	}
	if !m.cache.Contains(checkout.OrderRef) && m.cache.Len() >= m.size {
		if m.sweepLocked(now) == 0 {
			return ErrStoreFull
		}
	}
	m.cache.Add(checkout.OrderRef, *checkout)
	return nil
}

func (m *MemoryStore) Take(ctx context.Context, orderRef string) (*models.PendingCheckout, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	checkout, ok := m.cache.Peek(orderRef)
	if !ok {
		return nil, ErrNotFound
	}
	m.cache.Remove(orderRef)

	if !m.now().Before(checkout.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &checkout, nil
}

func (m *MemoryStore) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-olderThan)
	var stale []models.PendingCheckout
	for _, key := range m.cache.Keys() {
		checkout, ok := m.cache.Peek(key)
		if !ok || !now.Before(checkout.ExpiresAt) {
			continue
		}
		if checkout.CreatedAt.Before(cutoff) {
			stale = append(stale, checkout)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	refs := make([]string, 0, len(stale))
	for _, checkout := range stale {
		refs = append(refs, checkout.OrderRef)
	}
	return refs, nil
}

func (m *MemoryStore) Sweep(ctx context.Context) (int, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sweepLocked(m.now()), nil
}

func (m *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for _, key := range m.cache.Keys() {
		checkout, ok := m.cache.Peek(key)
		if ok && !now.Before(checkout.ExpiresAt) {
			m.cache.Remove(key)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Close() error {
	return nil
}
