package tenants

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// CachedDirectory caches key validations and plan limits for a TTL.
// Tenant listings and key counts always go to the underlying directory.
type CachedDirectory struct {
	Directory
	keys  *ttlCache[*models.KeyValidation]
	plans *ttlCache[models.PlanLimits]
}

// NewCachedDirectory wraps dir. A non-positive ttl disables caching.
func NewCachedDirectory(dir Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		Directory: dir,
		keys:      newTTLCache[*models.KeyValidation](ttl),
		plans:     newTTLCache[models.PlanLimits](ttl),
	}
}

func (c *CachedDirectory) ValidateKey(ctx context.Context, apiKey string) (*models.KeyValidation, error) {
	h := HashKey(apiKey)
	if v, ok := c.keys.get(h); ok {
		return v, nil
	}
	v, err := c.Directory.ValidateKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	c.keys.set(h, v)
	return v, nil
}

func (c *CachedDirectory) PlanLimits(ctx context.Context, plan string) (models.PlanLimits, error) {
	if v, ok := c.plans.get(plan); ok {
		return v, nil
	}
	v, err := c.Directory.PlanLimits(ctx, plan)
	if err != nil {
		return nil, err
	}
	c.plans.set(plan, v)
	return v, nil
}

// Invalidate drops every cached entry.
func (c *CachedDirectory) Invalidate() {
	c.keys.reset()
	c.plans.reset()
}

type ttlCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (tc *ttlCache[V]) get(key string) (V, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	entry, exists := tc.entries[key]
	if !exists || tc.now().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (tc *ttlCache[V]) set(key string, value V) {
	if tc.ttl <= 0 {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := tc.now()
	tc.entries[key] = cacheEntry[V]{value: value, expiresAt: now.Add(tc.ttl)}

	for k, entry := range tc.entries {
		if now.After(entry.expiresAt) {
			delete(tc.entries, k)
		}
	}
}

func (tc *ttlCache[V]) reset() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	clear(tc.entries)
}
