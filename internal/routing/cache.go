package routing

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/roomstage/internal/ai"
)

// HealthCache holds provider health for a fixed window. Entries are replaced
// whole, never mutated.
type HealthCache interface {
	Get(ctx context.Context, provider string) (ai.Health, bool, error)
	Set(ctx context.Context, h ai.Health) error
	Invalidate(ctx context.Context, provider string) error
	Clear(ctx context.Context) error
}

type memoryEntry struct {
	health   ai.Health
	storedAt time.Time
}

// MemoryCache is a process-local HealthCache.
type MemoryCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map // provider -> *memoryEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(_ context.Context, provider string) (ai.Health, bool, error) {
	v, ok := c.entries.Load(provider)
	if !ok {
		return ai.Health{}, false, nil
	}
	e := v.(*memoryEntry)
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.entries.CompareAndDelete(provider, e)
		return ai.Health{}, false, nil
	}
	return e.health, true, nil
}

func (c *MemoryCache) Set(_ context.Context, h ai.Health) error {
	c.entries.Store(h.Provider, &memoryEntry{health: h, storedAt: c.now()})
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, provider string) error {
	c.entries.Delete(provider)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
	return nil
}
