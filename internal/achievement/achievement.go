// internal/achievement/achievement.go
package achievement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Provider resolves the fee discount earned by a token's achievements.
type Provider interface {
	DiscountBps(ctx context.Context, tokenID string) uint32
}

// Source is the backing store of discounts, usually the storage layer.
type Source interface {
	LoadDiscount(ctx context.Context, tokenID string) (uint32, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, tokenID string) (uint32, error)

func (f SourceFunc) LoadDiscount(ctx context.Context, tokenID string) (uint32, error) {
	return f(ctx, tokenID)
}

// None grants no discount.
type None struct{}

func (None) DiscountBps(context.Context, string) uint32 { return 0 }

type entry struct {
	bps      uint32
	loadedAt time.Time
}

// Cache is a TTL cache in front of a Source. Values are capped at maxBps.
// Reads are eventually consistent with the source.
type Cache struct {
	source Source
	ttl    time.Duration
	maxBps uint32
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	hits   uint64
	misses uint64
}

// NewCache creates a discount cache.
func NewCache(source Source, ttl time.Duration, maxBps uint32, logger *zap.Logger) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		maxBps:  maxBps,
		logger:  logger.Named("achievement"),
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// DiscountBps returns the cached discount, loading it on miss or expiry.
// A failed load keeps the stale value if there is one, otherwise no discount.
func (c *Cache) DiscountBps(ctx context.Context, tokenID string) uint32 {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()

	if ok && c.now().Sub(e.loadedAt) < c.ttl {
		atomic.AddUint64(&c.hits, 1)
		return e.bps
	}
	atomic.AddUint64(&c.misses, 1)

	bps, err := c.source.LoadDiscount(ctx, tokenID)
	if err != nil {
		c.logger.Warn("Failed to load achievement discount",
			zap.String("token_id", tokenID),
			zap.Bool("stale", ok),
			zap.Error(err))
		if ok {
			return e.bps
		}
		return 0
	}

	return c.Set(tokenID, bps)
}

// Set stores a discount, clamped to the cap, and returns the stored value.
func (c *Cache) Set(tokenID string, bps uint32) uint32 {
	if bps > c.maxBps {
		bps = c.maxBps
	}
	c.mu.Lock()
	c.entries[tokenID] = entry{bps: bps, loadedAt: c.now()}
	c.mu.Unlock()
	return bps
}

// Invalidate drops a cached value.
func (c *Cache) Invalidate(tokenID string) {
	c.mu.Lock()
	delete(c.entries, tokenID)
	c.mu.Unlock()
}

// Stats returns cache statistics
func (c *Cache) Stats() (entries int, hits, misses uint64) {
	c.mu.RLock()
	entries = len(c.entries)
	c.mu.RUnlock()
	return entries, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}
