package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/offerwatch/internal/infra/chain"
)

// HeadCache caches the latest checkpoint sequence number to reduce redundant API calls.
// This is particularly useful when the indexer is at the chain head and polling frequently.
type HeadCache struct {
	source chain.CheckpointSource
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(source chain.CheckpointSource, ttl time.Duration) *HeadCache {
	return &HeadCache{
		source: source,
		ttl:    ttl,
	}
}

// LatestCheckpoint returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) LatestCheckpoint(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && !c.cachedAt.IsZero() {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	// Cache miss or expired - fetch fresh
	head, err := c.source.LatestCheckpoint(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
