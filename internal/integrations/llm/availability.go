package llm

import (
	"context"
	"sync"
	"time"
)

const defaultAvailabilityTTL = 60 * time.Second

// AvailabilityCache remembers the last probe result for TTL so that a batch of
// classifications does not probe the model server once per message.
type AvailabilityCache struct {
	TTL time.Duration

	mu        sync.Mutex
	checkedAt time.Time
	available bool
	now       func() time.Time
}

func NewAvailabilityCache(ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	return &AvailabilityCache{TTL: ttl, now: time.Now}
}

// Check returns the cached result while fresh, otherwise runs probe.
func (c *AvailabilityCache) Check(ctx context.Context, probe func(context.Context) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if !c.checkedAt.IsZero() && now.Sub(c.checkedAt) < c.TTL {
		return c.available
	}
	c.available = probe(ctx)
	c.checkedAt = now
	return c.available
}

// MarkUnavailable records a failed call so callers stop trying until the
// TTL expires.
func (c *AvailabilityCache) MarkUnavailable() {
	c.mu.Lock()
	c.available = false
	c.checkedAt = c.clock()
	c.mu.Unlock()
}

func (c *AvailabilityCache) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
