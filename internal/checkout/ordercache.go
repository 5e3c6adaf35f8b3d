package checkout

import (
	"context"
	"sync"
	"time"
)

// OrderCache holds at most one order per quote id, for the lifetime of a checkout.
// A cached order is reused by every payment attempt until it succeeds, fails, expires,
// or the shopper logs out.
type OrderCache struct {
	mu      sync.Mutex
	entries map[string]Order
	// gen changes on Clear so an in-flight create can tell its result is no longer wanted.
	gen uint64
	now func() time.Time
}

func NewOrderCache(now func() time.Time) *OrderCache {
	if now == nil {
		now = time.Now
	}
	return &OrderCache{entries: make(map[string]Order), now: now}
}

// GetOrCreate returns the live cached order for quoteID or calls create and caches its result.
// A cached order that has run out is evicted and returned together with ErrOrderExpired.
// created reports whether create was called and succeeded.
func (c *OrderCache) GetOrCreate(ctx context.Context, quoteID string,
	create func(ctx context.Context, quoteID string) (Order, error)) (order Order, created bool, err error) {
	c.mu.Lock()
	if o, ok := c.entries[quoteID]; ok {
		if o.Live(c.now()) {
			c.mu.Unlock()
			return o, false, nil
		}
		delete(c.entries, quoteID)
		c.mu.Unlock()
		return o, false, ErrOrderExpired
	}
	gen := c.gen
	c.mu.Unlock()

	o, err := create(ctx, quoteID)
	if err != nil {
		return Order{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return o, true, errCacheCleared
	}
	c.entries[quoteID] = o
	return o, true, nil
}

func (c *OrderCache) Peek(quoteID string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[quoteID]
	return o, ok
}

// Evict removes and returns the entry for quoteID.
func (c *OrderCache) Evict(quoteID string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[quoteID]
	delete(c.entries, quoteID)
	return o, ok
}

// EvictOthers removes every entry not keyed by quoteID and returns what it removed.
func (c *OrderCache) EvictOthers(quoteID string) map[string]Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out map[string]Order
	for q, o := range c.entries {
		if q == quoteID {
			continue
		}
		if out == nil {
			out = make(map[string]Order)
		}
		out[q] = o
		delete(c.entries, q)
	}
	return out
}

// Clear drops every entry without cancelling anything; the orders lapse on their own.
func (c *OrderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.gen++
}

func (c *OrderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
