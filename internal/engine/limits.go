package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

// ItemCounter is the engine-owned count of emitted records. It implements
// the router's Limiter so every worker checks the same cap.
type ItemCounter struct {
	count atomic.Int64
	limit int64
}

// NewItemCounter creates a counter with the given cap. Zero means no cap.
func NewItemCounter(limit int64) *ItemCounter {
	return &ItemCounter{limit: limit}
}

// Add records n emitted items and returns the new total.
func (c *ItemCounter) Add(n int) int64 {
	return c.count.Add(int64(n))
}

// Set overwrites the count, e.g. with the number of records already in
// storage when resuming.
func (c *ItemCounter) Set(n int64) {
	c.count.Store(n)
}

// Count returns the number of items emitted so far.
func (c *ItemCounter) Count() int64 {
	return c.count.Load()
}

// Check returns a *types.LimitReachedError once the cap has been hit.
func (c *ItemCounter) Check() error {
	if c.limit > 0 && c.count.Load() >= c.limit {
		return &types.LimitReachedError{Limit: c.limit}
	}
	return nil
}

// hostLimiter is a per-host token bucket.
type hostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	perHost  rate.Limit
	burst    int
}

func newHostLimiter(requestsPerSecond float64, burst int) *hostLimiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  limit,
		burst:    burst,
	}
}

// Wait blocks until a request to host may go out.
func (h *hostLimiter) Wait(ctx context.Context, host string) error {
	return h.get(host).Wait(ctx)
}

func (h *hostLimiter) get(host string) *rate.Limiter {
	h.mu.RLock()
	l, ok := h.limiters[host]
	h.mu.RUnlock()
	if ok {
		return l
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(h.perHost, h.burst)
	h.limiters[host] = l
	return l
}
