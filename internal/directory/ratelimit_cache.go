package directory

import (
	"context"
	"time"

	"github.com/maypok86/otter"
)

type rateLimitSample struct {
	limited   bool
	checkedAt time.Time
}

// rateLimitCache memoizes provider rate-limit checks for a short validity
// window, bounding the store round-trips a busy scheduling loop performs.
// Backed by a bounded otter cache so churn across many accounts cannot grow
// it without limit.
type rateLimitCache struct {
	cache  otter.Cache[string, rateLimitSample]
	window time.Duration
	now    func() time.Time
}

func newRateLimitCache(capacity int, window time.Duration) *rateLimitCache {
	cache, err := otter.MustBuilder[string, rateLimitSample](capacity).
		Cost(func(_ string, _ rateLimitSample) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("directory: failed to create rate-limit cache: " + err.Error())
	}
	return &rateLimitCache{cache: cache, window: window, now: time.Now}
}

// check returns the (possibly cached) rate-limit state for key, calling
// fresh when no sample inside the validity window exists. A check error is
// returned uncached so the next call retries.
func (c *rateLimitCache) check(ctx context.Context, key string, fresh func(context.Context) (bool, error)) (bool, error) {
	if sample, ok := c.cache.Get(key); ok && c.now().Sub(sample.checkedAt) < c.window {
		return sample.limited, nil
	}
	limited, err := fresh(ctx)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, rateLimitSample{limited: limited, checkedAt: c.now()})
	return limited, nil
}

// invalidate drops the cached sample for key, forcing a fresh check.
func (c *rateLimitCache) invalidate(key string) {
	c.cache.Delete(key)
}

func (c *rateLimitCache) close() {
	c.cache.Close()
}
