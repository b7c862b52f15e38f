package geo

import (
	"context"

	"github.com/dgraph-io/ristretto"

	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
)

// DefaultCacheSize bounds the number of cached addresses.
const DefaultCacheSize = 10000

// Cached memoizes successful lookups of another Locator. Unknown results
// are not cached so a transient failure is retried on the next event.
type Cached struct {
	next  Locator
	cache *ristretto.Cache
}

// NewCached wraps next with a cache holding at most size addresses.
func NewCached(next Locator, size int64) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Locate(ctx context.Context, addr string) Location {
	if IsLocal(addr) {
		return Local
	}
	if v, ok := c.cache.Get(addr); ok {
		metrics.GeoCacheHits.Inc()
		return v.(Location)
	}
	metrics.GeoCacheMisses.Inc()

	loc := c.next.Locate(ctx, addr)
	if loc != Unknown {
		c.cache.Set(addr, loc, 1)
	}
	return loc
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() {
	c.cache.Wait()
}

func (c *Cached) Close() error {
	c.cache.Close()
	return nil
}
