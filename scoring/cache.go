package scoring

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/chainmux/rpcrouter"
)

// DefaultTTL is the score cache entry lifetime when none is configured.
const DefaultTTL = 5 * time.Second

// Cache holds computed score tables per method for a short TTL, so a
// burst of requests to the same method prices one scoring pass, not
// one per request. Reads return copies; the mutex also keeps the
// hit/miss counters consistent with the lookups they count.
type Cache struct {
	mu     sync.Mutex
	ttl    time.Duration
	items  *gocache.Cache
	hits   int64
	misses int64
}

type cacheEntry struct {
	table   rpcrouter.ScoreTable
	weights rpcrouter.Weights
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Total          int64   `json:"total"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	CachedMethods  int     `json:"cached_methods"`
}

// NewCache creates a Cache with the given TTL. A TTL of zero or less
// falls back to DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:   ttl,
		items: gocache.New(ttl, 2*ttl),
	}
}

// Get returns the cached table and weights for method, if fresh.
func (c *Cache) Get(method string) (rpcrouter.ScoreTable, rpcrouter.Weights, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items.Get(method)
	if !ok {
		c.misses++
		return nil, rpcrouter.Weights{}, false
	}
	c.hits++
	entry := v.(cacheEntry)
	return copyTable(entry.table), entry.weights, true
}

// Put stores the table and weights for method for one TTL.
func (c *Cache) Put(method string, table rpcrouter.ScoreTable, w rpcrouter.Weights) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(method, cacheEntry{table: copyTable(table), weights: w}, c.ttl)
}

// Invalidate drops the cached entry for one method.
func (c *Cache) Invalidate(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(method)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Flush()
}

// Stats returns hit/miss counters and the live entry count.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return CacheStats{
		Hits:           c.hits,
		Misses:         c.misses,
		Total:          total,
		HitRatePercent: rate,
		CachedMethods:  c.items.ItemCount(),
	}
}

func copyTable(table rpcrouter.ScoreTable) rpcrouter.ScoreTable {
	out := make(rpcrouter.ScoreTable, len(table))
	copy(out, table)
	return out
}
