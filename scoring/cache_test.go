package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rr "github.com/chainmux/rpcrouter"
	"github.com/chainmux/rpcrouter/scoring"
)

func sampleTable() rr.ScoreTable {
	return rr.ScoreTable{
		{Provider: "free-1", Score: 0.25, LatencyMS: 100, PriceUSD: 0.5},
		{Provider: "free-2", Score: 1.0, LatencyMS: 10, PriceUSD: 0.1},
	}
}

// Test: Round trip returns what was stored
func TestCache_PutGet(t *testing.T) {
	c := scoring.NewCache(time.Minute)

	_, _, ok := c.Get("eth_getBalance")
	assert.False(t, ok)

	want := sampleTable()
	c.Put("eth_getBalance", want, rr.Weights{Latency: 0.7, Price: 0.3})

	got, w, ok := c.Get("eth_getBalance")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, rr.Weights{Latency: 0.7, Price: 0.3}, w)

	// Other methods are independent entries.
	_, _, ok = c.Get("eth_call")
	assert.False(t, ok)
}

// Test: Readers get copies, not the stored slice
func TestCache_CopyIsolation(t *testing.T) {
	c := scoring.NewCache(time.Minute)
	c.Put("eth_getBalance", sampleTable(), rr.Weights{})

	first, _, ok := c.Get("eth_getBalance")
	require.True(t, ok)
	first[0].Score = 99

	second, _, ok := c.Get("eth_getBalance")
	require.True(t, ok)
	assert.Equal(t, 0.25, second[0].Score)
}

// Test: Entries expire after the TTL
func TestCache_TTLExpiry(t *testing.T) {
	c := scoring.NewCache(20 * time.Millisecond)
	c.Put("eth_getBalance", sampleTable(), rr.Weights{})

	_, _, ok := c.Get("eth_getBalance")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	_, _, ok = c.Get("eth_getBalance")
	assert.False(t, ok)
}

// Test: Invalidation drops entries
func TestCache_Invalidate(t *testing.T) {
	c := scoring.NewCache(time.Minute)
	c.Put("eth_getBalance", sampleTable(), rr.Weights{})
	c.Put("eth_call", sampleTable(), rr.Weights{})

	c.Invalidate("eth_getBalance")
	_, _, ok := c.Get("eth_getBalance")
	assert.False(t, ok)
	_, _, ok = c.Get("eth_call")
	assert.True(t, ok)

	c.InvalidateAll()
	_, _, ok = c.Get("eth_call")
	assert.False(t, ok)
}

// Test: Stats track hits, misses and the hit rate
func TestCache_Stats(t *testing.T) {
	c := scoring.NewCache(time.Minute)

	c.Get("eth_getBalance")
	c.Put("eth_getBalance", sampleTable(), rr.Weights{})
	c.Get("eth_getBalance")
	c.Get("eth_getBalance")

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 3, stats.Total)
	assert.InDelta(t, 66.67, stats.HitRatePercent, 0.01)
	assert.Equal(t, 1, stats.CachedMethods)
}
