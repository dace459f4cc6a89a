package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rr "github.com/chainmux/rpcrouter"
	"github.com/chainmux/rpcrouter/scoring"
)

// Test: Normalization maps lower-is-better onto [0,1]
func TestNormalize(t *testing.T) {
	t.Run("orders lower values higher", func(t *testing.T) {
		out := scoring.Normalize([]float64{10, 20, 40})
		require.Len(t, out, 3)
		assert.Equal(t, 1.0, out[0])
		assert.InDelta(t, 0.6667, out[1], 0.0001)
		assert.Equal(t, 0.0, out[2])
	})

	t.Run("constant column scores one everywhere", func(t *testing.T) {
		out := scoring.Normalize([]float64{5, 5, 5})
		assert.Equal(t, []float64{1, 1, 1}, out)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, scoring.Normalize(nil))
	})

	t.Run("stays within bounds", func(t *testing.T) {
		for _, v := range scoring.Normalize([]float64{3, 99, 0.5, 42, 7}) {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	})
}

// Test: CRITIC weight edge cases
func TestCriticWeights(t *testing.T) {
	t.Run("no criteria", func(t *testing.T) {
		assert.Nil(t, scoring.CriticWeights(nil))
	})

	t.Run("single row falls back to equal weights", func(t *testing.T) {
		w := scoring.CriticWeights([][]float64{{0.5}, {0.7}})
		assert.Equal(t, []float64{0.5, 0.5}, w)
	})

	t.Run("constant criterion carries no weight", func(t *testing.T) {
		lat := []float64{0, 0.5, 1}
		price := []float64{1, 1, 1}
		w := scoring.CriticWeights([][]float64{lat, price})
		require.Len(t, w, 2)
		assert.Equal(t, 1.0, w[0])
		assert.Equal(t, 0.0, w[1])
	})

	t.Run("fully correlated criteria fall back to equal weights", func(t *testing.T) {
		col := []float64{0, 0, 1, 1}
		w := scoring.CriticWeights([][]float64{col, col})
		assert.Equal(t, []float64{0.5, 0.5}, w)
	})

	t.Run("weights always sum to one", func(t *testing.T) {
		w := scoring.CriticWeights([][]float64{
			{0, 0.2, 1, 0.4},
			{1, 0.1, 0, 0.9},
		})
		require.Len(t, w, 2)
		assert.InDelta(t, 1.0, w[0]+w[1], 1e-9)
		assert.Greater(t, w[0], 0.0)
		assert.Greater(t, w[1], 0.0)
	})
}

// Test: Engine scores the latest snapshot per provider
func TestEngine_Scores(t *testing.T) {
	store := rr.NewMetricsStore()
	for i := 0; i < 2; i++ {
		store.Append("free-1", "eth_getBalance", 100, 0.5)
		store.Append("free-2", "eth_getBalance", 10, 0.1)
	}
	// Pseudo-provider rows never reach the table or the history matrix.
	store.Append(rr.BestProvider, "eth_getBalance", 10, 0.1)

	e := scoring.NewEngine(store)
	table, w := e.Scores("eth_getBalance")
	require.Len(t, table, 2)

	assert.Equal(t, "free-1", table[0].Provider)
	assert.Equal(t, 0.0, table[0].Score)
	assert.Equal(t, "free-2", table[1].Provider)
	assert.Equal(t, 1.0, table[1].Score)
	assert.True(t, table[0].Eligible)
	assert.True(t, table[1].Eligible)

	// Latency and price move in lockstep here, so neither criterion
	// carries independent information and the weights split evenly.
	assert.InDelta(t, 0.5, w.Latency, 1e-9)
	assert.InDelta(t, 0.5, w.Price, 1e-9)
}

// Test: The eligibility flag follows the latest row per provider
func TestEngine_EligibilityFromLatestRow(t *testing.T) {
	store := rr.NewMetricsStore()
	store.Append("free-1", "eth_getBalance", 100, 0.5)
	store.AppendFailure("free-1", "eth_getBalance", 5000, 0.5)
	store.Append("free-2", "eth_getBalance", 10, 0.1)

	e := scoring.NewEngine(store)
	table, _ := e.Scores("eth_getBalance")
	require.Len(t, table, 2)

	assert.False(t, table[0].Eligible)
	assert.True(t, table[1].Eligible)
}

// Test: Empty store yields an empty table
func TestEngine_EmptyStore(t *testing.T) {
	e := scoring.NewEngine(rr.NewMetricsStore())

	table, w := e.Scores("eth_getBalance")
	assert.Empty(t, table)
	assert.Equal(t, rr.Weights{}, w)
}

// Test: A lone provider scores one
func TestEngine_SingleProvider(t *testing.T) {
	store := rr.NewMetricsStore()
	store.Append("free-1", "eth_getBalance", 120, 0.4)
	store.Append("free-1", "eth_getBalance", 80, 0.4)

	e := scoring.NewEngine(store)
	table, w := e.Scores("eth_getBalance")
	require.Len(t, table, 1)

	assert.Equal(t, "free-1", table[0].Provider)
	assert.InDelta(t, 1.0, table[0].Score, 1e-9)
	assert.InDelta(t, 1.0, w.Latency+w.Price, 1e-9)
}

// Test: Attached cache reuses computed tables
func TestEngine_UsesCache(t *testing.T) {
	store := rr.NewMetricsStore()
	store.Append("free-1", "eth_getBalance", 100, 0.5)
	store.Append("free-2", "eth_getBalance", 10, 0.1)

	cache := scoring.NewCache(0)
	e := scoring.NewEngine(store, scoring.WithCache(cache))

	first, _ := e.Scores("eth_getBalance")
	require.Len(t, first, 2)

	// New rows are invisible until the entry expires.
	store.Append("free-3", "eth_getBalance", 1, 0.01)
	second, _ := e.Scores("eth_getBalance")
	assert.Len(t, second, 2)

	stats := cache.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}
