package rpcrouter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rr "github.com/chainmux/rpcrouter"
)

// Test: Records view filters the pseudo-provider
func TestAnalytics_RecordsFiltersBest(t *testing.T) {
	store := rr.NewMetricsStore()
	store.Append("free-1", "eth_blockNumber", 10, 0.001)
	store.Append(rr.BestProvider, "eth_blockNumber", 10, 0.001)
	store.Append("free-2", "eth_blockNumber", 20, 0.002)

	a := rr.NewAnalytics(store)

	records := a.Records("eth_blockNumber")
	require.Len(t, records, 2)
	assert.Equal(t, "free-1", records[0].Provider)
	assert.Equal(t, "free-2", records[1].Provider)

	all := a.Records("")
	assert.Len(t, all, 2)
}

// Test: Summaries aggregate per provider with normalized columns
func TestAnalytics_Summaries(t *testing.T) {
	store := rr.NewMetricsStore()
	store.Append("free-2", "eth_blockNumber", 30, 0.004)
	store.Append("free-2", "eth_blockNumber", 10, 0.002)
	store.Append("free-1", "eth_blockNumber", 100, 0.001)
	store.Append(rr.BestProvider, "eth_blockNumber", 1, 0.001)

	a := rr.NewAnalytics(store)

	sums := a.Summaries("eth_blockNumber")
	require.Len(t, sums, 2)

	// Ordered by provider name.
	first, second := sums[0], sums[1]
	assert.Equal(t, "free-1", first.Provider)
	assert.Equal(t, 100.0, first.AvgLatencyMS)
	assert.Equal(t, 0.001, first.AvgPriceUSD)
	assert.Equal(t, 1, first.RecordCount)

	assert.Equal(t, "free-2", second.Provider)
	assert.Equal(t, 20.0, second.AvgLatencyMS)
	assert.Equal(t, 0.003, second.AvgPriceUSD)
	assert.Equal(t, 2, second.RecordCount)

	// Lower averages normalize to 1.
	assert.Equal(t, 0.0, first.LatencyNorm)
	assert.Equal(t, 1.0, second.LatencyNorm)
	assert.Equal(t, 1.0, first.PriceNorm)
	assert.Equal(t, 0.0, second.PriceNorm)
}

// Test: Summaries fold provider name case like the latest snapshot
func TestAnalytics_SummariesFoldCase(t *testing.T) {
	store := rr.NewMetricsStore()
	store.Append("Free-1", "eth_blockNumber", 10, 0.002)
	store.Append("FREE-1", "eth_blockNumber", 30, 0.004)

	a := rr.NewAnalytics(store)

	sums := a.Summaries("eth_blockNumber")
	require.Len(t, sums, 1)

	// First-seen spelling is kept for display.
	assert.Equal(t, "Free-1", sums[0].Provider)
	assert.Equal(t, 20.0, sums[0].AvgLatencyMS)
	assert.Equal(t, 0.003, sums[0].AvgPriceUSD)
	assert.Equal(t, 2, sums[0].RecordCount)
}

// Test: No records yields no summaries
func TestAnalytics_EmptySummaries(t *testing.T) {
	a := rr.NewAnalytics(rr.NewMetricsStore())
	assert.Nil(t, a.Summaries("eth_blockNumber"))
}

// Test: Latest snapshot passes through from the store
func TestAnalytics_LatestSnapshot(t *testing.T) {
	store := rr.NewMetricsStore()
	store.Append("free-1", "eth_blockNumber", 10, 0.001)
	store.Append("free-1", "eth_blockNumber", 15, 0.001)

	a := rr.NewAnalytics(store)

	latest := a.LatestSnapshot("eth_blockNumber")
	require.Len(t, latest, 1)
	assert.Equal(t, 15.0, latest[0].LatencyMS)
}
