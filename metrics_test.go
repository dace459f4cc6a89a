package rpcrouter_test

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rr "github.com/chainmux/rpcrouter"
)

// Test: Append bumps the per-pair request sequence
func TestMetricsStore_AppendSequencing(t *testing.T) {
	s := rr.NewMetricsStore()

	s.Append("free-1", "eth_blockNumber", 12.5, 0.001)
	s.Append("free-1", "eth_blockNumber", 14.0, 0.001)
	s.Append("free-1", "eth_getBalance", 20.0, 0.002)
	s.Append("free-2", "eth_blockNumber", 30.0, 0.003)

	assert.Equal(t, 4, s.Len())
	assert.EqualValues(t, 2, s.RequestCount("free-1", "eth_blockNumber"))
	assert.EqualValues(t, 1, s.RequestCount("free-1", "eth_getBalance"))
	assert.EqualValues(t, 1, s.RequestCount("free-2", "eth_blockNumber"))
	assert.EqualValues(t, 0, s.RequestCount("free-2", "eth_getBalance"))

	records := s.Records("eth_blockNumber")
	require.Len(t, records, 3)
	assert.EqualValues(t, 1, records[0].RequestSeq)
	assert.EqualValues(t, 2, records[1].RequestSeq)
	assert.EqualValues(t, 1, records[2].RequestSeq)
	assert.True(t, records[0].Eligible)
}

// Test: AppendFailure marks the row ineligible but still counts
func TestMetricsStore_AppendFailure(t *testing.T) {
	s := rr.NewMetricsStore()

	s.Append("free-1", "eth_blockNumber", 12.5, 0.001)
	s.AppendFailure("free-1", "eth_blockNumber", 5000, 0.001)

	records := s.Records("eth_blockNumber")
	require.Len(t, records, 2)
	assert.True(t, records[0].Eligible)
	assert.False(t, records[1].Eligible)

	// Failures still bump the pair count and land in Latest.
	assert.EqualValues(t, 2, s.RequestCount("free-1", "eth_blockNumber"))
	latest := s.Latest("eth_blockNumber")
	require.Len(t, latest, 1)
	assert.False(t, latest[0].Eligible)
}

// Test: Non-finite and negative measurements are clamped to zero
func TestMetricsStore_ClampsBadMeasurements(t *testing.T) {
	s := rr.NewMetricsStore()

	s.Append("free-1", "eth_blockNumber", math.NaN(), math.Inf(1))
	s.Append("free-1", "eth_blockNumber", -5, -0.01)

	for _, rec := range s.Records("") {
		assert.Equal(t, 0.0, rec.LatencyMS)
		assert.Equal(t, 0.0, rec.PriceUSD)
	}
}

// Test: Records with an empty method returns every row
func TestMetricsStore_RecordsUnfiltered(t *testing.T) {
	s := rr.NewMetricsStore()

	s.Append("free-1", "eth_blockNumber", 10, 0)
	s.Append("free-2", "eth_getBalance", 20, 0)

	assert.Len(t, s.Records(""), 2)
	assert.Len(t, s.Records("eth_getBalance"), 1)
	assert.Empty(t, s.Records("eth_call"))
}

// Test: Latest returns one row per provider, Best excluded
func TestMetricsStore_Latest(t *testing.T) {
	s := rr.NewMetricsStore()

	s.Append("free-2", "eth_blockNumber", 10, 0.1)
	s.Append("free-1", "eth_blockNumber", 20, 0.2)
	s.Append("free-1", "eth_blockNumber", 25, 0.3)
	s.Append(rr.BestProvider, "eth_blockNumber", 25, 0.3)
	s.Append("free-1", "eth_getBalance", 99, 0.9)

	latest := s.Latest("eth_blockNumber")
	require.Len(t, latest, 2)

	// Ordered by provider name, each holding the most recent row.
	assert.Equal(t, "free-1", latest[0].Provider)
	assert.Equal(t, 25.0, latest[0].LatencyMS)
	assert.Equal(t, "free-2", latest[1].Provider)
	assert.Equal(t, 10.0, latest[1].LatencyMS)

	assert.Empty(t, s.Latest("eth_call"))
}

// Test: MethodCounts and AllCounts
func TestMetricsStore_Counts(t *testing.T) {
	s := rr.NewMetricsStore()

	s.Append("free-1", "eth_blockNumber", 10, 0)
	s.Append("free-1", "eth_blockNumber", 11, 0)
	s.Append("free-1", "eth_getBalance", 12, 0)
	s.Append("free-2", "eth_blockNumber", 13, 0)

	counts := s.MethodCounts("free-1")
	assert.EqualValues(t, 2, counts["eth_blockNumber"])
	assert.EqualValues(t, 1, counts["eth_getBalance"])
	assert.Len(t, counts, 2)

	all := s.AllCounts()
	assert.EqualValues(t, 2, all["free-1:eth_blockNumber"])
	assert.EqualValues(t, 1, all["free-2:eth_blockNumber"])
}

// Test: RecentLatency is the median of the last n samples
func TestMetricsStore_RecentLatency(t *testing.T) {
	s := rr.NewMetricsStore()

	_, ok := s.RecentLatency("free-1", "eth_blockNumber", 10)
	assert.False(t, ok)

	s.Append("free-1", "eth_blockNumber", 10, 0)
	s.Append("free-1", "eth_blockNumber", 30, 0)
	s.Append("free-1", "eth_blockNumber", 20, 0)

	// Odd count: middle value.
	med, ok := s.RecentLatency("free-1", "eth_blockNumber", 10)
	require.True(t, ok)
	assert.Equal(t, 20.0, med)

	// Even count: average of the two middle values.
	s.Append("free-1", "eth_blockNumber", 40, 0)
	med, ok = s.RecentLatency("free-1", "eth_blockNumber", 10)
	require.True(t, ok)
	assert.Equal(t, 25.0, med)

	// A window of two only sees the most recent samples.
	med, ok = s.RecentLatency("free-1", "eth_blockNumber", 2)
	require.True(t, ok)
	assert.Equal(t, 30.0, med)

	_, ok = s.RecentLatency("free-1", "eth_blockNumber", 0)
	assert.False(t, ok)
}

// Test: Concurrent appends keep counts consistent
func TestMetricsStore_ConcurrentAppends(t *testing.T) {
	s := rr.NewMetricsStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Append("free-1", "eth_blockNumber", 10, 0.001)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, s.Len())
	assert.EqualValues(t, 1000, s.RequestCount("free-1", "eth_blockNumber"))
}
