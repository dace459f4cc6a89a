package rpcrouter

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MetricRecord is one observed dispatch outcome.
type MetricRecord struct {
	Provider   string  `json:"provider"`
	Method     string  `json:"method"`
	LatencyMS  float64 `json:"latency_ms"`
	PriceUSD   float64 `json:"price_usd"`
	Eligible   bool    `json:"eligible"`
	RequestSeq int64   `json:"request_seq"`
}

// CountReader supplies per-method request counts for pricing tiers.
type CountReader interface {
	RequestCount(provider, method string) int64
	MethodCounts(provider string) map[string]int64
}

type pairKey struct {
	provider string
	method   string
}

// MetricsStore is an append-only in-memory ledger of dispatch outcomes
// plus running request counts. Safe for concurrent use.
type MetricsStore struct {
	mu      sync.RWMutex
	records []MetricRecord
	counts  map[pairKey]int64
}

var _ CountReader = (*MetricsStore)(nil)

// NewMetricsStore creates an empty MetricsStore.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{counts: make(map[pairKey]int64)}
}

// Append records one successful dispatch outcome and bumps the
// (provider, method) request count. Non-finite or negative
// measurements are clamped to zero.
func (s *MetricsStore) Append(provider, method string, latencyMS, priceUSD float64) {
	s.append(provider, method, latencyMS, priceUSD, true)
}

// AppendFailure records a failed dispatch. The row is marked
// ineligible so snapshot consumers drop the provider until a success
// lands on top of it.
func (s *MetricsStore) AppendFailure(provider, method string, latencyMS, priceUSD float64) {
	s.append(provider, method, latencyMS, priceUSD, false)
}

func (s *MetricsStore) append(provider, method string, latencyMS, priceUSD float64, eligible bool) {
	if math.IsNaN(latencyMS) || math.IsInf(latencyMS, 0) || latencyMS < 0 {
		latencyMS = 0
	}
	if math.IsNaN(priceUSD) || math.IsInf(priceUSD, 0) || priceUSD < 0 {
		priceUSD = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{provider: provider, method: method}
	s.counts[key]++
	s.records = append(s.records, MetricRecord{
		Provider:   provider,
		Method:     method,
		LatencyMS:  latencyMS,
		PriceUSD:   priceUSD,
		Eligible:   eligible,
		RequestSeq: s.counts[key],
	})
}

// Records returns the recorded rows for a method in append order,
// or every row when method is empty.
func (s *MetricsStore) Records(method string) []MetricRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MetricRecord, 0, len(s.records))
	for _, r := range s.records {
		if method != "" && r.Method != method {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Latest returns the most recent row per provider for a method, ordered
// by provider name. The virtual Best provider is excluded.
func (s *MetricsStore) Latest(method string) []MetricRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []MetricRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.Method != method || IsBest(r.Provider) {
			continue
		}
		key := strings.ToLower(r.Provider)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// RequestCount returns how many rows exist for a (provider, method) pair.
func (s *MetricsStore) RequestCount(provider, method string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[pairKey{provider: provider, method: method}]
}

// MethodCounts returns the per-method request counts for one provider.
func (s *MetricsStore) MethodCounts(provider string) map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64)
	for key, n := range s.counts {
		if key.provider == provider {
			out[key.method] = n
		}
	}
	return out
}

// AllCounts returns every request count keyed "provider:method".
func (s *MetricsStore) AllCounts() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.counts))
	for key, n := range s.counts {
		out[fmt.Sprintf("%s:%s", key.provider, key.method)] = n
	}
	return out
}

// RecentLatency returns the median of the last n latency samples for a
// (provider, method) pair. ok is false when no samples exist.
func (s *MetricsStore) RecentLatency(provider, method string, n int) (latencyMS float64, ok bool) {
	if n <= 0 {
		return 0, false
	}

	s.mu.RLock()
	samples := make([]float64, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(samples) < n; i-- {
		r := s.records[i]
		if r.Provider == provider && r.Method == method {
			samples = append(samples, r.LatencyMS)
		}
	}
	s.mu.RUnlock()

	if len(samples) == 0 {
		return 0, false
	}
	sort.Float64s(samples)
	mid := len(samples) / 2
	if len(samples)%2 == 1 {
		return samples[mid], true
	}
	return (samples[mid-1] + samples[mid]) / 2, true
}

// Len returns the total number of recorded rows.
func (s *MetricsStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
