package rpcrouter

import (
	"sort"
	"strings"
)

// ProviderSummary aggregates a provider's recorded behaviour for one
// method. Normalized columns map averages onto [0,1] with lower raw
// values scoring higher.
type ProviderSummary struct {
	Provider     string  `json:"provider"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	AvgPriceUSD  float64 `json:"avg_price_usd"`
	RecordCount  int     `json:"record_count"`
	LatencyNorm  float64 `json:"latency_norm"`
	PriceNorm    float64 `json:"price_norm"`
}

// Analytics derives read-only views over a MetricsStore. All methods
// exclude the virtual Best provider from their output.
type Analytics struct {
	store *MetricsStore
}

// NewAnalytics creates an Analytics view over store.
func NewAnalytics(store *MetricsStore) *Analytics {
	return &Analytics{store: store}
}

// Records returns recorded rows for a method (all methods when empty),
// in append order.
func (a *Analytics) Records(method string) []MetricRecord {
	rows := a.store.Records(method)
	out := rows[:0]
	for _, r := range rows {
		if IsBest(r.Provider) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// LatestSnapshot returns the most recent row per provider for a method.
func (a *Analytics) LatestSnapshot(method string) []MetricRecord {
	return a.store.Latest(method)
}

// Summaries returns per-provider aggregate rows for a method, ordered
// by provider name.
func (a *Analytics) Summaries(method string) []ProviderSummary {
	type agg struct {
		name    string
		latency float64
		price   float64
		count   int
	}

	// Aggregate case-insensitively, matching the Latest snapshot;
	// the first-seen spelling is kept for display.
	byProvider := make(map[string]*agg)
	var order []string
	for _, r := range a.store.Records(method) {
		if IsBest(r.Provider) {
			continue
		}
		key := strings.ToLower(r.Provider)
		g, ok := byProvider[key]
		if !ok {
			g = &agg{name: r.Provider}
			byProvider[key] = g
			order = append(order, key)
		}
		g.latency += r.LatencyMS
		g.price += r.PriceUSD
		g.count++
	}
	if len(order) == 0 {
		return nil
	}
	sort.Strings(order)

	avgLat := make([]float64, len(order))
	avgPrice := make([]float64, len(order))
	for i, key := range order {
		g := byProvider[key]
		avgLat[i] = g.latency / float64(g.count)
		avgPrice[i] = g.price / float64(g.count)
	}
	latNorm := normalizeLowerBetter(avgLat)
	priceNorm := normalizeLowerBetter(avgPrice)

	out := make([]ProviderSummary, len(order))
	for i, key := range order {
		g := byProvider[key]
		out[i] = ProviderSummary{
			Provider:     g.name,
			AvgLatencyMS: roundTo(avgLat[i], 2),
			AvgPriceUSD:  roundTo(avgPrice[i], 6),
			RecordCount:  g.count,
			LatencyNorm:  roundTo(latNorm[i], 4),
			PriceNorm:    roundTo(priceNorm[i], 4),
		}
	}
	return out
}

// normalizeLowerBetter maps xs onto [0,1] where the smallest value
// scores 1. A constant column scores 1 everywhere. The scoring engine
// applies the same transform to its own history matrix.
func normalizeLowerBetter(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	min, max := xs[0], xs[0]
	for _, v := range xs[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range xs {
		out[i] = 1 - (v-min)/(max-min)
	}
	return out
}
