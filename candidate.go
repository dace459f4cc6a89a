package rpcrouter

import (
	"context"
	"sort"
)

const (
	// defaultObservedLatencyMS stands in for providers with no samples
	// yet, so unknown providers sort behind proven fast ones but ahead
	// of slow ones.
	defaultObservedLatencyMS = 500.0

	// latencySampleWindow is how many recent samples feed the median.
	latencySampleWindow = 10
)

// candidate pairs a provider with its observed routing signals.
type candidate struct {
	provider *Provider
	latency  float64
}

// buildCandidates returns the providers that pass the quota filter,
// each with its observed median latency for the method.
func (r *Router) buildCandidates(ctx context.Context, requestID, method string) []candidate {
	var out []candidate
	for i := range r.providers {
		p := &r.providers[i]
		if !r.quota.Check(ctx, p.Name, p.LimitMonthly, 0) {
			r.meter.OnSkip(SkipEvent{
				RequestID: requestID,
				Provider:  p.Name,
				Method:    method,
				Reason:    SkipQuota,
			})
			continue
		}
		lat, ok := r.metrics.RecentLatency(p.Name, method, latencySampleWindow)
		if !ok {
			lat = defaultObservedLatencyMS
		}
		out = append(out, candidate{provider: p, latency: lat})
	}
	return out
}

// orderCandidates sorts by (priority, observed latency). The stable
// sort keeps configuration order for exact ties.
func orderCandidates(cands []candidate) []candidate {
	out := make([]candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].provider.Priority != out[j].provider.Priority {
			return out[i].provider.Priority < out[j].provider.Priority
		}
		return out[i].latency < out[j].latency
	})
	return out
}

// explore moves a random free-tier candidate to the head with
// probability explorationRate, keeping fresh latency samples flowing
// for providers the ordering would otherwise starve. Reports whether
// exploration fired.
func (r *Router) explore(cands []candidate) ([]candidate, bool) {
	if !r.cfg.Router.EnableExploration || len(cands) == 0 {
		return cands, false
	}
	if r.randFloat() >= r.cfg.Router.ExplorationRate {
		return cands, false
	}

	var free []int
	for i, c := range cands {
		if c.provider.Priority == PriorityFree {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return cands, false
	}

	pick := free[r.randIntn(len(free))]
	out := make([]candidate, 0, len(cands))
	out = append(out, cands[pick])
	for i, c := range cands {
		if i != pick {
			out = append(out, c)
		}
	}
	return out, true
}
