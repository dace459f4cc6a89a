package rpcrouter

import (
	"context"

	"github.com/google/uuid"
)

// optimizeScored picks the provider with the best CRITIC-weighted
// score and dispatches to it once. Reservation and rate limiting still
// apply, but there is no failover: a scored pick that fails surfaces
// the error so callers see exactly what their chosen provider did.
func (r *Router) optimizeScored(ctx context.Context, req *ParsedRequest) *Response {
	rid := uuid.New().String()

	var (
		table ScoreTable
		w     Weights
	)
	if r.scorer != nil {
		table, w = r.scorer.Scores(req.Method)
	}
	if len(table) == 0 {
		// Nothing recorded for the method yet.
		return r.scoredColdStart(ctx, rid, req)
	}

	type rankedCandidate struct {
		p     *Provider
		score float64
	}
	// Rows whose latest outcome was a failure are dropped first; when
	// nothing eligible remains the full table is used so a bad streak
	// across the board cannot strand the request.
	rows := eligibleRows(table)
	if len(rows) == 0 {
		rows = table
	}
	var eligible []rankedCandidate
	for _, ps := range rows {
		p, ok := r.Provider(ps.Provider)
		if !ok {
			continue
		}
		if r.health.State(p.Name) == HealthUnhealthy {
			r.meter.OnSkip(SkipEvent{RequestID: rid, Provider: p.Name, Method: req.Method, Reason: SkipUnhealthy})
			continue
		}
		if !r.quota.Check(ctx, p.Name, p.LimitMonthly, 0) {
			r.meter.OnSkip(SkipEvent{RequestID: rid, Provider: p.Name, Method: req.Method, Reason: SkipQuota})
			continue
		}
		eligible = append(eligible, rankedCandidate{p: p, score: ps.Score})
	}
	if len(eligible) == 0 {
		return buildFailure(req.ID, ErrNoCandidates)
	}

	pick := 0
	explored := false
	if r.cfg.Router.EnableExploration && r.randFloat() < r.cfg.Router.ExplorationRate {
		pick = r.randIntn(len(eligible))
		explored = true
	} else {
		for i := range eligible {
			if eligible[i].score > eligible[pick].score {
				pick = i
			}
		}
	}
	sel := eligible[pick]

	if !r.limiter.Allow(sel.p.Name, sel.p.LimitRPS) {
		r.meter.OnSkip(SkipEvent{RequestID: rid, Provider: sel.p.Name, Method: req.Method, Reason: SkipRateLimit})
		return buildFailure(req.ID, &RouteError{Err: ErrExhausted, Provider: sel.p.Name, Method: req.Method})
	}

	cost := sel.p.CostOf(req.Method)
	if !r.quota.TryReserve(ctx, sel.p.Name, cost, sel.p.LimitMonthly) {
		r.meter.OnSkip(SkipEvent{RequestID: rid, Provider: sel.p.Name, Method: req.Method, Reason: SkipQuota})
		return buildFailure(req.ID, ErrNoCandidates)
	}

	r.meter.OnRoute(RouteEvent{
		RequestID: rid,
		Provider:  sel.p.Name,
		Method:    req.Method,
		Priority:  sel.p.Priority,
		Attempt:   1,
		Explored:  explored,
	})

	up, err := r.client.Send(ctx, sel.p.BaseURL, req.Raw, r.attemptTimeout())
	if err != nil {
		r.recordFailure(ctx, rid, sel.p, req.Method, cost, 1, err)
		return buildFailure(req.ID, &RouteError{
			Err:      ErrExhausted,
			Provider: sel.p.Name,
			Method:   req.Method,
			Attempts: 1,
			Last:     err,
		})
	}

	price := sel.p.PricePerCall(r.metrics, req.Method)
	r.metrics.Append(sel.p.Name, req.Method, up.LatencyMS, price)
	// Mirror the pick under the pseudo-provider so the winning row is
	// queryable; every candidate view filters it back out.
	r.metrics.Append(BestProvider, req.Method, up.LatencyMS, price)
	r.health.RecordSuccess(sel.p.Name)
	r.meter.OnResult(ResultEvent{
		RequestID: rid,
		Provider:  sel.p.Name,
		Method:    req.Method,
		Success:   true,
		LatencyMS: up.LatencyMS,
		PriceUSD:  price,
		Attempt:   1,
	})

	score := roundTo(sel.score, 4)
	d := &Decision{
		RequestID:        rid,
		SelectedProvider: sel.p.Name,
		Score:            &score,
		Weights:          Weights{Latency: roundTo(w.Latency, 3), Price: roundTo(w.Price, 3)},
		LatencyMS:        roundTo(up.LatencyMS, 2),
		PriceUSD:         roundTo(price, 6),
		AllProviders:     scoreMap(table),
	}
	return buildSuccess(req, up, d)
}

// scoredColdStart falls back to configuration order when no scores
// exist yet, reusing the spillover dispatch loop so quota, limits and
// penalties behave identically.
func (r *Router) scoredColdStart(ctx context.Context, rid string, req *ParsedRequest) *Response {
	cands := r.buildCandidates(ctx, rid, req.Method)
	if len(cands) == 0 {
		return buildFailure(req.ID, ErrNoCandidates)
	}
	return r.dispatchSequence(ctx, rid, req, cands, false)
}

// eligibleRows keeps the table rows whose latest recorded outcome was
// a success.
func eligibleRows(table ScoreTable) ScoreTable {
	out := make(ScoreTable, 0, len(table))
	for _, ps := range table {
		if ps.Eligible {
			out = append(out, ps)
		}
	}
	return out
}

func scoreMap(table ScoreTable) map[string]float64 {
	out := make(map[string]float64, len(table))
	for _, ps := range table {
		out[ps.Provider] = roundTo(ps.Score, 4)
	}
	return out
}
