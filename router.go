package rpcrouter

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// penaltyLatencyMS is recorded for failed dispatches so failing
// providers sort to the back of latency-ordered candidate lists.
const penaltyLatencyMS = 5000.0

const (
	defaultAttemptTimeout = 5 * time.Second
	defaultDirectTimeout  = 10 * time.Second
)

// Client-facing messages for the -32000 terminal states.
const (
	msgNoQuota           = "No providers available with remaining quota"
	msgAllFailedFmt      = "All eligible providers failed or were rate limited. Last error: %v"
	msgRateLimited       = "All eligible providers are rate limited"
	msgCannotRouteDirect = "The virtual Best provider cannot be called directly"
)

// neutralScore is reported on decisions made without a score table:
// spillover picks and direct calls before any data exists.
const neutralScore = 1.0

// Mode selects the routing algorithm.
type Mode int

const (
	// ModeSpillover drains free-tier capacity before paid capacity,
	// ordering candidates by (priority, observed latency).
	ModeSpillover Mode = iota
	// ModeScored picks the provider with the best CRITIC-weighted
	// score over recorded latency and price.
	ModeScored
)

// ParseMode maps a config string to a Mode. Empty means spillover.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spillover":
		return ModeSpillover, nil
	case "scored":
		return ModeScored, nil
	default:
		return ModeSpillover, fmt.Errorf("rpcrouter: unknown mode %q", s)
	}
}

// Router routes JSON-RPC requests across upstream providers.
type Router struct {
	cfg       Config
	providers []Provider
	byName    map[string]*Provider
	quota     QuotaManager
	limiter   *RateLimiter
	metrics   *MetricsStore
	scorer    Scorer
	health    *HealthTracker
	meter     Meter
	client    *Client
	ownClient bool
	mode      Mode

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Router.
type Option func(*Router)

// WithQuotaManager sets the quota backend.
func WithQuotaManager(q QuotaManager) Option {
	return func(r *Router) { r.quota = q }
}

// WithRateLimiter sets the rate limiter.
func WithRateLimiter(l *RateLimiter) Option {
	return func(r *Router) { r.limiter = l }
}

// WithMetricsStore sets the metrics ledger.
func WithMetricsStore(s *MetricsStore) Option {
	return func(r *Router) { r.metrics = s }
}

// WithScorer sets the scorer consulted for decision metadata and by
// scored mode.
func WithScorer(s Scorer) Option {
	return func(r *Router) { r.scorer = s }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(r *Router) { r.health = h }
}

// WithClient sets the upstream HTTP client. The caller keeps ownership
// and must close it.
func WithClient(c *Client) Option {
	return func(r *Router) {
		r.client = c
		r.ownClient = false
	}
}

// WithMode overrides the mode parsed from config.
func WithMode(m Mode) Option {
	return func(r *Router) { r.mode = m }
}

// WithRandSource seeds exploration with a deterministic source.
func WithRandSource(rng *rand.Rand) Option {
	return func(r *Router) { r.rng = rng }
}

// New creates a Router over the given providers. Default components
// (unlimited quota, in-memory metrics, one-second rate window, shared
// HTTP client, noop meter) are used unless overridden via options.
func New(cfg Config, providers []Provider, opts ...Option) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("rpcrouter: at least one provider is required")
	}

	byName := make(map[string]*Provider, len(providers))
	owned := make([]Provider, len(providers))
	copy(owned, providers)
	for i := range owned {
		p := &owned[i]
		if IsBest(p.Name) {
			return nil, fmt.Errorf("rpcrouter: provider name %q is reserved", p.Name)
		}
		key := strings.ToLower(p.Name)
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("rpcrouter: duplicate provider name %q", p.Name)
		}
		byName[key] = p
	}

	mode, err := ParseMode(cfg.Router.Mode)
	if err != nil {
		return nil, err
	}

	r := &Router{
		cfg:       cfg,
		providers: owned,
		byName:    byName,
		mode:      mode,
	}

	for _, opt := range opts {
		opt(r)
	}

	// Apply defaults after options.
	if r.quota == nil {
		r.quota = unlimitedQuota{}
	}
	if r.limiter == nil {
		r.limiter = NewRateLimiter(secondsToDuration(cfg.Router.WindowSeconds))
	}
	if r.metrics == nil {
		r.metrics = NewMetricsStore()
	}
	if r.health == nil {
		r.health = NewHealthTracker(
			WithSuccessRateThreshold(cfg.Router.HealthSuccessRate),
			WithFailureLimit(cfg.Router.HealthFailureLimit),
			WithProbation(secondsToDuration(cfg.Router.HealthProbationSeconds)),
		)
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	if r.client == nil {
		r.client = NewClient()
		r.ownClient = true
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return r, nil
}

// Optimize routes one JSON-RPC payload to the best provider, failing
// over until a candidate succeeds or the list is exhausted. The
// returned envelope is always non-nil and ready to serialize.
func (r *Router) Optimize(ctx context.Context, payload []byte) *Response {
	req, err := ParseRequest(payload)
	if err != nil {
		return buildFailure(requestID(payload), err)
	}

	if r.mode == ModeScored {
		return r.optimizeScored(ctx, req)
	}
	return r.optimizeSpillover(ctx, req)
}

func (r *Router) optimizeSpillover(ctx context.Context, req *ParsedRequest) *Response {
	rid := uuid.New().String()

	cands := r.buildCandidates(ctx, rid, req.Method)
	if len(cands) == 0 {
		return buildFailure(req.ID, ErrNoCandidates)
	}

	ordered := orderCandidates(cands)
	ordered, explored := r.explore(ordered)

	return r.dispatchSequence(ctx, rid, req, ordered, explored)
}

// dispatchSequence walks the ordered candidates: rate-limit check,
// quota reserve, dispatch. Failures roll back the reservation, record
// a penalty row and move on to the next candidate.
func (r *Router) dispatchSequence(ctx context.Context, rid string, req *ParsedRequest, ordered []candidate, explored bool) *Response {
	var (
		lastErr      error
		lastProvider string
		dispatched   int
	)

	for attempt, c := range ordered {
		p := c.provider

		if !r.limiter.Allow(p.Name, p.LimitRPS) {
			r.meter.OnSkip(SkipEvent{RequestID: rid, Provider: p.Name, Method: req.Method, Reason: SkipRateLimit})
			continue
		}

		cost := p.CostOf(req.Method)
		if !r.quota.TryReserve(ctx, p.Name, cost, p.LimitMonthly) {
			r.meter.OnSkip(SkipEvent{RequestID: rid, Provider: p.Name, Method: req.Method, Reason: SkipQuota})
			continue
		}

		r.meter.OnRoute(RouteEvent{
			RequestID: rid,
			Provider:  p.Name,
			Method:    req.Method,
			Priority:  p.Priority,
			Attempt:   attempt + 1,
			Explored:  explored && attempt == 0,
		})

		dispatched++
		up, err := r.client.Send(ctx, p.BaseURL, req.Raw, r.attemptTimeout())
		if err != nil {
			r.recordFailure(ctx, rid, p, req.Method, cost, attempt+1, err)
			lastErr = err
			lastProvider = p.Name
			if ctx.Err() != nil {
				// Client gone; further candidates would fail the same way.
				break
			}
			continue
		}

		price := p.PricePerCall(r.metrics, req.Method)
		r.metrics.Append(p.Name, req.Method, up.LatencyMS, price)
		r.health.RecordSuccess(p.Name)
		r.meter.OnResult(ResultEvent{
			RequestID: rid,
			Provider:  p.Name,
			Method:    req.Method,
			Success:   true,
			LatencyMS: up.LatencyMS,
			PriceUSD:  price,
			Attempt:   attempt + 1,
		})

		score := neutralScore
		d := &Decision{
			RequestID:        rid,
			SelectedProvider: p.Name,
			Score:            &score,
			Weights:          Weights{Latency: 1.0, Price: 0.0},
			LatencyMS:        roundTo(up.LatencyMS, 2),
			PriceUSD:         roundTo(price, 6),
		}
		return buildSuccess(req, up, d)
	}

	return buildFailure(req.ID, &RouteError{
		Err:      ErrExhausted,
		Provider: lastProvider,
		Method:   req.Method,
		Attempts: dispatched,
		Last:     lastErr,
	})
}

// recordFailure applies the dispatch-failure bookkeeping: penalty row,
// reservation rollback, health hit, meter event.
func (r *Router) recordFailure(ctx context.Context, rid string, p *Provider, method string, cost int64, attempt int, err error) {
	price := p.PricePerCall(r.metrics, method)
	r.metrics.AppendFailure(p.Name, method, penaltyLatencyMS, price)
	r.quota.Rollback(ctx, p.Name, cost)
	r.health.RecordFailure(p.Name)
	r.meter.OnResult(ResultEvent{
		RequestID: rid,
		Provider:  p.Name,
		Method:    method,
		Success:   false,
		LatencyMS: penaltyLatencyMS,
		PriceUSD:  price,
		Attempt:   attempt,
		Err:       err,
	})
}

// CallDirect sends the payload straight to the named provider, without
// quota reservation or rate limiting. Unknown names return an error
// wrapping ErrUnknownProvider so callers can surface a not-found
// instead of a JSON-RPC envelope. Calling the virtual Best provider
// directly is a routing error.
func (r *Router) CallDirect(ctx context.Context, name string, payload []byte) (*Response, error) {
	if IsBest(name) {
		return buildFailure(requestID(payload), ErrCannotRouteDirect), nil
	}

	p, ok := r.Provider(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	req, err := ParseRequest(payload)
	if err != nil {
		return buildFailure(requestID(payload), err), nil
	}

	rid := uuid.New().String()
	r.meter.OnRoute(RouteEvent{
		RequestID: rid,
		Provider:  p.Name,
		Method:    req.Method,
		Priority:  p.Priority,
		Attempt:   1,
	})

	up, err := r.client.Send(ctx, p.BaseURL, req.Raw, r.directTimeout())
	if err != nil {
		price := p.PricePerCall(r.metrics, req.Method)
		r.metrics.AppendFailure(p.Name, req.Method, penaltyLatencyMS, price)
		r.health.RecordFailure(p.Name)
		r.meter.OnResult(ResultEvent{
			RequestID: rid,
			Provider:  p.Name,
			Method:    req.Method,
			Success:   false,
			LatencyMS: penaltyLatencyMS,
			PriceUSD:  price,
			Attempt:   1,
			Err:       err,
		})
		return buildError(req.ID, ErrorCode(ErrInternal), fmt.Sprintf("Upstream call failed: %v", err), nil), nil
	}

	price := p.PricePerCall(r.metrics, req.Method)
	r.metrics.Append(p.Name, req.Method, up.LatencyMS, price)
	r.health.RecordSuccess(p.Name)
	r.meter.OnResult(ResultEvent{
		RequestID: rid,
		Provider:  p.Name,
		Method:    req.Method,
		Success:   true,
		LatencyMS: up.LatencyMS,
		PriceUSD:  price,
		Attempt:   1,
	})

	score := neutralScore
	d := &Decision{
		RequestID:        rid,
		SelectedProvider: p.Name,
		Score:            &score,
		Weights:          Weights{Latency: 1.0, Price: 0.0},
		LatencyMS:        roundTo(up.LatencyMS, 2),
		PriceUSD:         roundTo(price, 6),
	}
	r.attachScores(d, p.Name, req.Method)
	return buildSuccess(req, up, d), nil
}

// attachScores fills in score, weights and the all-provider table when
// a scorer is configured and has data for the method.
func (r *Router) attachScores(d *Decision, provider, method string) {
	if r.scorer == nil {
		return
	}
	table, w := r.scorer.Scores(method)
	if len(table) == 0 {
		return
	}
	d.Weights = Weights{Latency: roundTo(w.Latency, 3), Price: roundTo(w.Price, 3)}
	all := make(map[string]float64, len(table))
	for _, ps := range table {
		s := roundTo(ps.Score, 4)
		all[ps.Provider] = s
		if strings.EqualFold(ps.Provider, provider) {
			score := s
			d.Score = &score
		}
	}
	d.AllProviders = all
}

// Provider looks up a provider by name, case-insensitively.
func (r *Router) Provider(name string) (*Provider, bool) {
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

// Providers returns the configured providers in insertion order.
func (r *Router) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Metrics returns the metrics ledger backing this router.
func (r *Router) Metrics() *MetricsStore { return r.metrics }

// Quota returns the quota backend backing this router.
func (r *Router) Quota() QuotaManager { return r.quota }

// Health returns the health tracker backing this router.
func (r *Router) Health() *HealthTracker { return r.health }

// Close releases the upstream client when the router owns it.
func (r *Router) Close() {
	if r.ownClient {
		r.client.Close()
	}
}

func (r *Router) attemptTimeout() time.Duration {
	if d := secondsToDuration(r.cfg.Router.AttemptTimeoutSeconds); d > 0 {
		return d
	}
	return defaultAttemptTimeout
}

func (r *Router) directTimeout() time.Duration {
	if d := secondsToDuration(r.cfg.Router.DirectTimeoutSeconds); d > 0 {
		return d
	}
	return defaultDirectTimeout
}

func (r *Router) randFloat() float64 {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Float64()
}

func (r *Router) randIntn(n int) int {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Intn(n)
}

// unlimitedQuota is a quota backend with no limits, used when none is
// configured. Inline here to avoid an import cycle with the quota
// subpackage.
type unlimitedQuota struct{}

func (unlimitedQuota) Check(context.Context, string, int64, int64) bool { return true }

func (unlimitedQuota) TryReserve(context.Context, string, int64, int64) bool { return true }

func (unlimitedQuota) Rollback(context.Context, string, int64) {}

func (unlimitedQuota) Usage(context.Context, string) int64 { return 0 }

func (unlimitedQuota) Reset(context.Context, string) {}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnRoute(RouteEvent) {}

func (noopMeter) OnResult(ResultEvent) {}

func (noopMeter) OnSkip(SkipEvent) {}
