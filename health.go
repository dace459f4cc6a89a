package rpcrouter

import (
	"sync"
	"time"
)

// Eligibility thresholds. A provider drops out of selection when its
// failures run consecutively past the limit or its recent success rate
// falls below the minimum; after the probation period a tripped
// provider gets one request through to prove itself.
const (
	DefaultHealthSuccessRate  = 0.95
	DefaultHealthFailureLimit = 3
	DefaultHealthProbation    = 30 * time.Second

	// healthOutcomeWindow is how many recent outcomes feed the
	// success-rate check. The rate only applies once the window is
	// full, so a lone early failure cannot sink a new provider.
	healthOutcomeWindow = 20
)

// HealthState describes the health of an upstream provider.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker decides per-provider eligibility from dispatch
// outcomes: a consecutive-failure breaker layered with a minimum
// success rate over the recent outcome window.
type HealthTracker struct {
	mu        sync.Mutex
	minRate   float64
	limit     int
	probation time.Duration
	providers map[string]*providerHealth
}

type providerHealth struct {
	recent      [healthOutcomeWindow]bool // ring of recent outcomes
	next        int
	filled      bool
	consecutive int
	lastFailure time.Time
}

// HealthOption configures a HealthTracker.
type HealthOption func(*HealthTracker)

// WithSuccessRateThreshold sets the minimum recent success rate.
func WithSuccessRateThreshold(rate float64) HealthOption {
	return func(h *HealthTracker) {
		if rate > 0 {
			h.minRate = rate
		}
	}
}

// WithFailureLimit sets the consecutive-failure limit.
func WithFailureLimit(limit int) HealthOption {
	return func(h *HealthTracker) {
		if limit > 0 {
			h.limit = limit
		}
	}
}

// WithProbation sets how long a tripped provider stays unhealthy
// before it may be retried.
func WithProbation(d time.Duration) HealthOption {
	return func(h *HealthTracker) {
		if d > 0 {
			h.probation = d
		}
	}
}

// NewHealthTracker creates a HealthTracker with the default thresholds
// unless overridden via options.
func NewHealthTracker(opts ...HealthOption) *HealthTracker {
	h := &HealthTracker{
		minRate:   DefaultHealthSuccessRate,
		limit:     DefaultHealthFailureLimit,
		probation: DefaultHealthProbation,
		providers: make(map[string]*providerHealth),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the provider's current eligibility. Providers with no
// recorded outcomes are healthy so new config entries get traffic.
func (h *HealthTracker) State(provider string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[provider]
	if !ok {
		return HealthHealthy
	}

	tripped := ph.consecutive >= h.limit
	if !tripped && ph.filled && ph.rate() < h.minRate {
		tripped = true
	}
	if !tripped {
		return HealthHealthy
	}
	if time.Since(ph.lastFailure) >= h.probation {
		return HealthHalfOpen
	}
	return HealthUnhealthy
}

// SuccessRate returns the success rate over the recent outcome window.
// ok is false when the provider has no recorded outcomes.
func (h *HealthTracker) SuccessRate(provider string) (rate float64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, found := h.providers[provider]
	if !found || (ph.next == 0 && !ph.filled) {
		return 0, false
	}
	return ph.rate(), true
}

// RecordSuccess records a successful dispatch, closing the
// consecutive-failure breaker.
func (h *HealthTracker) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	ph.push(true)
	ph.consecutive = 0
}

// RecordFailure records a failed dispatch.
func (h *HealthTracker) RecordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	ph.push(false)
	ph.consecutive++
	ph.lastFailure = time.Now()
}

func (h *HealthTracker) getOrCreate(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{}
		h.providers[provider] = ph
	}
	return ph
}

func (ph *providerHealth) push(outcome bool) {
	ph.recent[ph.next] = outcome
	ph.next++
	if ph.next == healthOutcomeWindow {
		ph.next = 0
		ph.filled = true
	}
}

func (ph *providerHealth) rate() float64 {
	n := ph.next
	if ph.filled {
		n = healthOutcomeWindow
	}
	if n == 0 {
		return 1
	}
	succeeded := 0
	for i := 0; i < n; i++ {
		if ph.recent[i] {
			succeeded++
		}
	}
	return float64(succeeded) / float64(n)
}
