package rpcrouter

// Meter observes routing events for monitoring/logging.
type Meter interface {
	// OnRoute is called when a dispatch is about to start.
	OnRoute(event RouteEvent)

	// OnResult is called when a dispatch finishes.
	OnResult(event ResultEvent)

	// OnSkip is called when a candidate is passed over.
	OnSkip(event SkipEvent)
}

// RouteEvent describes a dispatch about to start.
type RouteEvent struct {
	RequestID string
	Provider  string
	Method    string
	Priority  int
	Attempt   int
	Explored  bool
}

// ResultEvent describes the outcome of a dispatch.
type ResultEvent struct {
	RequestID string
	Provider  string
	Method    string
	Success   bool
	LatencyMS float64
	PriceUSD  float64
	Attempt   int
	Err       error
}

// SkipReason says why a candidate was passed over.
type SkipReason string

const (
	SkipQuota     SkipReason = "quota"
	SkipRateLimit SkipReason = "rate_limit"
	SkipUnhealthy SkipReason = "unhealthy"
)

// SkipEvent describes a candidate that was passed over.
type SkipEvent struct {
	RequestID string
	Provider  string
	Method    string
	Reason    SkipReason
}
