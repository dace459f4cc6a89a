package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chainmux/rpcrouter"
)

// PromMeter exports routing events as Prometheus metrics.
type PromMeter struct {
	attempts *prometheus.CounterVec
	requests *prometheus.CounterVec
	skips    *prometheus.CounterVec
	spend    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var _ rpcrouter.Meter = (*PromMeter)(nil)

// NewPromMeter creates a PromMeter registered on reg.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	factory := promauto.With(reg)
	return &PromMeter{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpcrouter",
			Name:      "attempts_total",
			Help:      "Dispatch attempts per provider.",
		}, []string{"provider"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpcrouter",
			Name:      "requests_total",
			Help:      "Completed dispatches per provider, method and outcome.",
		}, []string{"provider", "method", "outcome"}),
		skips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpcrouter",
			Name:      "skips_total",
			Help:      "Candidates passed over, by reason.",
		}, []string{"provider", "reason"}),
		spend: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpcrouter",
			Name:      "estimated_cost_usd_total",
			Help:      "Accumulated estimated spend in USD per provider.",
		}, []string{"provider"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpcrouter",
			Name:      "request_latency_seconds",
			Help:      "Observed upstream latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

func (m *PromMeter) OnRoute(e rpcrouter.RouteEvent) {
	m.attempts.WithLabelValues(e.Provider).Inc()
}

func (m *PromMeter) OnResult(e rpcrouter.ResultEvent) {
	outcome := "success"
	if !e.Success {
		outcome = "failure"
	}
	m.requests.WithLabelValues(e.Provider, e.Method, outcome).Inc()
	m.spend.WithLabelValues(e.Provider).Add(e.PriceUSD)
	if e.Success {
		m.latency.WithLabelValues(e.Provider).Observe(e.LatencyMS / 1000)
	}
}

func (m *PromMeter) OnSkip(e rpcrouter.SkipEvent) {
	m.skips.WithLabelValues(e.Provider, string(e.Reason)).Inc()
}
