// Package meter provides Meter implementations: structured logging,
// Prometheus metrics, a fan-out and a no-op.
package meter

import (
	"github.com/rs/zerolog"

	"github.com/chainmux/rpcrouter"
)

// LogMeter logs routing events using zerolog.
type LogMeter struct {
	Logger zerolog.Logger
}

var _ rpcrouter.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
func NewLogMeter(logger zerolog.Logger) *LogMeter {
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRoute(e rpcrouter.RouteEvent) {
	m.Logger.Info().
		Str("request_id", e.RequestID).
		Str("provider", e.Provider).
		Str("method", e.Method).
		Int("priority", e.Priority).
		Int("attempt", e.Attempt).
		Bool("explored", e.Explored).
		Msg("route")
}

func (m *LogMeter) OnResult(e rpcrouter.ResultEvent) {
	if e.Success {
		m.Logger.Info().
			Str("request_id", e.RequestID).
			Str("provider", e.Provider).
			Str("method", e.Method).
			Int("attempt", e.Attempt).
			Float64("latency_ms", e.LatencyMS).
			Float64("price_usd", e.PriceUSD).
			Msg("result")
	} else {
		m.Logger.Warn().
			Str("request_id", e.RequestID).
			Str("provider", e.Provider).
			Str("method", e.Method).
			Int("attempt", e.Attempt).
			Err(e.Err).
			Msg("result_error")
	}
}

func (m *LogMeter) OnSkip(e rpcrouter.SkipEvent) {
	m.Logger.Debug().
		Str("request_id", e.RequestID).
		Str("provider", e.Provider).
		Str("method", e.Method).
		Str("reason", string(e.Reason)).
		Msg("skip")
}
