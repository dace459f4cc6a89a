package meter_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rr "github.com/chainmux/rpcrouter"
	"github.com/chainmux/rpcrouter/meter"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			return m.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func labelsMatch[P interface {
	GetName() string
	GetValue() string
}](pairs []P, want map[string]string) bool {
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// Test: Prometheus meter exports counters per event
func TestPromMeter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := meter.NewPromMeter(reg)

	m.OnRoute(rr.RouteEvent{Provider: "free-1", Method: "eth_blockNumber", Attempt: 1})
	m.OnRoute(rr.RouteEvent{Provider: "free-1", Method: "eth_blockNumber", Attempt: 1})
	m.OnResult(rr.ResultEvent{Provider: "free-1", Method: "eth_blockNumber", Success: true, LatencyMS: 120, PriceUSD: 0.5})
	m.OnResult(rr.ResultEvent{Provider: "free-1", Method: "eth_blockNumber", Success: false, PriceUSD: 0.25, Err: errors.New("boom")})
	m.OnSkip(rr.SkipEvent{Provider: "paid-1", Method: "eth_blockNumber", Reason: rr.SkipQuota})

	assert.Equal(t, 2.0, counterValue(t, reg, "rpcrouter_attempts_total",
		map[string]string{"provider": "free-1"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "rpcrouter_requests_total",
		map[string]string{"provider": "free-1", "outcome": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "rpcrouter_requests_total",
		map[string]string{"provider": "free-1", "outcome": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "rpcrouter_skips_total",
		map[string]string{"provider": "paid-1", "reason": "quota"}))
	assert.InDelta(t, 0.75, counterValue(t, reg, "rpcrouter_estimated_cost_usd_total",
		map[string]string{"provider": "free-1"}), 1e-9)

	// Only successful dispatches observe latency.
	assert.EqualValues(t, 1, histogramCount(t, reg, "rpcrouter_request_latency_seconds",
		map[string]string{"provider": "free-1"}))
}

// Test: Log meter emits one line per event
func TestLogMeter(t *testing.T) {
	var buf bytes.Buffer
	m := meter.NewLogMeter(zerolog.New(&buf))

	m.OnRoute(rr.RouteEvent{RequestID: "req-1", Provider: "free-1", Method: "eth_blockNumber", Priority: 1, Attempt: 1})
	m.OnResult(rr.ResultEvent{RequestID: "req-1", Provider: "free-1", Method: "eth_blockNumber", Success: true, LatencyMS: 12.5, PriceUSD: 0.001, Attempt: 1})
	m.OnResult(rr.ResultEvent{RequestID: "req-2", Provider: "free-1", Method: "eth_blockNumber", Err: errors.New("boom"), Attempt: 1})
	m.OnSkip(rr.SkipEvent{RequestID: "req-3", Provider: "free-1", Method: "eth_blockNumber", Reason: rr.SkipRateLimit})

	out := buf.String()
	assert.Contains(t, out, `"message":"route"`)
	assert.Contains(t, out, `"message":"result"`)
	assert.Contains(t, out, `"message":"result_error"`)
	assert.Contains(t, out, `"message":"skip"`)
	assert.Contains(t, out, `"provider":"free-1"`)
	assert.Contains(t, out, `"reason":"rate_limit"`)
	assert.Contains(t, out, `"error":"boom"`)
}

type recordingMeter struct {
	routes  int
	results int
	skips   int
}

func (m *recordingMeter) OnRoute(rr.RouteEvent) { m.routes++ }

func (m *recordingMeter) OnResult(rr.ResultEvent) { m.results++ }

func (m *recordingMeter) OnSkip(rr.SkipEvent) { m.skips++ }

// Test: Multi meter fans out to every target
func TestMultiMeter(t *testing.T) {
	a := &recordingMeter{}
	b := &recordingMeter{}
	m := meter.NewMultiMeter(a, b)

	m.OnRoute(rr.RouteEvent{})
	m.OnResult(rr.ResultEvent{})
	m.OnResult(rr.ResultEvent{})
	m.OnSkip(rr.SkipEvent{})

	for _, rec := range []*recordingMeter{a, b} {
		assert.Equal(t, 1, rec.routes)
		assert.Equal(t, 2, rec.results)
		assert.Equal(t, 1, rec.skips)
	}
}
