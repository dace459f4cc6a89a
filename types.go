package rpcrouter

import "encoding/json"

// Response is the JSON-RPC 2.0 envelope the gateway returns to clients.
// Exactly one of Result and Error is set.
type Response struct {
	JSONRPC  string          `json:"jsonrpc"`
	ID       json.RawMessage `json:"id"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *ErrorObject    `json:"error,omitempty"`
	Decision *Decision       `json:"decision,omitempty"`
}

// ErrorObject is a JSON-RPC 2.0 error member.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Decision describes how a request was routed. It is attached to
// responses so callers can audit provider selection.
type Decision struct {
	RequestID        string             `json:"request_id,omitempty"`
	SelectedProvider string             `json:"selected_provider"`
	Score            *float64           `json:"score,omitempty"`
	Weights          Weights            `json:"weights"`
	LatencyMS        float64            `json:"latency_ms"`
	PriceUSD         float64            `json:"price_usd"`
	AllProviders     map[string]float64 `json:"all_providers,omitempty"`
}

// Weights is the latency/price split used when ranking providers.
type Weights struct {
	Latency float64 `json:"latency"`
	Price   float64 `json:"price"`
}

// ProviderScore is one row of a scoring pass. Eligible carries whether
// the provider's latest recorded outcome for the method was a success.
type ProviderScore struct {
	Provider  string  `json:"provider"`
	Score     float64 `json:"score"`
	LatencyMS float64 `json:"latency_ms"`
	PriceUSD  float64 `json:"price_usd"`
	Eligible  bool    `json:"eligible"`
}

// ScoreTable lists per-provider scores for a method, one row per provider.
type ScoreTable []ProviderScore

// Scorer ranks providers for a method from recorded behaviour.
// Implementations must be safe for concurrent use and side-effect-free.
type Scorer interface {
	Scores(method string) (ScoreTable, Weights)
}
