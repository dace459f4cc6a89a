package rpcrouter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParsedRequest is a validated JSON-RPC 2.0 request. Raw holds the
// original payload bytes, forwarded verbatim to the selected provider.
type ParsedRequest struct {
	JSONRPC string
	Method  string
	Params  json.RawMessage
	ID      json.RawMessage
	Chain   string
	Network string
	Raw     []byte
}

// defaultID is used when a payload carries no usable id.
var defaultID = json.RawMessage("1")

// ParseRequest validates a JSON-RPC 2.0 payload. Rejections wrap
// ErrInvalidRequest with a message naming the offending field.
// Params may be omitted, but when present must be an array or object.
// The id must be a number or a string.
func ParseRequest(body []byte) (*ParsedRequest, error) {
	var env struct {
		JSONRPC json.RawMessage `json:"jsonrpc"`
		Method  json.RawMessage `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      json.RawMessage `json:"id"`
		Chain   string          `json:"chain"`
		Network string          `json:"network"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidRequest)
	}

	for _, f := range []struct {
		name string
		raw  json.RawMessage
	}{
		{"jsonrpc", env.JSONRPC},
		{"method", env.Method},
		{"id", env.ID},
	} {
		if f.raw == nil {
			return nil, fmt.Errorf("%w: missing required field %q", ErrInvalidRequest, f.name)
		}
	}

	var version string
	if err := json.Unmarshal(env.JSONRPC, &version); err != nil || version != "2.0" {
		return nil, fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidRequest, "2.0")
	}

	var method string
	if err := json.Unmarshal(env.Method, &method); err != nil || strings.TrimSpace(method) == "" {
		return nil, fmt.Errorf("%w: method must be a non-empty string", ErrInvalidRequest)
	}

	switch firstByte(env.Params) {
	case 0, '[', '{':
	default:
		return nil, fmt.Errorf("%w: params must be an array or object", ErrInvalidRequest)
	}

	if !validID(env.ID) {
		return nil, fmt.Errorf("%w: id must be a number or string", ErrInvalidRequest)
	}

	return &ParsedRequest{
		JSONRPC: version,
		Method:  method,
		Params:  env.Params,
		ID:      env.ID,
		Chain:   env.Chain,
		Network: env.Network,
		Raw:     body,
	}, nil
}

// MethodCategory buckets an Ethereum JSON-RPC method name for
// reporting. Unknown methods fall into "other".
func MethodCategory(method string) string {
	switch {
	case strings.HasPrefix(method, "eth_get"):
		return "read"
	case strings.HasPrefix(method, "eth_send"):
		return "write"
	case method == "eth_call" || method == "eth_estimateGas":
		return "call"
	case method == "eth_blockNumber" || method == "eth_gasPrice":
		return "info"
	default:
		return "other"
	}
}

// requestID pulls the id out of a possibly invalid payload so error
// envelopes can still echo it. Falls back to the number 1.
func requestID(body []byte) json.RawMessage {
	var env struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &env); err != nil || !validID(env.ID) {
		return defaultID
	}
	return env.ID
}

func validID(raw json.RawMessage) bool {
	switch b := firstByte(raw); {
	case b == '"':
		return true
	case b == '-' || (b >= '0' && b <= '9'):
		return true
	default:
		return false
	}
}

// firstByte returns the first non-space byte of a raw JSON value, or 0
// when the value is absent.
func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
