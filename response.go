package rpcrouter

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const jsonrpcVersion = "2.0"

// buildSuccess wraps an upstream reply in the gateway envelope. Result
// and error members pass through from the provider untouched; a 2xx
// body that is neither a JSON-RPC result nor error becomes an internal
// error so clients never see a half-formed envelope.
func buildSuccess(req *ParsedRequest, up *Upstream, d *Decision) *Response {
	var reply struct {
		Result json.RawMessage `json:"result"`
		Error  *ErrorObject    `json:"error"`
	}
	if err := json.Unmarshal(up.Body, &reply); err != nil {
		return buildError(req.ID, ErrorCode(ErrInternal), "Invalid response from provider", nil)
	}
	if reply.Result == nil && reply.Error == nil {
		return buildError(req.ID, ErrorCode(ErrInternal), "Invalid response from provider", nil)
	}

	resp := &Response{
		JSONRPC:  jsonrpcVersion,
		ID:       normalizeID(req.ID),
		Decision: d,
	}
	if reply.Error != nil {
		resp.Error = reply.Error
	} else {
		resp.Result = reply.Result
	}
	return resp
}

// buildFailure converts a terminal routing error into the client
// envelope: the sentinel chain picks the JSON-RPC code and the
// failure shape picks the message.
func buildFailure(id json.RawMessage, err error) *Response {
	return buildError(id, ErrorCode(err), failureMessage(err), nil)
}

func failureMessage(err error) string {
	var re *RouteError
	if errors.As(err, &re) && re.Last != nil {
		return fmt.Sprintf(msgAllFailedFmt, re.Last)
	}
	switch {
	case errors.Is(err, ErrNoCandidates):
		return msgNoQuota
	case errors.Is(err, ErrExhausted):
		return msgRateLimited
	case errors.Is(err, ErrCannotRouteDirect):
		return msgCannotRouteDirect
	default:
		return errMessage(err)
	}
}

// buildError creates a JSON-RPC error envelope.
func buildError(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      normalizeID(id),
		Error: &ErrorObject{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return defaultID
	}
	return id
}

// roundTo rounds half away from zero to the given decimal places.
// Non-finite values collapse to zero so envelopes stay valid JSON.
func roundTo(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
