package rpcrouter

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying terminal routing states.
var (
	ErrInvalidRequest    = errors.New("rpcrouter: invalid request")
	ErrNoCandidates      = errors.New("rpcrouter: no providers with remaining quota")
	ErrExhausted         = errors.New("rpcrouter: all candidates failed or were rate limited")
	ErrUnknownProvider   = errors.New("rpcrouter: unknown provider")
	ErrCannotRouteDirect = errors.New("rpcrouter: virtual provider cannot be called directly")
	ErrInternal          = errors.New("rpcrouter: internal error")
)

// JSON-RPC error codes surfaced by the gateway.
const (
	CodeInvalidRequest = -32600
	CodeNoProvider     = -32000
	CodeRoutingError   = -32601
	CodeInternal       = -32603
)

// RouteError is a terminal routing failure: the sentinel that
// classifies it plus how far the failover loop got. Last carries the
// final upstream error when at least one dispatch actually ran.
type RouteError struct {
	Err      error
	Provider string
	Method   string
	Attempts int
	Last     error
}

func (e *RouteError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("rpcrouter: provider=%s method=%s attempts=%d: %v: %v",
			e.Provider, e.Method, e.Attempts, e.Err, e.Last)
	}
	return fmt.Sprintf("rpcrouter: provider=%s method=%s attempts=%d: %v",
		e.Provider, e.Method, e.Attempts, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the JSON-RPC error code an error surfaces as.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrNoCandidates), errors.Is(err, ErrExhausted):
		return CodeNoProvider
	case errors.Is(err, ErrCannotRouteDirect):
		return CodeRoutingError
	default:
		return CodeInternal
	}
}

// errMessage strips the package prefix for client-facing error text.
func errMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "rpcrouter: ")
}
