package rpcrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultUserAgent = "rpcrouter/1.0"

	// maxResponseBytes caps how much of an upstream body is read.
	maxResponseBytes = 16 << 20
)

// FailKind classifies why an upstream dispatch failed.
type FailKind string

const (
	FailTimeout    FailKind = "timeout"
	FailConnection FailKind = "connection"
	FailHTTPStatus FailKind = "http_status"
	FailDecode     FailKind = "decode"
)

// CallError describes a failed upstream dispatch. Status is only set
// for FailHTTPStatus and FailDecode.
type CallError struct {
	Kind   FailKind
	Status int
	URL    string
	Err    error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("rpcrouter: upstream call failed (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("rpcrouter: upstream call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Upstream is a successful upstream reply: the raw JSON body plus the
// observed round trip in milliseconds.
type Upstream struct {
	Body      json.RawMessage
	LatencyMS float64
}

// Client is the shared HTTP client used for every upstream dispatch.
// One instance serves all providers so connection pools are reused.
type Client struct {
	http      *http.Client
	userAgent string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a Client with pooled connections.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send POSTs payload to url and returns the reply body with its
// latency. Per-call timeouts layer onto ctx; a timeout of zero or less
// means ctx alone bounds the call. Failures come back as *CallError.
func (c *Client) Send(ctx context.Context, url string, payload []byte, timeout time.Duration) (*Upstream, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Kind: FailConnection, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &CallError{Kind: failKindFor(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return nil, &CallError{Kind: failKindFor(err), URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{
			Kind:   FailHTTPStatus,
			Status: resp.StatusCode,
			URL:    url,
			Err:    fmt.Errorf("unexpected status %s: %s", resp.Status, snippet(body)),
		}
	}

	if !json.Valid(body) {
		return nil, &CallError{
			Kind:   FailDecode,
			Status: resp.StatusCode,
			URL:    url,
			Err:    errors.New("response body is not valid JSON"),
		}
	}

	return &Upstream{Body: body, LatencyMS: latency}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func failKindFor(err error) FailKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailTimeout
	}
	return FailConnection
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(bytes.TrimSpace(body))
}
