// Package gateway exposes a Router over HTTP: routed and direct
// JSON-RPC dispatch plus read-only views over recorded metrics.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chainmux/rpcrouter"
	"github.com/chainmux/rpcrouter/scoring"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// Server wires HTTP routes to a Router and its analytics views.
type Server struct {
	router         *rpcrouter.Router
	analytics      *rpcrouter.Analytics
	cache          *scoring.Cache
	logger         zerolog.Logger
	inbound        *rate.Limiter
	metricsHandler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithInboundLimit throttles inbound requests across all clients.
// Zero rps disables throttling.
func WithInboundLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.inbound = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithScoreCache exposes cache statistics at /api/cache/stats.
func WithScoreCache(c *scoring.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithMetricsHandler mounts a metrics exporter at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// New creates a Server for router.
func New(router *rpcrouter.Router, opts ...Option) *Server {
	s := &Server{
		router:    router,
		analytics: rpcrouter.NewAnalytics(router.Metrics()),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.inbound != nil {
		r.Use(s.throttle)
	}

	r.Post("/api/rpc/best", s.handleBest)
	r.Post("/api/rpc/{provider}", s.handleDirect)
	r.Get("/api/records", s.handleRecords)
	r.Get("/api/analytics", s.handleAnalytics)
	r.Get("/health", s.handleHealth)
	if s.cache != nil {
		r.Get("/api/cache/stats", s.handleCacheStats)
	}
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}
	return r
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "request body unreadable or too large",
			"code":  http.StatusBadRequest,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.router.Optimize(r.Context(), body))
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "request body unreadable or too large",
			"code":  http.StatusBadRequest,
		})
		return
	}

	resp, err := s.router.CallDirect(r.Context(), name, body)
	switch {
	case errors.Is(err, rpcrouter.ErrUnknownProvider):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("Provider '%s' not found", name),
			"code":  http.StatusNotFound,
		})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"code":  http.StatusInternalServerError,
		})
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	records := s.analytics.Records(method)

	label := method
	if label == "" {
		label = "all"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"method":        label,
		"records":       records,
		"total_records": len(records),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	if method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "method query parameter is required",
			"code":  http.StatusBadRequest,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"method":        method,
		"providers":     s.analytics.Summaries(method),
		"total_records": len(s.analytics.Records(method)),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"service":          "rpcrouter",
		"providers_loaded": len(s.router.Providers()),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
