// Package ops exposes the operational HTTP surface: liveness, readiness,
// Prometheus metrics and a status endpoint.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commit365/chatzipper/internal/bot"
	"github.com/commit365/chatzipper/internal/health"
	"github.com/commit365/chatzipper/internal/log"
)

// StatusSource provides the data for GET /api/status.
type StatusSource interface {
	Status() bot.Status
}

// MessageCounter reports how many messages are stored.
type MessageCounter interface {
	MessageCount(ctx context.Context) (int64, error)
}

// Server is the ops HTTP handler.
type Server struct {
	version string
	hm      *health.Manager
	status  StatusSource
	counter MessageCounter
	metrics bool
	started time.Time
}

// New creates the ops server. When metricsEnabled is false the /metrics
// endpoint is not mounted.
func New(version string, hm *health.Manager, status StatusSource, counter MessageCounter, metricsEnabled bool) *Server {
	return &Server{
		version: version,
		hm:      hm,
		status:  status,
		counter: counter,
		metrics: metricsEnabled,
		started: time.Now(),
	}
}

// Handler builds the chi router for the ops surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)

	// Probes stay unthrottled: kubelets poll liveness and readiness from
	// one node IP at short periods and must never see a 429
	r.Get("/healthz", s.hm.ServeHealth)
	r.Get("/readyz", s.hm.ServeReady)

	r.Group(func(r chi.Router) {
		// Unauthenticated surface, rate-limited per client IP
		r.Use(httprate.LimitByIP(60, time.Minute))
		if s.metrics {
			r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		}
		r.Get("/api/status", s.handleStatus)
	})

	return r
}

type statusResponse struct {
	Version       string     `json:"version"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Bot           bot.Status `json:"bot"`
	StoredMsgs    int64      `json:"stored_messages"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "ops")

	resp := statusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Bot:           s.status.Status(),
	}

	count, err := s.counter.MessageCount(r.Context())
	if err != nil {
		logger.Error().Err(err).Str("event", "ops.status_count_failed").Msg("failed to count messages")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp.StoredMsgs = count

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "ops.status_encode_failed").Msg("failed to encode status response")
	}
}

// requestID attaches a request ID to the context and response headers.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx := log.ContextWithRequestID(r.Context(), rid)
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		logger := log.WithComponentFromContext(r.Context(), "ops")
		logger.Debug().
			Str("event", "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
