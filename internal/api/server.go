// Package api exposes the HTTP interface for the collector service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/config"
)

// Submitter accepts jobs for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, job collector.JobRequest) (collector.JobRequest, error)
}

// Observer exposes request metrics.
type Observer interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher.
type Server struct {
	router    chi.Router
	submitter Submitter
	metrics   collector.Metrics
	ready     []ReadinessCheck
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. observer may be
// nil, in which case /metrics is not served.
func NewServer(
	submitter Submitter,
	metrics collector.Metrics,
	observer Observer,
	cfg config.Config,
	logger *zap.Logger,
	ready ...ReadinessCheck,
) *Server {
	if metrics == nil {
		metrics = collector.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		submitter: submitter,
		metrics:   metrics,
		ready:     ready,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if observer != nil {
		r.Use(observer.Middleware)
	}
	if timeout := cfg.RequestTimeout(); timeout > 0 {
		r.Use(timeoutMiddleware(timeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if observer != nil {
		r.Method(http.MethodGet, "/metrics", observer.Handler())
	}

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitJob(http.StatusOK))
		r.Post("/v1/jobs", s.submitJob(http.StatusAccepted))
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobRequest struct {
	URL       *string `json:"url"`
	PayloadID string  `json:"payload_id"`
}

type jobResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// submitJob handles the job submission contract. Bodies are decoded as JSON
// whatever their content type.
func (s *Server) submitJob(acceptedStatus int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.JobReceived()

		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.deny(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}
		if req.URL == nil || strings.TrimSpace(*req.URL) == "" {
			s.logger.Warn("no url provided, request denied")
			s.deny(w, http.StatusBadRequest, "'url'")
			return
		}

		job, err := s.submitter.Submit(r.Context(), collector.JobRequest{
			SourceURL: strings.TrimSpace(*req.URL),
			JobID:     req.PayloadID,
			Identity:  r.Header.Get(collector.IdentityHeader),
		})
		switch {
		case errors.Is(err, collector.ErrQueueFull):
			s.deny(w, http.StatusServiceUnavailable, "job queue is full, retry later")
			return
		case err != nil:
			s.logger.Error("job submission failed", zap.Error(err))
			s.deny(w, http.StatusInternalServerError, "job submission failed")
			return
		}

		s.metrics.JobInitiated()
		s.logger.Info("job started", zap.String("job_id", job.JobID), zap.String("url", job.SourceURL))
		writeJSON(w, acceptedStatus, jobResponse{Status: "OK", Message: "Job initiated", JobID: job.JobID})
	}
}

func (s *Server) deny(w http.ResponseWriter, status int, exception string) {
	s.metrics.JobDenied()
	writeJSON(w, status, jobResponse{Status: "FAILED", Exception: exception})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeJSON(w, http.StatusInternalServerError, jobResponse{Status: "FAILED", Exception: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(w, http.StatusForbidden, jobResponse{Status: "FAILED", Exception: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
