// Package api exposes the HTTP interface for the monitoring service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/config"
	"github.com/safescope/monitor/internal/monitor"
	"github.com/safescope/monitor/internal/pipeline"
	"github.com/safescope/monitor/internal/telemetry"
)

// Server wires HTTP handlers to the pipeline and directory.
type Server struct {
	router   chi.Router
	pipeline *pipeline.Pipeline
	parents  monitor.ParentDirectory
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	p *pipeline.Pipeline,
	parents monitor.ParentDirectory,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline: p,
		parents:  parents,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(cfg.Server.RequestTimeout()))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/logs", s.submitLog)
		r.Post("/children/validate", s.validateChild)
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
	// The directory exercises the database path; a failed lookup for an
	// unknown child is still a healthy round trip.
	if _, err := s.parents.ParentOf(ctx, "readyz@probe.invalid"); err != nil && !errors.Is(err, monitor.ErrNoParent) {
		writeError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// browsingLogRequest uses pointer fields so that absent keys are
// distinguishable from zero values.
type browsingLogRequest struct {
	ChildEmail  *string  `json:"child_email"`
	URL         *string  `json:"url"`
	Title       *string  `json:"title"`
	Query       *string  `json:"query"`
	ImageScore  *float64 `json:"image_score"`
	DurationSec *int     `json:"duration_sec"`
	HourOfDay   *int     `json:"hour_of_day"`
}

func (req browsingLogRequest) missingFields() []string {
	var missing []string
	if req.ChildEmail == nil {
		missing = append(missing, "child_email")
	}
	if req.URL == nil {
		missing = append(missing, "url")
	}
	if req.Title == nil {
		missing = append(missing, "title")
	}
	if req.Query == nil {
		missing = append(missing, "query")
	}
	if req.ImageScore == nil {
		missing = append(missing, "image_score")
	}
	if req.DurationSec == nil {
		missing = append(missing, "duration_sec")
	}
	if req.HourOfDay == nil {
		missing = append(missing, "hour_of_day")
	}
	return missing
}

func (s *Server) submitLog(w http.ResponseWriter, r *http.Request) {
	var req browsingLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if missing := req.missingFields(); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing fields: "+strings.Join(missing, ", "))
		return
	}

	event := monitor.Event{
		ChildEmail:  *req.ChildEmail,
		URL:         *req.URL,
		Title:       *req.Title,
		Query:       *req.Query,
		ImageScore:  *req.ImageScore,
		DurationSec: *req.DurationSec,
		HourOfDay:   *req.HourOfDay,
	}

	outcome, err := s.pipeline.Process(r.Context(), event)
	if err != nil {
		s.logger.Error("pipeline processing failed",
			zap.String("url", event.URL),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.ObserveEvent(string(outcome.Kind))

	if outcome.Kind == monitor.OutcomeNoParent {
		writeError(w, http.StatusNotFound, "No parent found for this child")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": statusMessage(outcome.Kind)})
}

func statusMessage(kind monitor.OutcomeKind) string {
	switch kind {
	case monitor.OutcomeIgnored:
		return "ignored short duration log"
	case monitor.OutcomeUpdated:
		return "updated existing log"
	case monitor.OutcomeSkippedHomepage:
		return "skipped homepage url"
	case monitor.OutcomeSkippedNonVideo:
		return "skipped non-video youtube url"
	case monitor.OutcomeSkippedNonSearch:
		return "skipped non-search google url"
	default:
		return "success"
	}
}

type validateChildRequest struct {
	Email *string `json:"email"`
}

func (s *Server) validateChild(w http.ResponseWriter, r *http.Request) {
	var req validateChildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == nil || strings.TrimSpace(*req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email field is required")
		return
	}

	parentEmail, err := s.parents.ParentOf(r.Context(), strings.TrimSpace(*req.Email))
	if errors.Is(err, monitor.ErrNoParent) {
		writeJSON(w, http.StatusNotFound, map[string]any{"valid": false})
		return
	}
	if err != nil {
		s.logger.Error("child validation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "parent_email": parentEmail})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
