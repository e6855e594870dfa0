// Package api exposes the HTTP interface for the monitoring service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
	"github.com/regwatch/regwatch/internal/scheduler"
	"github.com/regwatch/regwatch/internal/verify"
)

const (
	requestTimeout    = 60 * time.Second
	defaultDLQLimit   = 100
	maxDLQLimit       = 1000
	triggerQueueGrace = 5 * time.Second
)

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router    chi.Router
	sources   monitor.SourceStore
	jobs      monitor.JobStore
	revisions monitor.RevisionStore
	rules     monitor.SuppressionStore
	dlq       monitor.DeadLetterQueue
	scheduler *scheduler.Scheduler
	verifier  *verify.Service
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sources monitor.SourceStore,
	jobs monitor.JobStore,
	revisions monitor.RevisionStore,
	rules monitor.SuppressionStore,
	dlq monitor.DeadLetterQueue,
	sched *scheduler.Scheduler,
	verifier *verify.Service,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sources:   sources,
		jobs:      jobs,
		revisions: revisions,
		rules:     rules,
		dlq:       dlq,
		scheduler: sched,
		verifier:  verifier,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources/{source_id}", func(r chi.Router) {
			r.Post("/scrape", s.triggerScrape)
			r.Get("/revisions/latest", s.getLatestRevision)
			r.Get("/rules", s.listRules)
		})
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/diffs/{diff_id}", s.getDiff)
		r.Post("/verifications", s.createVerification)
		r.Post("/rules/{rule_id}/deactivate", s.deactivateRule)
		r.Get("/deadletters", s.listDeadLetters)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerScrape enqueues a job for the source right away, outside the
// scheduler tick. At most one queued-or-running job per source.
func (s *Server) triggerScrape(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, err := s.sources.GetSource(r.Context(), sourceID); err != nil {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), triggerQueueGrace)
	defer cancel()
	jobID, err := s.scheduler.Trigger(ctx, sourceID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobAlreadyActive) {
			writeError(w, http.StatusConflict, "source already has an active job")
			return
		}
		s.logger.Error("manual trigger failed", zap.String("source_id", sourceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getLatestRevision(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	rev, found, err := s.revisions.LatestRevision(r.Context(), sourceID)
	if err != nil {
		s.logger.Error("latest revision lookup failed",
			zap.String("source_id", sourceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load revision")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no revisions for source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *Server) getDiff(w http.ResponseWriter, r *http.Request) {
	diffID := chi.URLParam(r, "diff_id")
	diff, found, err := s.revisions.GetDiff(r.Context(), diffID)
	if err != nil {
		s.logger.Error("diff lookup failed", zap.String("diff_id", diffID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load diff")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "diff not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": diff})
}

func (s *Server) createVerification(w http.ResponseWriter, r *http.Request) {
	var req verify.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DiffID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "diff_id and user_id are required")
		return
	}
	v, err := s.verifier.Verify(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrDiffNotFound):
			writeError(w, http.StatusNotFound, "diff not found")
		case errors.Is(err, verify.ErrAlreadyVerified):
			writeError(w, http.StatusConflict, "diff already verified")
		case errors.Is(err, verify.ErrInvalidRule):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("verification failed", zap.String("diff_id", req.DiffID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to record verification")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"verification": v})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	rules, err := s.rules.ListActiveRules(r.Context(), sourceID)
	if err != nil {
		s.logger.Error("list rules failed", zap.String("source_id", sourceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) deactivateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "rule_id")
	if err := s.rules.SetRuleActive(r.Context(), ruleID, false); err != nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rule_id": ruleID, "status": "inactive"})
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultDLQLimit)
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.ParseInt(limStr, 10, 64)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if val > maxDLQLimit {
			val = maxDLQLimit
		}
		limit = val
	}
	letters, err := s.dlq.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("dead letter list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if letters == nil {
		letters = []monitor.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
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
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
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

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
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

type requestIDKey struct{}

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
