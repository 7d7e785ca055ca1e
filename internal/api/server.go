// Package api exposes the admin HTTP surface: workflow pause control,
// manual source runs, and run history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/pause"
)

// Config controls the HTTP surface.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires the admin handlers to the stores and the pause registry.
type Server struct {
	router  chi.Router
	records content.RecordStore
	sources content.SourceStore
	runs    content.RunStore
	pauses  *pause.Registry
	queue   content.Queue
	clock   content.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	records content.RecordStore,
	sources content.SourceStore,
	runs content.RunStore,
	pauses *pause.Registry,
	queue content.Queue,
	clock content.Clock,
	logger *zap.Logger,
	cfg Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		records: records,
		sources: sources,
		runs:    runs,
		pauses:  pauses,
		queue:   queue,
		clock:   clock,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/pauses", func(r chi.Router) {
			r.Get("/", s.listPauses)
			r.Post("/", s.createPause)
			r.Post("/{pause_id}/resume", s.resumePause)
		})
		r.Route("/sources/{source_id}", func(r chi.Router) {
			r.Post("/run", s.runSource)
			r.Get("/runs", s.listRuns)
		})
		r.Get("/records/{record_id}", s.getRecord)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The stores back every request; listing active pauses exercises the
	// same dependency a real request would.
	if _, err := s.pauses.Active(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createPauseRequest struct {
	WorkflowType string `json:"workflow_type"`
	SiteID       string `json:"site_id"`
	PausedBy     string `json:"paused_by"`
}

func (s *Server) createPause(w http.ResponseWriter, r *http.Request) {
	var req createPauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	wt := content.WorkflowType(req.WorkflowType)
	if !validWorkflowType(wt) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown workflow_type %q", req.WorkflowType))
		return
	}
	if req.PausedBy == "" {
		writeError(w, http.StatusBadRequest, "paused_by required")
		return
	}

	p, err := s.pauses.Pause(r.Context(), wt, req.SiteID, req.PausedBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"pause": p})
}

func (s *Server) listPauses(w http.ResponseWriter, r *http.Request) {
	active, err := s.pauses.Active(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pauses": active})
}

type resumePauseRequest struct {
	ResumedBy string `json:"resumed_by"`
}

func (s *Server) resumePause(w http.ResponseWriter, r *http.Request) {
	pauseID := chi.URLParam(r, "pause_id")
	var req resumePauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ResumedBy == "" {
		writeError(w, http.StatusBadRequest, "resumed_by required")
		return
	}

	if err := s.pauses.Resume(r.Context(), pauseID, req.ResumedBy); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pause not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pause_id": pauseID, "status": "resumed"})
}

func (s *Server) runSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	src, err := s.sources.Get(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := content.NewJob(content.JobSourceRun)
	job.SiteID = src.SiteID
	job.SourceID = src.ID
	job.Enqueued = s.clock.Now()

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, job); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"source_id": src.ID, "status": "queued"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, err := s.sources.Get(r.Context(), sourceID); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListBySource(r.Context(), sourceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "record_id")
	rec, err := s.records.GetByID(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec})
}

func validWorkflowType(wt content.WorkflowType) bool {
	switch wt {
	case content.WorkflowFeedIngestion, content.WorkflowSearchIngestion,
		content.WorkflowCommunityIngestion, content.WorkflowAllIngestion,
		content.WorkflowEnrichment, content.WorkflowEditorialisation,
		content.WorkflowScreenshots, content.WorkflowAllEnrichment:
		return true
	default:
		return false
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
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
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
