// Package api exposes the pipeline's operational HTTP surface: health,
// readiness and orphaned-job inspection.
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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/app/health"
	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
	"github.com/ahrav/clipforge/pkg/common/otel"
)

const defaultOrphanMaxAge = 5 * time.Minute

// Server wires the HTTP handlers to the recovery core's read surface.
type Server struct {
	addr       string
	logger     *logger.Logger
	router     *chi.Mux
	tracer     trace.Tracer
	aggregator *health.Aggregator
	registry   pipeline.JobRegistry
}

// NewServer creates the operational HTTP server listening on addr.
func NewServer(
	addr string,
	aggregator *health.Aggregator,
	registry pipeline.JobRegistry,
	tracer trace.Tracer,
	log *logger.Logger,
) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(tracer))
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       addr,
		logger:     log,
		router:     r,
		tracer:     tracer,
		aggregator: aggregator,
		registry:   registry,
	}

	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		// Job inspection endpoints
		r.Get("/jobs/orphaned", s.handleOrphanedJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
	})
}

// Router exposes the underlying mux, mainly for tests.
func (s *Server) Router() *chi.Mux { return s.router }

type probeResultDTO struct {
	Healthy   bool   `json:"healthy"`
	Details   string `json:"details,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthResponseDTO struct {
	Status string                    `json:"status"`
	Checks map[string]probeResultDTO `json:"checks"`
}

// handleHealth reports the aggregate dependency verdict with per-dependency
// detail. Degraded still returns 200; only a failed required dependency
// yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	agg := s.aggregator.Check(r.Context())

	resp := healthResponseDTO{
		Status: string(agg.Status),
		Checks: make(map[string]probeResultDTO, len(agg.Checks)),
	}
	for name, result := range agg.Checks {
		resp.Checks[name] = probeResultDTO{
			Healthy:   result.Healthy,
			Details:   result.Details,
			LatencyMS: result.Latency.Milliseconds(),
		}
	}

	status := http.StatusOK
	if !agg.Healthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleReadiness is the load-balancer check: a bare verdict, no detail.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.aggregator.Check(r.Context()).Healthy() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobDTO struct {
	JobID            string  `json:"job_id"`
	Stage            string  `json:"stage"`
	Status           string  `json:"status"`
	ItemCount        int     `json:"item_count"`
	MediaSeconds     float64 `json:"media_duration_seconds"`
	Portrait         bool    `json:"portrait"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
	RecoveryAttempts int     `json:"recovery_attempts"`
	FailureReason    string  `json:"failure_reason,omitempty"`
}

func toJobDTO(job *pipeline.Job) jobDTO {
	return jobDTO{
		JobID:            job.JobID().String(),
		Stage:            job.Stage().String(),
		Status:           job.Status().String(),
		ItemCount:        job.Size().ItemCount,
		MediaSeconds:     job.Size().MediaDurationSeconds,
		Portrait:         job.Size().Portrait,
		CreatedAt:        job.CreatedAt().UTC().Format(time.RFC3339),
		UpdatedAt:        job.UpdatedAt().UTC().Format(time.RFC3339),
		RecoveryAttempts: job.RecoveryAttempts(),
		FailureReason:    job.FailureReason(),
	}
}

// handleOrphanedJobs lists IN_PROGRESS jobs without recent progress. The
// staleness window is tunable via max_age_minutes for operators chasing a
// stuck batch.
func (s *Server) handleOrphanedJobs(w http.ResponseWriter, r *http.Request) {
	maxAge := defaultOrphanMaxAge
	if raw := r.URL.Query().Get("max_age_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			s.writeError(w, http.StatusBadRequest, "max_age_minutes must be a positive integer")
			return
		}
		maxAge = time.Duration(minutes) * time.Minute
	}

	stale, err := s.registry.ListStale(r.Context(), time.Now().UTC().Add(-maxAge))
	if err != nil {
		s.logger.Error(r.Context(), "failed to list orphaned jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list orphaned jobs")
		return
	}

	jobs := make([]jobDTO, 0, len(stale))
	for _, job := range stale {
		jobs = append(jobs, toJobDTO(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// handleGetJob returns one job record.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := s.registry.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error(r.Context(), "failed to load job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, toJobDTO(job))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(context.Background(), "failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Start runs the server until the context is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
