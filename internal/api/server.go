package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/archiver"
	"github.com/JakeFAU/recurse-archiver/internal/config"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/jobs"
	"github.com/JakeFAU/recurse-archiver/internal/metrics"
)

// JobService is the job registry as seen by the handlers.
type JobService interface {
	Submit(ctx context.Context, kind crawler.JobKind, opts crawler.Options) (crawler.Job, error)
	Select(ctx context.Context, parentID string, sel jobs.Selection) (crawler.Job, error)
	Stop(jobID string) error
	Get(ctx context.Context, jobID string) (crawler.Job, error)
	List(ctx context.Context) ([]crawler.Job, error)
	Analysis(jobID string) (*archiver.AnalyzeResult, error)
	Result(jobID string) (*crawler.Result, error)
}

// ReadinessCheck reports whether downstream dependencies can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the job registry.
type Server struct {
	router  chi.Router
	jobs    JobService
	cfg     config.Config
	logger  *zap.Logger
	history *HistoryHandler
	ready   ReadinessCheck
}

// Option configures a Server.
type Option func(*Server)

// WithHistory mounts the crawl history endpoints under /v1/crawls.
func WithHistory(h *HistoryHandler) Option {
	return func(s *Server) { s.history = h }
}

// WithReadiness sets the /readyz probe.
func WithReadiness(check ReadinessCheck) Option {
	return func(s *Server) { s.ready = check }
}

const requestTimeout = 60 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(svc JobService, cfg config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:   svc,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/archive", s.submitArchiveJob)
			r.Post("/analyze", s.submitAnalyzeJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/result", s.getJobResult)
				r.Post("/select", s.selectPages)
				r.Post("/stop", s.stopJob)
			})
		})
		if s.history != nil {
			r.Route("/crawls", func(r chi.Router) {
				r.Get("/", s.history.ListCrawls)
				r.Get("/{job_id}", s.history.GetCrawl)
				r.Get("/{job_id}/pages", s.history.ListCrawlPages)
			})
		}
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
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type archiveJobRequest struct {
	URL            string                 `json:"url"`
	MaxDepth       *int                   `json:"maxDepth"`
	MaxPages       *int                   `json:"maxPages"`
	DelayMs        *int                   `json:"delayMs"`
	TimeoutMs      *int                   `json:"timeoutMs"`
	SmartDiscovery *bool                  `json:"smartDiscovery"`
	IncludeAssets  *crawler.IncludeAssets `json:"includeAssets"`
	Output         string                 `json:"output"`
}

type analyzeJobRequest struct {
	URL      string `json:"url"`
	MaxDepth *int   `json:"maxDepth"`
	MaxPages *int   `json:"maxPages"`
}

func (s *Server) submitArchiveJob(w http.ResponseWriter, r *http.Request) {
	var req archiveJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := s.cfg.ArchiveOptions(req.URL)
	opts.MaxDepth = valueOrDefault(req.MaxDepth, opts.MaxDepth)
	opts.MaxPages = valueOrDefault(req.MaxPages, opts.MaxPages)
	if req.DelayMs != nil {
		opts.Delay = time.Duration(*req.DelayMs) * time.Millisecond
	}
	if req.TimeoutMs != nil {
		opts.Timeout = time.Duration(*req.TimeoutMs) * time.Millisecond
	}
	opts.SmartDiscovery = valueOrDefault(req.SmartDiscovery, opts.SmartDiscovery)
	opts.IncludeAssets = valueOrDefault(req.IncludeAssets, opts.IncludeAssets)
	opts.OutputPath = req.Output
	s.submit(w, r, crawler.JobKindArchive, opts)
}

func (s *Server) submitAnalyzeJob(w http.ResponseWriter, r *http.Request) {
	var req analyzeJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := s.cfg.AnalyzeOptions(req.URL)
	opts.MaxDepth = valueOrDefault(req.MaxDepth, opts.MaxDepth)
	opts.MaxPages = valueOrDefault(req.MaxPages, opts.MaxPages)
	s.submit(w, r, crawler.JobKindAnalyze, opts)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind crawler.JobKind, opts crawler.Options) {
	job, err := s.jobs.Submit(r.Context(), kind, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) selectPages(w http.ResponseWriter, r *http.Request) {
	var sel jobs.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Select(r.Context(), chi.URLParam(r, "job_id"), sel)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Stop(jobID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "stopping"})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []crawler.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job.Kind == crawler.JobKindAnalyze {
		analysis, err := s.jobs.Analysis(jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job": job, "analysis": analysis})
		return
	}
	result, err := s.jobs.Result(jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "result": result})
}

// writeServiceError maps registry errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *crawler.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
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

// RequestID returns the id assigned to the request carried by ctx.
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
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
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
