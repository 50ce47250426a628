package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"karavan/internal/config"
	"karavan/internal/database"
	"karavan/internal/export"
	"karavan/internal/metrics"
	"karavan/internal/scheduler"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPServer exposes the job-management API.
type HTTPServer struct {
	cfg     config.APIConfig
	sched   *scheduler.Scheduler
	db      *database.DB
	reports *export.ReportWriter
	logger  *zerolog.Logger
	server  *http.Server
	auth    *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, sched *scheduler.Scheduler, db *database.DB, reports *export.ReportWriter, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, sched: sched, db: db, reports: reports, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/jobs", srv.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", srv.handleJob)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the configured handler; used by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// handleJobs serves the collection: POST creates, GET lists.
func (s *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("jobs")
	ownerID := ownerFromRequest(r)

	switch r.Method {
	case http.MethodPost:
		var req scheduler.ScheduleRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		job, err := s.sched.Schedule(r.Context(), ownerID, req)
		if err != nil {
			s.writeSchedulerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)

	case http.MethodGet:
		jobs, err := s.sched.Jobs(r.Context(), ownerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list jobs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJob serves one job plus its sub-resources:
//
//	GET|PATCH|DELETE /api/v1/jobs/{id}
//	POST             /api/v1/jobs/{id}/{pause|resume|cancel|run}
//	GET              /api/v1/jobs/{id}/executions
//	GET              /api/v1/jobs/{id}/report
func (s *HTTPServer) handleJob(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/jobs/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	parts := strings.SplitN(rest, "/", 2)
	id := strings.TrimSpace(parts[0])
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = strings.TrimSpace(parts[1])
	}

	ownerID := ownerFromRequest(r)

	switch action {
	case "":
		s.handleJobItem(w, r, ownerID, id)
	case "pause", "resume", "cancel", "run":
		metrics.IncHTTP("jobs_" + action)
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJobAction(w, r, ownerID, id, action)
	case "executions":
		metrics.IncHTTP("jobs_executions")
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleExecutions(w, r, ownerID, id)
	case "report":
		metrics.IncHTTP("jobs_report")
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleReport(w, r, ownerID, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleJobItem(w http.ResponseWriter, r *http.Request, ownerID, id string) {
	metrics.IncHTTP("jobs_item")

	switch r.Method {
	case http.MethodGet:
		job, err := s.sched.Job(r.Context(), ownerID, id)
		if err != nil {
			s.writeSchedulerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)

	case http.MethodPatch:
		var req scheduler.UpdateRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		job, err := s.sched.Update(r.Context(), ownerID, id, req)
		if err != nil {
			s.writeSchedulerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)

	case http.MethodDelete:
		if err := s.sched.Delete(r.Context(), ownerID, id); err != nil {
			s.writeSchedulerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleJobAction(w http.ResponseWriter, r *http.Request, ownerID, id, action string) {
	var err error
	switch action {
	case "pause":
		err = s.sched.Pause(r.Context(), ownerID, id)
	case "resume":
		err = s.sched.Resume(r.Context(), ownerID, id)
	case "cancel":
		err = s.sched.Cancel(r.Context(), ownerID, id)
	case "run":
		err = s.sched.Trigger(r.Context(), ownerID, id)
	}
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}

	status := "ok"
	if action == "run" {
		status = "started"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func (s *HTTPServer) handleExecutions(w http.ResponseWriter, r *http.Request, ownerID, id string) {
	// Ownership check before touching history.
	if _, err := s.sched.Job(r.Context(), ownerID, id); err != nil {
		s.writeSchedulerError(w, err)
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	executions, err := s.db.ListExecutions(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions})
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request, ownerID, id string) {
	if s.reports == nil {
		writeError(w, http.StatusNotImplemented, "reports are not configured")
		return
	}

	job, err := s.sched.Job(r.Context(), ownerID, id)
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}

	limit := queryInt(r, "limit", 100)
	path, err := s.reports.WriteJobReport(r.Context(), job, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("build execution report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\"executions.xlsx\"")
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, scheduler.ErrInvalidCron):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrJobCancelled):
		writeError(w, http.StatusConflict, "job is cancelled")
	default:
		s.logger.Error().Err(err).Msg("job api error")
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

type contextKey string

const ownerContextKey contextKey = "owner_id"

// ownerFromRequest returns the owner bound during auth, or the default
// single-tenant owner when auth is disabled.
func ownerFromRequest(r *http.Request) string {
	if v, ok := r.Context().Value(ownerContextKey).(string); ok && v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("x-owner-id")); v != "" {
		return v
	}
	return "default"
}

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg      config.APIConfig
	clients  map[string]config.APIClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled {
			client, err := a.checkAuth(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			// Bind the request to the key's owner.
			r = r.WithContext(context.WithValue(r.Context(), ownerContextKey, client.OwnerID))
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) (config.APIClientKey, error) {
	apiKeyHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = "x-api-key"
	}

	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if apiKey == "" {
		return config.APIClientKey{}, fmt.Errorf("missing api key header")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, fmt.Errorf("invalid api key")
	}
	return client, nil
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	key := a.clientKey(r)
	lim := a.getLimiter(key)
	if !lim.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	apiKeyHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = "x-api-key"
	}

	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
