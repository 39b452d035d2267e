// Package web provides the HTTP status API for the drop folder pipeline.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/dropzone/internal/config"
	"github.com/JonMunkholm/dropzone/internal/core"
	mw "github.com/JonMunkholm/dropzone/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// JobRegistry is the job view the API needs. *core.Jobs implements it.
type JobRegistry interface {
	List() []core.JobStatus
	GetStatus(key string) (core.JobStatus, error)
	RequestCancel(key string) bool
	Subscribe(key string) (<-chan core.JobStatus, error)
}

// BackupLister lists snapshot versions. *core.Versioner implements it.
type BackupLister interface {
	ListVersions(ctx context.Context, t core.TableRef) ([]core.BackupVersion, error)
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LimiterStatus reports ingestion slot usage. *core.IngestLimiter implements it.
type LimiterStatus interface {
	Status() core.LimiterStatus
}

// Deps are the collaborators of the server.
type Deps struct {
	Jobs    JobRegistry
	Backups BackupLister
	Store   Pinger
	Limiter LimiterStatus
}

// Server is the HTTP server for the status API.
type Server struct {
	deps   Deps
	cfg    config.ServerConfig
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(deps Deps, cfg config.ServerConfig) *Server {
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Job status
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{key}", s.handleJobStatus)
		r.Get("/jobs/{key}/events", s.handleJobEvents)

		// Cancellation mutates state and may require an API key
		r.With(mw.APIKeyAuth(&s.cfg)).Post("/jobs/{key}/cancel", s.handleCancelJob)

		// Backup versions
		r.Get("/backups/{schema}/{table}", s.handleListBackups)
	})
}

// Start begins listening for HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	slog.Info("server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w with status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}

// healthTimeout bounds the store ping of the health check.
const healthTimeout = 2 * time.Second
