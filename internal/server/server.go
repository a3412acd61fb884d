// Package server assembles the chi router and HTTP server around the
// handlers and middleware chain.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/internal/server/handlers"
	"github.com/chembl/delayedjobs/internal/server/middleware"
	"github.com/chembl/delayedjobs/pkg/token"
)

// RateLimits carries the per-route-group limit specs ("<n>/<unit>",
// empty = unlimited).
type RateLimits struct {
	AdminLogin     string
	JobSubmission  string
	ProgressUpdate string
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	host   string
	port   int
	router chi.Router
	http   *http.Server
	log    *zap.Logger
}

// New builds the full route tree mounted under basePath.
func New(host string, port int, basePath string, h *handlers.Handlers, health *handlers.HealthManager, signer *token.Signer, limits RateLimits, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.NotFound(middleware.NotFoundHandler)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler)

	routes := func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limits.JobSubmission))
			r.Post("/submit/{jobType}", h.Submit)
		})

		r.Get("/status/{jobID}", h.GetStatus)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limits.ProgressUpdate))
			r.Use(middleware.JobAuth(signer))
			r.Patch("/status/{jobID}", h.PatchStatus)
		})
		r.Get("/status/inputs/{jobID}/{inputKey}", h.GetInput)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limits.AdminLogin))
			r.Get("/admin/login", h.AdminLogin)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(signer))
			r.Post("/admin/delete_all_jobs_by_type", h.DeleteAllJobsByType)
			r.Get("/admin/delete_output_files_for_job/{jobID}", h.DeleteOutputFilesForJob)
			r.Get("/admin/delete_expired", h.DeleteExpired)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.JobAuth(signer))
			r.Post("/custom_statistics/submit_statistics/{kind}/{jobID}", h.SubmitStatistics)
		})

		r.Get("/health", health.HealthHandler)
	}

	mount := normalizeBasePath(basePath)
	if mount == "/" {
		r.Group(routes)
	} else {
		r.Route(mount, routes)
	}

	return &Server{
		host:   host,
		port:   port,
		router: r,
		log:    log,
	}
}

// normalizeBasePath turns a configured prefix into a chi mount pattern.
func normalizeBasePath(basePath string) string {
	trimmed := strings.Trim(strings.TrimSpace(basePath), "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + trimmed
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
