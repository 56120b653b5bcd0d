// Package server assembles the HTTP daemon: router, middleware, metrics, and
// graceful shutdown around the scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/millrun/millrun/pkg/server/api"
	v1 "github.com/millrun/millrun/pkg/server/api/v1"
	"github.com/millrun/millrun/pkg/server/ws"
)

// Options configures the HTTP server.
type Options struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Server is the millrun HTTP daemon.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	opts       Options
}

// New builds the server with all routes registered. The returned hub must be
// attached to the scheduler as a notifier for live updates to flow.
func New(deps *api.Deps, opts Options) *Server {
	hub := ws.NewHub()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", v1.HealthHandler())
	r.Get("/readyz", v1.ReadyHandler(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs", v1.ListJobsHandler(deps))
		r.Post("/jobs", v1.CreateJobHandler(deps))
		r.Get("/jobs/{id}", v1.GetJobHandler(deps))
		r.Delete("/jobs/{id}", v1.DeleteJobHandler(deps))
		r.Post("/jobs/{id}/start", v1.StartJobHandler(deps))
		r.Post("/jobs/{id}/resume", v1.ResumeJobHandler(deps))
		r.Post("/jobs/{id}/cancel", v1.CancelJobHandler(deps))
		r.Post("/jobs/{id}/interrupt", v1.InterruptJobHandler(deps))

		r.Post("/queue/save", v1.SaveQueueHandler(deps))
		r.Post("/queue/load", v1.LoadQueueHandler(deps))
		r.Get("/queue/next", v1.NextJobHandler(deps))

		r.Get("/history", v1.HistoryHandler(deps))
		r.Get("/events", hub.Handler())
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub:  hub,
		opts: opts,
	}
}

// Hub returns the WebSocket hub for wiring into the scheduler notifier.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe blocks serving requests until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	log.Info().
		Str("component", "server").
		Str("addr", s.httpServer.Addr).
		Msg("HTTP server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info().Str("component", "server").Msg("HTTP server stopped")
	return nil
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		log.Debug().
			Str("component", "server").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
