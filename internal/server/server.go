// Package server wires the chi router, middleware stack, and HTTP lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gohaul/internal/errors"
	"github.com/3leaps/gohaul/internal/server/handlers"
	"github.com/3leaps/gohaul/internal/server/middleware"
)

// Timeouts configures the underlying http.Server deadlines.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts are used when a zero Timeouts is passed to New.
var DefaultTimeouts = Timeouts{
	Read:     30 * time.Second,
	Write:    30 * time.Second,
	Idle:     120 * time.Second,
	Shutdown: 10 * time.Second,
}

// Server is the HTTP front end.
type Server struct {
	host     string
	port     int
	router   chi.Router
	logger   *zap.Logger
	timeouts Timeouts
}

func New(host string, port int, h *handlers.Handler, logger *zap.Logger, timeouts Timeouts) *Server {
	if timeouts == (Timeouts{}) {
		timeouts = DefaultTimeouts
	}
	s := &Server{
		host:     host,
		port:     port,
		logger:   logger,
		timeouts: timeouts,
	}
	s.router = newRouter(h, logger)
	return s
}

func newRouter(h *handlers.Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger(logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound,
			"NOT_FOUND", "resource not found", apperrors.RequestIDFrom(req))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed,
			"METHOD_NOT_ALLOWED", "method not allowed", apperrors.RequestIDFrom(req))
	})

	r.Get("/health", h.Health)
	r.Get("/health/live", h.Health)
	r.Get("/health/ready", h.Ready)
	r.Get("/version", h.Version)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.CreateJob)
			r.Get("/", h.ListJobs)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.GetJob)
				r.Get("/timeline", h.GetTimeline)

				r.Post("/retry", h.RetryJob)
				r.Post("/cancel", h.CancelJob)
				r.Post("/refund", h.RefundJob)

				r.Post("/started", h.MarkStarted)
				r.Post("/heartbeat", h.Heartbeat)
				r.Post("/progress", h.Progress)
				r.Post("/status", h.AdvanceStatus)
			})
		})

		r.Post("/tasks/failures", h.TaskFailure)

		r.Route("/destinations", func(r chi.Router) {
			r.Get("/", h.ListDestinations)
			r.Post("/", h.PutDestination)
		})

		r.Get("/stats", h.Stats)
	})

	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured listen port.
func (s *Server) Port() int { return s.port }

// Start serves until ctx is cancelled, then drains in-flight requests within
// the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
