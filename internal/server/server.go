// Package server exposes the gateway over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bosgateway/internal/outcome"
	"bosgateway/internal/rebalance"
	"bosgateway/internal/report"
	"bosgateway/internal/storage"
)

// Operations is what the HTTP layer needs from the service.
type Operations interface {
	Rebalance(ctx context.Context, userID string, req rebalance.Request) (outcome.Outcome[rebalance.Response], error)
	AccountingReport(ctx context.Context, userID string, req report.Request) (outcome.Outcome[string], error)
	RecentJobs(ctx context.Context, userID string, limit int) ([]storage.JobRecord, error)
}

// LiveViewer upgrades a request into a live event stream for userID.
type LiveViewer interface {
	ServeUser(w http.ResponseWriter, r *http.Request, userID string)
}

// Options configure the HTTP server.
type Options struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Tokens          map[string]string
	Version         string
	// Metrics is served unauthenticated on /metrics when set.
	Metrics http.Handler
}

// Server routes API calls to the service.
type Server struct {
	opts   Options
	ops    Operations
	live   LiveViewer
	logger zerolog.Logger
}

// New constructs the server. live may be nil when no hub runs in this process.
func New(opts Options, ops Operations, live LiveViewer, logger zerolog.Logger) *Server {
	if opts.Listen == "" {
		opts.Listen = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		opts:   opts,
		ops:    ops,
		live:   live,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticate(s.opts.Tokens))
		r.Post("/api/rebalance", s.handleRebalance)
		r.Get("/api/reports/accounting", s.handleAccountingReport)
		r.Get("/api/jobs", s.handleJobs)
		r.Get("/ws", s.handleLive)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("http server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
