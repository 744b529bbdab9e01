// Package api provides the admin HTTP server for PitchPipe.
//
// It exposes health and readiness checks, read-only project and conversation endpoints, the
// Twilio inbound webhook and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/store"
)

// Server defaults.
const (
	// DefaultAddr is loopback only: the user routes expose every founder's projects and
	// conversation log without authentication.
	DefaultAddr            = "127.0.0.1:8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadyTimeout    = 2 * time.Second
	// MaxTurnsLimit caps the limit query parameter of the turns endpoint.
	MaxTurnsLimit = 200
)

// Opts holds configuration for the admin server.
type Opts struct {
	Addr          string
	Metrics       *metrics.Collector
	TwilioWebhook http.Handler
	HistoryLimit  int
}

// Option configures the admin server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithMetrics exposes c on /metrics and records request counts on it.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Opts) {
		o.Metrics = c
	}
}

// WithTwilioWebhook mounts h on POST /webhooks/twilio.
func WithTwilioWebhook(h http.Handler) Option {
	return func(o *Opts) {
		o.TwilioWebhook = h
	}
}

// WithHistoryLimit sets the default limit of the turns endpoint.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) {
		o.HistoryLimit = n
	}
}

// Server is the admin HTTP server.
type Server struct {
	st     store.Store
	cfg    Opts
	router chi.Router
}

// NewServer builds the server and its routes.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, HistoryLimit: store.DefaultHistoryLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = store.DefaultHistoryLimit
	}
	s := &Server{st: st, cfg: cfg}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(s.cfg.Metrics))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/project", s.latestProjectHandler)
		r.Get("/projects", s.listProjectsHandler)
		r.Get("/turns", s.turnsHandler)
	})
	if s.cfg.TwilioWebhook != nil {
		r.Method(http.MethodPost, "/webhooks/twilio", s.cfg.TwilioWebhook)
	}
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, errorResponse("Method not allowed"))
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}
