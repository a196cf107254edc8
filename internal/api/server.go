// Package api is the HTTP transport for remote observers: snapshots and loop
// events stream out over SSE, commands come in as JSON envelopes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/plantctl/internal/channel"
	"github.com/mattjoyce/plantctl/internal/events"
	"github.com/mattjoyce/plantctl/internal/protocol"
	"github.com/mattjoyce/plantctl/internal/queue"
	"github.com/mattjoyce/plantctl/internal/scheduler"
	"github.com/mattjoyce/plantctl/internal/trace"
)

// LoopView is the read side of the sampling loop.
type LoopView interface {
	RunID() string
	Period() time.Duration
	State() scheduler.State
	Stats() scheduler.Stats
	Sensors() []channel.Channel
	Actuators() []channel.Channel
	Peek() protocol.Snapshot
}

// Mirror is the remote end of the state mirror.
type Mirror interface {
	Outbound() *queue.FIFO[protocol.Envelope]
	PushCommand(env protocol.Envelope)
}

// EventSource is the loop event hub.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	Since(lastID int64) []events.Event
}

// TickSource serves stored tick timing. It may be nil when tracing is off.
type TickSource interface {
	Recent(ctx context.Context, limit int) ([]trace.Entry, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is an optional bearer token. Empty leaves the API open.
	APIKey string
	// Digest identifies the loaded configuration.
	Digest string
	// KeepAlive is the SSE comment interval. Zero means 15s.
	KeepAlive time.Duration
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	loop      LoopView
	mirror    Mirror
	events    EventSource
	ticks     TickSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// snapshotConsumer is set while a client drains the outbound queue.
	snapshotConsumer atomic.Bool
}

// New creates a server. ticks may be nil.
func New(config Config, loop LoopView, mirror Mirror, hub EventSource, ticks TickSource, logger *slog.Logger) *Server {
	if config.KeepAlive <= 0 {
		config.KeepAlive = 15 * time.Second
	}
	return &Server{
		config:    config,
		loop:      loop,
		mirror:    mirror,
		events:    hub,
		ticks:     ticks,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx ends (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/registry", s.handleRegistry)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/snapshots", s.handleSnapshots)
		r.Post("/commands", s.handleCommand)
		r.Get("/events", s.handleEvents)
		r.Get("/ticks", s.handleTicks)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
