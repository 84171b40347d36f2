package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blockcar/vehicled/internal/events"
	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/supervisor"
)

// Executor is the slice of the supervisor the API drives.
type Executor interface {
	StartExecution(ctx context.Context, req supervisor.Request) supervisor.Record
	StopExecution() bool
	EmergencyStop() error
	Status() supervisor.Status
}

// Config holds API server configuration.
type Config struct {
	Listen    string
	VehicleID string
	// APIKey protects every route except /healthz. Empty disables auth.
	APIKey string
	// MaxBodyBytes caps POST bodies. Zero means 1 MiB.
	MaxBodyBytes int64
	// WriteTimeout must exceed the longest execution timeout.
	WriteTimeout time.Duration
}

// Server is the vehicle's HTTP control surface.
type Server struct {
	config    Config
	exec      Executor
	sensors   hal.SensorReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a server. sensors may be nil when the provider cannot report a snapshot.
func New(config Config, exec Executor, hub *events.Hub, sensors hal.SensorReader, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Minute
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		exec:      exec,
		sensors:   sensors,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		r.Get("/api/status", s.handleStatus)
		r.Post("/api/execute", s.handleExecute)
		r.Post("/api/stop", s.handleStop)
		r.Post("/api/emergency-stop", s.handleEmergencyStop)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
