package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/server/handler"
	"github.com/quantleap/chronosim/internal/server/middleware"
	"github.com/quantleap/chronosim/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Rate limiting applies per client IP when a limiter is wired in.
	RateLimit       int           // requests per window; 0 disables
	RateLimitWindow time.Duration // defaults to 1s when RateLimit > 0
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Timelines *handler.TimelineHandler
	Actions   *handler.ActionHandler
	Ledger    *handler.LedgerHandler
	Paradoxes *handler.ParadoxHandler
	Positions *handler.PositionHandler
}

// Server is the headless HTTP + WebSocket API server for the timeline engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, optional rate limiting) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Timeline endpoints.
	mux.HandleFunc("POST /api/timelines", handlers.Timelines.CreateTimeline)
	mux.HandleFunc("GET /api/timelines", handlers.Timelines.ListTimelines)
	mux.HandleFunc("GET /api/timelines/{id}", handlers.Timelines.GetTimeline)
	mux.HandleFunc("GET /api/timelines/{id}/state", handlers.Timelines.GetState)
	mux.HandleFunc("POST /api/timelines/{id}/archive", handlers.Timelines.ArchiveTimeline)

	// Action submission.
	mux.HandleFunc("POST /api/timelines/{id}/actions", handlers.Actions.SubmitAction)

	// Flap ledger.
	mux.HandleFunc("GET /api/timelines/{id}/flaps", handlers.Ledger.GetLedger)

	// Paradox endpoints.
	mux.HandleFunc("GET /api/timelines/{id}/paradoxes", handlers.Paradoxes.ListParadoxes)
	mux.HandleFunc("POST /api/timelines/{id}/paradox/extract", handlers.Paradoxes.Extract)

	// Position endpoints.
	mux.HandleFunc("GET /api/actors/{actor_id}/positions", handlers.Positions.ListPositions)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-IP rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

