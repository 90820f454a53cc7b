// Package server exposes the derived futarchy state over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
	"github.com/alanyoungcy/futarchyd/internal/metrics"
	"github.com/alanyoungcy/futarchyd/internal/server/handler"
	"github.com/alanyoungcy/futarchyd/internal/server/middleware"
	"github.com/alanyoungcy/futarchyd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // mutating requests per minute per client IP; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Account, Tx and Events may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Account *handler.AccountHandler
	Tx      *handler.TxHandler
	Events  *handler.EventHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Reads are public;
// mutating routes go through auth and rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	guard := func(scope middleware.Scope, h http.HandlerFunc) http.Handler {
		var out http.Handler = h
		out = middleware.RateLimit(limiter, scope, cfg.RateLimit, time.Minute)(out)
		out = middleware.RequireKey(scope, cfg.APIKey)(out)
		return out
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/state", handlers.Markets.GetState)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{conditionId}", handlers.Markets.GetMarket)

	if handlers.Account != nil {
		mux.Handle("PUT /api/account", guard(middleware.ScopeAccount, handlers.Account.SelectAccount))
	}
	if handlers.Tx != nil {
		mux.Handle("POST /api/tx/{call}", guard(middleware.ScopeTx, handlers.Tx.BuildTx))
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
		mux.Handle("GET /api/audit", middleware.RequireKey(middleware.ScopeAudit, cfg.APIKey)(http.HandlerFunc(handlers.Events.ListAudit)))
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	mux.Handle("GET /metrics", metrics.Handler())

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(middleware.NewOrigins(cfg.CORSOrigins))(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
