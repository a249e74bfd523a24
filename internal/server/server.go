// Package server exposes the control plane over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/metrics"
	"github.com/alanyoungcy/dexbot/internal/server/handler"
	"github.com/alanyoungcy/dexbot/internal/server/middleware"
	"github.com/alanyoungcy/dexbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Bot    *handler.BotHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

const (
	healthPath  = "/api/health"
	metricsPath = "/metrics"
)

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, auth, then rate limiting. limiter and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	mux.Handle("GET "+metricsPath, metrics.Handler())

	bot := handlers.Bot
	mux.HandleFunc("GET /api/status", bot.Status)
	mux.HandleFunc("POST /api/bot/start", bot.Start)
	mux.HandleFunc("POST /api/bot/stop", bot.Stop)
	mux.HandleFunc("POST /api/bot/emergency-stop", bot.EmergencyStop)
	mux.HandleFunc("GET /api/opportunities", bot.Opportunities)
	mux.HandleFunc("GET /api/trades", bot.Trades)
	mux.HandleFunc("GET /api/config", bot.GetConfig)
	mux.HandleFunc("PUT /api/config", bot.UpdateConfig)
	mux.HandleFunc("GET /api/blacklist", bot.ListBlacklist)
	mux.HandleFunc("POST /api/blacklist", bot.AddBlacklist)
	mux.HandleFunc("DELETE /api/blacklist/{token}", bot.RemoveBlacklist)
	mux.HandleFunc("GET /api/wallet", bot.Wallet)
	mux.HandleFunc("GET /api/performance", bot.Performance)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger, healthPath, metricsPath)(h)
	h = middleware.Auth(cfg.APIKey, healthPath, metricsPath)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Stop waits for in-flight executions, so writes get more room.
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
