package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/engine"
	"github.com/alanyoungcy/dexbot/internal/pipeline"
	"github.com/alanyoungcy/dexbot/internal/server"
	"github.com/alanyoungcy/dexbot/internal/server/handler"
	"github.com/alanyoungcy/dexbot/internal/server/ws"
)

const shutdownTimeout = 45 * time.Second

// TradeMode runs a session headless: scan, execute, persist. There is no
// HTTP surface.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runSession(ctx, deps, false, false)
}

// MonitorMode scans and publishes opportunities without dispatching any of
// them. The HTTP API is always served so the opportunities can be watched.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runSession(ctx, deps, true, false)
}

// FullMode runs the session, the HTTP API and the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runSession(ctx, deps, true, true)
}

func (a *App) runSession(ctx context.Context, deps *Dependencies, withHTTP, withArchive bool) error {
	eng, closeEngine, err := buildEngine(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}
	a.onClose(closeEngine)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("app: start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if withHTTP {
		a.startHTTPServer(gctx, g, deps, eng)
	}
	if withArchive && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunEvery(gctx, a.cfg.Archive.Interval.Duration)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err = g.Wait()
	a.stopEngine(eng)
	return err
}

// stopEngine ends the session gracefully on shutdown. A session already
// stopped through the API is left alone.
func (a *App) stopEngine(eng *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		a.logger.Warn("engine stop failed", slog.String("error", err.Error()))
	}
	if !eng.Wait(10 * time.Second) {
		a.logger.Warn("pending alerts not delivered before shutdown")
	}
}

// startHTTPServer serves the control plane and the WebSocket hub until ctx
// is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	hub := ws.NewHub(deps.SignalBus, eng.Status, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Bot:    handler.NewBotHandler(eng, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
