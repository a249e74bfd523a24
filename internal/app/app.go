// Package app provides the top-level lifecycle of the dex bot. It wires the
// infrastructure (postgres, redis, object storage, notifications), builds
// the trading engine and runs the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/dexbot/internal/config"
	"github.com/alanyoungcy/dexbot/internal/domain"
)

// modeFunc runs one operating mode until ctx ends.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"trade":   (*App).TradeMode,
	"monitor": (*App).MonitorMode,
	"full":    (*App).FullMode,
}

// App owns the configuration and the cleanup funcs of everything Run wires.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	closers []func()
}

// New creates an App. Nothing is dialled until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: %w: unsupported mode %q", domain.ErrConfiguration, a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("executor", a.cfg.Executor.Kind),
		slog.Int("tokens", len(a.cfg.Tokens)),
		slog.Any("venues", a.cfg.Venues.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.onClose(cleanup)

	return run(a, ctx, deps)
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Close releases everything Run wired, newest first. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	if len(closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("count", len(closers)))
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
