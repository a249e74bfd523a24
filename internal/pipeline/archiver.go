// Package pipeline runs background maintenance jobs next to the trading
// engine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// Archiver moves trade records older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archive_runner")),
	}
}

// Run executes a single archive run and returns how many records moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("pipeline: archiving trades before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("trades_archived", n))
	return n, nil
}

// RunEvery runs once immediately and then on every interval tick until ctx
// is cancelled. Failed runs are logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: archive interval must be positive, got %s", interval)
	}
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "archiver stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
