// Package feed keeps long-lived market data streams connected and buffers
// what they deliver for the scan loops.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

const (
	defaultBuffer = 256
	seenTTL       = 30 * time.Minute
)

// LaunchFeed streams new asset launches from a LaunchSource, reconnecting on
// disconnect. Launches are deduplicated by mint and buffered until the snipe
// loop drains them; when the buffer is full the oldest launch is dropped.
type LaunchFeed struct {
	source  domain.LaunchSource
	bufSize int
	retry   time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	pending []domain.NewAssetLaunch
	seen    map[string]time.Time
	dropped int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewLaunchFeed creates a feed over source keeping at most bufSize launches.
func NewLaunchFeed(source domain.LaunchSource, bufSize int, logger *slog.Logger) *LaunchFeed {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	return &LaunchFeed{
		source:  source,
		bufSize: bufSize,
		retry:   2 * time.Second,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "launch_feed")),
		seen:    make(map[string]time.Time),
		done:    make(chan struct{}),
	}
}

// Run streams until ctx is cancelled or Close is called.
func (f *LaunchFeed) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	in := make(chan domain.NewAssetLaunch, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case l := <-in:
				f.add(l)
			}
		}
	}()

	for {
		err := f.source.Stream(ctx, in)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("stream ended")
		}
		f.logger.Warn("launch feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("retry", f.retry),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.retry):
		}
	}
}

func (f *LaunchFeed) add(l domain.NewAssetLaunch) {
	if l.Mint == "" {
		return
	}
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	if ts, ok := f.seen[l.Mint]; ok && now.Sub(ts) < seenTTL {
		return
	}
	f.seen[l.Mint] = now
	if len(f.seen) > 8*f.bufSize {
		for mint, ts := range f.seen {
			if now.Sub(ts) >= seenTTL {
				delete(f.seen, mint)
			}
		}
	}

	if len(f.pending) == f.bufSize {
		f.pending = f.pending[1:]
		f.dropped++
	}
	f.pending = append(f.pending, l)
}

// Drain returns and clears the buffered launches, oldest first.
func (f *LaunchFeed) Drain() []domain.NewAssetLaunch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

// Len returns the number of buffered launches.
func (f *LaunchFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Dropped returns how many launches were evicted by a full buffer.
func (f *LaunchFeed) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Close stops the feed.
func (f *LaunchFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
