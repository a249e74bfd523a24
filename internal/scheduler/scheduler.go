// Package scheduler drives the periodic scan loops, dispatches the best
// candidates of every tick under the concurrency cap and runs the
// performance loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexbot/internal/arbitrage"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/executor"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// Gate is the part of the risk gate consulted once per tick.
type Gate interface {
	BeginTick()
	CheckBreaker(now time.Time) error
	Available(balance float64) float64
}

// Stats receives scan counters.
type Stats interface {
	AddScan(found int)
}

// Config holds the loop parameters that are not part of the session config.
type Config struct {
	Wallet              string
	TopK                int
	SnipeMultiplier     int
	PerformanceInterval time.Duration
}

// Hooks are optional callbacks into the owner of the scheduler.
type Hooks struct {
	// Candidates is called after every scan with that tick's ranked list.
	Candidates func(ctx context.Context, strategy string, cands []arbitrage.Candidate)
	// Performance runs on the performance loop.
	Performance func(ctx context.Context)
}

// Scheduler owns the loops of one running session.
type Scheduler struct {
	cfg        Config
	registry   *arbitrage.Registry
	gate       Gate
	balances   domain.BalanceSource
	stats      Stats
	session    func() domain.SessionConfig
	dispatcher *Dispatcher
	hooks      Hooks
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.RWMutex
	latest map[string][]arbitrage.Candidate
}

// New creates a scheduler. session is read at the start of every tick, so a
// config swap takes effect on the next tick of each loop.
func New(
	cfg Config,
	registry *arbitrage.Registry,
	gate Gate,
	balances domain.BalanceSource,
	stats Stats,
	session func() domain.SessionConfig,
	dispatcher *Dispatcher,
	hooks Hooks,
	logger *slog.Logger,
) *Scheduler {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.SnipeMultiplier <= 0 {
		cfg.SnipeMultiplier = 2
	}
	if cfg.PerformanceInterval <= 0 {
		cfg.PerformanceInterval = time.Minute
	}
	return &Scheduler{
		cfg:        cfg,
		registry:   registry,
		gate:       gate,
		balances:   balances,
		stats:      stats,
		session:    session,
		dispatcher: dispatcher,
		hooks:      hooks,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "scheduler")),
		latest:     make(map[string][]arbitrage.Candidate),
	}
}

// Run starts one loop per registered scanner plus the performance loop and
// blocks until ctx is cancelled. Executions are dispatched on execCtx, which
// outlives ctx so a graceful stop lets them finish.
func (s *Scheduler) Run(ctx, execCtx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.registry.List() {
		scanner, err := s.registry.Get(name)
		if err != nil {
			return err
		}
		interval := s.scanInterval(name)
		g.Go(func() error {
			return s.loop(ctx, name, interval, func(ctx context.Context, cfg domain.SessionConfig) error {
				return s.Tick(ctx, execCtx, scanner, cfg)
			})
		})
	}
	g.Go(func() error {
		return s.loop(ctx, "performance", func(domain.SessionConfig) time.Duration {
			return s.cfg.PerformanceInterval
		}, func(ctx context.Context, _ domain.SessionConfig) error {
			if s.hooks.Performance != nil {
				s.hooks.Performance(ctx)
			}
			return nil
		})
	})
	s.logger.Info("scheduler started", slog.Any("loops", s.registry.List()))
	defer s.logger.Info("scheduler stopped")
	return g.Wait()
}

func (s *Scheduler) scanInterval(name string) func(domain.SessionConfig) time.Duration {
	if name == domain.StrategySnipe {
		return func(c domain.SessionConfig) time.Duration {
			return c.ScanInterval * time.Duration(s.cfg.SnipeMultiplier)
		}
	}
	return func(c domain.SessionConfig) time.Duration { return c.ScanInterval }
}

// loop runs tick, then sleeps for the interval of the config current at that
// moment. A failed tick is logged and retried after the normal interval.
func (s *Scheduler) loop(ctx context.Context, name string, interval func(domain.SessionConfig) time.Duration, tick func(context.Context, domain.SessionConfig) error) error {
	for {
		if err := tick(ctx, s.session()); err != nil && ctx.Err() == nil {
			s.logger.Warn("tick failed",
				slog.String("loop", name),
				slog.String("error", err.Error()),
			)
		}
		d := interval(s.session())
		if d <= 0 {
			d = time.Second
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one scan of scanner and dispatches its best candidates.
func (s *Scheduler) Tick(ctx, execCtx context.Context, scanner arbitrage.Scanner, cfg domain.SessionConfig) error {
	name := scanner.Name()
	if !cfg.Enabled(name) {
		return nil
	}
	s.gate.BeginTick()
	if err := s.gate.CheckBreaker(s.now()); err != nil {
		s.store(name, nil)
		return nil
	}

	bal, err := s.balances.Balance(ctx, s.cfg.Wallet)
	if err != nil {
		return fmt.Errorf("scheduler: %s: balance: %w", name, err)
	}
	cands, err := scanner.Scan(ctx, cfg, s.gate.Available(bal))
	if err != nil {
		return fmt.Errorf("scheduler: %s: scan: %w", name, err)
	}
	metrics.Scans.WithLabelValues(name).Inc()
	s.stats.AddScan(len(cands))
	s.store(name, cands)
	if s.hooks.Candidates != nil && len(cands) > 0 {
		s.hooks.Candidates(ctx, name, cands)
	}
	if !cfg.AutoExecute {
		return nil
	}

	top := arbitrage.TopK(cands, s.cfg.TopK)
	for i, c := range top {
		job := executor.Job{Opportunity: c.Opportunity, Size: c.Size, Config: cfg}
		if !s.dispatcher.TryDispatch(execCtx, job, cfg.MaxConcurrentTrades) {
			dropped := len(top) - i
			metrics.Dropped.WithLabelValues(name).Add(float64(dropped))
			s.logger.Info("concurrency cap reached, dropping candidates",
				slog.String("loop", name),
				slog.Int("dropped", dropped),
				slog.Int("cap", cfg.MaxConcurrentTrades),
			)
			break
		}
	}
	return nil
}

func (s *Scheduler) store(name string, cands []arbitrage.Candidate) {
	s.mu.Lock()
	s.latest[name] = cands
	s.mu.Unlock()
}

// Opportunities returns the candidates of the latest tick of every loop,
// in loop name order.
func (s *Scheduler) Opportunities() []arbitrage.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []arbitrage.Candidate
	for _, name := range s.registry.List() {
		out = append(out, s.latest[name]...)
	}
	return out
}
