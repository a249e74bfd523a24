package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/arbitrage"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/executor"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// blockingExec holds every execution until release is closed.
type blockingExec struct {
	release chan struct{}
	mu      sync.Mutex
	started []string
	active  atomic.Int64
	peak    atomic.Int64
}

func newBlockingExec() *blockingExec { return &blockingExec{release: make(chan struct{})} }

func (b *blockingExec) Execute(ctx context.Context, job executor.Job) (domain.TradeRecord, error) {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	b.mu.Lock()
	b.started = append(b.started, job.Opportunity.TokenID())
	b.mu.Unlock()
	defer b.active.Add(-1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return domain.TradeRecord{ID: job.Opportunity.TokenID()}, nil
}

func (b *blockingExec) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.started...)
}

type stubScanner struct {
	name  string
	cands []arbitrage.Candidate
	err   error
	calls atomic.Int64
}

func (s *stubScanner) Name() string { return s.name }

func (s *stubScanner) Scan(context.Context, domain.SessionConfig, float64) ([]arbitrage.Candidate, error) {
	s.calls.Add(1)
	return s.cands, s.err
}

type stubGate struct{ tripped bool }

func (stubGate) BeginTick() {}

func (g stubGate) CheckBreaker(time.Time) error {
	if g.tripped {
		return domain.ErrRiskBreaker
	}
	return nil
}

func (stubGate) Available(b float64) float64 { return b }

type balance float64

func (b balance) Balance(context.Context, string) (float64, error) { return float64(b), nil }

type scanCounter struct{ scans, found atomic.Int64 }

func (c *scanCounter) AddScan(n int) {
	c.scans.Add(1)
	c.found.Add(int64(n))
}

func candidates(n int) []arbitrage.Candidate {
	out := make([]arbitrage.Candidate, n)
	for i := range out {
		tok := domain.Token{Mint: string(rune('a' + i))}
		out[i] = arbitrage.Candidate{
			Opportunity: domain.ArbitrageOpportunity{Token: tok, DetectedAt: time.Now()},
			Size:        0.01,
			Score:       float64(n - i),
		}
	}
	return out
}

func session(limit int, auto bool) func() domain.SessionConfig {
	return func() domain.SessionConfig {
		return domain.SessionConfig{
			ScanInterval:        20 * time.Millisecond,
			MaxConcurrentTrades: limit,
			EnabledStrategies:   []string{domain.StrategyArbitrage},
			AutoExecute:         auto,
		}
	}
}

func newScheduler(scanner arbitrage.Scanner, exec Executor, gate Gate, cfg func() domain.SessionConfig) (*Scheduler, *Dispatcher, *scanCounter) {
	reg := arbitrage.NewRegistry()
	reg.Register(scanner)
	d := NewDispatcher(exec, discard())
	stats := &scanCounter{}
	s := New(Config{TopK: 5}, reg, gate, balance(1), stats, cfg, d, Hooks{}, discard())
	return s, d, stats
}

func TestCapDropsExcessCandidates(t *testing.T) {
	exec := newBlockingExec()
	defer close(exec.release)
	scanner := &stubScanner{name: domain.StrategyArbitrage, cands: candidates(5)}
	s, d, stats := newScheduler(scanner, exec, stubGate{}, session(3, true))
	before := testutil.ToFloat64(metrics.Dropped.WithLabelValues(domain.StrategyArbitrage))

	require.NoError(t, s.Tick(context.Background(), context.Background(), scanner, session(3, true)()))

	assert.Eventually(t, func() bool { return len(exec.names()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, exec.names(), "highest ranked first")
	assert.EqualValues(t, 3, d.InFlight())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Dropped.WithLabelValues(domain.StrategyArbitrage))-before)
	assert.EqualValues(t, 5, stats.found.Load())
	assert.Len(t, s.Opportunities(), 5)
}

func TestConcurrentDispatchNeverExceedsCap(t *testing.T) {
	exec := newBlockingExec()
	d := NewDispatcher(exec, discard())

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := executor.Job{Opportunity: domain.ArbitrageOpportunity{Token: domain.Token{Mint: string(rune('A' + i))}}}
			if d.TryDispatch(context.Background(), job, 3) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 3, accepted.Load())
	assert.LessOrEqual(t, d.InFlight(), int64(3))

	close(exec.release)
	require.True(t, d.Wait(time.Second))
	assert.Zero(t, d.InFlight())
	assert.LessOrEqual(t, exec.peak.Load(), int64(3))
}

func TestResetClearsInFlightWithoutWaiting(t *testing.T) {
	exec := newBlockingExec()
	d := NewDispatcher(exec, discard())
	job := executor.Job{Opportunity: domain.ArbitrageOpportunity{Token: domain.Token{Mint: "x"}}}
	require.True(t, d.TryDispatch(context.Background(), job, 1))
	assert.False(t, d.TryDispatch(context.Background(), job, 1))

	d.Reset()
	assert.Zero(t, d.InFlight())
	assert.True(t, d.TryDispatch(context.Background(), job, 1))

	close(exec.release)
	require.True(t, d.Wait(time.Second))
	assert.Zero(t, d.InFlight(), "old executions decrement their own counter")
}

func TestMonitorModeDispatchesNothing(t *testing.T) {
	exec := newBlockingExec()
	defer close(exec.release)
	scanner := &stubScanner{name: domain.StrategyArbitrage, cands: candidates(2)}
	var published []arbitrage.Candidate
	reg := arbitrage.NewRegistry()
	reg.Register(scanner)
	s := New(Config{}, reg, stubGate{}, balance(1), &scanCounter{}, session(3, false), NewDispatcher(exec, discard()),
		Hooks{Candidates: func(_ context.Context, _ string, c []arbitrage.Candidate) { published = c }}, discard())

	require.NoError(t, s.Tick(context.Background(), context.Background(), scanner, session(3, false)()))
	assert.Len(t, published, 2)
	assert.Empty(t, exec.names())
}

func TestBreakerSkipsScan(t *testing.T) {
	scanner := &stubScanner{name: domain.StrategyArbitrage, cands: candidates(2)}
	s, _, _ := newScheduler(scanner, newBlockingExec(), stubGate{tripped: true}, session(3, true))

	require.NoError(t, s.Tick(context.Background(), context.Background(), scanner, session(3, true)()))
	assert.Zero(t, scanner.calls.Load())
	assert.Empty(t, s.Opportunities())
}

func TestDisabledStrategyIsNotScanned(t *testing.T) {
	scanner := &stubScanner{name: domain.StrategySnipe}
	s, _, _ := newScheduler(scanner, newBlockingExec(), stubGate{}, session(3, true))
	require.NoError(t, s.Tick(context.Background(), context.Background(), scanner, session(3, true)()))
	assert.Zero(t, scanner.calls.Load())
}

func TestFailingTickRetriesAtInterval(t *testing.T) {
	scanner := &stubScanner{name: domain.StrategyArbitrage, err: errors.New("all venues unavailable")}
	var perf atomic.Int64
	reg := arbitrage.NewRegistry()
	reg.Register(scanner)
	s := New(Config{PerformanceInterval: time.Hour}, reg, stubGate{}, balance(1), &scanCounter{}, session(3, true),
		NewDispatcher(newBlockingExec(), discard()), Hooks{Performance: func(context.Context) { perf.Add(1) }}, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx, context.Background()))

	calls := scanner.calls.Load()
	assert.GreaterOrEqual(t, calls, int64(2), "loop survives failures")
	assert.LessOrEqual(t, calls, int64(8), "no tight retry")
	assert.EqualValues(t, 1, perf.Load())
}

func TestSnipeLoopRunsAtMultiple(t *testing.T) {
	s := New(Config{SnipeMultiplier: 2}, arbitrage.NewRegistry(), stubGate{}, balance(1), &scanCounter{}, session(3, true),
		NewDispatcher(newBlockingExec(), discard()), Hooks{}, discard())
	cfg := domain.SessionConfig{ScanInterval: 5 * time.Second}
	assert.Equal(t, 10*time.Second, s.scanInterval(domain.StrategySnipe)(cfg))
	assert.Equal(t, 5*time.Second, s.scanInterval(domain.StrategyArbitrage)(cfg))
}
