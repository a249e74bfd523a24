package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/executor"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// Executor runs one dispatched job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, job executor.Job) (domain.TradeRecord, error)
}

// Dispatcher enforces the global cap on in-flight executions. The counter is
// incremented before the cap is checked, so concurrent dispatchers can never
// overshoot it.
type Dispatcher struct {
	exec     Executor
	inflight atomic.Pointer[atomic.Int64]
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher in front of exec.
func NewDispatcher(exec Executor, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{exec: exec, logger: logger.With(slog.String("component", "dispatcher"))}
	d.inflight.Store(new(atomic.Int64))
	return d
}

// TryDispatch starts job in the background unless limit executions are
// already in flight. It never blocks on the execution itself.
func (d *Dispatcher) TryDispatch(ctx context.Context, job executor.Job, limit int) bool {
	ctr := d.inflight.Load()
	if n := ctr.Add(1); n > int64(limit) {
		ctr.Add(-1)
		return false
	}
	d.publish()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			ctr.Add(-1)
			d.publish()
		}()
		rec, err := d.exec.Execute(ctx, job)
		switch {
		case err == nil:
			d.logger.Debug("execution finished",
				slog.String("trade_id", rec.ID),
				slog.String("state", string(rec.State)),
			)
		case errors.Is(err, domain.ErrInvalidOpportunity), errors.Is(err, domain.ErrRiskBreaker), errors.Is(err, domain.ErrLockHeld):
			d.logger.Debug("execution skipped",
				slog.String("token", job.Opportunity.TokenID()),
				slog.String("reason", err.Error()),
			)
		default:
			d.logger.Warn("execution not attempted",
				slog.String("token", job.Opportunity.TokenID()),
				slog.String("error", err.Error()),
			)
		}
	}()
	return true
}

func (d *Dispatcher) publish() {
	metrics.InFlight.Set(float64(d.InFlight()))
}

// InFlight returns the number of executions not yet terminal.
func (d *Dispatcher) InFlight() int64 { return d.inflight.Load().Load() }

// Reset drops in-flight bookkeeping without waiting. Executions still running
// decrement the counter they started on, not the fresh one.
func (d *Dispatcher) Reset() {
	d.inflight.Store(new(atomic.Int64))
	d.publish()
}

// Wait blocks until every dispatched execution returns or timeout elapses.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
