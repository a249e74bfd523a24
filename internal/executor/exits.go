package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// Position is an entered snipe waiting for its exit.
type Position struct {
	ID            string       `json:"id"`
	Token         domain.Token `json:"token"`
	Notional      float64      `json:"notional"`
	Quantity      float64      `json:"quantity"`
	EntryPrice    float64      `json:"entry_price"`
	EntryFee      float64      `json:"entry_fee"`
	EnteredAt     time.Time    `json:"entered_at"`
	ExitAt        time.Time    `json:"exit_at"`
	TakeProfitPct float64      `json:"take_profit_pct"`
	StopLossPct   float64      `json:"stop_loss_pct"`
	TxIDs         []string     `json:"tx_ids,omitempty"`
}

// Exit reasons.
const (
	ExitDwell      = "dwell"
	ExitTakeProfit = "take_profit"
	ExitStopLoss   = "stop_loss"
	ExitFlush      = "flush"
)

// ExitFunc sells a position. It runs on a context detached from the scheduler
// so shutdown cannot abandon an open position.
type ExitFunc func(ctx context.Context, pos Position, reason string)

// CheckFunc reports whether a position should exit before its dwell ends.
type CheckFunc func(ctx context.Context, pos Position) (exit bool, reason string)

type pendingExit struct {
	pos   Position
	flush chan struct{}
	once  sync.Once
}

func (p *pendingExit) trigger() { p.once.Do(func() { close(p.flush) }) }

// ExitRegistry owns every deferred snipe exit. Each registered position gets
// exactly one call to the exit function.
type ExitRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingExit
	wg      sync.WaitGroup

	onExit      ExitFunc
	check       CheckFunc
	checkEvery  time.Duration
	exitTimeout time.Duration
	logger      *slog.Logger
}

// NewExitRegistry creates a registry. check may be nil, in which case
// positions only leave at the end of their dwell or on Flush.
func NewExitRegistry(onExit ExitFunc, check CheckFunc, checkEvery, exitTimeout time.Duration, logger *slog.Logger) *ExitRegistry {
	return &ExitRegistry{
		pending:     make(map[string]*pendingExit),
		onExit:      onExit,
		check:       check,
		checkEvery:  checkEvery,
		exitTimeout: exitTimeout,
		logger:      logger.With(slog.String("component", "exit_registry")),
	}
}

// Schedule registers pos to exit after dwell.
func (r *ExitRegistry) Schedule(pos Position, dwell time.Duration) {
	pos.ExitAt = time.Now().Add(dwell)
	p := &pendingExit{pos: pos, flush: make(chan struct{})}

	r.mu.Lock()
	r.pending[pos.ID] = p
	r.wg.Add(1)
	n := len(r.pending)
	r.mu.Unlock()
	metrics.PendingExits.Set(float64(n))

	r.logger.Info("exit scheduled",
		slog.String("position_id", pos.ID),
		slog.String("token", pos.Token.ID()),
		slog.Duration("dwell", dwell),
	)
	go r.wait(p, dwell)
}

func (r *ExitRegistry) wait(p *pendingExit, dwell time.Duration) {
	defer r.wg.Done()

	timer := time.NewTimer(dwell)
	defer timer.Stop()
	var tick <-chan time.Time
	if r.check != nil && r.checkEvery > 0 {
		ticker := time.NewTicker(r.checkEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	reason := ExitDwell
wait:
	for {
		select {
		case <-timer.C:
			break wait
		case <-p.flush:
			reason = ExitFlush
			break wait
		case <-tick:
			ctx, cancel := context.WithTimeout(context.Background(), r.exitTimeout)
			exit, why := r.check(ctx, p.pos)
			cancel()
			if exit {
				reason = why
				break wait
			}
		}
	}

	r.mu.Lock()
	delete(r.pending, p.pos.ID)
	n := len(r.pending)
	r.mu.Unlock()
	metrics.PendingExits.Set(float64(n))

	ctx, cancel := context.WithTimeout(context.Background(), r.exitTimeout)
	defer cancel()
	r.onExit(ctx, p.pos, reason)
}

// Flush makes every pending position exit now and returns how many there
// were. It does not wait for the exits to finish.
func (r *ExitRegistry) Flush() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pending {
		p.trigger()
	}
	if len(r.pending) > 0 {
		r.logger.Info("flushing pending exits", slog.Int("count", len(r.pending)))
	}
	return len(r.pending)
}

// Wait blocks until every scheduled exit has run or timeout elapses. It
// reports whether all exits completed.
func (r *ExitRegistry) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		r.logger.Warn("timed out waiting for exits", slog.Int("pending", r.Len()))
		return false
	}
}

// Len returns the number of positions still waiting.
func (r *ExitRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Pending returns a copy of the waiting positions.
func (r *ExitRegistry) Pending() []Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Position, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.pos)
	}
	return out
}
