// Package engine is the context object of a trading session. It owns the
// scheduler, risk gate, ledger and execution engine and exposes the control
// surface used by the HTTP API and the app modes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexbot/internal/arbitrage"
	"github.com/alanyoungcy/dexbot/internal/config"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/executor"
	"github.com/alanyoungcy/dexbot/internal/feed"
	"github.com/alanyoungcy/dexbot/internal/ledger"
	"github.com/alanyoungcy/dexbot/internal/notify"
	"github.com/alanyoungcy/dexbot/internal/risk"
	"github.com/alanyoungcy/dexbot/internal/scheduler"
)

const (
	defaultStopTimeout = 30 * time.Second
	storeTimeout       = 5 * time.Second
)

// Config holds the engine parameters that do not change at runtime.
type Config struct {
	Mode        string
	Wallet      string
	Chain       string
	Reserve     float64
	Scheduler   scheduler.Config
	StopTimeout time.Duration
	// LargeLoss is the loss at or above which a trade raises an alert.
	LargeLoss float64
}

// Deps are the collaborators of an engine. Stores, the bus, the launch feed
// and the notifier are optional.
type Deps struct {
	Registry  *arbitrage.Registry
	Gate      *risk.Gate
	Ledger    *ledger.Ledger
	Executor  *executor.Engine
	Balances  domain.BalanceSource
	Launches  *feed.LaunchFeed
	Bus       domain.SignalBus
	Configs   domain.ConfigStore
	Blacklist domain.BlacklistStore
	Audit     domain.AuditStore
	Notifier  *notify.Notifier
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg        Config
	deps       Deps
	dispatcher *scheduler.Dispatcher
	sched      *scheduler.Scheduler
	session    atomic.Pointer[domain.SessionConfig]
	logger     *slog.Logger
	now        func() time.Time

	balance   atomic.Pointer[walletBalance]
	startedAt atomic.Pointer[time.Time]

	running atomic.Bool

	// mu guards the transitions below; it is never held while waiting.
	mu         sync.Mutex
	stopping   bool
	restored   bool
	scanCancel context.CancelFunc
	execCancel context.CancelFunc
	loops      sync.WaitGroup

	alertMu     sync.Mutex
	breakerDay  time.Time
	alertsGroup sync.WaitGroup
}

type walletBalance struct {
	amount float64
	at     time.Time
}

// New wires an engine around deps with initial as the starting session
// config.
func New(cfg Config, deps Deps, initial domain.SessionConfig, logger *slog.Logger) *Engine {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if deps.Registry == nil {
		deps.Registry = arbitrage.NewRegistry()
	}
	if cfg.Scheduler.Wallet == "" {
		cfg.Scheduler.Wallet = cfg.Wallet
	}
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "engine")),
		now:    time.Now,
	}
	e.setSession(initial)
	e.balance.Store(&walletBalance{})

	if deps.Executor != nil {
		e.dispatcher = scheduler.NewDispatcher(deps.Executor, logger)
		deps.Executor.OnRecord(e.onTrade)
	}
	e.sched = scheduler.New(cfg.Scheduler, deps.Registry, deps.Gate, deps.Balances, deps.Ledger,
		e.Config, e.dispatcher, scheduler.Hooks{
			Candidates:  e.publishCandidates,
			Performance: e.performanceTick,
		}, logger)
	return e
}

func (e *Engine) setSession(c domain.SessionConfig) {
	if e.cfg.Mode == "monitor" {
		c.AutoExecute = false
	}
	c.EnabledStrategies = append([]string(nil), c.EnabledStrategies...)
	e.session.Store(&c)
}

// Config returns the session config currently in effect.
func (e *Engine) Config() domain.SessionConfig {
	return *e.session.Load()
}

// configured reports every missing collaborator or setting that would make a
// started engine useless.
func (e *Engine) configured() error {
	var missing []string
	if e.cfg.Wallet == "" {
		missing = append(missing, "wallet address")
	}
	if len(e.deps.Registry.List()) == 0 {
		missing = append(missing, "scanners")
	}
	if e.deps.Gate == nil {
		missing = append(missing, "risk gate")
	}
	if e.deps.Ledger == nil {
		missing = append(missing, "ledger")
	}
	if e.deps.Executor == nil {
		missing = append(missing, "trade executor")
	}
	if e.deps.Balances == nil {
		missing = append(missing, "balance source")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: engine is missing %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}
	return config.ValidateSession(e.Config())
}

// Start begins a new session: it reloads the persisted config and blacklist,
// then runs the scan loops and the launch feed until Stop or EmergencyStop.
// The loops are detached from ctx, which only bounds the startup work.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return domain.ErrAlreadyRunning
	}
	if e.stopping {
		return fmt.Errorf("%w: previous session is still stopping", domain.ErrAlreadyRunning)
	}
	if err := e.configured(); err != nil {
		return err
	}

	e.loadPersisted(ctx)
	sessionID := e.deps.Ledger.BeginSession("")
	e.refreshBalance(ctx)

	execCtx, execCancel := context.WithCancel(context.WithoutCancel(ctx))
	scanCtx, scanCancel := context.WithCancel(execCtx)
	e.execCancel, e.scanCancel = execCancel, scanCancel

	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		if err := e.sched.Run(scanCtx, execCtx); err != nil {
			e.logger.Error("scheduler exited", slog.String("error", err.Error()))
		}
	}()
	if e.deps.Launches != nil {
		e.loops.Add(1)
		go func() {
			defer e.loops.Done()
			if err := e.deps.Launches.Run(scanCtx); err != nil {
				e.logger.Error("launch feed exited", slog.String("error", err.Error()))
			}
		}()
	}

	now := e.now().UTC()
	e.startedAt.Store(&now)
	e.running.Store(true)
	e.logger.InfoContext(ctx, "engine started",
		slog.String("session_id", sessionID),
		slog.String("mode", e.cfg.Mode),
		slog.Any("strategies", e.Config().EnabledStrategies),
		slog.Bool("auto_execute", e.Config().AutoExecute),
	)
	e.audit(ctx, "engine_start", map[string]any{"session_id": sessionID})
	return nil
}

// loadPersisted applies the stored session config and blacklist. Store
// failures are logged and the in-memory values are kept.
func (e *Engine) loadPersisted(ctx context.Context) {
	if !e.restored {
		restoreCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		if err := e.deps.Ledger.Restore(restoreCtx); err != nil {
			e.logger.WarnContext(ctx, "trade history not restored", slog.String("error", err.Error()))
		}
		cancel()
		e.restored = true
	}

	if e.deps.Configs != nil {
		loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		stored, err := e.deps.Configs.Load(loadCtx)
		cancel()
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			e.logger.WarnContext(ctx, "persisted config not loaded", slog.String("error", err.Error()))
		case config.ValidateSession(stored) != nil:
			e.logger.WarnContext(ctx, "persisted config is invalid, keeping defaults")
		default:
			e.setSession(stored)
		}
	}

	if e.deps.Blacklist != nil {
		listCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		tokens, err := e.deps.Blacklist.List(listCtx)
		cancel()
		if err != nil {
			e.logger.WarnContext(ctx, "persisted blacklist not loaded", slog.String("error", err.Error()))
		}
		for _, t := range tokens {
			e.deps.Gate.AddToBlacklist(t)
		}
	}
}

// Stop ends the session gracefully: scanning stops at once, in-flight
// executions and pending snipe exits get up to StopTimeout each to finish,
// and the session snapshot is persisted. Status and EmergencyStop stay
// responsive while Stop waits.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running.Load() || e.stopping {
		e.mu.Unlock()
		return domain.ErrNotRunning
	}
	e.stopping = true
	scanCancel, execCancel := e.scanCancel, e.execCancel
	e.mu.Unlock()

	scanCancel()
	e.loops.Wait()
	if !e.dispatcher.Wait(e.cfg.StopTimeout) {
		e.logger.WarnContext(ctx, "in-flight executions still running at stop",
			slog.Int64("in_flight", e.dispatcher.InFlight()),
		)
	}
	exits := e.deps.Executor.Exits()
	if n := exits.Flush(); n > 0 {
		exits.Wait(e.cfg.StopTimeout)
	}
	execCancel()

	e.mu.Lock()
	e.running.Store(false)
	e.stopping = false
	e.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := e.deps.Ledger.Persist(persistCtx); err != nil {
		e.logger.WarnContext(ctx, "session snapshot not persisted", slog.String("error", err.Error()))
	}
	e.publishStatus(persistCtx)
	e.audit(persistCtx, "engine_stop", nil)
	e.logger.InfoContext(ctx, "engine stopped")
	return nil
}

// EmergencyStop aborts everything without waiting: both contexts are
// cancelled, in-flight bookkeeping is cleared, pending exits are flushed in
// the background and an emergency_stop record is written. It works whether
// or not the engine is running.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) domain.TradeRecord {
	e.mu.Lock()
	if e.execCancel != nil {
		e.execCancel()
	}
	wasRunning := e.running.Swap(false)
	var inFlight int64
	if e.dispatcher != nil {
		inFlight = e.dispatcher.InFlight()
		e.dispatcher.Reset()
	}
	pending := 0
	if e.deps.Executor != nil {
		pending = e.deps.Executor.Exits().Flush()
	}
	e.mu.Unlock()

	if reason == "" {
		reason = "operator request"
	}
	now := e.now().UTC()
	rec := domain.TradeRecord{
		ID:        newID(),
		Kind:      domain.TradeEmergencyStop,
		State:     domain.StateFailed,
		Detail:    fmt.Sprintf("%s (running=%t in_flight=%d pending_exits=%d)", reason, wasRunning, inFlight, pending),
		StartedAt: now,
		Timestamp: now,
	}

	ctx = context.WithoutCancel(ctx)
	if e.deps.Ledger != nil {
		e.deps.Ledger.Record(ctx, rec)
	}
	e.publishTrade(ctx, rec)
	e.audit(ctx, "emergency_stop", map[string]any{
		"reason":        reason,
		"in_flight":     inFlight,
		"pending_exits": pending,
	})
	e.alert(notify.EventEmergency, "Emergency stop", rec.Detail)
	e.logger.WarnContext(ctx, "emergency stop",
		slog.String("reason", reason),
		slog.Int64("in_flight", inFlight),
		slog.Int("pending_exits", pending),
	)
	return rec
}

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Status returns the last known state. It performs no I/O and never fails.
func (e *Engine) Status() domain.Status {
	st := domain.Status{
		Running:           e.Running(),
		Mode:              e.cfg.Mode,
		Balance:           e.balance.Load().amount,
		OpenOpportunities: len(e.sched.Opportunities()),
		Config:            e.Config(),
	}
	if e.dispatcher != nil {
		st.InFlight = e.dispatcher.InFlight()
	}
	if e.deps.Executor != nil {
		st.PendingExits = e.deps.Executor.Exits().Len()
	}
	if e.deps.Ledger != nil {
		st.Stats = e.deps.Ledger.Stats()
	}
	if e.deps.Gate != nil {
		st.Risk = e.deps.Gate.Snapshot()
	}
	return st
}

// UpdateConfig validates c and swaps it in; every loop picks it up on its
// next tick. The new config is persisted and audited.
func (e *Engine) UpdateConfig(ctx context.Context, c domain.SessionConfig) (domain.SessionConfig, error) {
	if err := config.ValidateSession(c); err != nil {
		return domain.SessionConfig{}, err
	}
	prev := e.Config()
	e.setSession(c)
	cur := e.Config()

	if e.deps.Configs != nil {
		saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := e.deps.Configs.Save(saveCtx, cur); err != nil {
			e.logger.WarnContext(ctx, "config not persisted", slog.String("error", err.Error()))
		}
	}
	e.audit(ctx, "config_update", map[string]any{"previous": prev, "current": cur})
	e.logger.InfoContext(ctx, "session config updated",
		slog.Duration("scan_interval", cur.ScanInterval),
		slog.Int("max_concurrent_trades", cur.MaxConcurrentTrades),
		slog.Float64("min_profit_pct", cur.MinProfitPct),
		slog.Bool("auto_execute", cur.AutoExecute),
	)
	return cur, nil
}

// TradeHistory returns up to limit recent trades, most recent first.
func (e *Engine) TradeHistory(limit int) []domain.TradeRecord {
	return e.deps.Ledger.History(limit)
}

// Opportunities returns the candidates of the latest tick of every loop.
func (e *Engine) Opportunities() []arbitrage.Candidate {
	return e.sched.Opportunities()
}

// Blacklist returns the blacklisted tokens, sorted.
func (e *Engine) Blacklist() []string {
	return e.deps.Gate.Blacklist()
}

// AddToBlacklist excludes token from every subsequent cycle and persists it.
func (e *Engine) AddToBlacklist(ctx context.Context, token, reason string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("engine: blacklist: %w: token is required", domain.ErrInvalidInput)
	}
	if e.deps.Blacklist != nil {
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := e.deps.Blacklist.Add(storeCtx, token, reason); err != nil {
			return fmt.Errorf("engine: blacklist %s: %w", token, err)
		}
	}
	e.deps.Gate.AddToBlacklist(token)
	e.audit(ctx, "blacklist_add", map[string]any{"token": token, "reason": reason})
	return nil
}

// RemoveFromBlacklist lifts the exclusion of token.
func (e *Engine) RemoveFromBlacklist(ctx context.Context, token string) error {
	removed := e.deps.Gate.RemoveFromBlacklist(token)
	if e.deps.Blacklist != nil {
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		err := e.deps.Blacklist.Remove(storeCtx, token)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return fmt.Errorf("engine: unblacklist %s: %w", token, err)
		default:
			removed = true
		}
	}
	if !removed {
		return fmt.Errorf("engine: unblacklist %s: %w", token, domain.ErrNotFound)
	}
	e.audit(ctx, "blacklist_remove", map[string]any{"token": token})
	return nil
}

// Wallet refreshes the balance and describes the trading account. On a
// balance failure the last known balance is returned.
func (e *Engine) Wallet(ctx context.Context) domain.WalletInfo {
	e.refreshBalance(ctx)
	b := e.balance.Load()
	available := b.amount - e.cfg.Reserve
	if e.deps.Gate != nil {
		available = e.deps.Gate.Available(b.amount)
	}
	return domain.WalletInfo{
		Address:   e.cfg.Wallet,
		Chain:     e.cfg.Chain,
		Balance:   b.amount,
		Available: max(available, 0),
		Reserve:   e.cfg.Reserve,
		UpdatedAt: b.at,
	}
}

// Performance summarises the session.
type Performance struct {
	Stats         domain.SessionStats `json:"stats"`
	Risk          domain.RiskSnapshot `json:"risk"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	InFlight      int64               `json:"in_flight"`
	PendingExits  int                 `json:"pending_exits"`
}

// Performance returns the session counters and risk state.
func (e *Engine) Performance() Performance {
	st := e.Status()
	p := Performance{
		Stats:        st.Stats,
		Risk:         st.Risk,
		InFlight:     st.InFlight,
		PendingExits: st.PendingExits,
	}
	if started := e.startedAt.Load(); started != nil && st.Running {
		p.UptimeSeconds = e.now().Sub(*started).Seconds()
	}
	return p
}

// Wait blocks until background alerts have been delivered or timeout elapses.
func (e *Engine) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.alertsGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Engine) refreshBalance(ctx context.Context) {
	if e.deps.Balances == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	amount, err := e.deps.Balances.Balance(ctx, e.cfg.Wallet)
	if err != nil {
		e.logger.WarnContext(ctx, "balance refresh failed", slog.String("error", err.Error()))
		return
	}
	e.balance.Store(&walletBalance{amount: amount, at: e.now().UTC()})
}

func (e *Engine) audit(ctx context.Context, event string, detail map[string]any) {
	if e.deps.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := e.deps.Audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
