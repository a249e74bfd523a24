// Package risk holds the single mutable risk state of a session: the token
// blacklist, the daily loss breaker and position sizing.
package risk

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// Config holds the tunable parameters of the gate.
type Config struct {
	MaxTradeSize    float64
	MinTradeSize    float64
	DailyLossLimit  float64
	ValidityWindow  time.Duration
	ScanUtilization float64
	ExecUtilization float64
	ReservedBalance float64
}

// Gate accepts or rejects candidates and sizes trades. All state changes go
// through one mutex so concurrent trade completions never lose a loss update.
type Gate struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	blacklist map[string]struct{}
	dailyLoss float64
	lastReset time.Time // UTC midnight of the current accounting day

	breakerLogged atomic.Bool
}

// NewGate creates a gate seeded with an initial blacklist.
func NewGate(cfg Config, blacklist []string, logger *slog.Logger) *Gate {
	g := &Gate{
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "risk_gate")),
		blacklist: make(map[string]struct{}, len(blacklist)),
	}
	for _, t := range blacklist {
		g.blacklist[t] = struct{}{}
	}
	g.lastReset = utcDay(g.now())
	return g
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rollover must be called with mu held.
func (g *Gate) rollover(now time.Time) {
	day := utcDay(now)
	if day.After(g.lastReset) {
		if g.dailyLoss > 0 {
			g.logger.Info("daily loss reset", slog.Float64("previous", g.dailyLoss))
		}
		g.dailyLoss = 0
		g.lastReset = day
		metrics.DailyLoss.Set(0)
	}
}

// BeginTick re-arms the breaker warning so it is logged at most once per tick.
func (g *Gate) BeginTick() { g.breakerLogged.Store(false) }

// Tripped reports whether the daily loss limit is reached for the UTC day of
// now.
func (g *Gate) Tripped(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trippedLocked(now)
}

func (g *Gate) trippedLocked(now time.Time) bool {
	g.rollover(now)
	return g.cfg.DailyLossLimit > 0 && g.dailyLoss >= g.cfg.DailyLossLimit
}

// CheckBreaker returns ErrRiskBreaker while the breaker is tripped.
func (g *Gate) CheckBreaker(now time.Time) error {
	g.mu.Lock()
	tripped := g.trippedLocked(now)
	loss := g.dailyLoss
	g.mu.Unlock()
	if !tripped {
		return nil
	}
	if g.breakerLogged.CompareAndSwap(false, true) {
		g.logger.Warn("daily loss breaker tripped, rejecting all opportunities",
			slog.Float64("daily_loss", loss),
			slog.Float64("limit", g.cfg.DailyLossLimit),
		)
	}
	return domain.ErrRiskBreaker
}

// Validate applies the breaker, blacklist, validity window and profit
// threshold to a candidate.
func (g *Gate) Validate(c domain.Evaluatable, minProfitPct float64, now time.Time) error {
	if err := g.CheckBreaker(now); err != nil {
		return err
	}
	if g.Blacklisted(c.TokenID()) {
		return domain.ErrBlacklisted
	}
	if now.Sub(c.CreatedAt()) > g.cfg.ValidityWindow {
		return domain.ErrStale
	}
	if c.ProfitPercent() < minProfitPct {
		return domain.ErrBelowThreshold
	}
	return nil
}

// Available is the part of a wallet balance the gate may size against.
func (g *Gate) Available(balance float64) float64 {
	return max(0, balance-g.cfg.ReservedBalance)
}

// ScanSize sizes a candidate at detection time.
func (g *Gate) ScanSize(available, required float64) (float64, error) {
	return g.size(available, g.cfg.ScanUtilization, required)
}

// ExecSize re-sizes a candidate right before capital is committed.
func (g *Gate) ExecSize(available, required float64) (float64, error) {
	return g.size(available, g.cfg.ExecUtilization, required)
}

func (g *Gate) size(available, util, required float64) (float64, error) {
	if available <= 0 {
		return 0, domain.ErrNoBalance
	}
	size := min(g.cfg.MaxTradeSize, available*util)
	if required > 0 {
		size = min(size, required)
	}
	if size < g.cfg.MinTradeSize {
		return 0, domain.ErrBelowMinSize
	}
	return size, nil
}

// RecordOutcome adds a realised loss to the daily accumulator. Gains do not
// offset earlier losses.
func (g *Gate) RecordOutcome(rec domain.TradeRecord) {
	if rec.PnL >= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(g.now())
	g.dailyLoss += -rec.PnL
	metrics.DailyLoss.Set(g.dailyLoss)
	if g.cfg.DailyLossLimit > 0 && g.dailyLoss >= g.cfg.DailyLossLimit {
		g.logger.Warn("daily loss limit reached",
			slog.String("trade_id", rec.ID),
			slog.Float64("daily_loss", g.dailyLoss),
			slog.Float64("limit", g.cfg.DailyLossLimit),
		)
	}
}

// Blacklisted reports whether token is excluded from trading.
func (g *Gate) Blacklisted(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blacklist[token]
	return ok
}

// AddToBlacklist takes effect for every later validation.
func (g *Gate) AddToBlacklist(token string) {
	g.mu.Lock()
	g.blacklist[token] = struct{}{}
	g.mu.Unlock()
	g.logger.Info("token blacklisted", slog.String("token", token))
}

// RemoveFromBlacklist reports whether the token was present.
func (g *Gate) RemoveFromBlacklist(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blacklist[token]
	delete(g.blacklist, token)
	return ok
}

// Blacklist returns the blacklisted tokens, sorted.
func (g *Gate) Blacklist() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.blacklist))
	for t := range g.blacklist {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of the current state.
func (g *Gate) Snapshot() domain.RiskSnapshot {
	now := g.now()
	bl := g.Blacklist()
	g.mu.Lock()
	defer g.mu.Unlock()
	tripped := g.trippedLocked(now)
	return domain.RiskSnapshot{
		Blacklist:      bl,
		DailyLoss:      g.dailyLoss,
		DailyLossLimit: g.cfg.DailyLossLimit,
		LastReset:      g.lastReset,
		BreakerTripped: tripped,
	}
}
