// Package ledger accumulates session performance and keeps the most recent
// trades in memory, mirroring both to the durable store.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// DefaultRingSize is the number of trades kept in memory.
const DefaultRingSize = 50

const persistTimeout = 5 * time.Second

// Ledger is safe for concurrent use. Money totals are kept as decimals so
// many small fees do not drift.
type Ledger struct {
	trades   domain.TradeRecordStore
	sessions domain.SessionStore
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessionID string
	startedAt time.Time
	scans     int64
	found     int64
	executed  int64
	succeeded int64
	failed    int64
	profit    decimal.Decimal
	fees      decimal.Decimal
	largest   decimal.Decimal
	worst     decimal.Decimal

	ring []domain.TradeRecord
	next int
	full bool
	seen map[string]struct{} // ids currently in ring
}

// New creates a ledger keeping size recent trades. Either store may be nil.
func New(size int, trades domain.TradeRecordStore, sessions domain.SessionStore, logger *slog.Logger) *Ledger {
	if size <= 0 {
		size = DefaultRingSize
	}
	l := &Ledger{
		trades:   trades,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "ledger")),
		now:      time.Now,
		ring:     make([]domain.TradeRecord, size),
		seen:     make(map[string]struct{}),
	}
	l.BeginSession("")
	return l
}

// BeginSession zeroes the counters under a new session id. The trade ring is
// kept so history survives a restart of the bot.
func (l *Ledger) BeginSession(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = id
	l.startedAt = l.now().UTC()
	l.scans, l.found, l.executed, l.succeeded, l.failed = 0, 0, 0, 0, 0
	l.profit, l.fees, l.largest, l.worst = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	return id
}

// Restore seeds the ring from the store, oldest first.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.trades == nil {
		return nil
	}
	recs, err := l.trades.ListRecent(ctx, domain.ListOpts{Limit: len(l.ring)})
	if err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(recs) - 1; i >= 0; i-- {
		if _, dup := l.seen[recs[i].ID]; !dup {
			l.push(recs[i])
		}
	}
	return nil
}

// AddScan counts one completed scan that found n candidates.
func (l *Ledger) AddScan(n int) {
	l.mu.Lock()
	l.scans++
	l.found += int64(n)
	l.mu.Unlock()
}

// Record adds a terminal trade. It returns false, changing nothing, when a
// record with the same id was already recorded.
func (l *Ledger) Record(ctx context.Context, rec domain.TradeRecord) bool {
	l.mu.Lock()
	if _, dup := l.seen[rec.ID]; dup {
		l.mu.Unlock()
		return false
	}
	l.push(rec)
	if rec.Kind != domain.TradeEmergencyStop {
		l.count(rec)
	}
	l.mu.Unlock()

	if l.trades != nil {
		ctx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()
		if err := l.trades.Append(ctx, rec); err != nil {
			l.logger.Error("append trade record failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// push stores rec in the ring, evicting the oldest record and its id once
// the ring is full.
func (l *Ledger) push(rec domain.TradeRecord) {
	if l.full {
		delete(l.seen, l.ring[l.next].ID)
	}
	l.seen[rec.ID] = struct{}{}
	l.ring[l.next] = rec
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
}

func (l *Ledger) count(rec domain.TradeRecord) {
	l.executed++
	if rec.Success {
		l.succeeded++
	} else {
		l.failed++
	}
	pnl := decimal.NewFromFloat(rec.PnL)
	l.profit = l.profit.Add(pnl)
	l.fees = l.fees.Add(decimal.NewFromFloat(rec.Fee))
	if pnl.GreaterThan(l.largest) {
		l.largest = pnl
	}
	if pnl.LessThan(l.worst) {
		l.worst = pnl
	}
}

// History returns up to limit trades, most recent first.
func (l *Ledger) History(limit int) []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.full {
		n = len(l.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Stats returns the current session counters.
func (l *Ledger) Stats() domain.SessionStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := domain.SessionStats{
		SessionID:          l.sessionID,
		StartedAt:          l.startedAt,
		TotalScans:         l.scans,
		OpportunitiesFound: l.found,
		TradesExecuted:     l.executed,
		SuccessfulTrades:   l.succeeded,
		FailedTrades:       l.failed,
		TotalProfit:        l.profit.InexactFloat64(),
		TotalFees:          l.fees.InexactFloat64(),
		LargestProfit:      l.largest.InexactFloat64(),
		LargestLoss:        l.worst.InexactFloat64(),
		UpdatedAt:          l.now().UTC(),
	}
	if l.executed > 0 {
		s.SuccessRate = decimal.NewFromInt(l.succeeded).
			Div(decimal.NewFromInt(l.executed)).
			Mul(decimal.NewFromInt(100)).
			Round(2).InexactFloat64()
	}
	return s
}

// Persist upserts the current session snapshot.
func (l *Ledger) Persist(ctx context.Context) error {
	if l.sessions == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := l.sessions.UpsertSnapshot(ctx, l.Stats()); err != nil {
		return fmt.Errorf("ledger: upsert snapshot: %w", err)
	}
	return nil
}
