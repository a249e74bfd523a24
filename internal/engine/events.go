package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexbot/internal/arbitrage"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/notify"
)

const (
	publishTimeout = 2 * time.Second
	alertTimeout   = 15 * time.Second
)

func newID() string { return uuid.NewString() }

// candidatesEvent is the payload published on the opportunities channel.
type candidatesEvent struct {
	Strategy   string                `json:"strategy"`
	Candidates []arbitrage.Candidate `json:"candidates"`
	At         time.Time             `json:"at"`
}

func (e *Engine) publish(ctx context.Context, channel string, v any) {
	if e.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.WarnContext(ctx, "encode event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.deps.Bus.Publish(ctx, channel, data); err != nil {
		e.logger.DebugContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if channel == domain.ChannelTrades {
		if err := e.deps.Bus.StreamAppend(ctx, domain.StreamTrades, data); err != nil {
			e.logger.WarnContext(ctx, "trade stream append failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) publishCandidates(ctx context.Context, strategy string, cands []arbitrage.Candidate) {
	e.publish(ctx, domain.ChannelOpportunities, candidatesEvent{
		Strategy:   strategy,
		Candidates: cands,
		At:         e.now().UTC(),
	})
}

func (e *Engine) publishTrade(ctx context.Context, rec domain.TradeRecord) {
	e.publish(ctx, domain.ChannelTrades, rec)
}

func (e *Engine) publishStatus(ctx context.Context) {
	e.publish(ctx, domain.ChannelStatus, e.Status())
}

// onTrade observes every trade recorded by the execution engine.
func (e *Engine) onTrade(rec domain.TradeRecord) {
	ctx := context.Background()
	e.publishTrade(ctx, rec)

	switch {
	case e.cfg.LargeLoss > 0 && rec.PnL <= -e.cfg.LargeLoss:
		e.alert(notify.EventLargeLoss, "Large loss",
			fmt.Sprintf("%s %s on %s: pnl %.6f (%s)", rec.Kind, rec.State, rec.Token, rec.PnL, rec.FailReason))
	case rec.Success:
		e.alert(notify.EventTrade, "Trade settled",
			fmt.Sprintf("%s %s: pnl %.6f fee %.6f", rec.Kind, rec.Token, rec.PnL, rec.Fee))
	}
}

// performanceTick runs on the performance loop.
func (e *Engine) performanceTick(ctx context.Context) {
	e.refreshBalance(ctx)
	if e.deps.Executor != nil {
		if n := e.deps.Executor.PruneCooldowns(); n > 0 {
			e.logger.DebugContext(ctx, "expired cooldowns pruned", slog.Int("count", n))
		}
	}
	if err := e.deps.Ledger.Persist(ctx); err != nil {
		e.logger.WarnContext(ctx, "session snapshot not persisted", slog.String("error", err.Error()))
	}
	e.publishStatus(ctx)

	st := e.deps.Ledger.Stats()
	e.logger.InfoContext(ctx, "performance",
		slog.Int64("scans", st.TotalScans),
		slog.Int64("trades", st.TradesExecuted),
		slog.Float64("success_rate", st.SuccessRate),
		slog.Float64("profit", st.TotalProfit),
		slog.Float64("fees", st.TotalFees),
		slog.Float64("balance", e.balance.Load().amount),
	)

	now := e.now()
	if !e.deps.Gate.Tripped(now) {
		return
	}
	snap := e.deps.Gate.Snapshot()
	e.logger.WarnContext(ctx, "daily loss breaker tripped",
		slog.Float64("daily_loss", snap.DailyLoss),
		slog.Float64("limit", snap.DailyLossLimit),
	)
	day := now.UTC().Truncate(24 * time.Hour)
	e.alertMu.Lock()
	first := !e.breakerDay.Equal(day)
	e.breakerDay = day
	e.alertMu.Unlock()
	if first {
		e.alert(notify.EventBreaker, "Daily loss breaker tripped",
			fmt.Sprintf("daily loss %.6f reached limit %.6f; trading halted until UTC midnight", snap.DailyLoss, snap.DailyLossLimit))
	}
}

// alert notifies operators in the background so slow senders never hold up
// a trade or a tick.
func (e *Engine) alert(event, title, message string) {
	n := e.deps.Notifier
	if n == nil || !n.Enabled(event) {
		return
	}
	e.alertsGroup.Add(1)
	go func() {
		defer e.alertsGroup.Done()
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := n.Notify(ctx, event, title, message); err != nil {
			e.logger.Warn("alert not delivered",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}
