// Package executor runs approved opportunities through the trade executor:
// the buy-then-sell state machine for arbitrage and the enter/exit lifecycle
// for snipes. Every attempted trade ends in exactly one recorded TradeRecord.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// Gate is the part of the risk gate used at execution time.
type Gate interface {
	Validate(c domain.Evaluatable, minProfitPct float64, now time.Time) error
	Available(balance float64) float64
	ExecSize(available, required float64) (float64, error)
	RecordOutcome(rec domain.TradeRecord)
}

// Ledger records terminal trades. Record returns false when the record id was
// already seen.
type Ledger interface {
	Record(ctx context.Context, rec domain.TradeRecord) bool
}

// Quoter returns the current price of a token on one venue.
type Quoter interface {
	Quote(ctx context.Context, token domain.Token, venue string) (domain.PriceQuote, error)
}

// Config holds the engine parameters.
type Config struct {
	Wallet             string
	Fees               domain.FeeModel
	RecoveryPenaltyPct float64
	SnipeVenue         string
	ExitQuoteVenue     string
	DwellMin           time.Duration
	DwellMax           time.Duration
	CheckInterval      time.Duration
	LegTimeout         time.Duration
	LockTTL            time.Duration
	Cooldown           time.Duration
}

// Job is one dispatched candidate together with the session config of the
// tick that produced it.
type Job struct {
	Opportunity domain.Evaluatable
	Size        float64
	Config      domain.SessionConfig
}

// Engine executes jobs. It is safe for concurrent use; trades on the same
// token are serialised by the lock manager when one is configured.
type Engine struct {
	cfg      Config
	trader   domain.TradeExecutor
	balances domain.BalanceSource
	gate     Gate
	ledger   Ledger
	quotes   Quoter
	locks    domain.LockManager
	dedup    *Dedup
	exits    *ExitRegistry
	logger   *slog.Logger

	now   func() time.Time
	dwell func() time.Duration

	obsMu     sync.RWMutex
	observers []func(domain.TradeRecord)
}

// New creates an Engine. locks may be nil.
func New(
	cfg Config,
	trader domain.TradeExecutor,
	balances domain.BalanceSource,
	gate Gate,
	ledger Ledger,
	quotes Quoter,
	locks domain.LockManager,
	logger *slog.Logger,
) *Engine {
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	e := &Engine{
		cfg:      cfg,
		trader:   trader,
		balances: balances,
		gate:     gate,
		ledger:   ledger,
		quotes:   quotes,
		locks:    locks,
		dedup:    NewDedup(cfg.Cooldown),
		logger:   logger.With(slog.String("component", "executor")),
		now:      time.Now,
	}
	e.dwell = e.randomDwell
	e.exits = NewExitRegistry(e.exit, e.checkPosition, cfg.CheckInterval, 2*cfg.LegTimeout, logger)
	return e
}

// OnRecord registers fn to be called once for every newly recorded trade.
func (e *Engine) OnRecord(fn func(domain.TradeRecord)) {
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

// Exits returns the deferred exit registry.
func (e *Engine) Exits() *ExitRegistry { return e.exits }

// PruneCooldowns forgets tokens whose cooldown has lapsed and returns how
// many were dropped.
func (e *Engine) PruneCooldowns() int { return e.dedup.Cleanup() }

func (e *Engine) randomDwell() time.Duration {
	lo, hi := e.cfg.DwellMin, e.cfg.DwellMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Execute re-validates and re-sizes the job against the current balance and
// runs it. A non-nil error means nothing was attempted; attempted trades
// always return a record and never an error.
func (e *Engine) Execute(ctx context.Context, job Job) (domain.TradeRecord, error) {
	opp := job.Opportunity
	token := opp.TokenID()

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "exec:"+token, e.cfg.LockTTL)
		if err != nil {
			return domain.TradeRecord{}, fmt.Errorf("executor: lock %s: %w", token, err)
		}
		defer unlock()
	}

	if err := e.gate.Validate(opp, job.Config.MinProfitPct, e.now()); err != nil {
		return domain.TradeRecord{}, err
	}
	bal, err := e.balances.Balance(ctx, e.cfg.Wallet)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("executor: balance: %w", err)
	}
	size, err := e.gate.ExecSize(e.gate.Available(bal), job.Size)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	if e.dedup.IsDuplicate(token) {
		return domain.TradeRecord{}, domain.ErrCooldown
	}

	switch o := opp.(type) {
	case domain.ArbitrageOpportunity:
		return e.arbitrage(ctx, o, size), nil
	case *domain.ArbitrageOpportunity:
		return e.arbitrage(ctx, *o, size), nil
	case domain.NewAssetLaunch:
		return e.enter(ctx, o, size, job.Config), nil
	case *domain.NewAssetLaunch:
		return e.enter(ctx, *o, size, job.Config), nil
	default:
		e.dedup.Forget(token)
		return domain.TradeRecord{}, fmt.Errorf("executor: unsupported opportunity %T", opp)
	}
}

func (e *Engine) simulate(ctx context.Context, venue string, side domain.Side, token domain.Token, amount, price float64) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LegTimeout)
	defer cancel()
	ok, err := e.trader.Simulate(ctx, venue, side, token, amount, price)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("simulation rejected")
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, venue string, side domain.Side, token domain.Token, amount, price float64) (domain.TradeOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LegTimeout)
	defer cancel()
	return e.trader.Execute(ctx, venue, side, token, amount, price)
}

// arbitrage runs PENDING -> BUY_SIMULATED -> SELL_SIMULATED -> BUY_EXECUTED ->
// SELL_EXECUTED -> SETTLED, failing out at the first step that does not pass.
func (e *Engine) arbitrage(ctx context.Context, o domain.ArbitrageOpportunity, notional float64) domain.TradeRecord {
	qty := notional / o.BuyPrice
	rec := domain.TradeRecord{
		ID:        uuid.NewString(),
		Kind:      domain.TradeArbitrage,
		Token:     o.Token.ID(),
		Symbol:    o.Token.Symbol,
		BuyVenue:  o.BuyVenue,
		SellVenue: o.SellVenue,
		BuyPrice:  o.BuyPrice,
		SellPrice: o.SellPrice,
		Size:      qty,
		Notional:  notional,
		State:     domain.StatePending,
		StartedAt: e.now(),
	}
	log := e.logger.With(
		slog.String("trade_id", rec.ID),
		slog.String("token", rec.Symbol),
		slog.String("buy_venue", o.BuyVenue),
		slog.String("sell_venue", o.SellVenue),
	)
	fee := e.cfg.Fees.ArbitrageFee()

	if err := e.simulate(ctx, o.BuyVenue, domain.SideBuy, o.Token, qty, o.BuyPrice); err != nil {
		log.Warn("buy simulation failed", slog.String("error", err.Error()))
		return e.fail(ctx, rec, domain.FailBuy, fee, err)
	}
	rec.State = domain.StateBuySimulated

	if err := e.simulate(ctx, o.SellVenue, domain.SideSell, o.Token, qty, o.SellPrice); err != nil {
		log.Warn("sell simulation failed", slog.String("error", err.Error()))
		return e.fail(ctx, rec, domain.FailSell, fee, err)
	}
	rec.State = domain.StateSellSimulated

	buy, err := e.execute(ctx, o.BuyVenue, domain.SideBuy, o.Token, qty, o.BuyPrice)
	if err != nil {
		log.Error("buy execution failed", slog.String("error", err.Error()))
		return e.fail(ctx, rec, domain.FailBuy, fee, err)
	}
	rec.State = domain.StateBuyExecuted
	rec.TxIDs = appendTx(rec.TxIDs, buy.TxID)
	if buy.Price > 0 {
		rec.BuyPrice = buy.Price
	}
	if buy.Amount > 0 {
		rec.Size = buy.Amount
	}
	buyFee := orDefault(buy.Fee, fee/2)

	sell, err := e.execute(ctx, o.SellVenue, domain.SideSell, o.Token, rec.Size, o.SellPrice)
	if err != nil {
		log.Error("sell execution failed after buy, recovering position", slog.String("error", err.Error()))
		return e.recover(rec, o.Token, o.BuyVenue, buyFee+fee/2, err)
	}
	rec.State = domain.StateSellExecuted
	rec.TxIDs = appendTx(rec.TxIDs, sell.TxID)
	if sell.Price > 0 {
		rec.SellPrice = sell.Price
	}

	rec.Fee = buyFee + orDefault(sell.Fee, fee/2)
	rec.PnL = (rec.SellPrice-rec.BuyPrice)*rec.Size - rec.Fee
	rec.Success = true
	rec.State = domain.StateSettled
	log.Info("arbitrage settled",
		slog.Float64("size", rec.Size),
		slog.Float64("pnl", rec.PnL),
		slog.Float64("fee", rec.Fee),
	)
	return e.finish(ctx, rec)
}

// enter buys into a launch and registers its deferred exit.
func (e *Engine) enter(ctx context.Context, l domain.NewAssetLaunch, notional float64, cfg domain.SessionConfig) domain.TradeRecord {
	token := l.Token()
	venue := e.cfg.SnipeVenue
	rec := domain.TradeRecord{
		ID:        uuid.NewString(),
		Kind:      domain.TradeSnipe,
		Token:     l.Mint,
		Symbol:    l.Symbol,
		BuyVenue:  venue,
		SellVenue: venue,
		BuyPrice:  l.InitialPrice,
		Notional:  notional,
		State:     domain.StatePending,
		StartedAt: e.now(),
	}
	log := e.logger.With(slog.String("trade_id", rec.ID), slog.String("mint", l.Mint))
	fee := e.cfg.Fees.LegFee()
	if l.InitialPrice <= 0 {
		return e.fail(ctx, rec, domain.FailBuy, fee, errors.New("launch has no price"))
	}
	qty := notional / l.InitialPrice
	rec.Size = qty

	if err := e.simulate(ctx, venue, domain.SideBuy, token, qty, l.InitialPrice); err != nil {
		log.Warn("snipe buy simulation failed", slog.String("error", err.Error()))
		return e.fail(ctx, rec, domain.FailBuy, fee, err)
	}
	rec.State = domain.StateBuySimulated
	out, err := e.execute(ctx, venue, domain.SideBuy, token, qty, l.InitialPrice)
	if err != nil {
		log.Error("snipe buy failed", slog.String("error", err.Error()))
		return e.fail(ctx, rec, domain.FailBuy, fee, err)
	}

	pos := Position{
		ID:            rec.ID,
		Token:         token,
		Notional:      notional,
		Quantity:      orDefault(out.Amount, qty),
		EntryPrice:    orDefault(out.Price, l.InitialPrice),
		EntryFee:      orDefault(out.Fee, fee),
		EnteredAt:     rec.StartedAt,
		TakeProfitPct: cfg.TakeProfitPct,
		StopLossPct:   cfg.StopLossPct,
		TxIDs:         appendTx(nil, out.TxID),
	}
	e.exits.Schedule(pos, e.dwell())

	rec.State = domain.StateEntered
	rec.BuyPrice = pos.EntryPrice
	rec.Size = pos.Quantity
	rec.Fee = pos.EntryFee
	rec.TxIDs = pos.TxIDs
	log.Info("snipe entered",
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("quantity", pos.Quantity),
	)
	return rec
}

func (e *Engine) currentPrice(ctx context.Context, pos Position) (float64, bool) {
	if e.quotes == nil {
		return 0, false
	}
	q, err := e.quotes.Quote(ctx, pos.Token, e.cfg.ExitQuoteVenue)
	if err != nil {
		return 0, false
	}
	return q.Price, true
}

func (e *Engine) checkPosition(ctx context.Context, pos Position) (bool, string) {
	price, ok := e.currentPrice(ctx, pos)
	if !ok || pos.EntryPrice <= 0 {
		return false, ""
	}
	move := (price/pos.EntryPrice - 1) * 100
	switch {
	case pos.TakeProfitPct > 0 && move >= pos.TakeProfitPct:
		return true, ExitTakeProfit
	case pos.StopLossPct > 0 && move <= -pos.StopLossPct:
		return true, ExitStopLoss
	}
	return false, ""
}

// exit sells a snipe position at the current quote, falling back to the entry
// price when no quote is available.
func (e *Engine) exit(ctx context.Context, pos Position, reason string) {
	venue := e.cfg.SnipeVenue
	price, ok := e.currentPrice(ctx, pos)
	if !ok {
		price = pos.EntryPrice
	}
	rec := domain.TradeRecord{
		ID:        pos.ID,
		Kind:      domain.TradeSnipe,
		Token:     pos.Token.ID(),
		Symbol:    pos.Token.Symbol,
		BuyVenue:  venue,
		SellVenue: venue,
		BuyPrice:  pos.EntryPrice,
		SellPrice: price,
		Size:      pos.Quantity,
		Notional:  pos.Notional,
		State:     domain.StateEntered,
		Detail:    reason,
		TxIDs:     pos.TxIDs,
		StartedAt: pos.EnteredAt,
	}
	fee := e.cfg.Fees.LegFee()

	out, err := e.execute(ctx, venue, domain.SideSell, pos.Token, pos.Quantity, price)
	if err != nil {
		e.logger.Error("snipe exit failed, recovering position",
			slog.String("trade_id", pos.ID),
			slog.String("error", err.Error()),
		)
		e.recover(rec, pos.Token, venue, pos.EntryFee+fee, err)
		return
	}
	rec.TxIDs = appendTx(rec.TxIDs, out.TxID)
	rec.SellPrice = orDefault(out.Price, price)
	rec.Fee = pos.EntryFee + orDefault(out.Fee, fee)
	rec.PnL = (rec.SellPrice-rec.BuyPrice)*rec.Size - rec.Fee
	rec.Success = true
	rec.State = domain.StateExited
	e.logger.Info("snipe exited",
		slog.String("trade_id", pos.ID),
		slog.String("reason", reason),
		slog.Float64("pnl", rec.PnL),
	)
	e.finish(ctx, rec)
}

// recover liquidates a position whose planned sell failed. The recorded loss
// is the recovery penalty on the committed amount plus fees, whether or not
// the liquidation itself goes through.
func (e *Engine) recover(rec domain.TradeRecord, token domain.Token, venue string, fees float64, cause error) domain.TradeRecord {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.LegTimeout)
	defer cancel()

	price := rec.BuyPrice * (1 - e.cfg.RecoveryPenaltyPct/100)
	out, err := e.trader.Execute(ctx, venue, domain.SideSell, token, rec.Size, price)
	if err != nil {
		e.logger.Error("recovery liquidation failed, position still held",
			slog.String("trade_id", rec.ID),
			slog.String("token", rec.Token),
			slog.Float64("quantity", rec.Size),
			slog.String("error", err.Error()),
		)
		rec.Detail = fmt.Sprintf("sell failed: %v; liquidation failed: %v", cause, err)
	} else {
		rec.TxIDs = appendTx(rec.TxIDs, out.TxID)
		fees += out.Fee
		rec.Detail = fmt.Sprintf("sell failed: %v; liquidated on %s", cause, venue)
	}

	rec.Fee = fees
	rec.PnL = -(rec.Notional*e.cfg.RecoveryPenaltyPct/100 + fees)
	rec.Success = false
	rec.State = domain.StateFailed
	rec.FailReason = domain.FailRecovery
	return e.finish(ctx, rec)
}

func (e *Engine) fail(ctx context.Context, rec domain.TradeRecord, reason domain.FailReason, fee float64, cause error) domain.TradeRecord {
	rec.State = domain.StateFailed
	rec.FailReason = reason
	rec.Fee = fee
	rec.PnL = -fee
	rec.Detail = cause.Error()
	return e.finish(ctx, rec)
}

// finish stamps and records a terminal trade. Risk counters, metrics and
// observers only see records the ledger accepted, so a repeated id is
// counted once.
func (e *Engine) finish(ctx context.Context, rec domain.TradeRecord) domain.TradeRecord {
	rec.Timestamp = e.now()
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if !e.ledger.Record(ctx, rec) {
		e.logger.Warn("duplicate trade record ignored", slog.String("trade_id", rec.ID))
		return rec
	}
	e.gate.RecordOutcome(rec)
	metrics.Trades.WithLabelValues(string(rec.Kind), metrics.Outcome(rec.Success)).Inc()

	e.obsMu.RLock()
	obs := e.observers
	e.obsMu.RUnlock()
	for _, fn := range obs {
		fn(rec)
	}
	return rec
}

func appendTx(txs []string, tx string) []string {
	if tx == "" {
		return txs
	}
	return append(txs, tx)
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
