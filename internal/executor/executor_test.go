package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/risk"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type mockTrader struct{ mock.Mock }

func (m *mockTrader) Simulate(_ context.Context, venue string, side domain.Side, _ domain.Token, amount, price float64) (bool, error) {
	args := m.Called(venue, side, amount, price)
	return args.Bool(0), args.Error(1)
}

func (m *mockTrader) Execute(_ context.Context, venue string, side domain.Side, _ domain.Token, amount, price float64) (domain.TradeOutcome, error) {
	args := m.Called(venue, side, amount, price)
	return args.Get(0).(domain.TradeOutcome), args.Error(1)
}

type fixedBalance float64

func (b fixedBalance) Balance(context.Context, string) (float64, error) { return float64(b), nil }

type memLedger struct {
	mu   sync.Mutex
	seen map[string]bool
	recs []domain.TradeRecord
	done chan domain.TradeRecord
}

func newLedger() *memLedger {
	return &memLedger{seen: map[string]bool{}, done: make(chan domain.TradeRecord, 16)}
}

func (l *memLedger) Record(_ context.Context, rec domain.TradeRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[rec.ID] {
		return false
	}
	l.seen[rec.ID] = true
	l.recs = append(l.recs, rec)
	l.done <- rec
	return true
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recs)
}

func (l *memLedger) wait(t *testing.T) domain.TradeRecord {
	t.Helper()
	select {
	case rec := <-l.done:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no trade recorded")
		return domain.TradeRecord{}
	}
}

type stubQuoter struct {
	mu    sync.Mutex
	price float64
}

func (q *stubQuoter) set(p float64) {
	q.mu.Lock()
	q.price = p
	q.mu.Unlock()
}

func (q *stubQuoter) Quote(_ context.Context, token domain.Token, venue string) (domain.PriceQuote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.price <= 0 {
		return domain.PriceQuote{}, domain.ErrUnavailable
	}
	return domain.PriceQuote{Venue: venue, Token: token.ID(), Price: q.price}, nil
}

var fees = domain.FeeModel{Base: 0.000005, PerInstruction: 0.000001}

func newGate() *risk.Gate {
	return risk.NewGate(risk.Config{
		MaxTradeSize:    1,
		MinTradeSize:    0.002,
		DailyLossLimit:  1,
		ValidityWindow:  30 * time.Second,
		ScanUtilization: 0.5,
		ExecUtilization: 0.3,
		ReservedBalance: 0.005,
	}, nil, discard())
}

func testConfig() Config {
	return Config{
		Wallet:             "wallet",
		Fees:               fees,
		RecoveryPenaltyPct: 5,
		SnipeVenue:         domain.VenuePumpFun,
		ExitQuoteVenue:     domain.VenueJupiter,
		DwellMin:           2 * time.Minute,
		DwellMax:           5 * time.Minute,
		CheckInterval:      30 * time.Second,
		LegTimeout:         time.Second,
	}
}

func opportunity() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		ID:              "opp-1",
		Token:           domain.Token{Symbol: "X", Mint: "x-mint"},
		BuyVenue:        "A",
		SellVenue:       "B",
		BuyPrice:        100,
		SellPrice:       101.5,
		ProfitPct:       1.5,
		AvailableVolume: 1,
		DetectedAt:      time.Now(),
	}
}

func job(o domain.Evaluatable) Job {
	return Job{Opportunity: o, Size: 0.02, Config: domain.SessionConfig{MinProfitPct: 0.5, TakeProfitPct: 10, StopLossPct: 5}}
}

// balance 0.04 leaves 0.035 after the reserve; 30% of that is 0.0105.
const execNotional = 0.0105

func TestArbitrageSettles(t *testing.T) {
	tr := &mockTrader{}
	tr.On("Simulate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	tr.On("Execute", "A", domain.SideBuy, mock.Anything, 100.0).Return(domain.TradeOutcome{TxID: "tx-buy"}, nil)
	tr.On("Execute", "B", domain.SideSell, mock.Anything, 101.5).Return(domain.TradeOutcome{TxID: "tx-sell"}, nil)
	ledger := newLedger()
	gate := newGate()
	e := New(testConfig(), tr, fixedBalance(0.04), gate, ledger, nil, nil, discard())

	var observed []domain.TradeRecord
	e.OnRecord(func(r domain.TradeRecord) { observed = append(observed, r) })

	rec, err := e.Execute(context.Background(), job(opportunity()))
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, domain.StateSettled, rec.State)
	assert.InDelta(t, execNotional/100, rec.Size, 1e-15)
	assert.InDelta(t, fees.ArbitrageFee(), rec.Fee, 1e-15)
	assert.InDelta(t, 1.5*execNotional/100-fees.ArbitrageFee(), rec.PnL, 1e-15)
	assert.Equal(t, []string{"tx-buy", "tx-sell"}, rec.TxIDs)
	assert.Equal(t, 1, ledger.count())
	assert.Len(t, observed, 1)
	assert.Zero(t, gate.Snapshot().DailyLoss)
}

func TestBuySimulationFailureRecordsFee(t *testing.T) {
	tr := &mockTrader{}
	tr.On("Simulate", "A", domain.SideBuy, mock.Anything, mock.Anything).Return(false, nil)
	gate := newGate()
	e := New(testConfig(), tr, fixedBalance(0.04), gate, newLedger(), nil, nil, discard())

	rec, err := e.Execute(context.Background(), job(opportunity()))
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, domain.FailBuy, rec.FailReason)
	assert.InDelta(t, -fees.ArbitrageFee(), rec.PnL, 1e-15)
	assert.InDelta(t, fees.ArbitrageFee(), gate.Snapshot().DailyLoss, 1e-15)
	tr.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSellSimulationFailureIsALoss(t *testing.T) {
	tr := &mockTrader{}
	tr.On("Simulate", "A", domain.SideBuy, mock.Anything, mock.Anything).Return(true, nil)
	tr.On("Simulate", "B", domain.SideSell, mock.Anything, mock.Anything).Return(false, errors.New("route not found"))
	e := New(testConfig(), tr, fixedBalance(0.04), newGate(), newLedger(), nil, nil, discard())

	rec, err := e.Execute(context.Background(), job(opportunity()))
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, domain.FailSell, rec.FailReason)
	assert.Less(t, rec.PnL, 0.0)
	assert.Contains(t, rec.Detail, "route not found")
	tr.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBuyExecutionFailure(t *testing.T) {
	tr := &mockTrader{}
	tr.On("Simulate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	tr.On("Execute", "A", domain.SideBuy, mock.Anything, mock.Anything).Return(domain.TradeOutcome{}, errors.New("blockhash expired"))
	e := New(testConfig(), tr, fixedBalance(0.04), newGate(), newLedger(), nil, nil, discard())

	rec, err := e.Execute(context.Background(), job(opportunity()))
	require.NoError(t, err)
	assert.Equal(t, domain.FailBuy, rec.FailReason)
	assert.Equal(t, domain.StateFailed, rec.State)
	tr.AssertNumberOfCalls(t, "Execute", 1)
}

func TestSellExecutionFailureRecovers(t *testing.T) {
	tr := &mockTrader{}
	tr.On("Simulate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	tr.On("Execute", "A", domain.SideBuy, mock.Anything, 100.0).Return(domain.TradeOutcome{TxID: "tx-buy"}, nil)
	tr.On("Execute", "B", domain.SideSell, mock.Anything, mock.Anything).Return(domain.TradeOutcome{}, errors.New("pool drained"))
	tr.On("Execute", "A", domain.SideSell, mock.Anything, mock.Anything).Return(domain.TradeOutcome{TxID: "tx-recover", Fee: 0.000001}, nil)
	gate := newGate()
	e := New(testConfig(), tr, fixedBalance(0.04), gate, newLedger(), nil, nil, discard())

	rec, err := e.Execute(context.Background(), job(opportunity()))
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, domain.FailRecovery, rec.FailReason)
	wantFees := fees.ArbitrageFee() + 0.000001
	assert.InDelta(t, -(execNotional*0.05 + wantFees), rec.PnL, 1e-12)
	assert.Equal(t, []string{"tx-buy", "tx-recover"}, rec.TxIDs)
	assert.Contains(t, rec.Detail, "liquidated")
	assert.InDelta(t, -rec.PnL, gate.Snapshot().DailyLoss, 1e-12)
}

func TestDuplicateRecordCountedOnce(t *testing.T) {
	gate := newGate()
	e := New(testConfig(), &mockTrader{}, fixedBalance(0.04), gate, newLedger(), nil, nil, discard())
	calls := 0
	e.OnRecord(func(domain.TradeRecord) { calls++ })

	rec := domain.TradeRecord{ID: "same", Kind: domain.TradeArbitrage, PnL: -0.01}
	e.finish(context.Background(), rec)
	e.finish(context.Background(), rec)

	assert.Equal(t, 1, calls)
	assert.InDelta(t, 0.01, gate.Snapshot().DailyLoss, 1e-15)
}

func TestExecuteRejectsWithoutAttempt(t *testing.T) {
	tr := &mockTrader{}
	gate := newGate()
	e := New(testConfig(), tr, fixedBalance(0.04), gate, newLedger(), nil, nil, discard())

	stale := opportunity()
	stale.DetectedAt = time.Now().Add(-31 * time.Second)
	_, err := e.Execute(context.Background(), job(stale))
	assert.ErrorIs(t, err, domain.ErrStale)

	poor := New(testConfig(), tr, fixedBalance(0.006), gate, newLedger(), nil, nil, discard())
	_, err = poor.Execute(context.Background(), job(opportunity()))
	assert.ErrorIs(t, err, domain.ErrBelowMinSize)

	gate.AddToBlacklist("x-mint")
	_, err = e.Execute(context.Background(), job(opportunity()))
	assert.ErrorIs(t, err, domain.ErrBlacklisted)

	tr.AssertNotCalled(t, "Simulate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCooldownPerToken(t *testing.T) {
	tr := &mockTrader{}
	tr.On("Simulate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	cfg := testConfig()
	cfg.Cooldown = time.Minute
	e := New(cfg, tr, fixedBalance(0.04), newGate(), newLedger(), nil, nil, discard())

	_, err := e.Execute(context.Background(), job(opportunity()))
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), job(opportunity()))
	assert.ErrorIs(t, err, domain.ErrCooldown)
}

func launch() domain.NewAssetLaunch {
	return domain.NewAssetLaunch{
		Mint:          "launch-mint",
		Symbol:        "PEPE2",
		InitialPrice:  0.0001,
		PoolRef:       "curve",
		SeenAt:        time.Now(),
		RiskScore:     2,
		SuggestedSize: 0.08,
		ExpectedPct:   8,
	}
}

func TestSnipeEntersAndExitsAfterDwell(t *testing.T) {
	paper := NewPaperTrader(0.04, 0, fees.LegFee())
	ledger := newLedger()
	quotes := &stubQuoter{price: 0.00012}
	e := New(testConfig(), paper, paper, newGate(), ledger, quotes, nil, discard())
	e.dwell = func() time.Duration { return 20 * time.Millisecond }

	entry, err := e.Execute(context.Background(), job(launch()))
	require.NoError(t, err)
	assert.Equal(t, domain.StateEntered, entry.State)
	assert.Zero(t, ledger.count(), "entry is not terminal")
	assert.InDelta(t, execNotional/0.0001, paper.Holding("launch-mint"), 1e-6)

	rec := ledger.wait(t)
	assert.Equal(t, entry.ID, rec.ID)
	assert.True(t, rec.Success)
	assert.Equal(t, domain.StateExited, rec.State)
	assert.Equal(t, ExitDwell, rec.Detail)
	assert.InDelta(t, 0.00012, rec.SellPrice, 1e-15)
	assert.InDelta(t, (0.00012-0.0001)*rec.Size-2*fees.LegFee(), rec.PnL, 1e-12)
	assert.True(t, e.Exits().Wait(time.Second))
	assert.Zero(t, paper.Holding("launch-mint"))
}

func TestSnipeTakeProfitExitsEarly(t *testing.T) {
	paper := NewPaperTrader(0.04, 0, fees.LegFee())
	ledger := newLedger()
	quotes := &stubQuoter{price: 0.0001}
	cfg := testConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	e := New(cfg, paper, paper, newGate(), ledger, quotes, nil, discard())
	e.dwell = func() time.Duration { return time.Hour }

	_, err := e.Execute(context.Background(), job(launch()))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Exits().Len())

	quotes.set(0.000111)
	rec := ledger.wait(t)
	assert.Equal(t, ExitTakeProfit, rec.Detail)
	assert.Zero(t, e.Exits().Len())
}

func TestSnipeStopLoss(t *testing.T) {
	paper := NewPaperTrader(0.04, 0, fees.LegFee())
	ledger := newLedger()
	quotes := &stubQuoter{price: 0.0001}
	cfg := testConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	e := New(cfg, paper, paper, newGate(), ledger, quotes, nil, discard())
	e.dwell = func() time.Duration { return time.Hour }

	_, err := e.Execute(context.Background(), job(launch()))
	require.NoError(t, err)
	quotes.set(0.00009)
	rec := ledger.wait(t)
	assert.Equal(t, ExitStopLoss, rec.Detail)
	assert.Less(t, rec.PnL, 0.0)
}

func TestFlushExitsAtEntryPriceWithoutQuote(t *testing.T) {
	paper := NewPaperTrader(0.04, 0, fees.LegFee())
	ledger := newLedger()
	e := New(testConfig(), paper, paper, newGate(), ledger, &stubQuoter{}, nil, discard())
	e.dwell = func() time.Duration { return time.Hour }

	_, err := e.Execute(context.Background(), job(launch()))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Exits().Flush())
	assert.True(t, e.Exits().Wait(time.Second))

	rec := ledger.wait(t)
	assert.Equal(t, ExitFlush, rec.Detail)
	assert.InDelta(t, 0.0001, rec.SellPrice, 1e-15)
	assert.InDelta(t, -2*fees.LegFee(), rec.PnL, 1e-12)
}

func TestSnipeExitFailureRecordsRecoveryLoss(t *testing.T) {
	tr := &mockTrader{}
	tr.On("Simulate", domain.VenuePumpFun, domain.SideBuy, mock.Anything, mock.Anything).Return(true, nil)
	tr.On("Execute", domain.VenuePumpFun, domain.SideBuy, mock.Anything, mock.Anything).Return(domain.TradeOutcome{TxID: "in"}, nil)
	tr.On("Execute", domain.VenuePumpFun, domain.SideSell, mock.Anything, mock.Anything).Return(domain.TradeOutcome{}, errors.New("curve complete"))
	ledger := newLedger()
	e := New(testConfig(), tr, fixedBalance(0.04), newGate(), ledger, nil, nil, discard())
	e.dwell = func() time.Duration { return time.Millisecond }

	_, err := e.Execute(context.Background(), job(launch()))
	require.NoError(t, err)
	rec := ledger.wait(t)
	assert.False(t, rec.Success)
	assert.Equal(t, domain.FailRecovery, rec.FailReason)
	assert.InDelta(t, -(execNotional*0.05 + 2*fees.LegFee()), rec.PnL, 1e-12)
	assert.Contains(t, rec.Detail, "liquidation failed")
}

func TestSnipeBuyFailure(t *testing.T) {
	paper := NewPaperTrader(0.004, 0, fees.LegFee())
	ledger := newLedger()
	e := New(testConfig(), paper, fixedBalance(0.04), newGate(), ledger, nil, nil, discard())

	rec, err := e.Execute(context.Background(), job(launch()))
	require.NoError(t, err)
	assert.Equal(t, domain.FailBuy, rec.FailReason)
	assert.InDelta(t, -fees.LegFee(), rec.PnL, 1e-15)
	assert.Zero(t, e.Exits().Len())
	assert.Equal(t, 1, ledger.count())
}

func TestRandomDwellWithinBounds(t *testing.T) {
	e := New(testConfig(), &mockTrader{}, fixedBalance(0), newGate(), newLedger(), nil, nil, discard())
	for range 200 {
		d := e.dwell()
		assert.GreaterOrEqual(t, d, 2*time.Minute)
		assert.LessOrEqual(t, d, 5*time.Minute)
	}
}

func TestPaperTraderCash(t *testing.T) {
	p := NewPaperTrader(1, 100, 0.001)
	tok := domain.Token{Symbol: "X", Mint: "x"}
	ctx := context.Background()

	ok, err := p.Simulate(ctx, "a", domain.SideBuy, tok, 100, 0.02)
	require.NoError(t, err)
	assert.False(t, ok, "2.02 + fee exceeds cash")

	out, err := p.Execute(ctx, "a", domain.SideBuy, tok, 10, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.0505, out.Price, 1e-12)
	bal, _ := p.Balance(ctx, "")
	assert.InDelta(t, 1-0.505-0.001, bal, 1e-12)

	_, err = p.Execute(ctx, "b", domain.SideSell, tok, 11, 0.06)
	assert.Error(t, err)

	out, err = p.Execute(ctx, "b", domain.SideSell, tok, 10, 0.06)
	require.NoError(t, err)
	assert.InDelta(t, 0.0594, out.Price, 1e-12)
	bal, _ = p.Balance(ctx, "")
	assert.InDelta(t, 1-0.505-0.001+0.594-0.001, bal, 1e-12)
	assert.Zero(t, p.Holding("x"))
}

func TestDedupWindow(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	now = now.Add(time.Minute)
	assert.False(t, d.IsDuplicate("a"))
	d.Forget("a")
	assert.False(t, d.IsDuplicate("a"))
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
	assert.False(t, NewDedup(0).IsDuplicate("x"))
}

func TestPruneCooldownsDropsLapsedTokens(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Minute
	e := New(cfg, &mockTrader{}, fixedBalance(0.04), newGate(), newLedger(), nil, nil, discard())
	now := time.Now()
	e.dedup.now = func() time.Time { return now }

	for i := range 100 {
		assert.False(t, e.dedup.IsDuplicate(fmt.Sprintf("mint-%d", i)))
	}
	now = now.Add(30 * time.Second)
	assert.False(t, e.dedup.IsDuplicate("fresh"))
	assert.Equal(t, 101, e.dedup.Len())

	now = now.Add(40 * time.Second)
	assert.Equal(t, 100, e.PruneCooldowns())
	assert.Equal(t, 1, e.dedup.Len())
	assert.True(t, e.dedup.IsDuplicate("fresh"))
}
