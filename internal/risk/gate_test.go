package risk

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() Config {
	return Config{
		MaxTradeSize:    1.0,
		MinTradeSize:    0.002,
		DailyLossLimit:  0.1,
		ValidityWindow:  30 * time.Second,
		ScanUtilization: 0.5,
		ExecUtilization: 0.3,
		ReservedBalance: 0.005,
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newGate(t *testing.T, at time.Time, blacklist ...string) (*Gate, *clock) {
	t.Helper()
	c := &clock{t: at}
	g := NewGate(testConfig(), blacklist, discard())
	g.now = c.now
	g.lastReset = utcDay(at)
	return g, c
}

func arb(token string, pct float64, at time.Time) domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{Token: domain.Token{Mint: token}, BuyPrice: 1, SellPrice: 1 + pct/100, ProfitPct: pct, DetectedAt: at}
}

func TestValidateStaleRegardlessOfProfit(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g, _ := newGate(t, at)

	assert.NoError(t, g.Validate(arb("x", 50, at), 0.5, at.Add(30*time.Second)))
	err := g.Validate(arb("x", 50, at), 0.5, at.Add(31*time.Second))
	assert.ErrorIs(t, err, domain.ErrStale)
	assert.ErrorIs(t, err, domain.ErrInvalidOpportunity)
}

func TestValidateThresholdAndBlacklist(t *testing.T) {
	at := time.Now()
	g, _ := newGate(t, at, "banned")

	assert.ErrorIs(t, g.Validate(arb("x", 0.4, at), 0.5, at), domain.ErrBelowThreshold)
	assert.NoError(t, g.Validate(arb("x", 0.5, at), 0.5, at))
	assert.ErrorIs(t, g.Validate(arb("banned", 10, at), 0.5, at), domain.ErrBlacklisted)

	g.AddToBlacklist("x")
	assert.ErrorIs(t, g.Validate(arb("x", 10, at), 0.5, at), domain.ErrBlacklisted)
	assert.Equal(t, []string{"banned", "x"}, g.Blacklist())

	assert.True(t, g.RemoveFromBlacklist("x"))
	assert.False(t, g.RemoveFromBlacklist("x"))
	assert.NoError(t, g.Validate(arb("x", 10, at), 0.5, at))
}

func TestValidateAcceptsLaunches(t *testing.T) {
	at := time.Now()
	g, _ := newGate(t, at)
	l := domain.NewAssetLaunch{Mint: "m", ExpectedPct: 6, SeenAt: at.Add(-10 * time.Second)}
	assert.NoError(t, g.Validate(l, 2, at))
	assert.ErrorIs(t, g.Validate(l, 7, at), domain.ErrBelowThreshold)
}

func TestSizing(t *testing.T) {
	g, _ := newGate(t, time.Now())

	size, err := g.ScanSize(g.Available(0.045), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, size, 1e-12)

	size, err = g.ExecSize(g.Available(0.045), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.012, size, 1e-12)

	size, err = g.ScanSize(10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, size, "capped at max trade size")

	size, err = g.ScanSize(10, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, size, "capped at the candidate's own size")

	_, err = g.ScanSize(0.003, 0)
	assert.ErrorIs(t, err, domain.ErrBelowMinSize)

	_, err = g.ScanSize(g.Available(0.004), 0)
	assert.ErrorIs(t, err, domain.ErrNoBalance)
}

func TestDailyLossResetsExactlyAtUTCRollover(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	g, c := newGate(t, at)

	g.RecordOutcome(domain.TradeRecord{PnL: -0.05})
	g.RecordOutcome(domain.TradeRecord{PnL: 0.5})
	assert.False(t, g.Tripped(c.t))
	g.RecordOutcome(domain.TradeRecord{PnL: -0.05})
	assert.True(t, g.Tripped(c.t))
	assert.ErrorIs(t, g.Validate(arb("x", 10, c.t), 0.5, c.t), domain.ErrRiskBreaker)

	c.t = time.Date(2026, 3, 1, 23, 59, 59, 999_999_999, time.UTC)
	assert.True(t, g.Tripped(c.t), "not before midnight UTC")
	assert.InDelta(t, 0.1, g.Snapshot().DailyLoss, 1e-12)

	c.t = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.False(t, g.Tripped(c.t))
	snap := g.Snapshot()
	assert.Zero(t, snap.DailyLoss)
	assert.Equal(t, c.t, snap.LastReset)
}

func TestRolloverUsesUTCNotLocalDate(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 2026-03-02 08:00 JST is still 2026-03-01 in UTC.
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, tokyo)
	g, c := newGate(t, time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
	g.RecordOutcome(domain.TradeRecord{PnL: -0.2})
	c.t = at
	assert.True(t, g.Tripped(at))
}

func TestBreakerLoggedOncePerTick(t *testing.T) {
	var buf bytes.Buffer
	at := time.Now()
	g := NewGate(testConfig(), nil, slog.New(slog.NewTextHandler(&buf, nil)))
	g.now = func() time.Time { return at }
	g.RecordOutcome(domain.TradeRecord{PnL: -1})

	g.BeginTick()
	for range 5 {
		assert.ErrorIs(t, g.CheckBreaker(at), domain.ErrRiskBreaker)
	}
	g.BeginTick()
	assert.ErrorIs(t, g.CheckBreaker(at), domain.ErrRiskBreaker)

	assert.Equal(t, 2, strings.Count(buf.String(), "daily loss breaker tripped"))
}

func TestConcurrentLossesAreNotLost(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimit = 0
	g := NewGate(cfg, nil, discard())

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RecordOutcome(domain.TradeRecord{PnL: -0.001})
		}()
	}
	wg.Wait()
	assert.InDelta(t, 0.1, g.Snapshot().DailyLoss, 1e-9)
}
