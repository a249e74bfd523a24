package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubGate struct {
	blacklist map[string]bool
}

func (g stubGate) Blacklisted(token string) bool { return g.blacklist[token] }

func (g stubGate) Validate(c domain.Evaluatable, minPct float64, now time.Time) error {
	if g.blacklist[c.TokenID()] {
		return domain.ErrBlacklisted
	}
	if now.Sub(c.CreatedAt()) > 30*time.Second {
		return domain.ErrStale
	}
	if c.ProfitPercent() < minPct {
		return domain.ErrBelowThreshold
	}
	return nil
}

func (g stubGate) ScanSize(available, required float64) (float64, error) {
	size := available * 0.5
	if required > 0 {
		size = min(size, required)
	}
	if size < 0.002 {
		return 0, domain.ErrBelowMinSize
	}
	return size, nil
}

type stubFeed struct {
	venues []string
	prices map[string][]float64
}

func (f stubFeed) Venues() []string { return f.venues }

func (f stubFeed) Quotes(_ context.Context, token domain.Token, venues []string) []domain.PriceQuote {
	var out []domain.PriceQuote
	for i, p := range f.prices[token.ID()] {
		if p <= 0 {
			continue
		}
		out = append(out, domain.PriceQuote{Venue: venues[i], Token: token.ID(), Price: p, ObservedAt: time.Now()})
	}
	return out
}

func quotes(prices ...float64) []domain.PriceQuote {
	venues := []string{"A", "B", "C", "D"}
	out := make([]domain.PriceQuote, len(prices))
	for i, p := range prices {
		out[i] = domain.PriceQuote{Venue: venues[i], Price: p}
	}
	return out
}

var tokX = domain.Token{Symbol: "X", Mint: "x-mint"}

func TestDetectThreshold(t *testing.T) {
	now := time.Now()

	opp, ok := Detect(tokX, quotes(100.0, 101.5), 1.0, 1, now)
	require.True(t, ok)
	assert.Equal(t, "A", opp.BuyVenue)
	assert.Equal(t, "B", opp.SellVenue)
	assert.InDelta(t, 1.5, opp.ProfitPct, 1e-9)
	assert.NotEmpty(t, opp.ID)
	assert.Equal(t, now, opp.DetectedAt)

	_, ok = Detect(tokX, quotes(100.0, 101.5), 2.0, 1, now)
	assert.False(t, ok)
}

func TestDetectNeedsTwoVenuesAndSpread(t *testing.T) {
	_, ok := Detect(tokX, quotes(100), 0, 1, time.Now())
	assert.False(t, ok)

	_, ok = Detect(tokX, quotes(5, 5, 5), 0, 1, time.Now())
	assert.False(t, ok, "equal prices have zero profit")
}

func TestDetectTieBreakFirstVenue(t *testing.T) {
	opp, ok := Detect(tokX, quotes(102, 99, 102, 99), 0.5, 1, time.Now())
	require.True(t, ok)
	assert.Equal(t, "B", opp.BuyVenue)
	assert.Equal(t, "A", opp.SellVenue)
}

func TestDetectBuyNeverAboveSell(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		n := 2 + r.IntN(3)
		prices := make([]float64, n)
		for i := range prices {
			prices[i] = 1 + r.Float64()*10
		}
		opp, ok := Detect(tokX, quotes(prices...), 0, 2.5, time.Now())
		if !ok {
			continue
		}
		assert.LessOrEqual(t, opp.BuyPrice, opp.SellPrice)
		assert.Equal(t, (opp.SellPrice-opp.BuyPrice)*2.5, opp.ProfitAmount())
	}
}

func TestSpreadScannerRanksAndExcludesBlacklisted(t *testing.T) {
	toks := []domain.Token{
		{Symbol: "LOW", Mint: "low"},
		{Symbol: "HIGH", Mint: "high"},
		{Symbol: "BAN", Mint: "ban"},
		{Symbol: "FLAT", Mint: "flat"},
	}
	feed := stubFeed{
		venues: []string{"jupiter", "raydium", "meteora"},
		prices: map[string][]float64{
			"low":  {100, 103, 0},
			"high": {100, 0, 104},
			"ban":  {100, 120, 0},
			"flat": {100, 100, 100},
		},
	}
	gate := stubGate{blacklist: map[string]bool{"ban": true}}
	s := NewSpreadScanner(SpreadScannerConfig{
		Tokens:       toks,
		Fees:         domain.FeeModel{Base: 0.000005, PerInstruction: 0.000001},
		MinNetProfit: 0.0005,
	}, feed, gate, discard())

	cfg := domain.SessionConfig{MinProfitPct: 0.5, MaxPositionSize: 1}
	cands, err := s.Scan(context.Background(), cfg, 0.04)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	first := cands[0].Opportunity.(domain.ArbitrageOpportunity)
	assert.Equal(t, "high", first.Token.ID())
	assert.Equal(t, "jupiter", first.BuyVenue)
	assert.Equal(t, "meteora", first.SellVenue)
	assert.InDelta(t, 0.02, cands[0].Size, 1e-12)
	assert.InDelta(t, 4*0.0002-0.000007, first.EstimatedNet, 1e-12)
	assert.Equal(t, "low", cands[1].Opportunity.TokenID())
	assert.Greater(t, cands[0].Score, cands[1].Score)
}

func TestSpreadScannerNetProfitFloor(t *testing.T) {
	feed := stubFeed{
		venues: []string{"a", "b"},
		prices: map[string][]float64{"x-mint": {1.000, 1.01}},
	}
	s := NewSpreadScanner(SpreadScannerConfig{
		Tokens:       []domain.Token{tokX},
		Fees:         domain.FeeModel{Base: 0.000005, PerInstruction: 0.000001},
		MinNetProfit: 0.0005,
	}, feed, stubGate{}, discard())

	// 0.01 * (0.02 / 1.0) - 0.000007 is below 0.0005.
	cands, err := s.Scan(context.Background(), domain.SessionConfig{MinProfitPct: 0.5, MaxPositionSize: 1}, 0.04)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestRiskScore(t *testing.T) {
	assert.Equal(t, 1, RiskScore(10_000))
	assert.Equal(t, 1, RiskScore(99_999))
	assert.Equal(t, 2, RiskScore(100_000))
	assert.Equal(t, 7, RiskScore(375_000))
	assert.Equal(t, 10, RiskScore(5_000_000))
}

type sliceQueue []domain.NewAssetLaunch

func (q *sliceQueue) Drain() []domain.NewAssetLaunch {
	out := *q
	*q = nil
	return out
}

func TestLaunchScannerAssessAndRank(t *testing.T) {
	now := time.Now()
	q := &sliceQueue{
		{Mint: "tiny", MarketCapSol: 10, SeenAt: now},    // 2k USD, below band
		{Mint: "mid", MarketCapSol: 1000, SeenAt: now},   // 200k USD, risk 4
		{Mint: "small", MarketCapSol: 100, SeenAt: now},  // 20k USD, risk 1
		{Mint: "risky", MarketCapSol: 2000, SeenAt: now}, // 400k USD, risk 8
		{Mint: "old", MarketCapSol: 100, SeenAt: now.Add(-time.Minute)},
	}
	s := NewLaunchScanner(LaunchScannerConfig{
		QuoteUSD:        200,
		MinMarketCapUSD: 10_000,
		MaxMarketCapUSD: 1_000_000,
		MaxRisk:         7,
	}, q, stubGate{}, discard())

	cfg := domain.SessionConfig{MinProfitPct: 0.5, MaxPositionSize: 1, TakeProfitPct: 10}
	cands, err := s.Scan(context.Background(), cfg, 1)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	small := cands[0].Opportunity.(domain.NewAssetLaunch)
	assert.Equal(t, "small", small.Mint)
	assert.Equal(t, 1, small.RiskScore)
	assert.InDelta(t, 0.09, small.SuggestedSize, 1e-12)
	assert.InDelta(t, 9, small.ExpectedPct, 1e-12)
	assert.InDelta(t, 20_000, small.MarketCapUSD, 1e-9)

	mid := cands[1].Opportunity.(domain.NewAssetLaunch)
	assert.Equal(t, "mid", mid.Mint)
	assert.Equal(t, 4, mid.RiskScore)
	assert.InDelta(t, 0.06, cands[1].Size, 1e-12)

	assert.Empty(t, q.Drain())
}

func TestLaunchScannerMicroSizing(t *testing.T) {
	s := NewLaunchScanner(LaunchScannerConfig{
		QuoteUSD:        200,
		MinMarketCapUSD: 10_000,
		MaxMarketCapUSD: 1_000_000,
		MaxRisk:         6,
		Micro:           true,
		MaxTradeSize:    0.005,
	}, &sliceQueue{}, stubGate{}, discard())

	l, ok := s.Assess(domain.NewAssetLaunch{MarketCapSol: 100}, domain.SessionConfig{TakeProfitPct: 15})
	require.True(t, ok)
	assert.InDelta(t, 0.003, l.SuggestedSize, 1e-12)

	l, ok = s.Assess(domain.NewAssetLaunch{MarketCapSol: 1250}, domain.SessionConfig{TakeProfitPct: 15})
	require.True(t, ok)
	assert.Equal(t, 5, l.RiskScore)
	assert.InDelta(t, 0.005*2/7, l.SuggestedSize, 1e-12)

	_, ok = s.Assess(domain.NewAssetLaunch{MarketCapSol: 1750}, domain.SessionConfig{TakeProfitPct: 15})
	assert.False(t, ok, "risk 7 exceeds the micro ceiling")
}

func TestLaunchScannerRejectsZeroSize(t *testing.T) {
	cfg := LaunchScannerConfig{
		QuoteUSD:        200,
		MinMarketCapUSD: 10_000,
		MaxMarketCapUSD: 1_000_000,
		MaxRisk:         7,
		Micro:           true,
		MaxTradeSize:    0.005,
	}
	micro := NewLaunchScanner(cfg, &sliceQueue{}, stubGate{}, discard())
	_, ok := micro.Assess(domain.NewAssetLaunch{MarketCapSol: 1750}, domain.SessionConfig{TakeProfitPct: 15})
	assert.False(t, ok, "risk 7 sizes to zero in micro mode")

	cfg.Micro, cfg.MaxRisk = false, 10
	standard := NewLaunchScanner(cfg, &sliceQueue{}, stubGate{}, discard())
	_, ok = standard.Assess(domain.NewAssetLaunch{MarketCapSol: 2600}, domain.SessionConfig{MaxPositionSize: 1, TakeProfitPct: 10})
	assert.False(t, ok, "risk 10 sizes to zero")
}

func TestTopK(t *testing.T) {
	c := []Candidate{{Score: 3}, {Score: 2}, {Score: 1}, {Score: 0}}
	assert.Len(t, TopK(c, 3), 3)
	assert.Len(t, TopK(c, 10), 4)
	assert.Len(t, TopK(c, 0), 4)
}
