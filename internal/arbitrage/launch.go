package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// LaunchQueue hands over launches buffered since the previous call.
type LaunchQueue interface {
	Drain() []domain.NewAssetLaunch
}

// LaunchScannerConfig configures launch assessment.
type LaunchScannerConfig struct {
	QuoteUSD        float64 // USD per unit of the quote asset
	MinMarketCapUSD float64
	MaxMarketCapUSD float64
	MaxRisk         int
	// Micro switches to the small-account sizing curve.
	Micro        bool
	MaxTradeSize float64
}

// LaunchScanner is the snipe strategy.
type LaunchScanner struct {
	cfg    LaunchScannerConfig
	queue  LaunchQueue
	gate   Gate
	now    func() time.Time
	logger *slog.Logger
}

// NewLaunchScanner creates the snipe scanner.
func NewLaunchScanner(cfg LaunchScannerConfig, queue LaunchQueue, gate Gate, logger *slog.Logger) *LaunchScanner {
	return &LaunchScanner{
		cfg:    cfg,
		queue:  queue,
		gate:   gate,
		now:    time.Now,
		logger: logger.With(slog.String("component", "launch_scanner")),
	}
}

// Name returns the strategy identifier.
func (s *LaunchScanner) Name() string { return domain.StrategySnipe }

// RiskScore buckets a USD market cap into 1..10, one step per 50k.
func RiskScore(marketCapUSD float64) int {
	return min(10, max(1, int(marketCapUSD/50000)))
}

// Assess fills in the risk score, suggested size and expected profit of a
// launch. It reports false when the launch is outside the market cap band,
// riskier than allowed, or sized to nothing.
func (s *LaunchScanner) Assess(l domain.NewAssetLaunch, cfg domain.SessionConfig) (domain.NewAssetLaunch, bool) {
	l.MarketCapUSD = l.MarketCapSol * s.cfg.QuoteUSD
	if l.MarketCapUSD < s.cfg.MinMarketCapUSD || l.MarketCapUSD > s.cfg.MaxMarketCapUSD {
		return l, false
	}
	risk := RiskScore(l.MarketCapUSD)
	if risk > s.cfg.MaxRisk {
		return l, false
	}
	l.RiskScore = risk
	if s.cfg.Micro {
		l.SuggestedSize = min(0.003, s.cfg.MaxTradeSize*float64(7-risk)/7)
	} else {
		l.SuggestedSize = cfg.MaxPositionSize * float64(10-risk) / 10 * 0.1
	}
	if l.SuggestedSize <= 0 {
		return l, false
	}
	l.ExpectedPct = cfg.TakeProfitPct * float64(10-risk) / 10
	return l, true
}

// Scan drains the launch queue and returns the launches worth entering,
// ranked by expected profit.
func (s *LaunchScanner) Scan(ctx context.Context, cfg domain.SessionConfig, available float64) ([]Candidate, error) {
	launches := s.queue.Drain()
	if len(launches) == 0 {
		return nil, nil
	}
	now := s.now()
	var cands []Candidate
	for _, raw := range launches {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l, ok := s.Assess(raw, cfg)
		if !ok {
			continue
		}
		metrics.Opportunities.WithLabelValues(s.Name()).Inc()
		if err := s.gate.Validate(l, cfg.MinProfitPct, now); err != nil {
			s.logger.Debug("launch rejected",
				slog.String("mint", l.Mint),
				slog.String("reason", err.Error()),
			)
			continue
		}
		size, err := s.gate.ScanSize(available, l.RequiredSize())
		if err != nil {
			continue
		}
		s.logger.Info("snipe candidate",
			slog.String("mint", l.Mint),
			slog.String("symbol", l.Symbol),
			slog.Float64("market_cap_usd", l.MarketCapUSD),
			slog.Int("risk", l.RiskScore),
			slog.Float64("size", size),
		)
		cands = append(cands, Candidate{Opportunity: l, Size: size, Score: l.ExpectedPct})
	}
	sortByScore(cands)
	return cands, nil
}
