package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// Detect compares the quotes of one token and returns an opportunity when the
// spread between the cheapest and the dearest venue is strictly above
// minProfitPct. Ties resolve to the first quote in slice order.
func Detect(token domain.Token, quotes []domain.PriceQuote, minProfitPct, volume float64, now time.Time) (domain.ArbitrageOpportunity, bool) {
	if len(quotes) < 2 {
		return domain.ArbitrageOpportunity{}, false
	}
	buy, sell := 0, 0
	for i, q := range quotes {
		if q.Price < quotes[buy].Price {
			buy = i
		}
		if q.Price > quotes[sell].Price {
			sell = i
		}
	}
	b, s := quotes[buy], quotes[sell]
	if buy == sell || b.Price <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}
	pct := (s.Price - b.Price) / b.Price * 100
	if !(pct > minProfitPct) {
		return domain.ArbitrageOpportunity{}, false
	}
	return domain.ArbitrageOpportunity{
		ID:              uuid.NewString(),
		Token:           token,
		BuyVenue:        b.Venue,
		SellVenue:       s.Venue,
		BuyPrice:        b.Price,
		SellPrice:       s.Price,
		ProfitPct:       pct,
		AvailableVolume: volume,
		DetectedAt:      now,
	}, true
}

// QuoteSource is the batched price feed.
type QuoteSource interface {
	Venues() []string
	Quotes(ctx context.Context, token domain.Token, venues []string) []domain.PriceQuote
}

// SpreadScannerConfig configures the cross-venue scanner.
type SpreadScannerConfig struct {
	Tokens       []domain.Token
	Fees         domain.FeeModel
	MinNetProfit float64
	// Parallel bounds how many tokens are quoted at once.
	Parallel int
}

// SpreadScanner is the arbitrage strategy: it quotes every watched token on
// every venue and keeps the spreads that are still profitable after fees.
type SpreadScanner struct {
	cfg    SpreadScannerConfig
	feed   QuoteSource
	gate   Gate
	now    func() time.Time
	logger *slog.Logger
}

// NewSpreadScanner creates the arbitrage scanner.
func NewSpreadScanner(cfg SpreadScannerConfig, feed QuoteSource, gate Gate, logger *slog.Logger) *SpreadScanner {
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	return &SpreadScanner{
		cfg:    cfg,
		feed:   feed,
		gate:   gate,
		now:    time.Now,
		logger: logger.With(slog.String("component", "spread_scanner")),
	}
}

// Name returns the strategy identifier.
func (s *SpreadScanner) Name() string { return domain.StrategyArbitrage }

// Scan quotes all non-blacklisted tokens and returns sized candidates ranked by
// estimated net profit.
func (s *SpreadScanner) Scan(ctx context.Context, cfg domain.SessionConfig, available float64) ([]Candidate, error) {
	venues := s.feed.Venues()
	if len(venues) < 2 {
		return nil, errors.New("arbitrage: fewer than two venues configured")
	}

	found := make([]*domain.ArbitrageOpportunity, len(s.cfg.Tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallel)
	for i, tok := range s.cfg.Tokens {
		if s.gate.Blacklisted(tok.ID()) {
			continue
		}
		g.Go(func() error {
			quotes := s.feed.Quotes(gctx, tok, venues)
			if opp, ok := Detect(tok, quotes, cfg.MinProfitPct, cfg.MaxPositionSize, s.now()); ok {
				found[i] = &opp
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cands []Candidate
	now := s.now()
	fee := s.cfg.Fees.ArbitrageFee()
	for _, opp := range found {
		if opp == nil {
			continue
		}
		metrics.Opportunities.WithLabelValues(s.Name()).Inc()
		if err := s.gate.Validate(opp, cfg.MinProfitPct, now); err != nil {
			continue
		}
		size, err := s.gate.ScanSize(available, opp.RequiredSize())
		if err != nil {
			continue
		}
		// size is a quote-asset amount; the spread is earned per token.
		opp.EstimatedNet = (opp.SellPrice-opp.BuyPrice)*(size/opp.BuyPrice) - fee
		if opp.EstimatedNet < s.cfg.MinNetProfit {
			s.logger.Debug("spread below net profit floor",
				slog.String("token", opp.Token.Symbol),
				slog.Float64("estimated_net", opp.EstimatedNet),
			)
			continue
		}
		s.logger.Info("arbitrage opportunity",
			slog.String("token", opp.Token.Symbol),
			slog.String("buy_venue", opp.BuyVenue),
			slog.Float64("buy_price", opp.BuyPrice),
			slog.String("sell_venue", opp.SellVenue),
			slog.Float64("sell_price", opp.SellPrice),
			slog.Float64("profit_pct", opp.ProfitPct),
		)
		cands = append(cands, Candidate{Opportunity: *opp, Size: size, Score: opp.EstimatedNet})
	}
	sortByScore(cands)
	return cands, nil
}
