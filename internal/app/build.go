package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/dexbot/internal/arbitrage"
	"github.com/alanyoungcy/dexbot/internal/config"
	"github.com/alanyoungcy/dexbot/internal/crypto"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/engine"
	"github.com/alanyoungcy/dexbot/internal/executor"
	"github.com/alanyoungcy/dexbot/internal/feed"
	"github.com/alanyoungcy/dexbot/internal/ledger"
	"github.com/alanyoungcy/dexbot/internal/platform/evm"
	"github.com/alanyoungcy/dexbot/internal/platform/execsvc"
	"github.com/alanyoungcy/dexbot/internal/platform/jupiter"
	"github.com/alanyoungcy/dexbot/internal/platform/meteora"
	"github.com/alanyoungcy/dexbot/internal/platform/pumpportal"
	"github.com/alanyoungcy/dexbot/internal/platform/raydium"
	"github.com/alanyoungcy/dexbot/internal/platform/solana"
	"github.com/alanyoungcy/dexbot/internal/pricefeed"
	"github.com/alanyoungcy/dexbot/internal/risk"
	"github.com/alanyoungcy/dexbot/internal/scheduler"
)

const (
	stopTimeout   = 30 * time.Second
	scanParallel  = 8
	meteoraTTL    = 30 * time.Second
	exitQuoteFrom = domain.VenueJupiter
)

// venueClients holds the chain clients shared between quoting and balances.
type venueClients struct {
	sources []domain.PriceSource
	evm     *evm.Client
}

// buildVenues creates one price source per enabled venue. The EVM client is
// dialled when the uniswap venue or the evm wallet chain needs it.
func buildVenues(ctx context.Context, cfg *config.Config) (*venueClients, func(), error) {
	vc := &venueClients{}
	closeFn := func() {}
	timeout := cfg.Venues.QuoteTimeout.Duration

	if slices.Contains(cfg.Venues.Enabled, domain.VenueUniswap) || cfg.Wallet.Chain == "evm" {
		c, closeEVM, err := evm.Dial(ctx, cfg.EVM.RPCURL, cfg.EVM.Timeout.Duration)
		if err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
		vc.evm, closeFn = c, closeEVM
	}

	for _, v := range cfg.Venues.Enabled {
		switch v {
		case domain.VenueJupiter:
			vc.sources = append(vc.sources, jupiter.NewClient(cfg.Venues.JupiterURL, timeout))
		case domain.VenueRaydium:
			vc.sources = append(vc.sources, raydium.NewClient(cfg.Venues.RaydiumURL, timeout, cfg.Venues.RaydiumCacheTTL.Duration))
		case domain.VenueMeteora:
			vc.sources = append(vc.sources, meteora.NewClient(cfg.Venues.MeteoraURL, timeout, meteoraTTL))
		case domain.VenueUniswap:
			vc.sources = append(vc.sources, vc.evm)
		default:
			closeFn()
			return nil, nil, fmt.Errorf("app: %w: unknown venue %q", domain.ErrConfiguration, v)
		}
	}
	return vc, closeFn, nil
}

// buildTrader returns the trade executor and the balance source. The paper
// trader is its own balance source; the remote executor reads balances from
// the wallet's chain.
func buildTrader(cfg *config.Config, vc *venueClients) (domain.TradeExecutor, domain.BalanceSource, error) {
	fees := feeModel(cfg)
	if cfg.Executor.Kind == "paper" {
		p := executor.NewPaperTrader(cfg.Paper.Balance, cfg.Paper.SlippageBps, fees.LegFee())
		return p, p, nil
	}

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.Executor.APISecret,
		EncryptedPath: cfg.Executor.EncryptedSecretPath,
		Password:      cfg.Executor.SecretPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("app: executor secret: %w", err)
	}
	trader := execsvc.NewClient(cfg.Executor.URL,
		&crypto.HMACAuth{Key: cfg.Executor.APIKey, Secret: secret},
		cfg.Wallet.Address, cfg.Executor.Timeout.Duration)

	var balances domain.BalanceSource
	switch cfg.Wallet.Chain {
	case "evm":
		balances = vc.evm
	default:
		balances = solana.NewClient(cfg.Solana.RPCURL, cfg.Solana.Commitment, cfg.Solana.Timeout.Duration)
	}
	return trader, balances, nil
}

func feeModel(cfg *config.Config) domain.FeeModel {
	return domain.FeeModel{Base: cfg.Risk.BaseFee, PerInstruction: cfg.Risk.InstructionFee}
}

// buildEngine assembles the trading core on top of the wired infrastructure.
func buildEngine(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*engine.Engine, func(), error) {
	vc, closeVenues, err := buildVenues(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	trader, balances, err := buildTrader(cfg, vc)
	if err != nil {
		closeVenues()
		return nil, nil, err
	}

	var cache domain.PriceCache
	if cfg.Venues.CacheQuotes {
		cache = deps.PriceCache
	}
	prices := pricefeed.New(vc.sources, deps.RateLimiter, cache, pricefeed.Config{
		Timeout:    cfg.Venues.QuoteTimeout.Duration,
		RateLimit:  cfg.Venues.RateLimit,
		RateWindow: cfg.Venues.RateWindow.Duration,
	}, logger)

	gate := risk.NewGate(risk.Config{
		MaxTradeSize:    cfg.Risk.MaxTradeSize,
		MinTradeSize:    cfg.Risk.MinTradeSize,
		DailyLossLimit:  cfg.Risk.DailyLossLimit,
		ValidityWindow:  cfg.Risk.ValidityWindow.Duration,
		ScanUtilization: cfg.Risk.ScanUtilization,
		ExecUtilization: cfg.Risk.ExecUtilization,
		ReservedBalance: cfg.Risk.ReservedBalance,
	}, cfg.Risk.Blacklist, logger)

	led := ledger.New(ledger.DefaultRingSize, deps.TradeStore, deps.SessionStore, logger)

	exec := executor.New(executor.Config{
		Wallet:             cfg.Wallet.Address,
		Fees:               feeModel(cfg),
		RecoveryPenaltyPct: cfg.Risk.RecoveryPenaltyPct,
		SnipeVenue:         cfg.Snipe.Venue,
		ExitQuoteVenue:     exitQuoteFrom,
		DwellMin:           cfg.Snipe.DwellMin.Duration,
		DwellMax:           cfg.Snipe.DwellMax.Duration,
		CheckInterval:      cfg.Snipe.CheckInterval.Duration,
		LegTimeout:         cfg.Executor.Timeout.Duration,
		LockTTL:            cfg.Executor.LockTTL.Duration,
		Cooldown:           cfg.Executor.Cooldown.Duration,
	}, trader, balances, gate, led, prices, deps.LockManager, logger)

	registry := arbitrage.NewRegistry()
	if len(cfg.Tokens) > 0 {
		registry.Register(arbitrage.NewSpreadScanner(arbitrage.SpreadScannerConfig{
			Tokens:       cfg.Tokens,
			Fees:         feeModel(cfg),
			MinNetProfit: cfg.Risk.MinNetProfit,
			Parallel:     scanParallel,
		}, prices, gate, logger))
	}

	var launches *feed.LaunchFeed
	if cfg.Snipe.FeedURL != "" {
		launches = feed.NewLaunchFeed(pumpportal.NewClient(cfg.Snipe.FeedURL), cfg.Snipe.BufferSize, logger)
		registry.Register(arbitrage.NewLaunchScanner(arbitrage.LaunchScannerConfig{
			QuoteUSD:        cfg.Snipe.QuoteUSD,
			MinMarketCapUSD: cfg.Snipe.MinMarketCapUSD,
			MaxMarketCapUSD: cfg.Snipe.MaxMarketCapUSD,
			MaxRisk:         cfg.Snipe.MaxRisk,
			Micro:           cfg.Snipe.Micro,
			MaxTradeSize:    cfg.Risk.MaxTradeSize,
		}, launches, gate, logger))
	}

	eng := engine.New(engine.Config{
		Mode:    cfg.Mode,
		Wallet:  cfg.Wallet.Address,
		Chain:   cfg.Wallet.Chain,
		Reserve: cfg.Risk.ReservedBalance,
		Scheduler: scheduler.Config{
			Wallet:              cfg.Wallet.Address,
			TopK:                cfg.Session.TopK,
			SnipeMultiplier:     cfg.Session.SnipeMultiplier,
			PerformanceInterval: cfg.Session.PerformanceInterval.Duration,
		},
		StopTimeout: stopTimeout,
		LargeLoss:   cfg.Notify.LargeLoss,
	}, engine.Deps{
		Registry:  registry,
		Gate:      gate,
		Ledger:    led,
		Executor:  exec,
		Balances:  balances,
		Launches:  launches,
		Bus:       deps.SignalBus,
		Configs:   deps.ConfigStore,
		Blacklist: deps.BlacklistStore,
		Audit:     deps.AuditStore,
		Notifier:  deps.Notifier,
	}, cfg.SessionDefaults(), logger)

	closeFn := func() {
		if launches != nil {
			launches.Close()
		}
		closeVenues()
	}
	return eng, closeFn, nil
}
