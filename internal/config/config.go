// Package config defines the top-level configuration for the dex bot and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/notify"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Solana   SolanaConfig   `toml:"solana"`
	EVM      EVMConfig      `toml:"evm"`
	Venues   VenuesConfig   `toml:"venues"`
	Tokens   []domain.Token `toml:"tokens"`
	Session  SessionConfig  `toml:"session"`
	Risk     RiskConfig     `toml:"risk"`
	Snipe    SnipeConfig    `toml:"snipe"`
	Executor ExecutorConfig `toml:"executor"`
	Paper    PaperConfig    `toml:"paper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig identifies the trading account. Key material never lives here;
// signing happens inside the executor service.
type WalletConfig struct {
	Address string `toml:"address"`
	Chain   string `toml:"chain"`
}

// SolanaConfig holds the JSON-RPC endpoint used for balances.
type SolanaConfig struct {
	RPCURL     string   `toml:"rpc_url"`
	Commitment string   `toml:"commitment"`
	Timeout    duration `toml:"timeout"`
}

// EVMConfig holds the RPC endpoint used for UniswapV2-style pairs.
type EVMConfig struct {
	RPCURL  string   `toml:"rpc_url"`
	ChainID int64    `toml:"chain_id"`
	Timeout duration `toml:"timeout"`
}

// VenuesConfig lists the venues to quote and their endpoints.
type VenuesConfig struct {
	Enabled         []string `toml:"enabled"`
	QuoteTimeout    duration `toml:"quote_timeout"`
	JupiterURL      string   `toml:"jupiter_url"`
	RaydiumURL      string   `toml:"raydium_url"`
	RaydiumCacheTTL duration `toml:"raydium_cache_ttl"`
	MeteoraURL      string   `toml:"meteora_url"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	CacheQuotes     bool     `toml:"cache_quotes"`
}

// SessionConfig is the initial operator-controlled session configuration.
type SessionConfig struct {
	ScanInterval        duration `toml:"scan_interval"`
	MaxConcurrentTrades int      `toml:"max_concurrent_trades"`
	MinProfitPct        float64  `toml:"min_profit_pct"`
	MaxPositionSize     float64  `toml:"max_position_size"`
	EnabledStrategies   []string `toml:"enabled_strategies"`
	StopLossPct         float64  `toml:"stop_loss_pct"`
	TakeProfitPct       float64  `toml:"take_profit_pct"`
	AutoExecute         bool     `toml:"auto_execute"`
	TopK                int      `toml:"top_k"`
	SnipeMultiplier     int      `toml:"snipe_multiplier"`
	PerformanceInterval duration `toml:"performance_interval"`
}

// RiskConfig holds the risk gate and fee model parameters.
type RiskConfig struct {
	Profile            string   `toml:"profile"`
	MaxTradeSize       float64  `toml:"max_trade_size"`
	MinTradeSize       float64  `toml:"min_trade_size"`
	DailyLossLimit     float64  `toml:"daily_loss_limit"`
	ValidityWindow     duration `toml:"validity_window"`
	ScanUtilization    float64  `toml:"scan_utilization"`
	ExecUtilization    float64  `toml:"exec_utilization"`
	ReservedBalance    float64  `toml:"reserved_balance"`
	MinNetProfit       float64  `toml:"min_net_profit"`
	RecoveryPenaltyPct float64  `toml:"recovery_penalty_pct"`
	BaseFee            float64  `toml:"base_fee"`
	InstructionFee     float64  `toml:"instruction_fee"`
	Blacklist          []string `toml:"blacklist"`
}

// SnipeConfig holds launch feed and snipe sizing parameters.
type SnipeConfig struct {
	FeedURL         string   `toml:"feed_url"`
	Venue           string   `toml:"venue"`
	QuoteUSD        float64  `toml:"quote_usd"`
	MinMarketCapUSD float64  `toml:"min_market_cap_usd"`
	MaxMarketCapUSD float64  `toml:"max_market_cap_usd"`
	MaxRisk         int      `toml:"max_risk"`
	Micro           bool     `toml:"micro"`
	DwellMin        duration `toml:"dwell_min"`
	DwellMax        duration `toml:"dwell_max"`
	CheckInterval   duration `toml:"check_interval"`
	BufferSize      int      `toml:"buffer_size"`
}

// ExecutorConfig selects the trade executor.
type ExecutorConfig struct {
	Kind                string   `toml:"kind"`
	URL                 string   `toml:"url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
	LockTTL             duration `toml:"lock_ttl"`
	Cooldown            duration `toml:"cooldown"`
}

// PaperConfig parameterises the in-process paper executor.
type PaperConfig struct {
	Balance     float64 `toml:"balance"`
	SlippageBps float64 `toml:"slippage_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old trade records to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	LargeLoss         float64  `toml:"large_loss"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{Chain: "solana"},
		Solana: SolanaConfig{
			RPCURL:     "https://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
			Timeout:    duration{10 * time.Second},
		},
		EVM: EVMConfig{
			ChainID: 1,
			Timeout: duration{10 * time.Second},
		},
		Venues: VenuesConfig{
			Enabled:         []string{domain.VenueJupiter, domain.VenueRaydium, domain.VenueMeteora},
			QuoteTimeout:    duration{5 * time.Second},
			JupiterURL:      "https://price.jup.ag/v4",
			RaydiumURL:      "https://api.raydium.io/v2/sdk/liquidity/mainnet.json",
			RaydiumCacheTTL: duration{5 * time.Minute},
			MeteoraURL:      "https://dlmm-api.meteora.ag",
			RateLimit:       10,
			RateWindow:      duration{time.Second},
			CacheQuotes:     true,
		},
		Session: SessionConfig{
			ScanInterval:        duration{5 * time.Second},
			MaxConcurrentTrades: 3,
			MinProfitPct:        0.5,
			MaxPositionSize:     1.0,
			EnabledStrategies:   []string{domain.StrategyArbitrage, domain.StrategySnipe},
			StopLossPct:         5.0,
			TakeProfitPct:       10.0,
			AutoExecute:         true,
			TopK:                3,
			SnipeMultiplier:     2,
			PerformanceInterval: duration{time.Minute},
		},
		Risk: RiskConfig{
			Profile:            "standard",
			MaxTradeSize:       1.0,
			MinTradeSize:       0.002,
			DailyLossLimit:     0.1,
			ValidityWindow:     duration{30 * time.Second},
			ScanUtilization:    0.5,
			ExecUtilization:    0.3,
			ReservedBalance:    0.005,
			MinNetProfit:       0.0005,
			RecoveryPenaltyPct: 5.0,
			BaseFee:            0.000005,
			InstructionFee:     0.000001,
		},
		Snipe: SnipeConfig{
			FeedURL:         "wss://pumpportal.fun/api/data",
			Venue:           domain.VenuePumpFun,
			QuoteUSD:        200,
			MinMarketCapUSD: 10_000,
			MaxMarketCapUSD: 1_000_000,
			MaxRisk:         7,
			DwellMin:        duration{2 * time.Minute},
			DwellMax:        duration{5 * time.Minute},
			CheckInterval:   duration{30 * time.Second},
			BufferSize:      256,
		},
		Executor: ExecutorConfig{
			Kind:     "paper",
			Timeout:  duration{15 * time.Second},
			LockTTL:  duration{time.Minute},
			Cooldown: duration{10 * time.Second},
		},
		Paper: PaperConfig{
			Balance:     0.04,
			SlippageBps: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			Namespace:  "dexbot",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:    []string{notify.EventBreaker, notify.EventEmergency, notify.EventLargeLoss, notify.EventError},
			LargeLoss: 0.005,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenues = map[string]bool{
	domain.VenueJupiter: true,
	domain.VenueRaydium: true,
	domain.VenueMeteora: true,
	domain.VenueUniswap: true,
}

// SessionDefaults converts the file-level session section into the value the
// engine swaps at runtime.
func (c *Config) SessionDefaults() domain.SessionConfig {
	s := c.Session
	return domain.SessionConfig{
		ScanInterval:        s.ScanInterval.Duration,
		MaxConcurrentTrades: s.MaxConcurrentTrades,
		MinProfitPct:        s.MinProfitPct,
		MaxPositionSize:     s.MaxPositionSize,
		EnabledStrategies:   append([]string(nil), s.EnabledStrategies...),
		StopLossPct:         s.StopLossPct,
		TakeProfitPct:       s.TakeProfitPct,
		AutoExecute:         s.AutoExecute && c.Mode != "monitor",
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. The error wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.Address == "" {
		errs = append(errs, "wallet: address must be set")
	}
	switch c.Wallet.Chain {
	case "solana":
		if c.Solana.RPCURL == "" {
			errs = append(errs, "solana: rpc_url is required when wallet.chain is solana")
		}
	case "evm":
		if c.EVM.RPCURL == "" {
			errs = append(errs, "evm: rpc_url is required when wallet.chain is evm")
		}
	default:
		errs = append(errs, fmt.Sprintf("wallet: unknown chain %q (valid: solana, evm)", c.Wallet.Chain))
	}

	// Venues
	if len(c.Venues.Enabled) == 0 {
		errs = append(errs, "venues: at least one venue must be enabled")
	}
	for _, v := range c.Venues.Enabled {
		if !validVenues[v] {
			errs = append(errs, fmt.Sprintf("venues: unknown venue %q", v))
		}
		if v == domain.VenueUniswap && c.EVM.RPCURL == "" {
			errs = append(errs, "evm: rpc_url is required when uniswap_v2 is enabled")
		}
	}
	if c.Venues.QuoteTimeout.Duration <= 0 {
		errs = append(errs, "venues: quote_timeout must be > 0")
	}

	// Tokens
	arbEnabled := false
	for _, s := range c.Session.EnabledStrategies {
		if s == domain.StrategyArbitrage {
			arbEnabled = true
		}
	}
	if arbEnabled && len(c.Tokens) == 0 {
		errs = append(errs, "tokens: at least one token is required when arbitrage is enabled")
	}
	for i, t := range c.Tokens {
		if t.Symbol == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: symbol must be set", i))
		}
		if t.Mint == "" && t.EVMAddress == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: mint or evm_address must be set", i))
		}
	}

	if err := ValidateSession(c.SessionDefaults()); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), domain.ErrConfiguration.Error()+": "))
	}
	if c.Session.TopK < 1 {
		errs = append(errs, "session: top_k must be >= 1")
	}
	if c.Session.SnipeMultiplier < 1 {
		errs = append(errs, "session: snipe_multiplier must be >= 1")
	}

	// Risk
	if c.Risk.Profile != "standard" && c.Risk.Profile != "micro" {
		errs = append(errs, fmt.Sprintf("risk: unknown profile %q (valid: standard, micro)", c.Risk.Profile))
	}
	if c.Risk.MaxTradeSize <= 0 {
		errs = append(errs, "risk: max_trade_size must be > 0")
	}
	if c.Risk.MinTradeSize < 0 || c.Risk.MinTradeSize > c.Risk.MaxTradeSize {
		errs = append(errs, "risk: min_trade_size must be between 0 and max_trade_size")
	}
	if c.Risk.DailyLossLimit <= 0 {
		errs = append(errs, "risk: daily_loss_limit must be > 0")
	}
	for name, f := range map[string]float64{"scan_utilization": c.Risk.ScanUtilization, "exec_utilization": c.Risk.ExecUtilization} {
		if f <= 0 || f > 1 {
			errs = append(errs, fmt.Sprintf("risk: %s must be in (0, 1]", name))
		}
	}

	// Snipe
	if c.Snipe.DwellMin.Duration <= 0 || c.Snipe.DwellMax.Duration < c.Snipe.DwellMin.Duration {
		errs = append(errs, "snipe: dwell_min must be > 0 and <= dwell_max")
	}
	if c.Snipe.MaxRisk < 1 || c.Snipe.MaxRisk > 10 {
		errs = append(errs, "snipe: max_risk must be 1-10")
	}

	// Executor
	switch c.Executor.Kind {
	case "paper":
	case "remote":
		if c.Executor.URL == "" {
			errs = append(errs, "executor: url is required for the remote executor")
		}
		if c.Executor.APIKey == "" {
			errs = append(errs, "executor: api_key is required for the remote executor")
		}
		if c.Executor.APISecret == "" && c.Executor.EncryptedSecretPath == "" {
			errs = append(errs, "executor: api_secret or encrypted_secret_path is required for the remote executor")
		}
		if c.Executor.EncryptedSecretPath != "" && c.Executor.SecretPassword == "" {
			errs = append(errs, "executor: secret_password is required when encrypted_secret_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("executor: unknown kind %q (valid: paper, remote)", c.Executor.Kind))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed for archiving.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			errs = append(errs, "s3: endpoint and bucket must be set when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	for _, e := range c.Notify.Events {
		if !notify.Known(e) {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	// Server
	if c.Mode == "full" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: config validation failed:\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}

var knownStrategies = map[string]bool{
	domain.StrategyArbitrage: true,
	domain.StrategySnipe:     true,
}

// ValidateSession checks a runtime session config before it is swapped in.
func ValidateSession(s domain.SessionConfig) error {
	var errs []error
	if s.ScanInterval < time.Second {
		errs = append(errs, errors.New("session: scan_interval must be >= 1s"))
	}
	if s.MaxConcurrentTrades < 1 {
		errs = append(errs, errors.New("session: max_concurrent_trades must be >= 1"))
	}
	if s.MinProfitPct < 0 {
		errs = append(errs, errors.New("session: min_profit_pct must be >= 0"))
	}
	if s.MaxPositionSize <= 0 {
		errs = append(errs, errors.New("session: max_position_size must be > 0"))
	}
	if s.StopLossPct <= 0 || s.TakeProfitPct <= 0 {
		errs = append(errs, errors.New("session: stop_loss_pct and take_profit_pct must be > 0"))
	}
	for _, name := range s.EnabledStrategies {
		if !knownStrategies[name] {
			errs = append(errs, fmt.Errorf("session: unknown strategy %q", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
