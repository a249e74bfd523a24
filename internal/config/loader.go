package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies the risk profile, applies DEXBOT_* environment
// variable overrides, and returns the final Config. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	applyProfile(&cfg, meta)

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyProfile fills capital-constrained presets for the micro profile. Keys
// set explicitly in the file win over the preset.
func applyProfile(cfg *Config, meta toml.MetaData) {
	if cfg.Risk.Profile != "micro" {
		return
	}
	if !meta.IsDefined("session", "min_profit_pct") {
		cfg.Session.MinProfitPct = 2.0
	}
	if !meta.IsDefined("risk", "max_trade_size") {
		cfg.Risk.MaxTradeSize = 0.005
	}
	if !meta.IsDefined("risk", "daily_loss_limit") {
		cfg.Risk.DailyLossLimit = 0.01
	}
	if !meta.IsDefined("snipe", "max_risk") {
		cfg.Snipe.MaxRisk = 6
	}
	if !meta.IsDefined("snipe", "micro") {
		cfg.Snipe.Micro = true
	}
}

// applyEnvOverrides reads well-known DEXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet / RPC ──
	setStr(&cfg.Wallet.Address, "DEXBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.Chain, "DEXBOT_WALLET_CHAIN")
	setStr(&cfg.Solana.RPCURL, "DEXBOT_SOLANA_RPC_URL")
	setStr(&cfg.EVM.RPCURL, "DEXBOT_EVM_RPC_URL")
	setInt64(&cfg.EVM.ChainID, "DEXBOT_EVM_CHAIN_ID")

	// ── Venues ──
	setStringSlice(&cfg.Venues.Enabled, "DEXBOT_VENUES_ENABLED")
	setDuration(&cfg.Venues.QuoteTimeout, "DEXBOT_VENUES_QUOTE_TIMEOUT")
	setStr(&cfg.Venues.JupiterURL, "DEXBOT_VENUES_JUPITER_URL")
	setStr(&cfg.Venues.RaydiumURL, "DEXBOT_VENUES_RAYDIUM_URL")
	setStr(&cfg.Venues.MeteoraURL, "DEXBOT_VENUES_METEORA_URL")

	// ── Session ──
	setDuration(&cfg.Session.ScanInterval, "DEXBOT_SCAN_INTERVAL")
	setInt(&cfg.Session.MaxConcurrentTrades, "DEXBOT_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Session.MinProfitPct, "DEXBOT_MIN_PROFIT_PCT")
	setFloat64(&cfg.Session.MaxPositionSize, "DEXBOT_MAX_POSITION_SIZE")
	setStringSlice(&cfg.Session.EnabledStrategies, "DEXBOT_ENABLED_STRATEGIES")
	setFloat64(&cfg.Session.StopLossPct, "DEXBOT_STOP_LOSS_PCT")
	setFloat64(&cfg.Session.TakeProfitPct, "DEXBOT_TAKE_PROFIT_PCT")
	setBool(&cfg.Session.AutoExecute, "DEXBOT_AUTO_EXECUTE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTradeSize, "DEXBOT_RISK_MAX_TRADE_SIZE")
	setFloat64(&cfg.Risk.DailyLossLimit, "DEXBOT_RISK_DAILY_LOSS_LIMIT")
	setStringSlice(&cfg.Risk.Blacklist, "DEXBOT_RISK_BLACKLIST")

	// ── Executor ──
	setStr(&cfg.Executor.Kind, "DEXBOT_EXECUTOR_KIND")
	setStr(&cfg.Executor.URL, "DEXBOT_EXECUTOR_URL")
	setStr(&cfg.Executor.APIKey, "DEXBOT_EXECUTOR_API_KEY")
	setStr(&cfg.Executor.APISecret, "DEXBOT_EXECUTOR_API_SECRET")
	setStr(&cfg.Executor.EncryptedSecretPath, "DEXBOT_EXECUTOR_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Executor.SecretPassword, "DEXBOT_EXECUTOR_SECRET_PASSWORD")
	setFloat64(&cfg.Paper.Balance, "DEXBOT_PAPER_BALANCE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "DEXBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "DEXBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "DEXBOT_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXBOT_S3_SECRET_KEY")
	setBool(&cfg.Archive.Enabled, "DEXBOT_ARCHIVE_ENABLED")

	// ── Server ──
	setInt(&cfg.Server.Port, "DEXBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DEXBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXBOT_MODE")
	setStr(&cfg.LogLevel, "DEXBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
