package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.Address = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	cfg.Tokens = []domain.Token{{Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"}}
	return cfg
}

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dexbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidateOnceWalletAndTokensSet(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Executor.Kind = "remote"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "backtest"`)
	assert.Contains(t, msg, "wallet: address must be set")
	assert.Contains(t, msg, "tokens: at least one token")
	assert.Contains(t, msg, "executor: url is required")
}

func TestValidateUniswapNeedsRPC(t *testing.T) {
	cfg := validConfig()
	cfg.Venues.Enabled = append(cfg.Venues.Enabled, domain.VenueUniswap)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evm: rpc_url is required when uniswap_v2 is enabled")
}

func TestValidateSession(t *testing.T) {
	cfg := validConfig()
	s := cfg.SessionDefaults()
	require.NoError(t, ValidateSession(s))

	s.MaxConcurrentTrades = 0
	s.EnabledStrategies = []string{"market_making"}
	err := ValidateSession(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "max_concurrent_trades")
	assert.Contains(t, err.Error(), `unknown strategy "market_making"`)
}

func TestMonitorModeDisablesAutoExecute(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "monitor"
	assert.False(t, cfg.SessionDefaults().AutoExecute)
}

func TestLoadAppliesMicroProfile(t *testing.T) {
	path := writeTOML(t, `
mode = "trade"

[wallet]
address = "abc"

[risk]
profile = "micro"
daily_loss_limit = 0.02

[session]
scan_interval = "3s"

[[tokens]]
symbol = "WIF"
mint = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
[tokens.pools]
raydium = "pool-1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.Session.MinProfitPct)
	assert.Equal(t, 0.005, cfg.Risk.MaxTradeSize)
	assert.Equal(t, 0.02, cfg.Risk.DailyLossLimit, "explicit value wins over the preset")
	assert.Equal(t, 6, cfg.Snipe.MaxRisk)
	assert.True(t, cfg.Snipe.Micro)
	assert.Equal(t, 3*time.Second, cfg.Session.ScanInterval.Duration)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, "pool-1", cfg.Tokens[0].Pool(domain.VenueRaydium))
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTOML(t, "mode = \"full\"\n")
	t.Setenv("DEXBOT_WALLET_ADDRESS", "from-env")
	t.Setenv("DEXBOT_MAX_CONCURRENT_TRADES", "5")
	t.Setenv("DEXBOT_ENABLED_STRATEGIES", "snipe, ")
	t.Setenv("DEXBOT_SCAN_INTERVAL", "2s")
	t.Setenv("DEXBOT_SCAN_INTERVAL_BAD", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Wallet.Address)
	assert.Equal(t, 5, cfg.Session.MaxConcurrentTrades)
	assert.Equal(t, []string{"snipe"}, cfg.Session.EnabledStrategies)
	assert.Equal(t, 2*time.Second, cfg.Session.ScanInterval.Duration)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Executor.APISecret = "topsecret"
	cfg.Server.APIKey = "k"
	cfg.Solana.RPCURL = "https://mainnet.helius-rpc.com/?api-key=abc"
	cfg.Notify.Events = []string{"error"}

	out := Redacted(&cfg)
	assert.Equal(t, "***", out.Executor.APISecret)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.Executor.APIKey, "empty secrets stay empty")
	assert.Equal(t, "https://mainnet.helius-rpc.com/***", out.Solana.RPCURL)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "error", cfg.Notify.Events[0])
	assert.Equal(t, "topsecret", cfg.Executor.APISecret)
}
