package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/config"
	"github.com/alanyoungcy/dexbot/internal/crypto"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/executor"
	"github.com/alanyoungcy/dexbot/internal/platform/execsvc"
	"github.com/alanyoungcy/dexbot/internal/platform/solana"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Wallet.Address = "Wallet111"
	return &cfg
}

func TestBuildVenuesFollowsEnabledOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Venues.Enabled = []string{domain.VenueMeteora, domain.VenueJupiter}

	vc, closeFn, err := buildVenues(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	var names []string
	for _, s := range vc.sources {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{domain.VenueMeteora, domain.VenueJupiter}, names)
	assert.Nil(t, vc.evm)
}

func TestBuildVenuesRejectsUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.Venues.Enabled = []string{"orca"}

	_, _, err := buildVenues(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBuildTraderPaper(t *testing.T) {
	trader, balances, err := buildTrader(testConfig(), &venueClients{})
	require.NoError(t, err)
	assert.IsType(t, &executor.PaperTrader{}, trader)
	assert.Same(t, trader, balances)

	b, err := balances.Balance(context.Background(), "Wallet111")
	require.NoError(t, err)
	assert.InDelta(t, 0.04, b, 1e-12)
}

func TestBuildTraderRemoteUsesSealedSecret(t *testing.T) {
	blob, err := crypto.SealSecret("hmac-secret", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	cfg := testConfig()
	cfg.Executor.Kind = "remote"
	cfg.Executor.URL = "http://executor.local"
	cfg.Executor.APIKey = "key"
	cfg.Executor.EncryptedSecretPath = path
	cfg.Executor.SecretPassword = "pw"

	trader, balances, err := buildTrader(cfg, &venueClients{})
	require.NoError(t, err)
	assert.IsType(t, &execsvc.Client{}, trader)
	assert.IsType(t, &solana.Client{}, balances)

	cfg.Executor.SecretPassword = "wrong"
	_, _, err = buildTrader(cfg, &venueClients{})
	assert.Error(t, err)
}

func TestNeedsArchive(t *testing.T) {
	cfg := testConfig()
	assert.True(t, needsArchive(cfg))
	cfg.Mode = "trade"
	assert.False(t, needsArchive(cfg))
	cfg.Mode = "full"
	cfg.Archive.Enabled = false
	assert.False(t, needsArchive(cfg))
}

func TestRunRejectsUnknownModeBeforeWiring(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "backtest"
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	a.Close()
}
