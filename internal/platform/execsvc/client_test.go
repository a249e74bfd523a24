package execsvc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/crypto"
	"github.com/alanyoungcy/dexbot/internal/domain"
)

var token = domain.Token{Symbol: "BONK", Mint: "mint"}

func newServer(t *testing.T, auth *crypto.HMACAuth, handle func(path string, req LegRequest) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ok := auth.Verify(r.Method, r.URL.Path, body, r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature))
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req LegRequest
		require.NoError(t, json.Unmarshal(body, &req))
		_ = json.NewEncoder(w).Encode(handle(r.URL.Path, req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSimulateAndExecuteSigned(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := newServer(t, auth, func(path string, req LegRequest) any {
		assert.Equal(t, "wallet1", req.Wallet)
		assert.Equal(t, domain.SideBuy, req.Side)
		if path == "/simulate" {
			return simulateResponse{OK: true}
		}
		return executeResponse{Success: true, TxID: "tx1", Price: req.Price * 1.001, Amount: req.Amount, Fee: 0.000007}
	})

	c := NewClient(srv.URL, auth, "wallet1", time.Second)
	ok, err := c.Simulate(context.Background(), domain.VenueRaydium, domain.SideBuy, token, 0.01, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := c.Execute(context.Background(), domain.VenueRaydium, domain.SideBuy, token, 0.01, 2)
	require.NoError(t, err)
	assert.Equal(t, "tx1", out.TxID)
	assert.InDelta(t, 2.002, out.Price, 1e-9)
}

func TestExecuteRejected(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := newServer(t, auth, func(string, LegRequest) any {
		return executeResponse{Success: false, Error: "slippage exceeded"}
	})

	_, err := NewClient(srv.URL, auth, "w", time.Second).Execute(context.Background(), domain.VenueMeteora, domain.SideSell, token, 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slippage exceeded")
}

func TestBadSecretIsRejected(t *testing.T) {
	srv := newServer(t, &crypto.HMACAuth{Key: "k", Secret: "server"}, func(string, LegRequest) any { return simulateResponse{OK: true} })

	_, err := NewClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "client"}, "w", time.Second).
		Simulate(context.Background(), domain.VenueJupiter, domain.SideBuy, token, 1, 1)
	assert.Error(t, err)
}
