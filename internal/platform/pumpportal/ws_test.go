package pumpportal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

func TestStreamForwardsLaunches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var cmd command
		require.NoError(t, conn.ReadJSON(&cmd))
		assert.Equal(t, "subscribeNewToken", cmd.Method)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"Successfully subscribed to token creation events."}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"mint":"Mint111","name":"Cat","symbol":"CAT","bondingCurveKey":"curve1","vTokensInBondingCurve":1000000,"vSolInBondingCurve":30,"marketCapSol":28.5}`))

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.NewAssetLaunch, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Stream(ctx, out) }()

	select {
	case l := <-out:
		assert.Equal(t, "Mint111", l.Mint)
		assert.Equal(t, "CAT", l.Symbol)
		assert.Equal(t, "curve1", l.PoolRef)
		assert.InDelta(t, 0.00003, l.InitialPrice, 1e-12)
		assert.Equal(t, 28.5, l.MarketCapSol)
	case <-time.After(3 * time.Second):
		t.Fatal("no launch received")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestStreamDialFailure(t *testing.T) {
	err := NewClient("ws://127.0.0.1:1").Stream(context.Background(), make(chan domain.NewAssetLaunch))
	assert.Error(t, err)
}
