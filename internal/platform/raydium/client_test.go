package raydium

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

const list = `{
  "official": [
    {"id":"p1","baseMint":"M","quoteMint":"SOL","lpMint":"L1","baseReserve":1000,"quoteReserve":"50"},
    {"id":"p2","baseMint":"M","quoteMint":"SOL","lpMint":"L2","baseReserve":10,"quoteReserve":1}
  ],
  "unOfficial": [
    {"id":"p3","baseMint":"M","quoteMint":"USDC","lpMint":"L3","baseReserve":100,"quoteReserve":900}
  ]
}`

func server(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(list))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQuoteDeepestMatchingPool(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(server(t, &hits).URL, time.Second, time.Minute)

	q, err := c.Quote(context.Background(), domain.Token{Symbol: "M", Mint: "M", QuoteMint: "SOL"})
	require.NoError(t, err)
	assert.Equal(t, domain.VenueRaydium, q.Venue)
	assert.InDelta(t, 0.05, q.Price, 1e-12)
	assert.Equal(t, 50.0, q.Liquidity)

	_, err = c.Quote(context.Background(), domain.Token{Symbol: "M", Mint: "M", QuoteMint: "SOL"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "pool list is cached")
}

func TestQuoteConfiguredPool(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(server(t, &hits).URL, time.Second, time.Minute)

	q, err := c.Quote(context.Background(), domain.Token{Symbol: "M", Mint: "M", Pools: map[string]string{"raydium": "p3"}})
	require.NoError(t, err)
	assert.InDelta(t, 9.0, q.Price, 1e-12)
}

func TestQuoteUnknownToken(t *testing.T) {
	var hits atomic.Int32
	c := NewClient(server(t, &hits).URL, time.Second, time.Minute)

	_, err := c.Quote(context.Background(), domain.Token{Symbol: "X", Mint: "X"})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}
