// Package raydium prices tokens from Raydium AMM pool reserves.
package raydium

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/platform/rest"
)

// Pool is one entry of the Raydium liquidity list.
type Pool struct {
	ID           string     `json:"id"`
	BaseMint     string     `json:"baseMint"`
	QuoteMint    string     `json:"quoteMint"`
	LpMint       string     `json:"lpMint"`
	BaseReserve  rest.Float `json:"baseReserve"`
	QuoteReserve rest.Float `json:"quoteReserve"`
}

// Price is quote reserve over base reserve.
func (p Pool) Price() float64 {
	if p.BaseReserve <= 0 || p.QuoteReserve <= 0 {
		return 0
	}
	return float64(p.QuoteReserve) / float64(p.BaseReserve)
}

type liquidityList struct {
	Official   []Pool `json:"official"`
	UnOfficial []Pool `json:"unOfficial"`
}

// Client implements domain.PriceSource for Raydium. The pool list is large,
// so it is fetched once per cache TTL.
type Client struct {
	pools *rest.Cached[map[string]Pool]
	now   func() time.Time
}

// NewClient creates a Raydium client. listURL is the full URL of the
// liquidity list, e.g. "https://api.raydium.io/v2/sdk/liquidity/mainnet.json".
func NewClient(listURL string, timeout, cacheTTL time.Duration) *Client {
	api := rest.New(listURL, timeout)
	c := &Client{now: time.Now}
	c.pools = rest.NewCached(cacheTTL, func(ctx context.Context) (map[string]Pool, error) {
		var list liquidityList
		if err := api.GetJSON(ctx, "", &list); err != nil {
			return nil, err
		}
		byID := make(map[string]Pool, len(list.Official)+len(list.UnOfficial))
		for _, p := range list.UnOfficial {
			byID[p.ID] = p
		}
		// Official pools win on id collisions.
		for _, p := range list.Official {
			byID[p.ID] = p
		}
		return byID, nil
	})
	return c
}

func (c *Client) Name() string { return domain.VenueRaydium }

// Quote prices token from its configured pool, or from the deepest pool
// pairing token.Mint with token.QuoteMint.
func (c *Client) Quote(ctx context.Context, token domain.Token) (domain.PriceQuote, error) {
	pools, err := c.pools.Get(ctx)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("raydium: load pools: %w: %w", domain.ErrUnavailable, err)
	}
	pool, ok := findPool(pools, token)
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("raydium: no pool for %s: %w", token.Symbol, domain.ErrUnavailable)
	}
	price := pool.Price()
	if price <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("raydium: pool %s has no reserves: %w", pool.ID, domain.ErrUnavailable)
	}
	return domain.PriceQuote{
		Venue:      domain.VenueRaydium,
		Token:      token.ID(),
		Price:      price,
		Liquidity:  float64(pool.QuoteReserve),
		ObservedAt: c.now(),
	}, nil
}

func findPool(pools map[string]Pool, token domain.Token) (Pool, bool) {
	if id := token.Pool(domain.VenueRaydium); id != "" {
		p, ok := pools[id]
		return p, ok
	}
	var best Pool
	found := false
	for _, p := range pools {
		if p.BaseMint != token.Mint {
			continue
		}
		if token.QuoteMint != "" && p.QuoteMint != token.QuoteMint {
			continue
		}
		if !found || p.QuoteReserve > best.QuoteReserve {
			best, found = p, true
		}
	}
	return best, found
}

var _ domain.PriceSource = (*Client)(nil)
