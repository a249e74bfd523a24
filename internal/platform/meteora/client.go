// Package meteora prices tokens from Meteora DLMM pairs.
package meteora

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/platform/rest"
)

// Pair is a DLMM pair as returned by the Meteora API.
type Pair struct {
	Address      string     `json:"address"`
	Name         string     `json:"name"`
	MintX        string     `json:"mint_x"`
	MintY        string     `json:"mint_y"`
	ReserveX     rest.Float `json:"reserve_x_amount"`
	ReserveY     rest.Float `json:"reserve_y_amount"`
	CurrentPrice rest.Float `json:"current_price"`
	Liquidity    rest.Float `json:"liquidity"`
	FeeRate      rest.Float `json:"base_fee_percentage"`
}

// Price prefers the reported bin price and falls back to reserve ratio.
func (p Pair) Price() float64 {
	if p.CurrentPrice > 0 {
		return float64(p.CurrentPrice)
	}
	if p.ReserveX > 0 && p.ReserveY > 0 {
		return float64(p.ReserveY) / float64(p.ReserveX)
	}
	return 0
}

// Client implements domain.PriceSource for Meteora.
type Client struct {
	api *rest.Client
	all *rest.Cached[[]Pair]
	now func() time.Time
}

// NewClient creates a Meteora client rooted at baseURL, e.g.
// "https://dlmm-api.meteora.ag".
func NewClient(baseURL string, timeout, cacheTTL time.Duration) *Client {
	api := rest.New(baseURL, timeout)
	return &Client{
		api: api,
		all: rest.NewCached(cacheTTL, func(ctx context.Context) ([]Pair, error) {
			var pairs []Pair
			if err := api.GetJSON(ctx, "/pair/all", &pairs); err != nil {
				return nil, err
			}
			return pairs, nil
		}),
		now: time.Now,
	}
}

func (c *Client) Name() string { return domain.VenueMeteora }

// Quote fetches the configured pair directly, otherwise looks the token up
// in the cached pair list.
func (c *Client) Quote(ctx context.Context, token domain.Token) (domain.PriceQuote, error) {
	pair, err := c.pair(ctx, token)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	price := pair.Price()
	if price <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("meteora: pair %s has no price: %w", pair.Address, domain.ErrUnavailable)
	}
	return domain.PriceQuote{
		Venue:      domain.VenueMeteora,
		Token:      token.ID(),
		Price:      price,
		Liquidity:  float64(pair.Liquidity),
		ObservedAt: c.now(),
	}, nil
}

func (c *Client) pair(ctx context.Context, token domain.Token) (Pair, error) {
	if addr := token.Pool(domain.VenueMeteora); addr != "" {
		var p Pair
		if err := c.api.GetJSON(ctx, "/pair/"+url.PathEscape(addr), &p); err != nil {
			return Pair{}, fmt.Errorf("meteora: get pair %s: %w: %w", addr, domain.ErrUnavailable, err)
		}
		return p, nil
	}
	pairs, err := c.all.Get(ctx)
	if err != nil {
		return Pair{}, fmt.Errorf("meteora: list pairs: %w: %w", domain.ErrUnavailable, err)
	}
	var best Pair
	found := false
	for _, p := range pairs {
		if p.MintX != token.Mint || (token.QuoteMint != "" && p.MintY != token.QuoteMint) {
			continue
		}
		if !found || p.Liquidity > best.Liquidity {
			best, found = p, true
		}
	}
	if !found {
		return Pair{}, fmt.Errorf("meteora: no pair for %s: %w", token.Symbol, domain.ErrUnavailable)
	}
	return best, nil
}

var _ domain.PriceSource = (*Client)(nil)
