// Package jupiter quotes tokens through the Jupiter aggregate price API.
package jupiter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/platform/rest"
)

// Client implements domain.PriceSource for Jupiter.
type Client struct {
	api *rest.Client
	now func() time.Time
}

// NewClient creates a Jupiter client. baseURL is the price API root, e.g.
// "https://price.jup.ag/v4".
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{api: rest.New(baseURL, timeout), now: time.Now}
}

type priceResponse struct {
	Data map[string]struct {
		ID            string     `json:"id"`
		MintSymbol    string     `json:"mintSymbol"`
		VsToken       string     `json:"vsToken"`
		VsTokenSymbol string     `json:"vsTokenSymbol"`
		Price         rest.Float `json:"price"`
	} `json:"data"`
}

func (c *Client) Name() string { return domain.VenueJupiter }

// Quote returns the aggregate price of token.Mint, denominated in
// token.QuoteMint when set.
func (c *Client) Quote(ctx context.Context, token domain.Token) (domain.PriceQuote, error) {
	if token.Mint == "" {
		return domain.PriceQuote{}, fmt.Errorf("jupiter: %s has no mint: %w", token.Symbol, domain.ErrUnavailable)
	}
	prices, err := c.Prices(ctx, []string{token.Mint}, token.QuoteMint)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	p, ok := prices[token.Mint]
	if !ok || p <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("jupiter: no price for %s: %w", token.Symbol, domain.ErrUnavailable)
	}
	return domain.PriceQuote{
		Venue:      domain.VenueJupiter,
		Token:      token.ID(),
		Price:      p,
		ObservedAt: c.now(),
	}, nil
}

// Prices fetches several mints in one request. Missing mints are omitted.
func (c *Client) Prices(ctx context.Context, mints []string, vsToken string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))
	if vsToken != "" {
		params.Set("vsToken", vsToken)
	}

	var resp priceResponse
	if err := c.api.GetJSON(ctx, "/price?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("jupiter: get price: %w: %w", domain.ErrUnavailable, err)
	}
	out := make(map[string]float64, len(resp.Data))
	for mint, d := range resp.Data {
		if d.Price > 0 {
			out[mint] = float64(d.Price)
		}
	}
	return out, nil
}

var _ domain.PriceSource = (*Client)(nil)
