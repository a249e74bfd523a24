// Package execsvc talks to the external execution service that builds, signs
// and submits swap transactions.
package execsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexbot/internal/crypto"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/platform/rest"
)

// Client implements domain.TradeExecutor over HTTP. Every request carries
// HMAC headers.
type Client struct {
	api    *rest.Client
	auth   *crypto.HMACAuth
	wallet string
}

// NewClient creates an executor client.
func NewClient(baseURL string, auth *crypto.HMACAuth, wallet string, timeout time.Duration) *Client {
	return &Client{api: rest.New(baseURL, timeout), auth: auth, wallet: wallet}
}

// LegRequest is the body of /simulate and /execute.
type LegRequest struct {
	Wallet string       `json:"wallet"`
	Venue  string       `json:"venue"`
	Side   domain.Side  `json:"side"`
	Token  domain.Token `json:"token"`
	Amount float64      `json:"amount"`
	Price  float64      `json:"price"`
}

type simulateResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type executeResponse struct {
	Success bool    `json:"success"`
	TxID    string  `json:"tx_id"`
	Price   float64 `json:"price"`
	Amount  float64 `json:"amount"`
	Fee     float64 `json:"fee"`
	Error   string  `json:"error,omitempty"`
}

// Simulate asks the service whether the leg would succeed. A transport error
// is returned as an error; a refused simulation as false.
func (c *Client) Simulate(ctx context.Context, venue string, side domain.Side, token domain.Token, amount, price float64) (bool, error) {
	var resp simulateResponse
	if err := c.post(ctx, "/simulate", c.leg(venue, side, token, amount, price), &resp); err != nil {
		return false, fmt.Errorf("execsvc: simulate %s %s: %w", side, token.Symbol, err)
	}
	return resp.OK, nil
}

// Execute submits the leg and returns the realized fill.
func (c *Client) Execute(ctx context.Context, venue string, side domain.Side, token domain.Token, amount, price float64) (domain.TradeOutcome, error) {
	var resp executeResponse
	if err := c.post(ctx, "/execute", c.leg(venue, side, token, amount, price), &resp); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("execsvc: execute %s %s: %w", side, token.Symbol, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "rejected"
		}
		return domain.TradeOutcome{}, fmt.Errorf("execsvc: execute %s %s: %w", side, token.Symbol, errors.New(msg))
	}
	return domain.TradeOutcome{TxID: resp.TxID, Price: resp.Price, Amount: resp.Amount, Fee: resp.Fee}, nil
}

func (c *Client) leg(venue string, side domain.Side, token domain.Token, amount, price float64) LegRequest {
	return LegRequest{Wallet: c.wallet, Venue: venue, Side: side, Token: token, Amount: amount, Price: price}
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.api.Do(ctx, http.MethodPost, path, body, c.auth.Headers(http.MethodPost, path, body), out)
}

var _ domain.TradeExecutor = (*Client)(nil)
