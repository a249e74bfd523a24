// Package solana reads account balances over Solana JSON-RPC.
package solana

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/platform/rest"
)

// LamportsPerSOL converts lamports to SOL.
const LamportsPerSOL = 1_000_000_000

// Client is a minimal JSON-RPC client.
type Client struct {
	api        *rest.Client
	commitment string
	nextID     atomic.Int64
}

// NewClient creates a client for rpcURL.
func NewClient(rpcURL, commitment string, timeout time.Duration) *Client {
	return &Client{api: rest.New(rpcURL, timeout), commitment: commitment}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Balance returns the SOL balance of account.
func (c *Client) Balance(ctx context.Context, account string) (float64, error) {
	var resp struct {
		Result struct {
			Value uint64 `json:"value"`
		} `json:"result"`
		Error *rpcError `json:"error"`
	}
	if err := c.call(ctx, "getBalance", []any{account, map[string]string{"commitment": c.commitment}}, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("solana: getBalance: %w", resp.Error)
	}
	return float64(resp.Result.Value) / LamportsPerSOL, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	if err := c.api.PostJSON(ctx, "", req, nil, out); err != nil {
		return fmt.Errorf("solana: %s: %w: %w", method, domain.ErrUnavailable, err)
	}
	return nil
}

var _ domain.BalanceSource = (*Client)(nil)
