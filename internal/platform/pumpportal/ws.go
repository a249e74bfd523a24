// Package pumpportal streams new token launches from the PumpPortal
// websocket API.
package pumpportal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// NewTokenEvent is the payload PumpPortal sends for each created token.
type NewTokenEvent struct {
	Signature             string  `json:"signature"`
	Mint                  string  `json:"mint"`
	TraderPublicKey       string  `json:"traderPublicKey"`
	TxType                string  `json:"txType"`
	InitialBuy            float64 `json:"initialBuy"`
	SolAmount             float64 `json:"solAmount"`
	BondingCurveKey       string  `json:"bondingCurveKey"`
	VTokensInBondingCurve float64 `json:"vTokensInBondingCurve"`
	VSolInBondingCurve    float64 `json:"vSolInBondingCurve"`
	MarketCapSol          float64 `json:"marketCapSol"`
	Name                  string  `json:"name"`
	Symbol                string  `json:"symbol"`
	URI                   string  `json:"uri"`
	Pool                  string  `json:"pool"`
}

// Launch converts the event into the domain type. The bonding curve price is
// virtual SOL over virtual tokens.
func (e NewTokenEvent) Launch(seenAt time.Time) domain.NewAssetLaunch {
	price := 0.0
	if e.VTokensInBondingCurve > 0 {
		price = e.VSolInBondingCurve / e.VTokensInBondingCurve
	}
	return domain.NewAssetLaunch{
		Mint:         e.Mint,
		Symbol:       e.Symbol,
		Name:         e.Name,
		InitialPrice: price,
		PoolRef:      e.BondingCurveKey,
		MarketCapSol: e.MarketCapSol,
		SeenAt:       seenAt,
	}
}

type command struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// Client implements domain.LaunchSource for one websocket session.
type Client struct {
	wsURL string
	now   func() time.Time
}

// NewClient creates a client for wsURL, e.g. "wss://pumpportal.fun/api/data".
func NewClient(wsURL string) *Client {
	return &Client{wsURL: wsURL, now: time.Now}
}

// Stream dials, subscribes to new tokens and forwards launches to out until
// ctx is cancelled or the connection drops. It never reconnects.
func (c *Client) Stream(ctx context.Context, out chan<- domain.NewAssetLaunch) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(dialCtx, c.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("pumpportal: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(command{Method: "subscribeNewToken"}); err != nil {
		return fmt.Errorf("pumpportal: subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Unblocks ReadMessage.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("pumpportal: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev NewTokenEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Mint == "" {
			// Subscription acks and unknown frames.
			continue
		}
		select {
		case out <- ev.Launch(c.now()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ domain.LaunchSource = (*Client)(nil)
