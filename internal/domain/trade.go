package domain

import "time"

// TradeKind is the strategy that produced a TradeRecord.
type TradeKind string

const (
	TradeArbitrage     TradeKind = "arbitrage"
	TradeSnipe         TradeKind = "snipe"
	TradeEmergencyStop TradeKind = "emergency_stop"
)

// Side of a single swap leg.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ExecState is a step of the per-trade state machine.
type ExecState string

const (
	StatePending       ExecState = "PENDING"
	StateBuySimulated  ExecState = "BUY_SIMULATED"
	StateBuyExecuted   ExecState = "BUY_EXECUTED"
	StateSellSimulated ExecState = "SELL_SIMULATED"
	StateSellExecuted  ExecState = "SELL_EXECUTED"
	StateSettled       ExecState = "SETTLED"
	StateFailed        ExecState = "FAILED"

	// Snipe positions.
	StateEntered ExecState = "ENTERED"
	StateExited  ExecState = "EXITED"
)

// FailReason explains a FAILED terminal state.
type FailReason string

const (
	FailBuy      FailReason = "buy_failed"
	FailSell     FailReason = "sell_failed"
	FailRecovery FailReason = "recovery"
)

// TradeOutcome is what the trade executor reports for one executed leg.
type TradeOutcome struct {
	TxID   string  `json:"tx_id"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Fee    float64 `json:"fee"`
}

// TradeRecord is the immutable result of one trade. Loss is expressed as a
// negative PnL; a settled trade has PnL = (SellPrice - BuyPrice) * Size - Fee.
type TradeRecord struct {
	ID         string     `json:"id"`
	Kind       TradeKind  `json:"kind"`
	Token      string     `json:"token"`
	Symbol     string     `json:"symbol"`
	BuyVenue   string     `json:"buy_venue,omitempty"`
	SellVenue  string     `json:"sell_venue,omitempty"`
	BuyPrice   float64    `json:"buy_price"`
	SellPrice  float64    `json:"sell_price"`
	Size       float64    `json:"size"`     // token quantity
	Notional   float64    `json:"notional"` // quote-asset amount committed
	PnL        float64    `json:"pnl"`
	Fee        float64    `json:"fee"`
	Success    bool       `json:"success"`
	State      ExecState  `json:"state"`
	FailReason FailReason `json:"fail_reason,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	TxIDs      []string   `json:"tx_ids,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Duration is the wall time between dispatch and terminal state.
func (r TradeRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return r.Timestamp.Sub(r.StartedAt)
}
