package domain

import "time"

// Strategy names accepted in SessionConfig.EnabledStrategies.
const (
	StrategyArbitrage = "arbitrage"
	StrategySnipe     = "snipe"
)

// SessionConfig is swapped wholesale on update; a tick always sees one
// consistent value.
type SessionConfig struct {
	ScanInterval        time.Duration `json:"scan_interval"`
	MaxConcurrentTrades int           `json:"max_concurrent_trades"`
	MinProfitPct        float64       `json:"min_profit_pct"`
	MaxPositionSize     float64       `json:"max_position_size"`
	EnabledStrategies   []string      `json:"enabled_strategies"`
	StopLossPct         float64       `json:"stop_loss_pct"`
	TakeProfitPct       float64       `json:"take_profit_pct"`
	AutoExecute         bool          `json:"auto_execute"`
}

// Enabled reports whether strategy is in the enabled set.
func (c SessionConfig) Enabled(strategy string) bool {
	for _, s := range c.EnabledStrategies {
		if s == strategy {
			return true
		}
	}
	return false
}

// SessionStats are the running counters of one session.
type SessionStats struct {
	SessionID          string    `json:"session_id"`
	StartedAt          time.Time `json:"started_at"`
	TotalScans         int64     `json:"total_scans"`
	OpportunitiesFound int64     `json:"opportunities_found"`
	TradesExecuted     int64     `json:"trades_executed"`
	SuccessfulTrades   int64     `json:"successful_trades"`
	FailedTrades       int64     `json:"failed_trades"`
	TotalProfit        float64   `json:"total_profit"`
	TotalFees          float64   `json:"total_fees"`
	LargestProfit      float64   `json:"largest_profit"`
	LargestLoss        float64   `json:"largest_loss"`
	SuccessRate        float64   `json:"success_rate"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RiskSnapshot is a read-only copy of the risk gate state.
type RiskSnapshot struct {
	Blacklist      []string  `json:"blacklist"`
	DailyLoss      float64   `json:"daily_loss"`
	DailyLossLimit float64   `json:"daily_loss_limit"`
	LastReset      time.Time `json:"last_reset"`
	BreakerTripped bool      `json:"breaker_tripped"`
}

// WalletInfo describes the trading account.
type WalletInfo struct {
	Address   string    `json:"address"`
	Chain     string    `json:"chain"`
	Balance   float64   `json:"balance"`
	Available float64   `json:"available"`
	Reserve   float64   `json:"reserve"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the control-plane view of the engine. It always reflects the last
// known state.
type Status struct {
	Running           bool          `json:"running"`
	Mode              string        `json:"mode"`
	Balance           float64       `json:"balance"`
	OpenOpportunities int           `json:"open_opportunities"`
	InFlight          int64         `json:"in_flight"`
	PendingExits      int           `json:"pending_exits"`
	Stats             SessionStats  `json:"stats"`
	Risk              RiskSnapshot  `json:"risk"`
	Config            SessionConfig `json:"config"`
}
