package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// sessionConfigView is the wire form of domain.SessionConfig with the scan
// interval in seconds.
type sessionConfigView struct {
	ScanIntervalSeconds float64  `json:"scan_interval_seconds"`
	MaxConcurrentTrades int      `json:"max_concurrent_trades"`
	MinProfitPct        float64  `json:"min_profit_pct"`
	MaxPositionSize     float64  `json:"max_position_size"`
	EnabledStrategies   []string `json:"enabled_strategies"`
	StopLossPct         float64  `json:"stop_loss_pct"`
	TakeProfitPct       float64  `json:"take_profit_pct"`
	AutoExecute         bool     `json:"auto_execute"`
}

func viewOf(c domain.SessionConfig) sessionConfigView {
	strategies := c.EnabledStrategies
	if strategies == nil {
		strategies = []string{}
	}
	return sessionConfigView{
		ScanIntervalSeconds: c.ScanInterval.Seconds(),
		MaxConcurrentTrades: c.MaxConcurrentTrades,
		MinProfitPct:        c.MinProfitPct,
		MaxPositionSize:     c.MaxPositionSize,
		EnabledStrategies:   strategies,
		StopLossPct:         c.StopLossPct,
		TakeProfitPct:       c.TakeProfitPct,
		AutoExecute:         c.AutoExecute,
	}
}

// sessionConfigPatch carries the fields a PUT may change. Absent fields keep
// their current value; the merged result is validated and swapped as a whole.
type sessionConfigPatch struct {
	ScanIntervalSeconds *float64 `json:"scan_interval_seconds"`
	MaxConcurrentTrades *int     `json:"max_concurrent_trades"`
	MinProfitPct        *float64 `json:"min_profit_pct"`
	MaxPositionSize     *float64 `json:"max_position_size"`
	EnabledStrategies   []string `json:"enabled_strategies"`
	StopLossPct         *float64 `json:"stop_loss_pct"`
	TakeProfitPct       *float64 `json:"take_profit_pct"`
	AutoExecute         *bool    `json:"auto_execute"`
}

func (p sessionConfigPatch) apply(c domain.SessionConfig) domain.SessionConfig {
	if p.ScanIntervalSeconds != nil {
		c.ScanInterval = time.Duration(*p.ScanIntervalSeconds * float64(time.Second))
	}
	if p.MaxConcurrentTrades != nil {
		c.MaxConcurrentTrades = *p.MaxConcurrentTrades
	}
	if p.MinProfitPct != nil {
		c.MinProfitPct = *p.MinProfitPct
	}
	if p.MaxPositionSize != nil {
		c.MaxPositionSize = *p.MaxPositionSize
	}
	if p.EnabledStrategies != nil {
		c.EnabledStrategies = append([]string(nil), p.EnabledStrategies...)
	}
	if p.StopLossPct != nil {
		c.StopLossPct = *p.StopLossPct
	}
	if p.TakeProfitPct != nil {
		c.TakeProfitPct = *p.TakeProfitPct
	}
	if p.AutoExecute != nil {
		c.AutoExecute = *p.AutoExecute
	}
	return c
}

// GetConfig returns the active session config.
// GET /api/config
func (h *BotHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(h.bot.Config()))
}

// UpdateConfig merges the body onto the active config and swaps it in. It
// takes effect on the next tick of every loop.
// PUT /api/config
func (h *BotHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch sessionConfigPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cur, err := h.bot.UpdateConfig(r.Context(), patch.apply(h.bot.Config()))
	if err != nil {
		h.fail(w, r, "update config", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(cur))
}
