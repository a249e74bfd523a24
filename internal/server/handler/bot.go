package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexbot/internal/arbitrage"
	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/engine"
)

// Bot is the control surface of the engine.
type Bot interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EmergencyStop(ctx context.Context, reason string) domain.TradeRecord
	Status() domain.Status
	Config() domain.SessionConfig
	UpdateConfig(ctx context.Context, c domain.SessionConfig) (domain.SessionConfig, error)
	TradeHistory(limit int) []domain.TradeRecord
	Opportunities() []arbitrage.Candidate
	Blacklist() []string
	AddToBlacklist(ctx context.Context, token, reason string) error
	RemoveFromBlacklist(ctx context.Context, token string) error
	Wallet(ctx context.Context) domain.WalletInfo
	Performance() engine.Performance
}

var _ Bot = (*engine.Engine)(nil)

// BotHandler serves the session control endpoints.
type BotHandler struct {
	bot    Bot
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bot Bot, logger *slog.Logger) *BotHandler {
	return &BotHandler{bot: bot, logger: logHandler(logger, "bot")}
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// fail logs unexpected errors and writes the mapped status.
func (h *BotHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	}
	writeError(w, code, err.Error())
}

// Status returns the last known engine state.
// GET /api/status
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// Start begins a session.
// POST /api/bot/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.Start(r.Context()); err != nil {
		h.fail(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "started",
		"timestamp": time.Now().UTC(),
	})
}

// Stop ends the session gracefully.
// POST /api/bot/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.bot.Stop(r.Context()); err != nil {
		h.fail(w, r, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "stopped",
		"timestamp": time.Now().UTC(),
	})
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

// EmergencyStop aborts everything at once. The body is optional.
// POST /api/bot/emergency-stop
func (h *BotHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec := h.bot.EmergencyStop(r.Context(), req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "emergency_stopped",
		"record": rec,
	})
}

type opportunitiesResponse struct {
	Opportunities []arbitrage.Candidate `json:"opportunities"`
	Count         int                   `json:"count"`
}

// Opportunities returns the candidates of the latest scan of every loop.
// GET /api/opportunities
func (h *BotHandler) Opportunities(w http.ResponseWriter, r *http.Request) {
	cands := h.bot.Opportunities()
	if cands == nil {
		cands = []arbitrage.Candidate{}
	}
	writeJSON(w, http.StatusOK, opportunitiesResponse{Opportunities: cands, Count: len(cands)})
}

type tradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
	Count  int                  `json:"count"`
}

// Trades returns recent trade records, most recent first.
// GET /api/trades?limit=50
func (h *BotHandler) Trades(w http.ResponseWriter, r *http.Request) {
	trades := h.bot.TradeHistory(parseLimit(r, 50, 500))
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, tradesResponse{Trades: trades, Count: len(trades)})
}

// Wallet describes the trading account.
// GET /api/wallet
func (h *BotHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Wallet(r.Context()))
}

// Performance returns the session counters and risk state.
// GET /api/performance
func (h *BotHandler) Performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Performance())
}
