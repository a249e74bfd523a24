package handler

import (
	"net/http"
	"strings"
)

type blacklistRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// ListBlacklist returns the excluded tokens.
// GET /api/blacklist
func (h *BotHandler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	tokens := h.bot.Blacklist()
	if tokens == nil {
		tokens = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens, "count": len(tokens)})
}

// AddBlacklist excludes a token from every later cycle.
// POST /api/blacklist
func (h *BotHandler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := h.bot.AddToBlacklist(r.Context(), req.Token, req.Reason); err != nil {
		h.fail(w, r, "blacklist add", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "blacklisted", "token": req.Token})
}

// RemoveBlacklist lifts the exclusion of a token.
// DELETE /api/blacklist/{token}
func (h *BotHandler) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := h.bot.RemoveFromBlacklist(r.Context(), token); err != nil {
		h.fail(w, r, "blacklist remove", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "token": token})
}
