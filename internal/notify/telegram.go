package notify

import (
	"context"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return NewTelegramSenderWithURL(telegramAPI, token, chatID)
}

// NewTelegramSenderWithURL is NewTelegramSender against a custom API base.
func NewTelegramSenderWithURL(baseURL, token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// Send posts a message with a bold title to the configured chat.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, "telegram", t.baseURL+"/bot"+t.token+"/sendMessage", map[string]string{
		"chat_id":    t.chatID,
		"text":       "*" + title + "*\n" + message,
		"parse_mode": "Markdown",
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
