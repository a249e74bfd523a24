package notify

import (
	"context"
	"net/http"
	"strings"
)

// Embed colours.
const (
	discordRed   = 0xE74C3C
	discordGreen = 0x2ECC71
)

// DiscordSender delivers notifications via a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Send posts one embed. Titles that mention a stop, a breaker or a loss are
// coloured red.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	color := discordGreen
	lower := strings.ToLower(title)
	if strings.Contains(lower, "stop") || strings.Contains(lower, "breaker") || strings.Contains(lower, "loss") || strings.Contains(lower, "error") {
		color = discordRed
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"embeds": []discordEmbed{{Title: title, Description: message, Color: color}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
