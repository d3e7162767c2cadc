// Package notify delivers operator notifications over Telegram and Discord.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"volumebot/internal/ports"
)

// Discord embed sidebar colors per level.
const (
	colorInfo    = 0x2ECC71 // green
	colorWarning = 0xF1C40F // yellow
	colorError   = 0xE74C3C // red
)

// Channel is a single delivery backend.
type Channel interface {
	Send(ctx context.Context, message string, level ports.NotifyLevel) error
	Name() string
}

// Multi fans a notification out to every configured channel. Delivery is
// fire-and-forget: failures are logged and never returned, so a dead webhook
// cannot stall or fail trading logic.
type Multi struct {
	logger   ports.Logger
	channels []Channel
	timeout  time.Duration
}

// NewMulti creates a multi-channel notifier. With no channels it degrades to
// a no-op.
func NewMulti(logger ports.Logger, channels ...Channel) *Multi {
	return &Multi{
		logger:   logger,
		channels: channels,
		timeout:  10 * time.Second,
	}
}

// Notify implements ports.Notifier.
func (m *Multi) Notify(ctx context.Context, message string, level ports.NotifyLevel) {
	for _, ch := range m.channels {
		go func(ch Channel) {
			// Detached from the caller's context so a canceled trading cycle
			// still delivers its final notification.
			sendCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			if err := ch.Send(sendCtx, message, level); err != nil {
				m.logger.Warn(sendCtx, "Notification delivery failed", map[string]interface{}{
					"channel": ch.Name(),
					"level":   string(level),
					"error":   err.Error(),
				})
			}
		}(ch)
	}
}

// Nop is a notifier that discards everything. Used when notifications are
// disabled and in tests.
type Nop struct{}

func (Nop) Notify(ctx context.Context, message string, level ports.NotifyLevel) {}

var (
	_ ports.Notifier = (*Multi)(nil)
	_ ports.Notifier = Nop{}
)

// --- Telegram ---

// Telegram delivers notifications to a chat via the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram channel. It validates the token against the
// API (getMe) before returning.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, message string, level ports.NotifyLevel) error {
	prefix := ""
	switch level {
	case ports.NotifyWarning:
		prefix = "⚠️ "
	case ports.NotifyError:
		prefix = "🚨 "
	}
	msg := tgbotapi.NewMessage(t.chatID, prefix+message)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// --- Discord ---

// Discord delivers notifications to a webhook as a single embed.
type Discord struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscord creates a Discord webhook channel.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) Name() string { return "discord" }

type discordEmbed struct {
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *Discord) Send(ctx context.Context, message string, level ports.NotifyLevel) error {
	color := colorInfo
	switch level {
	case ports.NotifyWarning:
		color = colorWarning
	case ports.NotifyError:
		color = colorError
	}

	body, err := json.Marshal(discordPayload{
		Embeds: []discordEmbed{{Description: message, Color: color}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
