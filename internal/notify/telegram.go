package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"resty.dev/v3"
)

// Notifier delivers operational messages. Delivery is best effort: failures
// are logged, never propagated.
type Notifier interface {
	Notify(title, message string)
}

// Telegram sends messages through the Bot API to one chat.
type Telegram struct {
	chatID string
	http   *resty.Client
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		chatID: chatID,
		http: resty.New().
			SetBaseURL("https://api.telegram.org/bot" + token).
			SetTimeout(10 * time.Second),
	}
}

func (t *Telegram) Notify(title, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       "<b>" + title + "</b>\n\n" + message,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		log.Error().Err(err).Str("title", title).Msg("telegram notification failed")
		return
	}
	defer resp.Body.Close()

	if resp.IsError() {
		log.Error().
			Int("status", resp.StatusCode()).
			Str("title", title).
			Msg("telegram rejected notification")
	}
}

// Noop discards every message. Used when no notification channel is
// configured.
type Noop struct{}

func (Noop) Notify(title, message string) {}
