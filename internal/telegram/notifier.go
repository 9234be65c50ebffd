package telegram

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier pushes plain messages to users outside the update loop, for the
// payment webhook. Send failures are logged and dropped; a notification is
// never worth failing a credit for.
type Notifier struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

func NewNotifier(api *tgbotapi.BotAPI, log *slog.Logger) *Notifier {
	return &Notifier{api: api, log: log}
}

func (n *Notifier) Notify(ctx context.Context, telegramID int64, text string) {
	msg := tgbotapi.NewMessage(telegramID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.log.Error("notify user", "user", telegramID, "err", err)
	}
}
