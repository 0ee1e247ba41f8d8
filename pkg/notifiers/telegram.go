package notifiers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramAPI is the part of the bot API the notifier needs.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// telegramNotifier sends each announcement to one chat through a bot.
type telegramNotifier struct {
	id     string
	chatID int64
	api    telegramAPI
	log    Logger
}

func newTelegramNotifier(_ context.Context, cfg NotifierConfig, log Logger) (Notifier, error) {
	if cfg.Telegram == nil {
		return nil, fmt.Errorf("notifier %q missing telegram configuration", cfg.ID)
	}

	endpoint := cfg.Telegram.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Telegram.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &telegramNotifier{
		id:     cfg.ID,
		chatID: cfg.Telegram.ChatID,
		api:    api,
		log:    ensureLogger(log),
	}, nil
}

func (t *telegramNotifier) ID() string   { return t.id }
func (t *telegramNotifier) Type() string { return TypeTelegram }

// Send posts message as plain text. The bot API has no context support, so
// ctx is only checked before the call.
func (t *telegramNotifier) Send(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, message)
	if _, err := t.api.Send(msg); err != nil {
		t.log.ErrorObj("telegram notifier send failed", "notifier_telegram_error", map[string]any{
			"notifier_id": t.id,
			"chat_id":     t.chatID,
			"error":       err.Error(),
		})
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
