package notifiers

import "strings"

// Ids given to destinations configured straight from the environment.
const (
	EnvMastodonID = "mastodon-env"
	EnvDiscordID  = "discord-env"
	EnvTelegramID = "telegram-env"
)

// EnvCredentials carries destination credentials read from the environment.
type EnvCredentials struct {
	MastodonInstance string
	MastodonToken    string
	DiscordWebhook   string
	TelegramToken    string
	TelegramChatID   int64
}

// FromEnv returns a notifier config for every destination whose credentials
// are set. Incomplete pairs are left to validation.
func FromEnv(env EnvCredentials) []NotifierConfig {
	var out []NotifierConfig

	if strings.TrimSpace(env.MastodonInstance) != "" || strings.TrimSpace(env.MastodonToken) != "" {
		out = append(out, NotifierConfig{
			ID:   EnvMastodonID,
			Type: TypeMastodon,
			Mastodon: &MastodonConfig{
				Instance: env.MastodonInstance,
				Token:    env.MastodonToken,
			},
		})
	}
	if strings.TrimSpace(env.DiscordWebhook) != "" {
		out = append(out, NotifierConfig{
			ID:      EnvDiscordID,
			Type:    TypeDiscord,
			Discord: &DiscordConfig{WebhookURL: env.DiscordWebhook},
		})
	}
	if strings.TrimSpace(env.TelegramToken) != "" {
		out = append(out, NotifierConfig{
			ID:   EnvTelegramID,
			Type: TypeTelegram,
			Telegram: &TelegramConfig{
				Token:  env.TelegramToken,
				ChatID: env.TelegramChatID,
			},
		})
	}
	return out
}
