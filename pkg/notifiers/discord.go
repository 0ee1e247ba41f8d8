package notifiers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/audiobook-herald/pkg/httpclient"
)

// discordNotifier posts messages to a channel webhook.
type discordNotifier struct {
	id       string
	webhook  string
	username string
	client   *resty.Client
	log      Logger
}

type discordPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

func newDiscordNotifier(_ context.Context, cfg NotifierConfig, log Logger) (Notifier, error) {
	if cfg.Discord == nil {
		return nil, fmt.Errorf("notifier %q missing discord configuration", cfg.ID)
	}

	return &discordNotifier{
		id:       cfg.ID,
		webhook:  cfg.Discord.WebhookURL,
		username: cfg.Discord.Username,
		client:   httpclient.NewRestyHTTPClient(time.Duration(cfg.Discord.TimeoutSeconds) * time.Second),
		log:      ensureLogger(log),
	}, nil
}

func (d *discordNotifier) ID() string   { return d.id }
func (d *discordNotifier) Type() string { return TypeDiscord }

func (d *discordNotifier) Send(ctx context.Context, message string) error {
	body := discordPayload{Content: message, Username: d.username}
	if err := sendJSON(ctx, d.client, http.MethodPost, d.webhook, nil, body); err != nil {
		d.log.ErrorObj("discord notifier send failed", "notifier_discord_error", map[string]any{
			"notifier_id": d.id,
			"error":       err.Error(),
		})
		return fmt.Errorf("post discord webhook: %w", err)
	}
	return nil
}
