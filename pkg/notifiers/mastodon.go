package notifiers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/audiobook-herald/pkg/httpclient"
)

const mastodonStatusesPath = "/api/v1/statuses"

// mastodonNotifier publishes each message as a status on a Mastodon instance.
type mastodonNotifier struct {
	id         string
	endpoint   string
	token      string
	visibility string
	client     *resty.Client
	log        Logger
}

type mastodonStatus struct {
	Status     string `json:"status"`
	Visibility string `json:"visibility"`
}

func newMastodonNotifier(_ context.Context, cfg NotifierConfig, log Logger) (Notifier, error) {
	if cfg.Mastodon == nil {
		return nil, fmt.Errorf("notifier %q missing mastodon configuration", cfg.ID)
	}

	return &mastodonNotifier{
		id:         cfg.ID,
		endpoint:   cfg.Mastodon.Instance + mastodonStatusesPath,
		token:      cfg.Mastodon.Token,
		visibility: cfg.Mastodon.Visibility,
		client:     httpclient.NewRestyHTTPClient(time.Duration(cfg.Mastodon.TimeoutSeconds) * time.Second),
		log:        ensureLogger(log),
	}, nil
}

func (m *mastodonNotifier) ID() string   { return m.id }
func (m *mastodonNotifier) Type() string { return TypeMastodon }

func (m *mastodonNotifier) Send(ctx context.Context, message string) error {
	headers := map[string]string{"Authorization": "Bearer " + m.token}
	body := mastodonStatus{Status: message, Visibility: m.visibility}

	if err := sendJSON(ctx, m.client, http.MethodPost, m.endpoint, headers, body); err != nil {
		m.log.ErrorObj("mastodon notifier send failed", "notifier_mastodon_error", map[string]any{
			"notifier_id": m.id,
			"error":       err.Error(),
		})
		return fmt.Errorf("post mastodon status: %w", err)
	}
	m.log.DebugObj("mastodon notifier posted status", "notifier_mastodon_delivery", map[string]any{
		"notifier_id": m.id,
	})
	return nil
}
