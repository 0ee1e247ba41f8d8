package notifiers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/audiobook-herald/pkg/httpclient"
)

// httpNotifier posts {"message": ...} to a generic webhook.
type httpNotifier struct {
	id      string
	method  string
	url     string
	headers map[string]string
	client  *resty.Client
	typ     string
	log     Logger
}

type httpPayload struct {
	Message string `json:"message"`
}

func newHTTPNotifier(_ context.Context, cfg NotifierConfig, log Logger) (Notifier, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("notifier %q missing http configuration", cfg.ID)
	}

	return &httpNotifier{
		id:      cfg.ID,
		typ:     TypeHTTP,
		method:  cfg.HTTP.Method,
		url:     cfg.HTTP.URL,
		headers: cfg.HTTP.Headers,
		client:  httpclient.NewRestyHTTPClient(time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second),
		log:     ensureLogger(log),
	}, nil
}

func (h *httpNotifier) ID() string   { return h.id }
func (h *httpNotifier) Type() string { return h.typ }

func (h *httpNotifier) Send(ctx context.Context, message string) error {
	if err := sendJSON(ctx, h.client, h.method, h.url, h.headers, httpPayload{Message: message}); err != nil {
		return err
	}
	h.log.DebugObj("http notifier delivered message", "notifier_http_delivery", map[string]any{
		"notifier_id": h.id,
	})
	return nil
}

// sendJSON issues a JSON request and treats any non-2xx status as a failure.
func sendJSON(ctx context.Context, client *resty.Client, method, url string, headers map[string]string, body any) error {
	req := client.R().
		SetContext(ctx).
		SetBody(body)

	if len(headers) > 0 {
		req.SetHeaders(headers)
	}

	req.SetHeader("Content-Type", "application/json")

	resp, err := req.Execute(method, url)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	if resp.IsError() {
		snippet := readBodySnippet(resp.Body())
		return fmt.Errorf("http response status %d: %s", resp.StatusCode(), snippet)
	}
	return nil
}

func readBodySnippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
