package notifiers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode body: %v", err)
	}
	return body
}

func TestHTTPNotifierSuccess(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if got := r.Header.Get("X-Test"); got != "1" {
			t.Errorf("missing header, got %s", got)
		}
		got = decodeBody(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := newHTTPNotifier(context.Background(), sanitizeNotifierConfig(NotifierConfig{
		ID:   "hook",
		Type: TypeHTTP,
		HTTP: &HTTPConfig{
			URL:            srv.URL,
			Method:         "put",
			Headers:        map[string]string{"X-Test": "1"},
			TimeoutSeconds: 2,
		},
	}), nil)
	if err != nil {
		t.Fatalf("newHTTPNotifier: %v", err)
	}

	if err := n.Send(context.Background(), "New Book"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["message"] != "New Book" {
		t.Fatalf("server received %v", got)
	}
}

func TestHTTPNotifierErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	n, err := newHTTPNotifier(context.Background(), sanitizeNotifierConfig(NotifierConfig{
		ID:   "hook",
		Type: TypeHTTP,
		HTTP: &HTTPConfig{URL: srv.URL, TimeoutSeconds: 1},
	}), nil)
	if err != nil {
		t.Fatalf("newHTTPNotifier: %v", err)
	}

	err = n.Send(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestMastodonNotifierPostsStatus(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/statuses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected Authorization %q", auth)
		}
		got = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	n, err := newMastodonNotifier(context.Background(), sanitizeNotifierConfig(NotifierConfig{
		ID:       "masto",
		Type:     TypeMastodon,
		Mastodon: &MastodonConfig{Instance: srv.URL + "/", Token: "secret"},
	}), nil)
	if err != nil {
		t.Fatalf("newMastodonNotifier: %v", err)
	}

	if err := n.Send(context.Background(), "New free Audible book: X"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["status"] != "New free Audible book: X" || got["visibility"] != "public" {
		t.Fatalf("unexpected status payload %v", got)
	}
}

func TestMastodonNotifierRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"The access token is invalid"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	n, err := newMastodonNotifier(context.Background(), sanitizeNotifierConfig(NotifierConfig{
		ID:       "masto",
		Type:     TypeMastodon,
		Mastodon: &MastodonConfig{Instance: srv.URL, Token: "bad"},
	}), nil)
	if err != nil {
		t.Fatalf("newMastodonNotifier: %v", err)
	}
	if err := n.Send(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestDiscordNotifierPostsContent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := newDiscordNotifier(context.Background(), sanitizeNotifierConfig(NotifierConfig{
		ID:      "disc",
		Type:    TypeDiscord,
		Discord: &DiscordConfig{WebhookURL: srv.URL},
	}), nil)
	if err != nil {
		t.Fatalf("newDiscordNotifier: %v", err)
	}

	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["content"] != "hello" {
		t.Fatalf("unexpected payload %v", got)
	}
	if _, ok := got["username"]; ok {
		t.Fatalf("empty username should be omitted: %v", got)
	}
}
