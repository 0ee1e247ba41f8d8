package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/config"
	"github.com/samvad-hq/audiobook-herald/internal/ledger"
	"github.com/samvad-hq/audiobook-herald/pkg/notifiers"
)

const catalogPage = `<html><body>
<adbl-product-grid-item>
  <adbl-metadata slot="title"><a href="/pd/New-Book/B2?ref_pageloadid=x1">New Book</a></adbl-metadata>
  <adbl-metadata slot="author"><a href="/author/Jane-Doe">Jane Doe</a></adbl-metadata>
</adbl-product-grid-item>
<adbl-product-grid-item>
  <adbl-metadata slot="title"><a href="/pd/Other-Book/B3?ref_pageloadid=x2">Other Book</a></adbl-metadata>
</adbl-product-grid-item>
</body></html>`

var fixedNow = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

// webhook collects the text of every JSON delivery it receives.
type webhook struct {
	mu       sync.Mutex
	messages []string
}

func (w *webhook) handler(rw http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.messages = append(w.messages, payload["message"]+payload["content"])
	w.mu.Unlock()
	rw.WriteHeader(http.StatusNoContent)
}

func (w *webhook) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

type fixture struct {
	cfg     *config.Config
	catalog *httptest.Server
	hook    *webhook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ep/FreeListens" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(catalogPage))
	}))
	t.Cleanup(catalog.Close)

	hook := &webhook{}
	hookSrv := httptest.NewServer(http.HandlerFunc(hook.handler))
	t.Cleanup(hookSrv.Close)

	sourcesFile := filepath.Join(dir, "sources.yaml")
	writeFile(t, sourcesFile, fmt.Sprintf(`
sources:
  - id: free-listens
    tag: free
    type: adbl_product_grid
    source_url: %s/ep/FreeListens
`, catalog.URL))

	notifiersFile := filepath.Join(dir, "notifiers.yaml")
	writeFile(t, notifiersFile, fmt.Sprintf(`
notifiers:
  - id: webhook
    type: http
    http:
      url: %s/hook
  - id: disabled
    type: http
    enabled: false
    http:
      url: http://127.0.0.1:1/unused
`, hookSrv.URL))

	return &fixture{
		cfg: &config.Config{
			AppName:        "audiobook-herald",
			LedgerType:     ledger.TypeCSV,
			LedgerPath:     filepath.Join(dir, "data", "books.csv"),
			LockTimeout:    time.Second,
			SourcesFile:    sourcesFile,
			NotifiersFile:  notifiersFile,
			HTTPTimeout:    5 * time.Second,
			DiscordWebhook: hookSrv.URL + "/discord",
		},
		catalog: catalog,
		hook:    hook,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestHerald(t *testing.T, cfg *config.Config, out *bytes.Buffer, opts ...Option) *Herald {
	t.Helper()
	opts = append([]Option{WithReportWriter(out), WithClock(fixedNow)}, opts...)
	h, err := NewHerald(cfg, nil, opts...)
	if err != nil {
		t.Fatalf("NewHerald returned error: %v", err)
	}
	return h
}

func TestDiscoverThenAnnounce(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	h := newTestHerald(t, f.cfg, &out)
	ctx := context.Background()

	added, err := h.Discover(ctx, false)
	if err != nil || added != 2 {
		t.Fatalf("Discover = %d, %v", added, err)
	}
	raw, err := os.ReadFile(f.cfg.LedgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	wantRow := "New Book,Jane Doe," + f.catalog.URL + "/pd/New-Book/B2,free,2025-03-01T12:00:00+00:00,\n"
	if !strings.Contains(string(raw), wantRow) {
		t.Fatalf("ledger missing canonical row %q:\n%s", wantRow, raw)
	}

	if added, err := h.Discover(ctx, false); err != nil || added != 0 {
		t.Fatalf("second Discover = %d, %v", added, err)
	}

	posted, err := h.Announce(ctx, false)
	if err != nil || posted != 2 {
		t.Fatalf("Announce = %d, %v\nreport:\n%s", posted, err, out.String())
	}
	// two listings, each to the file webhook and the env discord destination
	if got := f.hook.count(); got != 4 {
		t.Fatalf("expected 4 deliveries, got %d", got)
	}
	if !strings.Contains(f.hook.messages[0], "New free Audible book: New Book\nby Jane Doe\n") {
		t.Fatalf("unexpected message: %q", f.hook.messages[0])
	}

	if posted, err := h.Announce(ctx, false); err != nil || posted != 0 {
		t.Fatalf("second Announce = %d, %v", posted, err)
	}
	if got := f.hook.count(); got != 4 {
		t.Fatalf("listings announced twice, got %d deliveries", got)
	}
}

func TestDiscoverDryRunCreatesNothing(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	h := newTestHerald(t, f.cfg, &out)

	added, err := h.Discover(context.Background(), true)
	if err != nil || added != 2 {
		t.Fatalf("dry Discover = %d, %v", added, err)
	}
	if _, err := os.Stat(filepath.Dir(f.cfg.LedgerPath)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run must not create the ledger directory, stat err = %v", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if !strings.HasPrefix(line, "[DRY RUN] ") {
			t.Fatalf("dry-run report line without prefix: %q", line)
		}
	}
}

func countingRegistry(builds *int) notifiers.Registry {
	return notifiers.NewRegistry(map[string]notifiers.Builder{
		notifiers.TypeHTTP: func(context.Context, notifiers.NotifierConfig, notifiers.Logger) (notifiers.Notifier, error) {
			*builds++
			return nil, errors.New("builder should not be reached")
		},
		notifiers.TypeDiscord: func(context.Context, notifiers.NotifierConfig, notifiers.Logger) (notifiers.Notifier, error) {
			*builds++
			return nil, errors.New("builder should not be reached")
		},
	})
}

func TestAnnounceRequiresLedger(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	builds := 0
	h := newTestHerald(t, f.cfg, &out, WithNotifierRegistry(countingRegistry(&builds)))

	for _, dryRun := range []bool{false, true} {
		_, err := h.Announce(context.Background(), dryRun)
		if !errors.Is(err, ledger.ErrNoLedger) || !errors.Is(err, ledger.ErrPrecondition) {
			t.Fatalf("dryRun=%v: expected ErrNoLedger, got %v", dryRun, err)
		}
	}
	if builds != 0 || f.hook.count() != 0 {
		t.Fatalf("no notifier may be built or called without a ledger")
	}
	if _, err := os.Stat(f.cfg.LedgerPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("announce must not create the ledger")
	}
}

func TestAnnounceDryRunBuildsNoNotifiers(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	if _, err := newTestHerald(t, f.cfg, &out).Discover(context.Background(), false); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	before, err := os.ReadFile(f.cfg.LedgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}

	builds := 0
	out.Reset()
	h := newTestHerald(t, f.cfg, &out, WithNotifierRegistry(countingRegistry(&builds)))
	posted, err := h.Announce(context.Background(), true)
	if err != nil || posted != 2 {
		t.Fatalf("dry Announce = %d, %v", posted, err)
	}
	if builds != 0 {
		t.Fatalf("dry run built %d notifiers", builds)
	}
	after, err := os.ReadFile(f.cfg.LedgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("dry run changed the ledger")
	}
	if !strings.Contains(out.String(), "[DRY RUN] would post: New Book") {
		t.Fatalf("dry-run report:\n%s", out.String())
	}
}

func TestAnnounceRejectsBadNotifierConfig(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	h := newTestHerald(t, f.cfg, &out)
	if _, err := h.Discover(context.Background(), false); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	writeFile(t, f.cfg.NotifiersFile, "notifiers:\n  - id: discord-env\n    type: http\n    http:\n      url: http://x\n")
	if _, err := h.Announce(context.Background(), false); err == nil || !strings.Contains(err.Error(), "discord-env") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	if f.hook.count() != 0 {
		t.Fatalf("nothing may be sent with invalid notifier config")
	}
}

func TestRepair(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	h := newTestHerald(t, f.cfg, &out)

	if _, err := h.Repair(context.Background(), ""); !errors.Is(err, ledger.ErrNoLedger) {
		t.Fatalf("expected ErrNoLedger, got %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.cfg.LedgerPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, f.cfg.LedgerPath, "title,author,link,scraped_at,posted_at\n"+
		"A,,https://x/pd/A/B1?ref=1,2025-01-01T00:00:00+00:00,\n"+
		"A again,,https://x/pd/A/B1?ref=2,2025-01-02T00:00:00+00:00,\n")

	rep, err := h.Repair(context.Background(), "")
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}
	if rep.Before != 2 || rep.After != 1 || rep.DuplicatesRemoved != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRepairUnsupportedBackend(t *testing.T) {
	f := newFixture(t)
	f.cfg.LedgerType = ledger.TypeSQLite
	f.cfg.LedgerPath = filepath.Join(t.TempDir(), "books.db")
	var out bytes.Buffer
	h := newTestHerald(t, f.cfg, &out)

	if _, err := h.Discover(context.Background(), false); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := h.Repair(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "does not support repair") {
		t.Fatalf("expected unsupported repair error, got %v", err)
	}
}

func TestNewHeraldRequiresConfig(t *testing.T) {
	if _, err := NewHerald(nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
