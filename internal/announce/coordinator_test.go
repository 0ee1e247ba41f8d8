package announce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
	"github.com/samvad-hq/audiobook-herald/internal/ledger"
	"github.com/samvad-hq/audiobook-herald/internal/report"
	"github.com/samvad-hq/audiobook-herald/pkg/notifiers"
)

// recordingNotifier records messages and fails those containing failOn.
type recordingNotifier struct {
	id       string
	failOn   string
	messages []string
}

func (r *recordingNotifier) ID() string   { return r.id }
func (r *recordingNotifier) Type() string { return "fake" }
func (r *recordingNotifier) Send(_ context.Context, message string) error {
	r.messages = append(r.messages, message)
	if r.failOn != "" && strings.Contains(message, r.failOn) {
		return errors.New("destination rejected message")
	}
	return nil
}

// memLedger is an in-memory ledger with injectable MarkPosted failures.
type memLedger struct {
	listings []domain.Listing
	markErr  map[string]error
	marks    int
}

func (m *memLedger) Load(context.Context) ([]domain.Listing, error) {
	return append([]domain.Listing(nil), m.listings...), nil
}

func (m *memLedger) AppendNew(context.Context, domain.Listing) error { return nil }

func (m *memLedger) MarkPosted(_ context.Context, url string, at time.Time) error {
	m.marks++
	if err := m.markErr[url]; err != nil {
		return err
	}
	for i := range m.listings {
		if m.listings[i].CanonicalURL == url {
			m.listings[i].PostedAt = &at
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (m *memLedger) Close() error { return nil }

var fixedNow = func() time.Time { return time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC) }

const newBookStore = "title,author,link,source,scraped_at,posted_at\n" +
	"New Book,Jane Doe,https://x/pd/New-Book/B2,free,2025-03-01T12:00:00+00:00,\n"

func openStore(t *testing.T, content string, readOnly bool) (ledger.Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write store: %v", err)
	}
	l, err := ledger.Open(context.Background(), ledger.Options{Type: ledger.TypeCSV, Path: path, ReadOnly: readOnly})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func pending(url, title string) domain.Listing {
	return domain.Listing{Title: title, CanonicalURL: url, Source: domain.SourceFree, DiscoveredAt: fixedNow()}
}

func TestRunPostsAndRecords(t *testing.T) {
	l, path := openStore(t, newBookStore, false)
	n := &recordingNotifier{id: "ok"}

	posted, err := NewCoordinator(l, nil, nil, WithClock(fixedNow)).Run(context.Background(), []Notifier{n}, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if posted != 1 {
		t.Fatalf("expected 1 posted, got %d", posted)
	}
	if len(n.messages) != 1 || !strings.Contains(n.messages[0], "New Book") {
		t.Fatalf("notifier calls = %q", n.messages)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if !strings.Contains(string(raw), "New Book,Jane Doe,https://x/pd/New-Book/B2,free,2025-03-01T12:00:00+00:00,2025-03-02T09:00:00+00:00\n") {
		t.Fatalf("posted_at not recorded:\n%s", raw)
	}
}

func TestRunPostsAtMostOnce(t *testing.T) {
	l, _ := openStore(t, newBookStore, false)
	n := &recordingNotifier{id: "ok"}
	coord := NewCoordinator(l, nil, nil)

	if _, err := coord.Run(context.Background(), []Notifier{n}, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	posted, err := coord.Run(context.Background(), []Notifier{n}, false)
	if err != nil || posted != 0 {
		t.Fatalf("second Run = %d, %v", posted, err)
	}
	if len(n.messages) != 1 {
		t.Fatalf("repeated run must not notify again, got %d calls", len(n.messages))
	}
}

func TestRunIsolatesDeliveryFailures(t *testing.T) {
	mem := &memLedger{listings: []domain.Listing{
		pending("https://x/pd/A/B1", "Book A"),
		pending("https://x/pd/B/B2", "Book B"),
	}}
	first := &recordingNotifier{id: "flaky", failOn: "Book A"}
	second := &recordingNotifier{id: "steady"}
	var out bytes.Buffer

	posted, err := NewCoordinator(mem, report.New(&out), nil).Run(context.Background(), []Notifier{first, second}, false)
	if posted != 1 {
		t.Fatalf("expected 1 posted, got %d", posted)
	}

	var delivery *notifiers.DeliveryError
	if !errors.As(err, &delivery) || delivery.NotifierID != "flaky" {
		t.Fatalf("expected DeliveryError from flaky, got %v", err)
	}
	if mem.listings[0].Posted() {
		t.Fatalf("A must stay unposted")
	}
	if !mem.listings[1].Posted() {
		t.Fatalf("B must be posted")
	}
	if len(second.messages) != 2 {
		t.Fatalf("every notifier is attempted for every listing, got %d", len(second.messages))
	}

	report := out.String()
	if !strings.Contains(report, "delivery failed: Book A <https://x/pd/A/B1>") {
		t.Fatalf("A failure not reported:\n%s", report)
	}
	if !strings.Contains(report, "posted: Book B <https://x/pd/B/B2>") {
		t.Fatalf("B success not reported:\n%s", report)
	}
}

func TestRunDryRunHasNoSideEffects(t *testing.T) {
	l, path := openStore(t, newBookStore, true)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	n := &recordingNotifier{id: "ok"}
	var out bytes.Buffer

	posted, err := NewCoordinator(l, report.New(&out), nil).Run(context.Background(), []Notifier{n}, true)
	if err != nil || posted != 1 {
		t.Fatalf("dry Run = %d, %v", posted, err)
	}
	if len(n.messages) != 0 {
		t.Fatalf("dry run must not call notifiers")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("dry run modified the store")
	}
	if !strings.Contains(out.String(), "[DRY RUN] would post: New Book") || !strings.Contains(out.String(), "[DRY RUN]     | by Jane Doe") {
		t.Fatalf("dry run should print the would-be message:\n%s", out.String())
	}
}

func TestRunDryRunWithoutNotifiers(t *testing.T) {
	mem := &memLedger{listings: []domain.Listing{pending("https://x/pd/A/B1", "Book A")}}
	posted, err := NewCoordinator(mem, nil, nil).Run(context.Background(), nil, true)
	if err != nil || posted != 1 {
		t.Fatalf("dry Run = %d, %v", posted, err)
	}

	if _, err := NewCoordinator(mem, nil, nil).Run(context.Background(), nil, false); !errors.Is(err, ErrNoNotifiers) {
		t.Fatalf("expected ErrNoNotifiers, got %v", err)
	}
	if mem.marks != 0 {
		t.Fatalf("nothing may be marked without notifiers")
	}
}

func TestRunRecordFailures(t *testing.T) {
	mem := &memLedger{
		listings: []domain.Listing{
			pending("https://x/pd/A/B1", "Book A"),
			pending("https://x/pd/B/B2", "Book B"),
		},
		markErr: map[string]error{"https://x/pd/A/B1": fmt.Errorf("%w: https://x/pd/A/B1", ledger.ErrNotFound)},
	}
	n := &recordingNotifier{id: "ok"}

	posted, err := NewCoordinator(mem, nil, nil).Run(context.Background(), []Notifier{n}, false)
	if posted != 1 || !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("Run = %d, %v", posted, err)
	}
	if !mem.listings[1].Posted() {
		t.Fatalf("B must still be posted after A's record failure")
	}

	diskFull := errors.New("disk full")
	mem = &memLedger{
		listings: []domain.Listing{
			pending("https://x/pd/A/B1", "Book A"),
			pending("https://x/pd/B/B2", "Book B"),
		},
		markErr: map[string]error{"https://x/pd/A/B1": diskFull},
	}
	n = &recordingNotifier{id: "ok"}
	posted, err = NewCoordinator(mem, nil, nil).Run(context.Background(), []Notifier{n}, false)
	if posted != 0 || !errors.Is(err, diskFull) {
		t.Fatalf("Run = %d, %v", posted, err)
	}
	if len(n.messages) != 1 {
		t.Fatalf("run must stop after a ledger write failure, got %d sends", len(n.messages))
	}
}

func TestRunSkipsPostedListings(t *testing.T) {
	at := fixedNow()
	done := pending("https://x/pd/Done/B0", "Done")
	done.PostedAt = &at
	mem := &memLedger{listings: []domain.Listing{done, pending("https://x/pd/A/B1", "Book A")}}
	n := &recordingNotifier{id: "ok"}

	if _, err := NewCoordinator(mem, nil, nil).Run(context.Background(), []Notifier{n}, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(n.messages) != 1 || strings.Contains(n.messages[0], "Done") {
		t.Fatalf("posted listings must be skipped, got %q", n.messages)
	}
}

const duplicateRowsStore = "title,author,link,source,scraped_at,posted_at\n" +
	"Dup,,https://x/pd/Dup/B9,free,2025-03-01T12:00:00+00:00,\n" +
	"Dup,,https://x/pd/Dup/B9,free,2025-03-01T12:00:00+00:00,\n" +
	"Queried,,https://x/pd/Q/B8?ref=a,free,2025-03-01T12:00:00+00:00,2025-03-01T13:00:00+00:00\n" +
	"Queried,,https://x/pd/Q/B8,free,2025-03-01T12:00:00+00:00,\n" +
	"Variant,,https://x/pd/V/B7?ref=1,plus,2025-03-01T12:00:00+00:00,\n" +
	"Variant,,https://x/pd/V/B7,plus,2025-03-01T12:00:00+00:00,\n"

func TestRunAnnouncesOncePerCanonicalURL(t *testing.T) {
	l, _ := openStore(t, duplicateRowsStore, false)
	n := &recordingNotifier{id: "ok"}
	var out bytes.Buffer
	coord := NewCoordinator(l, report.New(&out), nil, WithClock(fixedNow))

	wantPosted := []int{2, 0, 0}
	for run, want := range wantPosted {
		posted, err := coord.Run(context.Background(), []Notifier{n}, false)
		if err != nil {
			t.Fatalf("run %d: %v", run+1, err)
		}
		if posted != want {
			t.Fatalf("run %d: expected %d posted, got %d", run+1, want, posted)
		}
		if len(n.messages) != 2 {
			t.Fatalf("run %d: expected 2 notifier calls in total, got %d: %q", run+1, len(n.messages), n.messages)
		}
	}

	if !strings.Contains(n.messages[0], "Dup") || !strings.Contains(n.messages[1], "Variant") {
		t.Fatalf("unexpected messages: %q", n.messages)
	}
	if !strings.HasSuffix(n.messages[1], "https://x/pd/V/B7") {
		t.Fatalf("message should carry the canonical link: %q", n.messages[1])
	}
	for _, m := range n.messages {
		if strings.Contains(m, "Queried") {
			t.Fatalf("already-posted listing announced again: %q", m)
		}
	}
	if !strings.Contains(out.String(), "skipped: Queried <https://x/pd/Q/B8>: duplicate ledger row, run herald repair") {
		t.Fatalf("duplicate rows not reported:\n%s", out.String())
	}
}

func TestRunDryRunSkipsDuplicateRows(t *testing.T) {
	l, _ := openStore(t, duplicateRowsStore, true)
	var out bytes.Buffer

	posted, err := NewCoordinator(l, report.New(&out), nil).Run(context.Background(), nil, true)
	if err != nil || posted != 2 {
		t.Fatalf("dry Run = %d, %v", posted, err)
	}
	if got := strings.Count(out.String(), "would post:"); got != 2 {
		t.Fatalf("expected 2 would-post lines, got %d:\n%s", got, out.String())
	}
}
