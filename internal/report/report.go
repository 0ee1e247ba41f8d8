package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

// Package report writes one human-readable line per run outcome. Dry runs emit
// the same lines behind a "[DRY RUN]" prefix.

const dryRunPrefix = "[DRY RUN] "

// Reporter receives every user-visible outcome of a run.
type Reporter interface {
	NewListing(l domain.Listing, dryRun bool)
	SourceFailed(tag domain.SourceTag, err error, dryRun bool)
	Posted(l domain.Listing, message string, dryRun bool)
	DeliveryFailed(l domain.Listing, err error, dryRun bool)
	RecordFailed(l domain.Listing, err error, dryRun bool)
	Skipped(l domain.Listing, reason string, dryRun bool)
	Summary(phase string, count, failures int, dryRun bool)
}

// Writer is a Reporter that prints lines to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Writer reporting to w. A nil w discards output.
func New(w io.Writer) *Writer {
	if w == nil {
		w = io.Discard
	}
	return &Writer{w: w}
}

// NewListing reports a listing that is (or would be) recorded.
func (r *Writer) NewListing(l domain.Listing, dryRun bool) {
	r.line(dryRun, "new listing [%s]: %s <%s>", tagOrDefault(l.Source), l.Title, l.CanonicalURL)
}

// SourceFailed reports an extractor that produced no usable output.
func (r *Writer) SourceFailed(tag domain.SourceTag, err error, dryRun bool) {
	r.line(dryRun, "source failed [%s]: %s", tagOrDefault(tag), oneLine(err))
}

// Posted reports a delivered (or would-be) announcement. The message body is
// echoed indented below the line.
func (r *Writer) Posted(l domain.Listing, message string, dryRun bool) {
	verb := "posted"
	if dryRun {
		verb = "would post"
	}
	r.line(dryRun, "%s: %s <%s>", verb, l.Title, l.CanonicalURL)
	for _, body := range strings.Split(message, "\n") {
		r.line(dryRun, "    | %s", body)
	}
}

// DeliveryFailed reports a listing left unposted because a notifier failed.
func (r *Writer) DeliveryFailed(l domain.Listing, err error, dryRun bool) {
	r.line(dryRun, "delivery failed: %s <%s>: %s", l.Title, l.CanonicalURL, oneLine(err))
}

// RecordFailed reports a delivered listing whose posted_at could not be set.
func (r *Writer) RecordFailed(l domain.Listing, err error, dryRun bool) {
	r.line(dryRun, "record failed: %s <%s>: %s", l.Title, l.CanonicalURL, oneLine(err))
}

// Skipped reports a listing left out of the run, with the reason.
func (r *Writer) Skipped(l domain.Listing, reason string, dryRun bool) {
	r.line(dryRun, "skipped: %s <%s>: %s", l.Title, l.CanonicalURL, reason)
}

// Summary closes a run with its totals.
func (r *Writer) Summary(phase string, count, failures int, dryRun bool) {
	r.line(dryRun, "%s complete: %d listing(s), %d failure(s)", phase, count, failures)
}

func (r *Writer) line(dryRun bool, format string, args ...any) {
	msg := strings.ReplaceAll(fmt.Sprintf(format, args...), "\r", "")
	if dryRun {
		msg = dryRunPrefix + msg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.w, msg)
}

// oneLine flattens joined errors so each outcome stays on a single line.
func oneLine(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

func tagOrDefault(tag domain.SourceTag) string {
	if tag == "" {
		return "default"
	}
	return string(tag)
}

// Discard is a Reporter that drops everything.
type Discard struct{}

func (Discard) NewListing(domain.Listing, bool)            {}
func (Discard) SourceFailed(domain.SourceTag, error, bool) {}
func (Discard) Posted(domain.Listing, string, bool)        {}
func (Discard) DeliveryFailed(domain.Listing, error, bool) {}
func (Discard) RecordFailed(domain.Listing, error, bool)   {}
func (Discard) Skipped(domain.Listing, string, bool)       {}
func (Discard) Summary(string, int, int, bool)             {}

// Ensure returns r or a Discard reporter when r is nil.
func Ensure(r Reporter) Reporter {
	if r == nil {
		return Discard{}
	}
	return r
}
