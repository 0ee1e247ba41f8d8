package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

// Timestamps keep the ISO-8601 form older stores were written with: whole
// seconds when there is no sub-second part (2025-01-01T00:00:00+00:00),
// otherwise exactly six fractional digits (2025-01-01T00:00:00.120000+00:00).
const (
	timeLayout      = "2006-01-02T15:04:05-07:00"
	timeLayoutMicro = "2006-01-02T15:04:05.000000-07:00"
)

var parseLayouts = []string{
	time.RFC3339Nano,
	timeLayoutMicro,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
}

// record is the string-typed persisted form of a listing, shared by all backends.
type record struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Link      string `json:"link"`
	Source    string `json:"source"`
	ScrapedAt string `json:"scraped_at"`
	PostedAt  string `json:"posted_at"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format(timeLayout)
	}
	return t.Format(timeLayoutMicro)
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func recordFromListing(l domain.Listing) record {
	rec := record{
		Title:     l.Title,
		Author:    l.Author,
		Link:      l.CanonicalURL,
		Source:    string(l.Source),
		ScrapedAt: formatTimestamp(l.DiscoveredAt),
	}
	if l.PostedAt != nil {
		rec.PostedAt = formatTimestamp(*l.PostedAt)
	}
	return rec
}

func (r record) listing() (domain.Listing, error) {
	if strings.TrimSpace(r.Link) == "" {
		return domain.Listing{}, fmt.Errorf("empty link")
	}
	scraped, err := parseTimestamp(r.ScrapedAt)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("scraped_at: %w", err)
	}
	l := domain.Listing{
		Title:        r.Title,
		Author:       r.Author,
		CanonicalURL: r.Link,
		Source:       domain.SourceTag(strings.TrimSpace(r.Source)),
		DiscoveredAt: scraped,
	}
	if strings.TrimSpace(r.PostedAt) != "" {
		posted, err := parseTimestamp(r.PostedAt)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("posted_at: %w", err)
		}
		l.PostedAt = &posted
	}
	return l, nil
}

func (r record) posted() bool {
	return strings.TrimSpace(r.PostedAt) != ""
}
