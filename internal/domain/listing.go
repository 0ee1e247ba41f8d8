package domain

import (
	"strings"
	"time"
)

// SourceTag identifies the catalog variant a listing was discovered on.
type SourceTag string

const (
	SourceFree SourceTag = "free"
	SourcePlus SourceTag = "plus"
)

// RawListing is what an extractor pulls out of a catalog page, before any
// normalization.
type RawListing struct {
	Title  string
	Author string
	URL    string
}

// Listing is one catalog entry tracked by the ledger. CanonicalURL is its
// identity key.
type Listing struct {
	Title        string
	Author       string
	CanonicalURL string
	Source       SourceTag
	DiscoveredAt time.Time
	PostedAt     *time.Time
}

// Posted reports whether the listing has been announced.
func (l Listing) Posted() bool {
	return l.PostedAt != nil
}

// NewListing builds a listing from an extracted record. CRLF pairs inside
// title and author become LF, since CSV readers fold them anyway.
func NewListing(raw RawListing, tag SourceTag, discoveredAt time.Time) Listing {
	return Listing{
		Title:        cleanText(raw.Title),
		Author:       cleanText(raw.Author),
		CanonicalURL: CanonicalURL(raw.URL),
		Source:       tag,
		DiscoveredAt: discoveredAt.UTC(),
	}
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// CanonicalURL strips the query component (and any fragment) from a listing URL.
func CanonicalURL(raw string) string {
	u := strings.TrimSpace(raw)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}
