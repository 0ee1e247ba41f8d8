package domain

import (
	"testing"
	"time"
)

func TestCanonicalURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://x/pd/Y?ref=abc", "https://x/pd/Y"},
		{"https://x/pd/Y", "https://x/pd/Y"},
		{"  https://x/pd/Y?a=1&b=2#frag ", "https://x/pd/Y"},
		{"https://x/pd/Y#reviews", "https://x/pd/Y"},
		{"https://x/pd/Y?", "https://x/pd/Y"},
		{"", ""},
	}
	for _, c := range cases {
		if got := CanonicalURL(c.in); got != c.want {
			t.Errorf("CanonicalURL(%q) = %q want %q", c.in, got, c.want)
		}
	}
}

func TestNewListing(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("PST", -8*3600))
	l := NewListing(RawListing{Title: " New Book ", Author: "A", URL: "https://x/pd/B2?ref=1"}, SourcePlus, at)

	if l.Title != "New Book" || l.CanonicalURL != "https://x/pd/B2" || l.Source != SourcePlus {
		t.Fatalf("unexpected listing %+v", l)
	}
	if l.DiscoveredAt.Location() != time.UTC || !l.DiscoveredAt.Equal(at) {
		t.Fatalf("DiscoveredAt = %v", l.DiscoveredAt)
	}
	if l.Posted() {
		t.Fatalf("new listing must not be posted")
	}
}

func TestNewListingFoldsCRLF(t *testing.T) {
	l := NewListing(RawListing{Title: "Part One\r\nUnabridged", Author: "A\rB", URL: "https://x/pd/B2"}, SourceFree, time.Now())
	if l.Title != "Part One\nUnabridged" {
		t.Fatalf("Title = %q", l.Title)
	}
	if l.Author != "A\rB" {
		t.Fatalf("a lone carriage return must be kept, Author = %q", l.Author)
	}
}
