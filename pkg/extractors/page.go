package extractors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
	"github.com/sethvargo/go-retry"
)

// ErrNoListings means a page parsed cleanly but matched nothing, which usually
// signals changed markup.
var ErrNoListings = errors.New("page yielded no listings")

// ErrPageTooLarge rejects a response body over maxHTMLBodyBytes rather than
// parsing a truncated page.
var ErrPageTooLarge = errors.New("page exceeds size limit")

const maxHTMLBodyBytes = 8 << 20 // 8 MiB

// PageExtractor fetches a source page (and follow-up pages when paged) and
// parses it into raw listings.
type PageExtractor struct {
	client HTTPClient
	source Source
	parse  Parser
	base   *url.URL
}

// NewPageExtractor binds a source to its parser.
func NewPageExtractor(client HTTPClient, src Source, parse Parser) (*PageExtractor, error) {
	if client == nil {
		return nil, errors.New("http client is nil")
	}
	if parse == nil {
		return nil, fmt.Errorf("no parser for source %q", src.ID)
	}
	base, err := parseBase(src.SourceURL)
	if err != nil {
		return nil, err
	}
	if src.MaxPages <= 0 {
		src.MaxPages = 1
	}
	return &PageExtractor{client: client, source: src, parse: parse, base: base}, nil
}

// Source returns the config this extractor was built from.
func (e *PageExtractor) Source() Source { return e.source }

// Extract fetches every configured page in order. A later page that yields
// nothing ends the walk; an empty first page is ErrNoListings.
func (e *PageExtractor) Extract(ctx context.Context) ([]domain.RawListing, error) {
	headers := Headers(e.source)
	delay := e.source.RequestDelay()

	var out []domain.RawListing
	for page := 1; page <= e.source.MaxPages; page++ {
		if page > 1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		pageURL := e.pageURL(page)
		body, err := e.fetch(ctx, pageURL, headers)
		if err != nil {
			return nil, err
		}
		listings, err := e.parse(body, e.base)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", e.source.ID, page, err)
		}
		if len(listings) == 0 {
			if page == 1 {
				return nil, fmt.Errorf("%s: %w", pageURL, ErrNoListings)
			}
			break
		}
		out = append(out, listings...)
	}
	return out, nil
}

// pageURL sets the page query parameter for pages after the first.
func (e *PageExtractor) pageURL(page int) string {
	if page <= 1 {
		return e.source.SourceURL
	}
	u := *e.base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// fetch retries transport failures, 429 and 5xx responses up to
// source.Retries times with Fibonacci backoff from the request delay.
func (e *PageExtractor) fetch(ctx context.Context, pageURL string, headers map[string]string) ([]byte, error) {
	if e.source.Retries <= 0 {
		return fetchPage(ctx, e.client, pageURL, e.source.ID, headers)
	}

	var body []byte
	backoff := retry.WithMaxRetries(uint64(e.source.Retries), retry.NewFibonacci(e.source.RequestDelay()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := fetchPage(ctx, e.client, pageURL, e.source.ID, headers)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Transient() {
				return err
			}
			if errors.Is(err, ErrPageTooLarge) {
				return err
			}
			return retry.RetryableError(err)
		}
		body = b
		return nil
	})
	return body, err
}

// StatusError is a non-200 catalog response.
type StatusError struct {
	SourceID string
	Code     int
	Snippet  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s page returned status %d body: %s", e.SourceID, e.Code, e.Snippet)
}

// Transient reports whether the response is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func fetchPage(ctx context.Context, client HTTPClient, pageURL, sourceID string, headers map[string]string) ([]byte, error) {
	resp, err := client.Get(ctx, pageURL, headers)
	if err != nil {
		return nil, fmt.Errorf("fetch %s page: %w", sourceID, err)
	}

	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return nil, &StatusError{SourceID: sourceID, Code: resp.StatusCode(), Snippet: responseSnippet(body)}
	}
	if len(body) > maxHTMLBodyBytes {
		return nil, fmt.Errorf("%s page %s: %w (%d bytes, limit %d)", sourceID, pageURL, ErrPageTooLarge, len(body), maxHTMLBodyBytes)
	}
	return body, nil
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
