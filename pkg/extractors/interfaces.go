package extractors

import (
	"net/url"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
	"github.com/samvad-hq/audiobook-herald/pkg/httpclient"
)

// Parser turns one catalog page into raw listings. Relative links are
// resolved against base.
type Parser func(body []byte, base *url.URL) ([]domain.RawListing, error)

// ParserRegistry resolves the parser for a source config.
type ParserRegistry interface {
	ParserFor(src Source) (Parser, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within extractors.
type HTTPClient = httpclient.Client
