package extractors

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/audiobook-herald/pkg/httpclient"
)

// parserRegistry implements ParserRegistry.
type parserRegistry struct {
	mu     sync.RWMutex
	byType map[string]Parser
}

// NewParserRegistry builds a registry keyed by source type.
func NewParserRegistry(parsers map[string]Parser) ParserRegistry {
	reg := &parserRegistry{byType: make(map[string]Parser)}
	for typ, p := range parsers {
		reg.register(typ, p)
	}
	return reg
}

func (r *parserRegistry) register(typ string, p Parser) {
	key := strings.ToLower(strings.TrimSpace(typ))
	if key == "" || p == nil {
		return
	}

	r.mu.Lock()
	r.byType[key] = p
	r.mu.Unlock()
}

// ParserFor selects the parser for the given source type.
func (r *parserRegistry) ParserFor(src Source) (Parser, error) {
	if r == nil {
		return nil, fmt.Errorf("parser registry is nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.byType[strings.ToLower(strings.TrimSpace(src.Type))]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no parser registered for source %q (type %q)", src.ID, src.Type)
}

// DefaultParserRegistry wires up the known catalog layouts.
func DefaultParserRegistry() ParserRegistry {
	return NewParserRegistry(map[string]Parser{
		TypeProductGrid: ParseProductGrid,
		TypeProductList: ParseProductList,
	})
}

// DefaultHTTPClient returns the resty-backed client used for catalog pages.
func DefaultHTTPClient(timeout time.Duration, userAgent string) HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return httpclient.NewRestyClient(timeout, httpclient.WithUserAgent(userAgent))
}

// BuildAll creates one extractor per source, preserving order.
func BuildAll(client HTTPClient, reg ParserRegistry, sources []Source) ([]*PageExtractor, error) {
	if reg == nil {
		reg = DefaultParserRegistry()
	}
	out := make([]*PageExtractor, 0, len(sources))
	for _, src := range sources {
		parse, err := reg.ParserFor(src)
		if err != nil {
			return nil, err
		}
		ext, err := NewPageExtractor(client, src, parse)
		if err != nil {
			return nil, fmt.Errorf("build extractor %q: %w", src.ID, err)
		}
		out = append(out, ext)
	}
	return out, nil
}
