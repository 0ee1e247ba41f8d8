package extractors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
	"gopkg.in/yaml.v3"
)

// Source is one catalog page (or paged listing) to extract from.
type Source struct {
	ID             string           `json:"id" yaml:"id"`
	Name           string           `json:"name" yaml:"name"`
	Tag            domain.SourceTag `json:"tag" yaml:"tag"`
	Type           string           `json:"type" yaml:"type"`
	SourceURL      string           `json:"source_url" yaml:"source_url"`
	MaxPages       int              `json:"max_pages" yaml:"max_pages"`
	RequestDelayMs int              `json:"request_delay_ms" yaml:"request_delay_ms"`
	Retries        int              `json:"retries" yaml:"retries"`
	Config         map[string]any   `json:"config" yaml:"config"`
}

const (
	FreeListensID  = "free-listens"
	FreeListensURL = "https://www.audible.com/ep/FreeListens"

	defaultRequestDelayMs = 500
)

// RequestDelay returns the pause between page requests of a paged source.
func (s Source) RequestDelay() time.Duration {
	if s.RequestDelayMs <= 0 {
		return time.Duration(defaultRequestDelayMs) * time.Millisecond
	}
	return time.Duration(s.RequestDelayMs) * time.Millisecond
}

type registryFile struct {
	Sources []Source `json:"sources" yaml:"sources"`
}

// Registry holds validated sources in configured order.
type Registry struct {
	sources []Source
	idx     map[string]Source
}

// NewRegistry validates sources and indexes them by id.
func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{idx: make(map[string]Source, len(sources))}
	for i := range sources {
		s := sanitizeSource(sources[i])
		if err := validateSource(s); err != nil {
			return nil, fmt.Errorf("source[%d]: %w", i, err)
		}
		if _, exists := r.idx[s.ID]; exists {
			return nil, fmt.Errorf("duplicate source id %q", s.ID)
		}
		r.sources = append(r.sources, s)
		r.idx[s.ID] = s
	}
	return r, nil
}

// DefaultRegistry contains the Free Listens page only.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Source{
		ID:        FreeListensID,
		Name:      "Audible Free Listens",
		Tag:       domain.SourceFree,
		Type:      TypeProductGrid,
		SourceURL: FreeListensURL,
	})
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry loads a source registry from a YAML or JSON file.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sources file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	reg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(reg.Sources) == 0 {
		return nil, errors.New("sources file contains no sources entries")
	}
	return NewRegistry(reg.Sources...)
}

// All returns a copy of the sources in configured order.
func (r *Registry) All() []Source {
	if r == nil || len(r.sources) == 0 {
		return nil
	}
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// ByID returns the source entry for the given id.
func (r *Registry) ByID(id string) (Source, bool) {
	if r == nil {
		return Source{}, false
	}
	s, ok := r.idx[strings.TrimSpace(id)]
	return s, ok
}

func parseRegistry(data []byte, ext string) (registryFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var errs []error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		reg, err := unmarshalRegistry(d.name, data, d.fn)
		if err == nil {
			return reg, nil
		}
		errs = append(errs, err)
	}

	return registryFile{}, fmt.Errorf("sources file format not recognized (expected YAML or JSON): %w", errors.Join(errs...))
}

type unmarshalFn func([]byte, any) error

func unmarshalRegistry(name string, data []byte, fn unmarshalFn) (registryFile, error) {
	var reg registryFile
	if err := fn(data, &reg); err != nil {
		return registryFile{}, fmt.Errorf("decode %s sources: %w", name, err)
	}
	return reg, nil
}

func sanitizeSource(s Source) Source {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	s.Tag = domain.SourceTag(strings.ToLower(strings.TrimSpace(string(s.Tag))))
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	s.SourceURL = strings.TrimSpace(s.SourceURL)

	if s.Name == "" {
		s.Name = s.ID
	}
	if s.Tag == "" {
		s.Tag = domain.SourceTag(s.ID)
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 1
	}
	if s.Retries < 0 {
		s.Retries = 0
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}
	return s
}

func validateSource(s Source) error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return fmt.Errorf("type is required for source %q", s.ID)
	}
	if s.SourceURL == "" {
		return fmt.Errorf("source_url is required for source %q", s.ID)
	}
	if _, err := parseBase(s.SourceURL); err != nil {
		return fmt.Errorf("source %q: %w", s.ID, err)
	}
	return nil
}
