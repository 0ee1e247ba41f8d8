package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
	"github.com/samvad-hq/audiobook-herald/internal/ledger"
	"github.com/samvad-hq/audiobook-herald/internal/logger"
	"github.com/samvad-hq/audiobook-herald/internal/report"
)

// Extractor turns one catalog view into raw listing records. It must not
// normalize or deduplicate URLs.
type Extractor interface {
	Extract(ctx context.Context) ([]domain.RawListing, error)
}

// Source pairs an extractor with the tag its listings are recorded under.
type Source struct {
	Tag       domain.SourceTag
	Extractor Extractor
}

// ExtractionError reports a source whose content could not be turned into
// listings. Only that source's contribution is lost.
type ExtractionError struct {
	Source domain.SourceTag
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract source %q: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Coordinator records newly discovered listings, using the ledger as the
// deduplication oracle.
type Coordinator struct {
	ledger ledger.Ledger
	report report.Reporter
	log    logger.Logger
	now    func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the discovery timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator wires a discovery coordinator around an opened ledger.
func NewCoordinator(l ledger.Ledger, r report.Reporter, log logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger: l,
		report: report.Ensure(r),
		log:    logger.Ensure(log),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run extracts every source in order and appends listings whose canonical URL
// is not yet known. It returns the number of new listings (reported only, on a
// dry run). Extraction failures are joined into the returned error after all
// sources ran; ledger failures abort immediately.
func (c *Coordinator) Run(ctx context.Context, sources []Source, dryRun bool) (int, error) {
	if c == nil || c.ledger == nil {
		return 0, fmt.Errorf("discovery coordinator is not initialized")
	}

	existing, err := c.ledger.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}
	known := ledger.NewURLSet(existing)
	c.log.InfoObj("discovery started", "discovery_meta", map[string]any{
		"known_listings": len(existing),
		"sources_count":  len(sources),
		"dry_run":        dryRun,
	})

	var (
		added int
		errs  []error
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return added, errors.Join(append(errs, err)...)
		}

		n, err := c.runSource(ctx, src, known, dryRun)
		added += n
		if err == nil {
			continue
		}

		var extractErr *ExtractionError
		if !errors.As(err, &extractErr) {
			return added, err
		}
		errs = append(errs, err)
		c.report.SourceFailed(src.Tag, extractErr.Err, dryRun)
		c.log.ErrorObj("source extraction failed", "source_error", map[string]any{
			"source": src.Tag,
			"error":  extractErr.Err.Error(),
		})
	}

	c.report.Summary("discover", added, len(errs), dryRun)
	c.log.InfoObj("discovery completed", "discovery_result", map[string]any{
		"new_listings":   added,
		"failed_sources": len(errs),
		"dry_run":        dryRun,
	})
	return added, errors.Join(errs...)
}

func (c *Coordinator) runSource(ctx context.Context, src Source, known ledger.URLSet, dryRun bool) (int, error) {
	if src.Extractor == nil {
		return 0, &ExtractionError{Source: src.Tag, Err: errors.New("no extractor configured")}
	}

	raws, err := src.Extractor.Extract(ctx)
	if err != nil {
		return 0, &ExtractionError{Source: src.Tag, Err: err}
	}

	added := 0
	for _, raw := range raws {
		l := domain.NewListing(raw, src.Tag, c.now())
		if l.CanonicalURL == "" || l.Title == "" {
			c.log.WarnObj("skipping incomplete listing", "listing_skipped", map[string]any{
				"source": src.Tag,
				"title":  raw.Title,
				"url":    raw.URL,
			})
			continue
		}
		if known.Contains(l.CanonicalURL) {
			continue
		}

		if !dryRun {
			err := c.ledger.AppendNew(ctx, l)
			if errors.Is(err, ledger.ErrDuplicate) {
				// another writer got there first; the stored row wins
				known.Add(l.CanonicalURL)
				continue
			}
			if err != nil {
				return added, fmt.Errorf("append listing %s: %w", l.CanonicalURL, err)
			}
		}

		known.Add(l.CanonicalURL)
		added++
		c.report.NewListing(l, dryRun)
		c.log.DebugObj("listing discovered", "listing", map[string]any{
			"source": src.Tag,
			"title":  l.Title,
			"url":    l.CanonicalURL,
		})
	}

	c.log.InfoObj("source extracted", "source_result", map[string]any{
		"source":       src.Tag,
		"records":      len(raws),
		"new_listings": added,
	})
	return added, nil
}
