package announce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
	"github.com/samvad-hq/audiobook-herald/internal/ledger"
	"github.com/samvad-hq/audiobook-herald/internal/logger"
	"github.com/samvad-hq/audiobook-herald/internal/report"
	"github.com/samvad-hq/audiobook-herald/pkg/notifiers"
)

// Notifier aliases the shared notifier contract for callers of this package.
type Notifier = notifiers.Notifier

// ErrNoNotifiers is returned when a real announce run has nowhere to deliver.
var ErrNoNotifiers = errors.New("no notifiers configured")

// Coordinator delivers one announcement per unposted listing and records each
// successful delivery immediately.
//
// A crash between a successful delivery and the posted_at write leaves the
// listing unposted, so the next run announces it again.
type Coordinator struct {
	ledger ledger.Ledger
	report report.Reporter
	log    logger.Logger
	now    func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the posted_at timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator wires an announcement coordinator around an opened ledger.
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

// Run announces every unposted listing in stored order, once per canonical
// URL, and returns how many were posted (or would be, on a dry run). Per-listing failures are joined
// into the returned error; ledger failures abort the run.
func (c *Coordinator) Run(ctx context.Context, ns []Notifier, dryRun bool) (int, error) {
	if c == nil || c.ledger == nil {
		return 0, fmt.Errorf("announce coordinator is not initialized")
	}

	fanout := notifiers.NewFanout(ns)
	if !dryRun && fanout.Size() == 0 {
		return 0, ErrNoNotifiers
	}

	all, err := c.ledger.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}
	pending, skipped := selectPending(all)
	if len(skipped) > 0 {
		urls := make([]string, 0, len(skipped))
		for _, l := range skipped {
			c.report.Skipped(l, "duplicate ledger row, run herald repair", dryRun)
			urls = append(urls, l.CanonicalURL)
		}
		c.log.WarnObj("duplicate ledger rows skipped, run herald repair", "ledger_duplicates", map[string]any{
			"rows": len(skipped),
			"urls": urls,
		})
	}
	c.log.InfoObj("announce started", "announce_meta", map[string]any{
		"listings":        len(all),
		"pending":         len(pending),
		"duplicates":      len(skipped),
		"notifiers_count": fanout.Size(),
		"dry_run":         dryRun,
	})

	var (
		posted int
		errs   []error
	)
	for _, l := range pending {
		if err := ctx.Err(); err != nil {
			return posted, errors.Join(append(errs, err)...)
		}

		ok, err := c.announce(ctx, fanout, l, dryRun)
		if ok {
			posted++
		}
		if err == nil {
			continue
		}
		if errors.Is(err, errFatal) {
			return posted, errors.Join(append(errs, err)...)
		}
		errs = append(errs, err)
	}

	c.report.Summary("announce", posted, len(errs), dryRun)
	c.log.InfoObj("announce completed", "announce_result", map[string]any{
		"posted":   posted,
		"failures": len(errs),
		"dry_run":  dryRun,
	})
	return posted, errors.Join(errs...)
}

// selectPending returns the unposted listings to announce, one per canonical
// URL. Unposted rows whose canonical URL is already posted, or repeats an
// earlier unposted row, are returned as skipped.
func selectPending(all []domain.Listing) (pending, skipped []domain.Listing) {
	seen := make(ledger.URLSet, len(all))
	for _, l := range all {
		if l.Posted() {
			seen.Add(l.CanonicalURL)
		}
	}
	for _, l := range all {
		if l.Posted() {
			continue
		}
		if seen.Contains(l.CanonicalURL) {
			skipped = append(skipped, l)
			continue
		}
		seen.Add(l.CanonicalURL)
		pending = append(pending, l)
	}
	return pending, skipped
}

// errFatal marks ledger write failures that must stop the run.
var errFatal = errors.New("ledger write failed")

// announce delivers one listing and records it. It reports whether the
// listing now counts as posted.
func (c *Coordinator) announce(ctx context.Context, fanout *notifiers.Fanout, l domain.Listing, dryRun bool) (bool, error) {
	message, err := Render(l)
	if err != nil {
		err = fmt.Errorf("render %s: %w", l.CanonicalURL, err)
		c.report.DeliveryFailed(l, err, dryRun)
		return false, err
	}

	if dryRun {
		c.report.Posted(l, message, true)
		return true, nil
	}

	if _, err := fanout.Send(ctx, message); err != nil {
		c.report.DeliveryFailed(l, err, false)
		c.log.ErrorObj("listing delivery failed", "delivery_error", map[string]any{
			"title": l.Title,
			"url":   l.CanonicalURL,
			"error": err.Error(),
		})
		return false, fmt.Errorf("deliver %s: %w", l.CanonicalURL, err)
	}

	err = c.ledger.MarkPosted(ctx, l.CanonicalURL, c.now())
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrAlreadyPosted):
		// the store changed under us; only this listing is affected
		c.report.RecordFailed(l, err, false)
		c.log.WarnObj("listing delivered but not recorded", "record_error", map[string]any{
			"url":   l.CanonicalURL,
			"error": err.Error(),
		})
		return false, fmt.Errorf("record %s: %w", l.CanonicalURL, err)
	default:
		c.report.RecordFailed(l, err, false)
		return false, fmt.Errorf("%w: record %s: %w", errFatal, l.CanonicalURL, err)
	}

	c.report.Posted(l, message, false)
	c.log.InfoObj("listing posted", "listing", map[string]any{
		"title":     l.Title,
		"url":       l.CanonicalURL,
		"notifiers": fanout.Size(),
	})
	return true, nil
}
