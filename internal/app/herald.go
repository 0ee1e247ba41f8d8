package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/audiobook-herald/internal/announce"
	"github.com/samvad-hq/audiobook-herald/internal/config"
	"github.com/samvad-hq/audiobook-herald/internal/discovery"
	"github.com/samvad-hq/audiobook-herald/internal/ledger"
	"github.com/samvad-hq/audiobook-herald/internal/logger"
	"github.com/samvad-hq/audiobook-herald/internal/report"
	"github.com/samvad-hq/audiobook-herald/pkg/extractors"
	"github.com/samvad-hq/audiobook-herald/pkg/notifiers"
)

// Herald is the batch runtime behind every CLI command. It wires config into
// the ledger, the catalog sources, the notifiers and the two coordinators.
// Each call is one self-contained run.
type Herald struct {
	cfg         *config.Config
	log         logger.Logger
	out         io.Writer
	client      extractors.HTTPClient
	parsers     extractors.ParserRegistry
	notifierReg notifiers.Registry
	now         func() time.Time
}

// Option customizes a Herald.
type Option func(*Herald)

// WithReportWriter sets where run outcomes are printed. Defaults to stdout.
func WithReportWriter(w io.Writer) Option {
	return func(h *Herald) { h.out = w }
}

// WithHTTPClient replaces the client used to fetch catalog pages.
func WithHTTPClient(c extractors.HTTPClient) Option {
	return func(h *Herald) {
		if c != nil {
			h.client = c
		}
	}
}

// WithNotifierRegistry replaces the builders used for notifier configs.
func WithNotifierRegistry(r notifiers.Registry) Option {
	return func(h *Herald) {
		if r != nil {
			h.notifierReg = r
		}
	}
}

// WithClock overrides the timestamp source for discovered_at and posted_at.
func WithClock(now func() time.Time) Option {
	return func(h *Herald) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHerald builds a runtime from config.
func NewHerald(cfg *config.Config, log logger.Logger, opts ...Option) (*Herald, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	h := &Herald{
		cfg:         cfg,
		log:         logger.Ensure(log),
		out:         os.Stdout,
		parsers:     extractors.DefaultParserRegistry(),
		notifierReg: notifiers.DefaultRegistry(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = extractors.DefaultHTTPClient(cfg.HTTPTimeout, cfg.UserAgent)
	}
	return h, nil
}

// Discover runs every configured source once and records new listings.
// A dry run opens the ledger read-only and records nothing.
func (h *Herald) Discover(ctx context.Context, dryRun bool) (int, error) {
	runID := uuid.NewString()
	start := time.Now()

	sources, err := h.sources()
	if err != nil {
		return 0, err
	}

	l, err := ledger.Open(ctx, h.ledgerOptions(dryRun))
	if err != nil {
		return 0, fmt.Errorf("open ledger: %w", err)
	}
	defer h.closeLedger(l)

	h.log.InfoObj("discover run started", "run_meta", map[string]any{
		"run_id":        runID,
		"ledger_type":   h.cfg.LedgerType,
		"ledger_path":   h.cfg.LedgerPath,
		"sources_count": len(sources),
		"dry_run":       dryRun,
	})

	coord := discovery.NewCoordinator(l, report.New(h.out), h.log, discovery.WithClock(h.now))
	added, err := coord.Run(ctx, sources, dryRun)

	h.log.InfoObj("discover run finished", "run_meta", map[string]any{
		"run_id":     runID,
		"added":      added,
		"failed":     err != nil,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return added, err
}

// Announce posts every unposted listing to the configured notifiers. The
// ledger must already exist; nothing is built or sent otherwise.
// A dry run validates notifier config but builds no clients.
func (h *Herald) Announce(ctx context.Context, dryRun bool) (int, error) {
	runID := uuid.NewString()
	start := time.Now()

	opts := h.ledgerOptions(dryRun)
	exists, err := ledger.Exists(opts)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w (%s)", ledger.ErrNoLedger, opts.Path)
	}

	cfgs, err := h.notifierConfigs()
	if err != nil {
		return 0, err
	}

	var ns []notifiers.Notifier
	if !dryRun {
		ns, err = notifiers.BuildAll(ctx, h.notifierReg, cfgs, h.log)
		if err != nil {
			return 0, fmt.Errorf("build notifiers: %w", err)
		}
		defer h.closeNotifiers(ns)
	}

	l, err := ledger.Open(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("open ledger: %w", err)
	}
	defer h.closeLedger(l)

	summaries := make([]map[string]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		summaries = append(summaries, map[string]string{"id": cfg.ID, "type": cfg.Type})
	}
	h.log.InfoObj("announce run started", "run_meta", map[string]any{
		"run_id":      runID,
		"ledger_type": h.cfg.LedgerType,
		"ledger_path": h.cfg.LedgerPath,
		"notifiers":   summaries,
		"dry_run":     dryRun,
	})

	coord := announce.NewCoordinator(l, report.New(h.out), h.log, announce.WithClock(h.now))
	posted, err := coord.Run(ctx, ns, dryRun)

	h.log.InfoObj("announce run finished", "run_meta", map[string]any{
		"run_id":     runID,
		"posted":     posted,
		"failed":     err != nil,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return posted, err
}

// Repair canonicalizes and dedups the ledger, writing to output when set or
// in place otherwise.
func (h *Herald) Repair(ctx context.Context, output string) (ledger.RepairReport, error) {
	opts := h.ledgerOptions(false)
	exists, err := ledger.Exists(opts)
	if err != nil {
		return ledger.RepairReport{}, err
	}
	if !exists {
		return ledger.RepairReport{}, fmt.Errorf("%w (%s)", ledger.ErrNoLedger, opts.Path)
	}

	l, err := ledger.Open(ctx, opts)
	if err != nil {
		return ledger.RepairReport{}, fmt.Errorf("open ledger: %w", err)
	}
	defer h.closeLedger(l)

	r, ok := l.(ledger.Repairer)
	if !ok {
		return ledger.RepairReport{}, fmt.Errorf("ledger type %q does not support repair", h.cfg.LedgerType)
	}

	rep, err := r.Repair(ctx, output)
	if err != nil {
		return rep, err
	}
	h.log.InfoObj("ledger repaired", "repair_result", map[string]any{
		"ledger_path": opts.Path,
		"output":      output,
		"report":      rep,
	})
	return rep, nil
}

func (h *Herald) ledgerOptions(readOnly bool) ledger.Options {
	return ledger.Options{
		Type:        h.cfg.LedgerType,
		Path:        h.cfg.LedgerPath,
		LockTimeout: h.cfg.LockTimeout,
		ReadOnly:    readOnly,
	}
}

// sources loads the source registry (or the built-in one) and binds each
// entry to its extractor.
func (h *Herald) sources() ([]discovery.Source, error) {
	reg := extractors.DefaultRegistry()
	if path := strings.TrimSpace(h.cfg.SourcesFile); path != "" {
		loaded, err := extractors.LoadRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("load sources registry: %w", err)
		}
		reg = loaded
	}

	all := reg.All()
	ids := make([]string, 0, len(all))
	for _, src := range all {
		ids = append(ids, src.ID)
	}
	h.log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count": len(ids),
		"ids":   ids,
	})

	exts, err := extractors.BuildAll(h.client, h.parsers, all)
	if err != nil {
		return nil, fmt.Errorf("build extractors: %w", err)
	}
	out := make([]discovery.Source, 0, len(exts))
	for _, ext := range exts {
		out = append(out, discovery.Source{Tag: ext.Source().Tag, Extractor: ext})
	}
	return out, nil
}

// notifierConfigs returns the enabled file entries followed by the
// destinations configured through the environment.
func (h *Herald) notifierConfigs() ([]notifiers.NotifierConfig, error) {
	var cfgs []notifiers.NotifierConfig
	if path := strings.TrimSpace(h.cfg.NotifiersFile); path != "" {
		fileReg, err := notifiers.LoadRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("load notifiers registry: %w", err)
		}
		cfgs = fileReg.All()
	}
	cfgs = append(cfgs, notifiers.FromEnv(notifiers.EnvCredentials{
		MastodonInstance: h.cfg.MastodonInstance,
		MastodonToken:    h.cfg.MastodonToken,
		DiscordWebhook:   h.cfg.DiscordWebhook,
		TelegramToken:    h.cfg.TelegramToken,
		TelegramChatID:   h.cfg.TelegramChatID,
	})...)

	reg, err := notifiers.NewConfigRegistry(cfgs...)
	if err != nil {
		return nil, fmt.Errorf("notifier config: %w", err)
	}
	return reg.Enabled(), nil
}

func (h *Herald) closeLedger(l ledger.Ledger) {
	if err := l.Close(); err != nil {
		h.log.ErrorObj("ledger close failed", "error", err.Error())
	}
}

func (h *Herald) closeNotifiers(ns []notifiers.Notifier) {
	var errs []error
	for _, n := range ns {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("notifier %s: %w", n.ID(), err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.log.WarnObj("notifier close failed", "error", err.Error())
	}
}
