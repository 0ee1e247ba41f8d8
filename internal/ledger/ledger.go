package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

// Package ledger is the durable record of every listing ever discovered and
// whether it has been announced. It assumes a single writer per store.

// Ledger stores listings keyed by canonical URL.
type Ledger interface {
	// Load returns every persisted listing in insertion order.
	Load(ctx context.Context) ([]domain.Listing, error)
	// AppendNew durably records a listing whose URL the caller found to be new.
	AppendNew(ctx context.Context, l domain.Listing) error
	// MarkPosted sets posted_at for the listing with the given canonical URL.
	MarkPosted(ctx context.Context, canonicalURL string, at time.Time) error
	Close() error
}

// Repairer is implemented by backends whose persisted data can hold
// non-canonical URLs or duplicates written by older versions.
type Repairer interface {
	Repair(ctx context.Context, output string) (RepairReport, error)
}

// RepairReport summarizes a maintenance pass.
type RepairReport struct {
	Before            int `json:"before"`
	After             int `json:"after"`
	URLsCleaned       int `json:"urls_cleaned"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

const (
	TypeCSV    = "csv"
	TypeBBolt  = "bbolt"
	TypeSQLite = "sqlite"
)

// Options selects and tunes a ledger backend.
type Options struct {
	Type        string
	Path        string
	LockTimeout time.Duration
	// ReadOnly opens without taking the writer lock and without creating
	// anything on disk. Writes fail with ErrReadOnly.
	ReadOnly bool
}

var (
	// ErrPrecondition marks operations attempted before the ledger exists.
	ErrPrecondition = errors.New("precondition failed")
	// ErrNoLedger is returned when announcing against a store that was never created.
	ErrNoLedger = fmt.Errorf("%w: ledger not found, run discover first", ErrPrecondition)

	ErrCorrupt       = errors.New("ledger corrupt")
	ErrNotFound      = errors.New("listing not found")
	ErrAlreadyPosted = errors.New("listing already posted")
	ErrDuplicate     = errors.New("listing already recorded")
	ErrReadOnly      = errors.New("ledger opened read-only")
	ErrLocked        = errors.New("ledger locked by another writer")
)

// CorruptError reports a malformed persisted store.
type CorruptError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ledger %s corrupt at line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("ledger %s corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCorrupt) match any CorruptError.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// Open creates the configured ledger backend.
func Open(ctx context.Context, opts Options) (Ledger, error) {
	typ := strings.TrimSpace(strings.ToLower(opts.Type))
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("%s ledger requires a path", typ)
	}
	opts.Path = path

	switch typ {
	case "", TypeCSV:
		return openCSV(ctx, opts)
	case TypeBBolt:
		return openBolt(opts)
	case TypeSQLite:
		return openSQLite(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported ledger type %q", typ)
	}
}

// Exists reports whether the store at opts.Path has been initialized.
func Exists(opts Options) (bool, error) {
	info, err := os.Stat(strings.TrimSpace(opts.Path))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat ledger: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("ledger path %s is a directory", opts.Path)
	}
	return true, nil
}

// URLSet is the in-memory set of known canonical URLs used for dedup checks.
type URLSet map[string]struct{}

// NewURLSet indexes the canonical URLs of the given listings.
func NewURLSet(listings []domain.Listing) URLSet {
	set := make(URLSet, len(listings))
	for _, l := range listings {
		set.Add(l.CanonicalURL)
	}
	return set
}

// Contains normalizes candidate and reports whether it is known.
func (s URLSet) Contains(candidate string) bool {
	_, ok := s[domain.CanonicalURL(candidate)]
	return ok
}

// Add records url (normalized) as known.
func (s URLSet) Add(url string) {
	s[domain.CanonicalURL(url)] = struct{}{}
}

// missingLedger stands in for a store that does not exist yet when opened read-only.
type missingLedger struct{}

func (missingLedger) Load(context.Context) ([]domain.Listing, error)      { return nil, nil }
func (missingLedger) AppendNew(context.Context, domain.Listing) error     { return ErrReadOnly }
func (missingLedger) MarkPosted(context.Context, string, time.Time) error { return ErrReadOnly }
func (missingLedger) Close() error                                        { return nil }
