package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/samvad-hq/audiobook-herald/internal/domain"
	"github.com/samvad-hq/audiobook-herald/migrations"
)

// sqliteLedger implements Ledger on a SQLite table with a UNIQUE link column.
type sqliteLedger struct {
	db       *sql.DB
	path     string
	readOnly bool
	lock     *writerLock
}

func openSQLite(ctx context.Context, opts Options) (Ledger, error) {
	if opts.ReadOnly {
		if _, err := os.Stat(opts.Path); errors.Is(err, os.ErrNotExist) {
			return missingLedger{}, nil
		}
		db, err := sql.Open("sqlite", opts.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &sqliteLedger{db: db, path: opts.Path, readOnly: true}, nil
	}

	lock, err := acquireWriterLock(ctx, opts.Path, opts.LockTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		_ = lock.release()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	fail := func(step string, err error) (Ledger, error) {
		_ = db.Close()
		_ = lock.release()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fail("set WAL mode", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		return fail("set synchronous mode", err)
	}
	if err := migrations.Run(db); err != nil {
		return fail("run migrations", err)
	}

	return &sqliteLedger{db: db, path: opts.Path, lock: lock}, nil
}

// Close closes the database and releases the writer lock.
func (s *sqliteLedger) Close() error {
	err := s.db.Close()
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}
	return err
}

// Load returns all listings ordered by insertion id.
func (s *sqliteLedger) Load(ctx context.Context) ([]domain.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, author, link, source, scraped_at, posted_at FROM listings ORDER BY id`,
	)
	if err != nil {
		return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("query listings: %w", err)}
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Listing
	for rows.Next() {
		var (
			rec    record
			posted sql.NullString
		)
		if err := rows.Scan(&rec.Title, &rec.Author, &rec.Link, &rec.Source, &rec.ScrapedAt, &posted); err != nil {
			return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("scan listing: %w", err)}
		}
		rec.PostedAt = posted.String
		l, err := rec.listing()
		if err != nil {
			return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("listing %s: %w", rec.Link, err)}
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

// AppendNew inserts the listing; an existing link is left untouched.
func (s *sqliteLedger) AppendNew(ctx context.Context, l domain.Listing) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if l.CanonicalURL == "" {
		return fmt.Errorf("append listing %q: empty canonical url", l.Title)
	}

	rec := recordFromListing(l)
	var posted *string
	if rec.PostedAt != "" {
		posted = &rec.PostedAt
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO listings (title, author, link, source, scraped_at, posted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Title, rec.Author, rec.Link, rec.Source, rec.ScrapedAt, posted,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, l.CanonicalURL)
	}
	return nil
}

// MarkPosted sets posted_at only while it is still NULL.
func (s *sqliteLedger) MarkPosted(ctx context.Context, canonicalURL string, at time.Time) error {
	if s.readOnly {
		return ErrReadOnly
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET posted_at = ? WHERE link = ? AND posted_at IS NULL`,
		formatTimestamp(at), canonicalURL,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE link = ?`, canonicalURL,
	).Scan(&count); err != nil {
		return fmt.Errorf("check listing: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, canonicalURL)
	}
	return fmt.Errorf("%w: %s", ErrAlreadyPosted, canonicalURL)
}
