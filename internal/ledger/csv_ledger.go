package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

var (
	csvHeader       = []string{"title", "author", "link", "source", "scraped_at", "posted_at"}
	csvLegacyHeader = []string{"title", "author", "link", "scraped_at", "posted_at"}
)

// csvLedger keeps listings in a CSV table. New rows are appended in place;
// posting rewrites the whole file through a temp file and rename.
type csvLedger struct {
	path     string
	readOnly bool
	lock     *writerLock
	known    URLSet
}

// csvTable is the decoded content of the store file.
type csvTable struct {
	exists    bool
	hasHeader bool
	legacy    bool
	crlf      bool
	rows      []record
}

func openCSV(ctx context.Context, opts Options) (Ledger, error) {
	l := &csvLedger{path: opts.Path, readOnly: opts.ReadOnly}
	if opts.ReadOnly {
		return l, nil
	}
	lock, err := acquireWriterLock(ctx, opts.Path, opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	l.lock = lock
	return l, nil
}

// Close releases the writer lock.
func (c *csvLedger) Close() error {
	if c == nil {
		return nil
	}
	return c.lock.release()
}

// Load reads the full table. A missing file is an empty ledger.
func (c *csvLedger) Load(ctx context.Context) ([]domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tbl, err := c.read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Listing, 0, len(tbl.rows))
	for i, rec := range tbl.rows {
		l, err := rec.listing()
		if err != nil {
			return nil, &CorruptError{Path: c.path, Line: i + 2, Err: err}
		}
		out = append(out, l)
	}
	c.known = NewURLSet(out)
	return out, nil
}

// AppendNew appends one row and fsyncs before returning.
func (c *csvLedger) AppendNew(ctx context.Context, l domain.Listing) error {
	if c.readOnly {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.CanonicalURL == "" {
		return fmt.Errorf("append listing %q: empty canonical url", l.Title)
	}

	if c.known == nil {
		if _, err := c.Load(ctx); err != nil {
			return err
		}
	}
	if c.known.Contains(l.CanonicalURL) {
		return fmt.Errorf("%w: %s", ErrDuplicate, l.CanonicalURL)
	}

	if err := c.prepareForAppend(); err != nil {
		return err
	}
	if err := c.appendRecord(recordFromListing(l)); err != nil {
		return err
	}
	c.known.Add(l.CanonicalURL)
	return nil
}

// prepareForAppend creates the file with a header, or upgrades a legacy header.
func (c *csvLedger) prepareForAppend() error {
	tbl, err := c.read()
	if err != nil {
		return err
	}
	if !tbl.hasHeader {
		return writeCSVAtomic(c.path, nil, false)
	}
	if tbl.legacy {
		return writeCSVAtomic(c.path, tbl.rows, tbl.crlf)
	}
	return nil
}

func (c *csvLedger) appendRecord(rec record) error {
	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	defer f.Close()

	crlf, missingNewline, err := tailState(f)
	if err != nil {
		return fmt.Errorf("inspect ledger tail: %w", err)
	}

	var buf bytes.Buffer
	if missingNewline {
		buf.WriteString(lineEnding(crlf))
	}
	if err := encodeCSV(&buf, [][]string{rec.fields()}, crlf); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return f.Close()
}

// MarkPosted rewrites the store with posted_at set on the matching row.
func (c *csvLedger) MarkPosted(ctx context.Context, canonicalURL string, at time.Time) error {
	if c.readOnly {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tbl, err := c.read()
	if err != nil {
		return err
	}
	if !tbl.exists {
		return ErrNoLedger
	}

	idx := slices.IndexFunc(tbl.rows, func(r record) bool { return r.Link == canonicalURL })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, canonicalURL)
	}
	if tbl.rows[idx].posted() {
		return fmt.Errorf("%w: %s", ErrAlreadyPosted, canonicalURL)
	}
	tbl.rows[idx].PostedAt = formatTimestamp(at)

	return writeCSVAtomic(c.path, tbl.rows, tbl.crlf)
}

// read decodes the store file without interpreting timestamps.
func (c *csvLedger) read() (csvTable, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return csvTable{}, nil
	}
	if err != nil {
		return csvTable{}, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return csvTable{}, fmt.Errorf("read ledger: %w", err)
	}
	tbl := csvTable{exists: true, crlf: bytes.Contains(firstLine(raw), []byte("\r"))}
	if len(bytes.TrimSpace(raw)) == 0 {
		return tbl, nil
	}

	r := csv.NewReader(bytes.NewReader(raw))
	header, err := r.Read()
	if err != nil {
		return csvTable{}, &CorruptError{Path: c.path, Line: 1, Err: fmt.Errorf("read header: %w", err)}
	}
	switch {
	case slices.Equal(header, csvHeader):
	case slices.Equal(header, csvLegacyHeader):
		tbl.legacy = true
	default:
		return csvTable{}, &CorruptError{Path: c.path, Line: 1, Err: fmt.Errorf("unrecognized header %q", header)}
	}
	tbl.hasHeader = true

	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			corrupt := &CorruptError{Path: c.path, Err: err}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				corrupt.Line = pe.StartLine
			}
			return csvTable{}, corrupt
		}
		tbl.rows = append(tbl.rows, recordFromFields(fields, tbl.legacy))
	}
	return tbl, nil
}

func recordFromFields(fields []string, legacy bool) record {
	if legacy {
		return record{
			Title:     fields[0],
			Author:    fields[1],
			Link:      fields[2],
			ScrapedAt: fields[3],
			PostedAt:  fields[4],
		}
	}
	return record{
		Title:     fields[0],
		Author:    fields[1],
		Link:      fields[2],
		Source:    fields[3],
		ScrapedAt: fields[4],
		PostedAt:  fields[5],
	}
}

func (r record) fields() []string {
	return []string{r.Title, r.Author, r.Link, r.Source, r.ScrapedAt, r.PostedAt}
}

// writeCSVAtomic writes header + rows to a temp file and renames it over path.
func writeCSVAtomic(path string, rows []record, crlf bool) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	table := make([][]string, 0, len(rows)+1)
	table = append(table, csvHeader)
	for _, rec := range rows {
		table = append(table, rec.fields())
	}
	w := bufio.NewWriter(tmp)
	if err := encodeCSV(w, table, crlf); err != nil {
		tmp.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// encodeCSV writes records with the given terminator. csv.Writer with UseCRLF
// drops a lone \r inside quoted fields, so records are encoded with LF and
// only the terminator is rewritten.
func encodeCSV(dst io.Writer, records [][]string, crlf bool) error {
	var line bytes.Buffer
	w := csv.NewWriter(&line)
	for _, fields := range records {
		line.Reset()
		if err := w.Write(fields); err != nil {
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		b := bytes.TrimSuffix(line.Bytes(), []byte("\n"))
		if _, err := dst.Write(b); err != nil {
			return err
		}
		if _, err := io.WriteString(dst, lineEnding(crlf)); err != nil {
			return err
		}
	}
	return nil
}

func lineEnding(crlf bool) string {
	if crlf {
		return "\r\n"
	}
	return "\n"
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// tailState reports the file's line terminator style and whether its last
// byte is not a newline.
func tailState(f *os.File) (crlf bool, missingNewline bool, err error) {
	info, err := f.Stat()
	if err != nil {
		return false, false, err
	}
	if info.Size() == 0 {
		return false, false, nil
	}

	head := make([]byte, min(info.Size(), 4096))
	if _, err := f.ReadAt(head, 0); err != nil && !errors.Is(err, io.EOF) {
		return false, false, err
	}
	crlf = bytes.Contains(firstLine(head), []byte("\r"))

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, false, err
	}
	return crlf, last[0] != '\n', nil
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i+1]
	}
	return b
}
