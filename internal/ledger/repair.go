package ledger

import (
	"context"
	"strings"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

// Repair canonicalizes every link and drops duplicate URLs, keeping the row
// scraped earliest. If a dropped duplicate was already posted, its posted_at
// is carried over so the survivor is not announced again. An empty output
// rewrites the store in place.
func (c *csvLedger) Repair(ctx context.Context, output string) (RepairReport, error) {
	if c.readOnly {
		return RepairReport{}, ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return RepairReport{}, err
	}

	tbl, err := c.read()
	if err != nil {
		return RepairReport{}, err
	}
	if !tbl.exists {
		return RepairReport{}, ErrNoLedger
	}

	cleaned, report, err := repairRecords(tbl.rows)
	if err != nil {
		return RepairReport{}, &CorruptError{Path: c.path, Err: err}
	}

	dest := strings.TrimSpace(output)
	if dest == "" {
		dest = c.path
	}
	if err := writeCSVAtomic(dest, cleaned, tbl.crlf); err != nil {
		return RepairReport{}, err
	}
	if dest == c.path {
		c.known = nil
	}
	return report, nil
}

func repairRecords(rows []record) ([]record, RepairReport, error) {
	report := RepairReport{Before: len(rows)}
	out := make([]record, 0, len(rows))
	byURL := make(map[string]int, len(rows))

	for _, rec := range rows {
		link := domain.CanonicalURL(rec.Link)
		if link != rec.Link {
			report.URLsCleaned++
			rec.Link = link
		}

		pos, seen := byURL[link]
		if !seen {
			byURL[link] = len(out)
			out = append(out, rec)
			continue
		}

		report.DuplicatesRemoved++
		kept := out[pos]
		earlier, err := scrapedBefore(rec, kept)
		if err != nil {
			return nil, RepairReport{}, err
		}
		if earlier {
			rec.PostedAt = firstPosted(rec, kept)
			out[pos] = rec
		} else {
			out[pos].PostedAt = firstPosted(kept, rec)
		}
	}

	report.After = len(out)
	return out, report, nil
}

// scrapedBefore reports whether a was scraped strictly before b. Rows without
// a scraped_at never displace a dated one.
func scrapedBefore(a, b record) (bool, error) {
	ta, err := parseTimestamp(a.ScrapedAt)
	if err != nil {
		return false, err
	}
	tb, err := parseTimestamp(b.ScrapedAt)
	if err != nil {
		return false, err
	}
	if ta.IsZero() {
		return false, nil
	}
	if tb.IsZero() {
		return true, nil
	}
	return ta.Before(tb), nil
}

// firstPosted returns the survivor's posted_at, or the duplicate's when the
// survivor was never posted.
func firstPosted(survivor, dup record) string {
	if survivor.posted() {
		return survivor.PostedAt
	}
	return dup.PostedAt
}
