package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

const (
	listingsBucket = "listings"
	urlsBucket     = "urls"
	seqKeyBytes    = 8
)

// boltLedger implements a Ledger backed by BoltDB. Listings are keyed by an
// insertion sequence; a second bucket indexes canonical URL -> sequence key.
type boltLedger struct {
	db   *bolt.DB
	path string
}

// openBolt initializes a BoltDB-backed Ledger. BoltDB holds its own exclusive
// file lock for writers, bounded by LockTimeout.
func openBolt(opts Options) (Ledger, error) {
	if opts.ReadOnly {
		if _, err := os.Stat(opts.Path); errors.Is(err, os.ErrNotExist) {
			return missingLedger{}, nil
		}
	} else if err := ensureDir(opts.Path); err != nil {
		return nil, err
	}

	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: timeout, ReadOnly: opts.ReadOnly})
	if errors.Is(err, bolterrors.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, opts.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	if !opts.ReadOnly {
		if err := db.Update(func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists([]byte(listingsBucket)); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists([]byte(urlsBucket))
			return err
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	return &boltLedger{db: db, path: opts.Path}, nil
}

// Close closes the BoltDB store.
func (b *boltLedger) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Load walks the listings bucket in sequence order.
func (b *boltLedger) Load(ctx context.Context) ([]domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []domain.Listing
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(listingsBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			l, err := decodeListing(v)
			if err != nil {
				return &CorruptError{Path: b.path, Err: fmt.Errorf("key %x: %w", k, err)}
			}
			out = append(out, l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendNew stores the listing and its URL index entry in one transaction.
func (b *boltLedger) AppendNew(ctx context.Context, l domain.Listing) error {
	if b.db.IsReadOnly() {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.CanonicalURL == "" {
		return fmt.Errorf("append listing %q: empty canonical url", l.Title)
	}

	value, err := json.Marshal(recordFromListing(l))
	if err != nil {
		return fmt.Errorf("encode listing: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		listings, urls, err := buckets(tx)
		if err != nil {
			return err
		}

		urlKey := []byte(l.CanonicalURL)
		if urls.Get(urlKey) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicate, l.CanonicalURL)
		}

		seq, err := listings.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		key := make([]byte, seqKeyBytes)
		binary.BigEndian.PutUint64(key, seq)

		if err := listings.Put(key, value); err != nil {
			return err
		}
		return urls.Put(urlKey, key)
	})
}

// MarkPosted sets posted_at on the indexed listing if it is still unposted.
func (b *boltLedger) MarkPosted(ctx context.Context, canonicalURL string, at time.Time) error {
	if b.db.IsReadOnly() {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		listings, urls, err := buckets(tx)
		if err != nil {
			return err
		}

		key := urls.Get([]byte(canonicalURL))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, canonicalURL)
		}
		value := listings.Get(key)
		if value == nil {
			return &CorruptError{Path: b.path, Err: fmt.Errorf("url index points at missing listing %x", key)}
		}

		var rec record
		if err := json.Unmarshal(value, &rec); err != nil {
			return &CorruptError{Path: b.path, Err: fmt.Errorf("key %x: %w", key, err)}
		}
		if rec.posted() {
			return fmt.Errorf("%w: %s", ErrAlreadyPosted, canonicalURL)
		}
		rec.PostedAt = formatTimestamp(at)

		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode listing: %w", err)
		}
		return listings.Put(key, updated)
	})
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	listings := tx.Bucket([]byte(listingsBucket))
	urls := tx.Bucket([]byte(urlsBucket))
	if listings == nil || urls == nil {
		return nil, nil, fmt.Errorf("ledger buckets missing")
	}
	return listings, urls, nil
}

// decodeListing decodes a stored JSON record.
func decodeListing(value []byte) (domain.Listing, error) {
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return domain.Listing{}, err
	}
	return rec.listing()
}
