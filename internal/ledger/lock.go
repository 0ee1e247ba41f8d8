package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// writerLock is an advisory exclusive lock held next to the store for the
// lifetime of a writable ledger.
type writerLock struct {
	fl *flock.Flock
}

func acquireWriterLock(ctx context.Context, storePath string, timeout time.Duration) (*writerLock, error) {
	if err := ensureDir(storePath); err != nil {
		return nil, err
	}

	fl := flock.New(storePath + ".lock")

	var (
		ok  bool
		err error
	)
	if timeout <= 0 {
		ok, err = fl.TryLock()
	} else {
		lockCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ok, err = fl.TryLockContext(lockCtx, lockRetryDelay)
		if errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("lock ledger %s: %w", storePath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, storePath)
	}
	return &writerLock{fl: fl}, nil
}

func (l *writerLock) release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	return nil
}
