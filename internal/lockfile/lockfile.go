// Package lockfile implements the sentinel file that marks an acquisition
// in progress. Existence of the file is the locked state.
package lockfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// Lock is a file-existence lock.
type Lock struct {
	path string
	ttl  time.Duration
	now  func() time.Time
	log  *slog.Logger
}

// New returns a lock at path. A lock file older than ttl is considered
// abandoned and may be taken over; ttl <= 0 disables that.
func New(path string, ttl time.Duration, logger *slog.Logger) *Lock {
	return &Lock{
		path: path,
		ttl:  ttl,
		now:  time.Now,
		log:  logger.With("component", "lockfile"),
	}
}

// Acquire creates the sentinel file. It returns ErrLocked when another
// holder exists.
func (l *Lock) Acquire() error {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%s pid=%d\n", l.now().Format(time.RFC3339), os.Getpid())
			_ = f.Close()
			l.log.Debug("lock acquired", "path", l.path)
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock: %w", err)
		}
		if !l.stale() {
			return types.ErrLocked
		}
		l.log.Warn("removing abandoned lock", "path", l.path)
		_ = os.Remove(l.path)
	}
	return types.ErrLocked
}

// Release removes the sentinel file. Releasing an absent lock is not an
// error.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	l.log.Debug("lock released", "path", l.path)
	return nil
}

// Held reports whether a live lock exists.
func (l *Lock) Held() bool {
	if _, err := os.Stat(l.path); err != nil {
		return false
	}
	return !l.stale()
}

// Wait polls until the lock is free or ctx is done.
func (l *Lock) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	if l.Held() {
		l.log.Info("waiting for acquisition to finish", "path", l.path, "poll", interval)
	}
	for l.Held() {
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (l *Lock) stale() bool {
	if l.ttl <= 0 {
		return false
	}
	fi, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return l.now().Sub(fi.ModTime()) >= l.ttl
}
