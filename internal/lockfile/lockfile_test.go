package lockfile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IshaanNene/phonegoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parsing.lock")
	l := New(path, 0, testLogger)

	if l.Held() {
		t.Fatal("fresh lock reported held")
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !l.Held() {
		t.Error("lock not held after Acquire")
	}

	other := New(path, 0, testLogger)
	if err := other.Acquire(); !errors.Is(err, types.ErrLocked) {
		t.Errorf("second Acquire = %v, want ErrLocked", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if l.Held() {
		t.Error("lock still held after Release")
	}
	if err := l.Release(); err != nil {
		t.Errorf("double Release: %v", err)
	}
}

func TestStaleLockTakenOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parsing.lock")
	os.WriteFile(path, []byte("old"), 0o644)
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(path, old, old)

	l := New(path, time.Hour, testLogger)
	if l.Held() {
		t.Error("stale lock reported held")
	}
	if err := l.Acquire(); err != nil {
		t.Errorf("Acquire over stale lock: %v", err)
	}
}

func TestWaitReturnsWhenReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parsing.lock")
	l := New(path, 0, testLogger)
	l.Acquire()

	go func() {
		time.Sleep(30 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := New(path, 0, testLogger).Wait(ctx, 10*time.Millisecond); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestWaitCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parsing.lock")
	l := New(path, 0, testLogger)
	l.Acquire()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
}
