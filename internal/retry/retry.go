// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration

	// Retryable classifies errors. Nil means every error except context
	// cancellation is retried.
	Retryable func(error) bool

	// Sleep defaults to SleepContext.
	Sleep Sleeper

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt ceiling is reached. It never sleeps after the final attempt.
// It returns the number of attempts made.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			return attempt, err
		}
	}

	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", types.ErrMaxRetries, maxAttempts, lastErr)
}

// DefaultRetryable retries everything except caller cancellation.
func DefaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// SleepContext sleeps for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
