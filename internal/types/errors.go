package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrMaxRetries        = errors.New("max retries exceeded")
	ErrEmptyPhone        = errors.New("empty phone in API response")
	ErrMalformedResponse = errors.New("malformed API response")
	ErrNoPhone           = errors.New("phone not found")
	ErrNoListings        = errors.New("no listings for selected categories")
	ErrLocked            = errors.New("acquisition lock is held")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ParseError wraps errors that occur during extraction.
type ParseError struct {
	URL      string
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s (selector=%q): %v", e.URL, e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during persistence or export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SettingsError reports an invalid value for a named setting.
type SettingsError struct {
	Key   string
	Value string
	Err   error
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("setting %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *SettingsError) Unwrap() error { return e.Err }
