package executor

import (
	"errors"
	"fmt"
	"time"
)

// NoRetry marks an error as non-retryable.
//
// Callbacks can wrap validation errors or other permanent failures with
// NoRetry so the executor won't waste attempts on them.
//
// Example:
//
//	return executor.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RateLimited marks an error as a quota/rate-limit signal from the upstream
// API. The executor treats it as transient; monitor callbacks use the marker
// to decide when to rotate to the next credential.
//
// After carries an optional server-provided retry hint (e.g. from an HTTP 429
// Retry-After header); zero means no hint. When present, the hint replaces the
// computed backoff delay for the next attempt.
func RateLimited(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return rateLimitedError{err: err, after: after}
}

// IsRateLimited reports whether err carries the rate-limit marker.
func IsRateLimited(err error) bool {
	var e rateLimitedError
	return errors.As(err, &e)
}

// RetryAfterHint extracts the server-provided delay hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e rateLimitedError
	if errors.As(err, &e) && e.after > 0 {
		return e.after, true
	}
	return 0, false
}

type rateLimitedError struct {
	err   error
	after time.Duration
}

func (e rateLimitedError) Error() string { return fmt.Sprintf("rate-limited: %v", e.err) }
func (e rateLimitedError) Unwrap() error { return e.err }

// ExhaustedError is returned once all retry attempts failed. The per-slot
// handler records it as a failure; the entity stays scheduled for its next
// natural slot.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
