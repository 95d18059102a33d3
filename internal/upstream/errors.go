package upstream

import (
	"errors"
	"fmt"
	"time"
)

// ErrUpstreamUnavailable signals that all transient retries were exhausted.
// Callers either substitute a flagged fallback snapshot set or surface the
// failure, depending on configuration.
var ErrUpstreamUnavailable = errors.New("upstream provider unavailable")

// AuthError indicates the credential exchange or refresh failed. The
// provider may still accept unauthenticated requests, so callers can
// proceed without a token after one refresh attempt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitedError indicates the provider returned 429. It is never
// retried internally; the retry-after hint is surfaced so callers can
// back off at a higher level.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("upstream rate limit hit, retry after %s", e.RetryAfter)
}

// TransientError indicates a retryable failure: a 5xx response or a
// request timeout. It is consumed by the fetch retry loop and only
// escapes wrapped in ErrUpstreamUnavailable once the budget is spent.
type TransientError struct {
	StatusCode int // 0 for network-level failures
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream transient failure (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("upstream transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
