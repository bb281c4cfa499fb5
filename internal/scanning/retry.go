package scanning

import (
	"context"
	"time"
)

const (
	defaultMaxAttemptsPerCredential = 2
	defaultRateLimitBackoff         = 15 * time.Second
)

// RetryPolicy decides how often one credential is tried before rotating to
// the next.
type RetryPolicy struct {
	// MaxAttemptsPerCredential counts every try, the first one included.
	MaxAttemptsPerCredential int
	// Backoff is slept before retrying the same credential.
	Backoff time.Duration
	// Retryable reports whether the same credential should be tried again.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries a rate-limited credential once after 15s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttemptsPerCredential: defaultMaxAttemptsPerCredential,
		Backoff:                  defaultRateLimitBackoff,
		Retryable:                IsRateLimited,
	}
}

// withDefaults clamps to at least one try per credential and a non-negative
// wait. Rate limits are retried when no condition is set.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttemptsPerCredential < 1 {
		p.MaxAttemptsPerCredential = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsRateLimited
	}
	return p
}

// shouldRetry reports whether attempt (1-based) may be followed by another
// try on the same credential.
func (p RetryPolicy) shouldRetry(attempt int, err error) bool {
	return attempt < p.MaxAttemptsPerCredential && p.Retryable(err)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
