// Package llm - retry.go wraps reasoning-service calls with bounded
// exponential-backoff retry on transient failure classes.
package llm

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/clinsim/osce-grader/internal/types"
)

// Invoker retries a call on transient upstream failures. A call is
// attempted exactly MaxRetries+1 times before the last error surfaces.
type Invoker struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// sleep is replaceable for tests; nil means real sleeping.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultInvoker returns an Invoker with the standard retry policy.
func DefaultInvoker() *Invoker {
	return &Invoker{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// NewInvoker creates an Invoker with an explicit retry ceiling.
func NewInvoker(maxRetries int, baseDelay time.Duration) *Invoker {
	return &Invoker{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   30 * time.Second,
	}
}

// WithSleeper replaces the sleep function. Tests use this to avoid real
// delays.
func (inv *Invoker) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Invoker {
	inv.sleep = sleep
	return inv
}

// Do invokes fn, retrying on transient errors with exponential backoff and
// jitter. Retry-after hints from the upstream response take precedence over
// the computed backoff.
func (inv *Invoker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= inv.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := inv.backoff(attempt, lastErr)
			if err := inv.doSleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoff computes the delay before the given attempt (1-based).
func (inv *Invoker) backoff(attempt int, lastErr error) time.Duration {
	if hint := retryAfterHint(lastErr); hint > 0 {
		return hint
	}

	delay := inv.BaseDelay << (attempt - 1)
	if inv.MaxDelay > 0 && delay > inv.MaxDelay {
		delay = inv.MaxDelay
	}
	// Full jitter keeps concurrent retries from synchronizing.
	return time.Duration(rand.Float64() * float64(delay))
}

func (inv *Invoker) doSleep(ctx context.Context, d time.Duration) error {
	if inv.sleep != nil {
		return inv.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether err is a retryable upstream failure:
// a rate limit or server error from the provider, or an explicitly
// transient-tagged error.
func IsTransient(err error) bool {
	var transient *types.UpstreamTransientError
	if errors.As(err, &transient) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	return false
}

// retryAfterHint extracts an upstream retry-after hint, if any.
func retryAfterHint(err error) time.Duration {
	var transient *types.UpstreamTransientError
	if errors.As(err, &transient) && transient.RetryAfterSec > 0 {
		return time.Duration(transient.RetryAfterSec * float64(time.Second))
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if v := apiErr.Header.Get("Retry-After"); v != "" {
			if secs, perr := strconv.Atoi(v); perr == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}

	return 0
}
