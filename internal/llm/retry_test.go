package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/clinsim/osce-grader/internal/types"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestInvoker_SuccessFirstAttempt(t *testing.T) {
	inv := NewInvoker(3, time.Millisecond).WithSleeper(noSleep)

	calls := 0
	err := inv.Do(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvoker_RetriesTransientUntilExhausted(t *testing.T) {
	inv := NewInvoker(3, time.Millisecond).WithSleeper(noSleep)

	calls := 0
	err := inv.Do(context.Background(), func(_ context.Context) error {
		calls++
		return &types.UpstreamTransientError{Message: "rate limited"}
	})

	require.Error(t, err)
	// MaxRetries of 3 means exactly 4 attempts.
	assert.Equal(t, 4, calls)

	var transient *types.UpstreamTransientError
	assert.True(t, errors.As(err, &transient))
}

func TestInvoker_RecoversMidway(t *testing.T) {
	inv := NewInvoker(3, time.Millisecond).WithSleeper(noSleep)

	calls := 0
	err := inv.Do(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return &types.UpstreamTransientError{Message: "overloaded"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestInvoker_NonTransientFailsImmediately(t *testing.T) {
	inv := NewInvoker(3, time.Millisecond).WithSleeper(noSleep)

	calls := 0
	err := inv.Do(context.Background(), func(_ context.Context) error {
		calls++
		return fmt.Errorf("bad prompt")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvoker_GoogleAPIRateLimitIsTransient(t *testing.T) {
	inv := NewInvoker(1, time.Millisecond).WithSleeper(noSleep)

	calls := 0
	err := inv.Do(context.Background(), func(_ context.Context) error {
		calls++
		return &googleapi.Error{Code: 429, Message: "quota exceeded"}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestInvoker_RetryAfterHintOverridesBackoff(t *testing.T) {
	inv := NewInvoker(1, time.Millisecond)

	var slept []time.Duration
	inv.WithSleeper(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	_ = inv.Do(context.Background(), func(_ context.Context) error {
		return &types.UpstreamTransientError{Message: "slow down", RetryAfterSec: 7}
	})

	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
}

func TestInvoker_RetryAfterHeaderHonored(t *testing.T) {
	inv := NewInvoker(1, time.Millisecond)

	var slept []time.Duration
	inv.WithSleeper(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	header := http.Header{}
	header.Set("Retry-After", "5")
	_ = inv.Do(context.Background(), func(_ context.Context) error {
		return &googleapi.Error{Code: 503, Header: header}
	})

	require.Len(t, slept, 1)
	assert.Equal(t, 5*time.Second, slept[0])
}

func TestInvoker_CanceledSleepAborts(t *testing.T) {
	inv := NewInvoker(3, time.Millisecond)
	inv.WithSleeper(func(_ context.Context, _ time.Duration) error {
		return context.Canceled
	})

	calls := 0
	err := inv.Do(context.Background(), func(_ context.Context) error {
		calls++
		return &types.UpstreamTransientError{Message: "transient"}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&types.UpstreamTransientError{Message: "x"}))
	assert.True(t, IsTransient(&googleapi.Error{Code: 500}))
	assert.True(t, IsTransient(&googleapi.Error{Code: 429}))
	assert.False(t, IsTransient(&googleapi.Error{Code: 404}))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(&types.UpstreamFatalError{Message: "x"}))

	// Wrapped transient errors still classify.
	wrapped := fmt.Errorf("call failed: %w", &types.UpstreamTransientError{Message: "x"})
	assert.True(t, IsTransient(wrapped))
}
