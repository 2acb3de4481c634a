package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy().WithoutDelay()
	calls := 0

	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtCeiling(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy().WithoutDelay()
	policy.MaxAttempts = 4

	var delays []time.Duration
	policy.OnRetry = func(_ int, delay time.Duration, _ error) {
		delays = append(delays, delay)
	}

	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		return errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, attempts)
	assert.Len(t, delays, 3)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	permanent := errors.New("unauthorized")
	policy := DefaultPolicy().WithoutDelay()
	policy.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := DefaultPolicy()
	policy.BaseDelay = time.Hour
	policy.OnRetry = func(int, time.Duration, error) { cancel() }

	attempts, err := policy.Do(ctx, func(context.Context) error {
		return errFlaky
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	policy := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.Backoff(1))
	assert.Equal(t, 2*time.Second, policy.Backoff(2))
	assert.Equal(t, 4*time.Second, policy.Backoff(3))
	assert.Equal(t, 5*time.Second, policy.Backoff(4))
}

func TestBackoffSaturatesForLateAttempts(t *testing.T) {
	t.Parallel()

	policy := Policy{MaxAttempts: 100, BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
	for _, attempt := range []int{30, 34, 64, 99, 5000} {
		assert.Equal(t, 30*time.Second, policy.Backoff(attempt), "attempt %d", attempt)
	}

	unbounded := Policy{BaseDelay: time.Second, Multiplier: 10}
	assert.Equal(t, maxBackoff, unbounded.Backoff(400))
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	t.Parallel()

	policy := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, Jitter: 0.25}
	for i := 0; i < 100; i++ {
		d := policy.Backoff(1)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}
