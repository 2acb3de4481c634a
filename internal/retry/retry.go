// Package retry implements the bounded exponential backoff policy shared by
// the classification engine and the bookmark router.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// maxBackoff bounds a single wait when MaxDelay is unset.
const maxBackoff = 24 * time.Hour

// Policy holds retry configuration for external API calls.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Multiplier is applied to the delay after every failed attempt.
	Multiplier float64

	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// Jitter is the +/- fraction of randomisation applied to each wait.
	Jitter float64

	// Retryable decides whether an error is worth another attempt. A nil
	// classifier retries every error.
	Retryable func(error) bool

	// OnRetry, when set, is called before sleeping.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the defaults used for model and bookmark calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      0.25,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.wait(ctx, delay); err != nil {
			return attempt, err
		}
	}

	return attempts, lastErr
}

// Backoff computes the wait after the given failed attempt. The growth is
// capped in float64 so large attempt numbers saturate at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	limit := float64(maxBackoff)
	if p.MaxDelay > 0 {
		limit = float64(p.MaxDelay)
	}

	backoff := float64(p.BaseDelay)
	for i := 1; i < attempt && backoff < limit; i++ {
		backoff *= p.Multiplier
	}
	backoff = min(backoff, limit)

	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff <= 0 {
		return 0
	}
	return time.Duration(min(backoff, float64(maxBackoff)))
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
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

// WithoutDelay returns a copy of p that never sleeps between attempts.
func (p Policy) WithoutDelay() Policy {
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}
	return p
}
