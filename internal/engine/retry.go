package engine

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures bounded exponential backoff around one async
// operation.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts, including the first (0 or 1 = no retries)
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Cap on the computed delay
	Multiplier  float64       // Exponential growth factor (e.g. 2.0)
	Jitter      bool          // Add 0-20% random variation to delays
	// OnRetry, when set, observes each failed attempt before the backoff
	// sleep. attempt is 1-based.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns the retry configuration used for LLM calls
// unless the caller overrides it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// delayFor computes the backoff delay after the k-th failed attempt
// (0-based): min(MaxDelay, BaseDelay * Multiplier^k).
func (p RetryPolicy) delayFor(k int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(k))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}

// Retry executes fn up to MaxAttempts times with exponential backoff.
// Non-retryable errors (see IsRetryable) short-circuit immediately;
// after the final attempt the last error is wrapped in a
// RetriesExhaustedError carrying the attempt count.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		delay := policy.delayFor(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, &RetriesExhaustedError{Attempts: maxAttempts, LastCause: lastErr}
}
