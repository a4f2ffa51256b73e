package library

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultRetryAttempts = 4
	defaultRetryDelay    = 20 * time.Millisecond
	defaultRetryJitter   = 0.3
)

var (
	ErrInvalidRetryAttempts = errors.New("retry attempts must be positive")
	ErrNegativeRetryDelay   = errors.New("retry delay must not be negative")
	ErrInvalidRetryJitter   = errors.New("retry jitter must be between 0.0 and 1.0")
)

type retryConfig struct {
	attempts int
	delay    time.Duration
	jitter   float64
}

type RetryOption func(*retryConfig) error

func WithRetryAttempts(n int) RetryOption {
	return func(c *retryConfig) error {
		if n <= 0 {
			return ErrInvalidRetryAttempts
		}
		c.attempts = n
		return nil
	}
}

// WithRetryDelay sets the first backoff. Later ones double: d, 2d, 4d...
func WithRetryDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) error {
		if d < 0 {
			return ErrNegativeRetryDelay
		}
		c.delay = d
		return nil
	}
}

func WithRetryJitter(f float64) RetryOption {
	return func(c *retryConfig) error {
		if f < 0 || f > 1 {
			return ErrInvalidRetryJitter
		}
		c.jitter = f
		return nil
	}
}

// Retry runs fn until it succeeds, fails with an error that is not worth retrying,
// or runs out of attempts. Busy errors are retried with exponential backoff;
// a Conflict is retried once, since the competing request has usually finished by then.
func Retry(ctx context.Context, fn func(ctx context.Context) error, opts ...RetryOption) error {
	c := &retryConfig{
		attempts: defaultRetryAttempts,
		delay:    defaultRetryDelay,
		jitter:   defaultRetryJitter,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}

	var lastErr error
	conflicts := 0
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			backoff := c.delay * time.Duration(1<<(attempt-1))
			backoff += time.Duration(rand.Float64() * float64(backoff) * c.jitter)

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		switch KindOf(lastErr) {
		case KindBusy:
		case KindConflict:
			conflicts++
			if conflicts > 1 || !IsRetryable(lastErr) {
				return lastErr
			}
		default:
			return lastErr
		}
	}
	return lastErr
}

// IsRetryable reports whether the caller may try the same request again.
// Only lock contention and races at the loan uniqueness boundary qualify.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrResponseBusy):
		return true
	case errors.Is(err, ErrResponseLoanConflict):
		return true
	}
	return false
}
