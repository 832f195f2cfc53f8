package shared

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default [Sleeper] backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
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

// RetryPolicy describes the bounded retry loop shared by the token refresher and the now-playing fetcher.
//
// Rate-limited attempts wait for the provider's Retry-After instead of the exponential backoff;
// every other retryable failure waits BaseDelay * 2^attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       Sleeper
	Logger      *log.Logger
}

// DefaultRetryPolicy allows 3 attempts with a 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// MaxRetryAttempts bounds retry.max_attempts and the backoff exponent.
const MaxRetryAttempts = 10

// Backoff returns the wait after the given 1-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	factor := time.Duration(1) << uint(min(max(attempt, 0), MaxRetryAttempts))
	if base > math.MaxInt64/factor {
		return time.Duration(math.MaxInt64)
	}
	return base * factor
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out.
//
// The last error is returned unchanged so callers can classify it.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) || attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		if d, ok := RetryAfterOf(err); ok {
			wait = d
		}
		if p.Logger != nil {
			p.Logger.Debug("retrying", "attempt", attempt, "wait", wait, "error", err)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return lastErr
}
