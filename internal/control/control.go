package control

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a transient failure is retried and how long
// to wait between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 4 attempts with 1s, 2s, 4s waits between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Backoff computes the wait that follows the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	d := base << shift
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether another attempt may follow the given failed
// attempt (1-based). The final attempt is never followed by a wait.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}

// ErrRetriesExhausted wraps the last transient error once every attempt
// of a RetryPolicy has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Retry calls fn until it succeeds, returns an error transient rejects, or
// the policy runs out of attempts. onRetry, when not nil, sees each wait
// before it starts. A nil sleep means Sleep.
func Retry(ctx context.Context, p RetryPolicy, sleep SleepFunc, transient func(error) bool,
	onRetry func(attempt int, wait time.Duration, err error), fn func(attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil || !transient(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry wait interrupted: %w", err)
		}
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
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
