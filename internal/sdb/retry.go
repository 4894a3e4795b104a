package sdb

import (
	"context"
	"fmt"
	"time"

	"github.com/ctagard/sdb-dap/internal/config"
)

// RetryPolicy bounds the liveness probe. Attempts counts every try,
// including the first.
type RetryPolicy struct {
	Attempts    int
	Backoff     config.BackoffKind
	Interval    time.Duration
	MaxInterval time.Duration
}

// DefaultRetryPolicy is five attempts with exponential backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:    5,
		Backoff:     config.BackoffExponential,
		Interval:    200 * time.Millisecond,
		MaxInterval: 2 * time.Second,
	}
}

// Delay returns the wait before the given retry (1 is the first retry)
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := p.Interval
	if p.Backoff == config.BackoffExponential {
		for i := 1; i < retry; i++ {
			d *= 2
			if p.MaxInterval > 0 && d >= p.MaxInterval {
				return p.MaxInterval
			}
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Do calls fn until it succeeds, the attempts are used up, or ctx ends.
// The returned error wraps the last failure.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		// Wait before retry (skip on first attempt)
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
