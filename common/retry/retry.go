// Package retry runs an operation until it succeeds, reports a permanent
// failure, or exhausts its attempt budget.
//
//	err := retry.Do(ctx, retry.Policy{Attempts: 10, Delay: 200 * time.Millisecond}, func(ctx context.Context, attempt int) error {
//	    return probe(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how often and how long Do keeps trying.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values
	// below 1 mean a single call.
	Attempts int
	// Delay is the wait between attempts.
	Delay time.Duration
	// Backoff multiplies Delay after each failed attempt. Values below 1 keep
	// the delay constant.
	Backoff float64
	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it returns nil, a Permanent error, the policy runs out of
// attempts, or ctx is done. The last error is returned; a context error is
// joined to it.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(last, err)
		}

		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		slog.Debug("retry: attempt failed", "attempt", attempt, "of", attempts, "delay", delay, "err", last)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(last, ctx.Err())
			case <-timer.C:
			}
		}
		if p.Backoff > 1 {
			delay = time.Duration(float64(delay) * p.Backoff)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return last
}
