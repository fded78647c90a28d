package aisdk

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy bounds adapter-internal retries of rate limited and warming
// up requests.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Delay is the fixed pause between tries.
	Delay time.Duration

	// MaxRetryAfter caps a provider supplied Retry-After hint. Hints above
	// it are replaced by Delay.
	MaxRetryAfter time.Duration
}

// DefaultRetryPolicy returns the policy adapters use when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:      3,
		Delay:         2 * time.Second,
		MaxRetryAfter: 30 * time.Second,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. A warm-up error that survives every attempt is
// reported as ErrBackendUnavailable.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || i == attempts-1 {
			break
		}

		wait := p.delayFor(err)
		if logger != nil {
			logger.Debug("retrying request", "attempt", i+1, "wait", wait, "error", err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return FromContext("", ctx.Err())
		case <-t.C:
		}
	}

	var e *Error
	if errors.As(lastErr, &e) && e.Temporary {
		out := *e
		out.Kind = ErrBackendUnavailable
		out.Temporary = false
		return &out
	}
	return lastErr
}

func (p RetryPolicy) delayFor(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		if p.MaxRetryAfter == 0 || e.RetryAfter <= p.MaxRetryAfter {
			return e.RetryAfter
		}
	}
	return p.Delay
}
