package util

import (
	"context"
	"errors"
	"time"
)

// RetryWithContext calls fn up to maxTries times until it returns a nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryTransient(ctx, RetryOptions{MaxTries: maxTries}, fn)
}

// RetryOptions configures RetryTransient.
//
// Retryable decides whether an error is worth another attempt; nil means
// every error is. Backoff doubles after each failed attempt and is capped
// at MaxBackoff.
type RetryOptions struct {
	MaxTries   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Retryable  func(error) bool
}

// RetryTransient is RetryWithContext with exponential backoff and an error
// filter. Non-retryable errors and context errors are returned immediately.
func RetryTransient[T any](ctx context.Context, opts RetryOptions, fn func(context.Context) (T, error)) (T, error) {
	maxTries := opts.MaxTries
	if maxTries <= 0 {
		maxTries = 1
	}
	wait := opts.Backoff

	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		if i == maxTries-1 || wait <= 0 {
			continue
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		wait *= 2
		if opts.MaxBackoff > 0 && wait > opts.MaxBackoff {
			wait = opts.MaxBackoff
		}
	}
	return zero, lastErr
}
