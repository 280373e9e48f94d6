package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

const retryJitterFactor = 0.25

// RetryPolicy bounds the retry loop for one operation category.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first call
	MinWait     time.Duration // backoff floor
	MaxWait     time.Duration // backoff ceiling
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MinWait <= 0 {
		p.MinWait = time.Second
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	return p
}

// retryDo runs fn up to policy.MaxAttempts times, backing off between
// attempts. Only transient errors are retried; the last error is returned
// once attempts are exhausted or the context is done.
func retryDo(ctx context.Context, name string, policy RetryPolicy, fn func(context.Context) error) error {
	policy = policy.normalize()
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}

		delay := backoff(attempt, policy)
		slog.Warn("retrying operation", "operation", name, "attempt", attempt, "max_attempts", policy.MaxAttempts, "delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// backoff computes the exponential delay for the given attempt with ±25%
// jitter applied, clamped to the policy bounds.
func backoff(attempt int, p RetryPolicy) time.Duration {
	delay := float64(p.MinWait) * math.Pow(2, float64(attempt-1))
	if max := float64(p.MaxWait); delay > max {
		delay = max
	}
	jitter := delay * retryJitterFactor
	delay += (rand.Float64()*2 - 1) * jitter
	if delay < float64(p.MinWait) {
		delay = float64(p.MinWait)
	}
	return time.Duration(delay)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so the retry loop will treat it as retryable.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should trigger a retry. Application
// logic errors are never retried; only network-shaped failures and errors
// explicitly marked transient qualify.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
