// Package resilience guards calls to volatile downstream operations with
// bounded retry and per-operation circuit breakers. The breaker wraps the
// entire retry loop: while the circuit is closed a transient failure is
// retried with backoff and counts as a single breaker failure only once
// all attempts are exhausted; while open, the retry loop is never entered.
package resilience

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of one circuit breaker.
type BreakerState int

const (
	// StateClosed - normal operation, calls pass through.
	StateClosed BreakerState = iota
	// StateOpen - failing, calls rejected without invoking the operation.
	StateOpen
	// StateHalfOpen - probing whether the downstream has recovered.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned when a call is rejected because the circuit is
// open. RetryAfter is the time remaining until a probe will be admitted.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %q, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// BreakerConfig configures breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	RecoveryTimeout  time.Duration // open duration before a probe is admitted
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	}
}

func (c BreakerConfig) normalize() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	return c
}

// Breaker is a per-operation circuit breaker. All transitions happen under
// the breaker's own lock; elapsed time uses the monotonic clock carried by
// time.Time, so wall-clock adjustments cannot corrupt the recovery timer.
//
// In the half-open state exactly one probe call is admitted at a time;
// concurrent callers are rejected until the probe completes.
type Breaker struct {
	name   string
	config BreakerConfig

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	openedAt     time.Time
	probing      bool
}

// NewBreaker creates a closed breaker for the named operation.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{
		name:   name,
		config: config.normalize(),
		state:  StateClosed,
	}
}

// Do executes fn through the breaker. If the circuit is open the
// operation is not invoked at all and an *OpenError is returned.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// allow admits or rejects a call given the current state. An open circuit
// whose recovery timeout has elapsed moves to half-open and admits the
// caller as the single probe.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		remaining := b.config.RecoveryTimeout - time.Since(b.openedAt)
		if remaining > 0 {
			return &OpenError{Name: b.name, RetryAfter: remaining}
		}
		b.setState(StateHalfOpen)
		b.successCount = 0
		b.probing = true
		return nil

	case StateHalfOpen:
		if b.probing {
			return &OpenError{Name: b.name, RetryAfter: 0}
		}
		b.probing = true
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", b.state)
	}
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.probing = false
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failureCount = 0
			b.successCount = 0
			slog.Info("circuit breaker closed", "breaker", b.name)
		}
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(StateOpen)
			b.openedAt = time.Now()
			slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failureCount)
		}

	case StateHalfOpen:
		// Any failure during a probe re-opens the circuit.
		b.probing = false
		b.successCount = 0
		b.setState(StateOpen)
		b.openedAt = time.Now()
		slog.Warn("circuit breaker reopened", "breaker", b.name)
	}
}

func (b *Breaker) setState(s BreakerState) {
	if b.state != s {
		slog.Debug("circuit breaker transition", "breaker", b.name, "from", b.state.String(), "to", s.String())
	}
	b.state = s
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset forces the breaker back to closed with counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.probing = false
	b.openedAt = time.Time{}
}
