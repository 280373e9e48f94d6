package resilience

import (
	"context"
	"time"
)

// Category groups operations so a failing dependency in one category
// cannot starve another. Each {category}:{name} pair gets its own breaker.
type Category string

const (
	CategoryStorage   Category = "storage"
	CategoryWorker    Category = "worker"
	CategoryAPI       Category = "api"
	CategoryScheduler Category = "scheduler"
)

// Config enables and tunes the resilience layer. When Enabled is false
// the Guard passes calls straight through with no added behavior.
type Config struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	Retry            map[Category]RetryPolicy
}

// DefaultRetryPolicies returns the per-category retry defaults.
func DefaultRetryPolicies() map[Category]RetryPolicy {
	return map[Category]RetryPolicy{
		CategoryStorage:   {MaxAttempts: 3, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		CategoryWorker:    {MaxAttempts: 3, MinWait: time.Second, MaxWait: 10 * time.Second},
		CategoryAPI:       {MaxAttempts: 3, MinWait: time.Second, MaxWait: 30 * time.Second},
		CategoryScheduler: {MaxAttempts: 3, MinWait: time.Second, MaxWait: 10 * time.Second},
	}
}

// Guard wraps downstream calls with retry inside a circuit breaker. A nil
// or disabled Guard is a passthrough.
type Guard struct {
	enabled  bool
	registry *Registry
	policies map[Category]RetryPolicy
}

// NewGuard builds a Guard from config. The breaker registry is owned by
// the Guard; tests can reach it through Registry().
func NewGuard(cfg Config) *Guard {
	policies := DefaultRetryPolicies()
	for cat, p := range cfg.Retry {
		policies[cat] = p
	}
	return &Guard{
		enabled: cfg.Enabled,
		registry: NewRegistry(BreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: cfg.SuccessThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout,
		}),
		policies: policies,
	}
}

// Registry exposes the breaker registry, primarily for tests and
// diagnostics.
func (g *Guard) Registry() *Registry {
	if g == nil {
		return nil
	}
	return g.registry
}

// Do runs fn for the named operation. The retry loop wraps the inner
// call; the breaker wraps the whole retry loop, so exhausted retries
// count as one breaker failure and an open circuit skips retrying
// entirely.
func (g *Guard) Do(ctx context.Context, cat Category, name string, fn func(context.Context) error) error {
	if g == nil || !g.enabled {
		return fn(ctx)
	}
	breaker := g.registry.GetOrCreate(string(cat) + ":" + name)
	policy := g.policies[cat]
	return breaker.Do(func() error {
		return retryDo(ctx, string(cat)+":"+name, policy, fn)
	})
}

// DoOnce runs fn under the operation's breaker without the retry loop.
// Used for streaming computations, where replaying a partially delivered
// output sequence is not safe.
func (g *Guard) DoOnce(ctx context.Context, cat Category, name string, fn func(context.Context) error) error {
	if g == nil || !g.enabled {
		return fn(ctx)
	}
	breaker := g.registry.GetOrCreate(string(cat) + ":" + name)
	return breaker.Do(func() error {
		return fn(ctx)
	})
}

// Call is the value-returning form of Guard.Do.
func Call[T any](g *Guard, ctx context.Context, cat Category, name string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, cat, name, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	return out, err
}
