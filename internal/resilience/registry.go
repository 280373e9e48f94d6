package resilience

import "sync"

// Registry holds one Breaker per distinct operation name. Breakers have
// independent lifecycles: a failing storage operation never affects an
// API operation's breaker. The registry is injected into the Guard rather
// than living as package-level state.
type Registry struct {
	mu       sync.RWMutex
	config   BreakerConfig
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share config.
func NewRegistry(config BreakerConfig) *Registry {
	return &Registry{
		config:   config.normalize(),
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker for name, creating it on first use.
func (r *Registry) GetOrCreate(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.config)
	r.breakers[name] = b
	return b
}

// Get returns the breaker for name, or nil if it was never created.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// ResetAll resets every breaker to closed. Test helper.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
