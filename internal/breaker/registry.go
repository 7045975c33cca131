package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/af-corp/hearth/internal/config"
)

// Registry holds one circuit breaker per downstream dependency for the
// lifetime of the process.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  Settings
	overrides map[string]Settings

	now          func() time.Time
	onTransition TransitionFunc
}

type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTransitionHook observes every state change of every breaker.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(r *Registry) { r.onTransition = fn }
}

// NewRegistry creates a registry whose breakers start from defaults.
func NewRegistry(defaults Settings, opts ...Option) *Registry {
	r := &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults.normalized(),
		overrides: make(map[string]Settings),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SettingsFromConfig converts runtime config into default and per-dependency settings.
func SettingsFromConfig(cfg config.CircuitBreakerConfig) (Settings, map[string]Settings) {
	defaults := Settings{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
	}
	overrides := make(map[string]Settings, len(cfg.Overrides))
	for name, o := range cfg.Overrides {
		s := defaults
		if o.FailureThreshold > 0 {
			s.FailureThreshold = o.FailureThreshold
		}
		if o.RecoveryTimeout > 0 {
			s.RecoveryTimeout = o.RecoveryTimeout
		}
		if o.HalfOpenMaxCalls > 0 {
			s.HalfOpenMaxCalls = o.HalfOpenMaxCalls
		}
		overrides[name] = s
	}
	return defaults, overrides
}

func (r *Registry) settingsFor(name string) Settings {
	if s, ok := r.overrides[name]; ok {
		return s.normalized()
	}
	return r.defaults
}

// Get returns (or lazily creates) the circuit breaker for a dependency.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, r.settingsFor(name))
	cb.now = r.now
	cb.onTransition = r.onTransition
	r.breakers[name] = cb
	return cb
}

// Configure applies new tunables to the registry and every existing breaker.
func (r *Registry) Configure(defaults Settings, overrides map[string]Settings) {
	r.mu.Lock()
	r.defaults = defaults.normalized()
	r.overrides = make(map[string]Settings, len(overrides))
	for k, v := range overrides {
		r.overrides[k] = v
	}
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	for _, cb := range breakers {
		r.mu.RLock()
		s := r.settingsFor(cb.name)
		r.mu.RUnlock()
		cb.Configure(s)
	}
}

// CanExecute returns true if the dependency's breaker allows a call.
func (r *Registry) CanExecute(name string) bool {
	return r.Get(name).CanExecute()
}

// RecordSuccess records a successful call for the dependency.
func (r *Registry) RecordSuccess(name string) {
	r.Get(name).RecordSuccess()
}

// RecordFailure records a failed call for the dependency.
func (r *Registry) RecordFailure(name string) {
	r.Get(name).RecordFailure()
}

// Status is a point-in-time view of one breaker.
type Status struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	Failures         int    `json:"failures"`
	Successes        int    `json:"successes"`
	FailureThreshold int    `json:"failure_threshold"`
	RecoveryTimeout  string `json:"recovery_timeout"`
	HalfOpenMaxCalls int    `json:"half_open_max_calls"`
}

// Snapshot lists every known breaker sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(breakers))
	for _, cb := range breakers {
		cb.mu.Lock()
		out = append(out, Status{
			Name:             cb.name,
			State:            cb.state.String(),
			Failures:         cb.failures,
			Successes:        cb.successes,
			FailureThreshold: cb.settings.FailureThreshold,
			RecoveryTimeout:  cb.settings.RecoveryTimeout.String(),
			HalfOpenMaxCalls: cb.settings.HalfOpenMaxCalls,
		})
		cb.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
