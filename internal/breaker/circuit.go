package breaker

import (
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // healthy: requests flow
	StateOpen                  // unhealthy: requests blocked
	StateHalfOpen              // probing: trial requests allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings are the tunables of one breaker.
type Settings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

func (s Settings) normalized() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	if s.HalfOpenMaxCalls <= 0 {
		s.HalfOpenMaxCalls = 1
	}
	return s
}

// TransitionFunc observes state changes. It is called with the breaker lock
// held and must not call back into the breaker.
type TransitionFunc func(name string, from, to State)

// CircuitBreaker isolates one downstream dependency.
type CircuitBreaker struct {
	mu sync.Mutex

	name        string
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	settings     Settings
	now          func() time.Time
	onTransition TransitionFunc
}

// NewCircuitBreaker creates a closed circuit breaker with the given settings.
func NewCircuitBreaker(name string, settings Settings) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		state:    StateClosed,
		settings: settings.normalized(),
		now:      time.Now,
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current circuit state without side effects.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns failure and success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

// Configure swaps in new settings. Counters and state are preserved.
func (cb *CircuitBreaker) Configure(settings Settings) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.settings = settings.normalized()
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onTransition != nil {
		cb.onTransition(cb.name, from, to)
	}
}

// CanExecute reports whether a call may be attempted. An open circuit whose
// recovery timeout has elapsed moves to half-open and admits trial calls
// until half_open_max_calls successes close it or one failure reopens it.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.settings.RecoveryTimeout {
			cb.successes = 0
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.HalfOpenMaxCalls {
			cb.failures = 0
			cb.successes = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.settings.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.successes = 0
		cb.transition(StateOpen)
	}
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.transition(StateClosed)
}
