package breaker

import (
	"testing"
	"time"

	"github.com/af-corp/hearth/internal/config"
)

func TestRegistry_LazyCreation(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 3, RecoveryTimeout: 5 * time.Second})
	if !r.CanExecute("weather") {
		t.Error("expected new dependency to be available")
	}
	if r.Get("weather") != r.Get("weather") {
		t.Error("expected the same breaker instance for repeated lookups")
	}
}

func TestRegistry_IndependentDependencies(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTimeout: 5 * time.Second})

	r.RecordFailure("weather")

	if r.CanExecute("weather") {
		t.Error("expected weather to be unavailable")
	}
	if !r.CanExecute("sports") {
		t.Error("expected sports to be available (independent)")
	}
}

func TestRegistry_RecoversThroughHalfOpen(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 1},
		WithClock(clock.Now))

	r.RecordFailure("weather")
	if r.CanExecute("weather") {
		t.Fatal("expected weather to be unavailable")
	}

	clock.Advance(time.Second)
	if !r.CanExecute("weather") {
		t.Fatal("expected weather to admit a trial call")
	}
	r.RecordSuccess("weather")
	if r.Get("weather").State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", r.Get("weather").State())
	}
}

func TestRegistry_ConfigureAppliesOverrides(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	r.Get("web_search")

	r.Configure(Settings{FailureThreshold: 5, RecoveryTimeout: time.Minute},
		map[string]Settings{"web_search": {FailureThreshold: 1}})

	r.RecordFailure("web_search")
	if r.CanExecute("web_search") {
		t.Error("expected override threshold of 1 to open the circuit")
	}

	r.RecordFailure("weather")
	if !r.CanExecute("weather") {
		t.Error("expected default threshold to keep weather closed")
	}
}

func TestRegistry_TransitionHook(t *testing.T) {
	var opened []string
	r := NewRegistry(Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		WithTransitionHook(func(name string, from, to State) {
			if to == StateOpen {
				opened = append(opened, name)
			}
		}))

	r.RecordFailure("flights")
	if len(opened) != 1 || opened[0] != "flights" {
		t.Errorf("expected [flights], got %v", opened)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	r.RecordFailure("weather")
	r.RecordFailure("weather")
	r.Get("dining")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(snap))
	}
	if snap[0].Name != "dining" || snap[1].Name != "weather" {
		t.Errorf("expected sorted names, got %s, %s", snap[0].Name, snap[1].Name)
	}
	if snap[1].State != "open" || snap[1].Failures != 2 {
		t.Errorf("expected weather open with 2 failures, got %+v", snap[1])
	}
}

func TestSettingsFromConfig(t *testing.T) {
	defaults, overrides := SettingsFromConfig(config.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
		Overrides: map[string]config.CircuitBreakerTuning{
			"llm": {FailureThreshold: 2},
		},
	})
	if defaults.FailureThreshold != 5 || defaults.HalfOpenMaxCalls != 2 {
		t.Errorf("unexpected defaults: %+v", defaults)
	}
	llm := overrides["llm"]
	if llm.FailureThreshold != 2 || llm.RecoveryTimeout != 30*time.Second || llm.HalfOpenMaxCalls != 2 {
		t.Errorf("expected override to inherit unset fields, got %+v", llm)
	}
}
