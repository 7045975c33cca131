package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{&RateLimitError{Service: "weather", Mode: ModeGuest, Limit: 5}, "rate_limited"},
		{fmt.Errorf("dispatch: %w", &CircuitOpenError{Dependency: "weather"}), "circuit_open"},
		{&ClassificationError{Classifier: "llm", Err: errors.New("bad json")}, "classification"},
		{&ValidationError{Reason: "answer_denies_data"}, "validation"},
		{&ConfigUnavailableError{Source: "admin", Err: errors.New("refused")}, "config_unavailable"},
		{&UpstreamError{Backend: "sports", Timeout: true, Err: context.DeadlineExceeded}, "timeout"},
		{&UpstreamError{Backend: "sports", Err: errors.New("500")}, "upstream"},
		{&UpstreamError{Causes: []error{errors.New("500"), &UpstreamError{Backend: "news", Timeout: true}}}, "timeout"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestUpstreamError_AggregateUnwraps(t *testing.T) {
	timeout := &UpstreamError{Backend: "sports", Timeout: true, Err: context.DeadlineExceeded}
	open := &CircuitOpenError{Dependency: "weather"}
	agg := &UpstreamError{Causes: []error{timeout, open}}

	if !errors.Is(agg, context.DeadlineExceeded) {
		t.Error("expected aggregate to unwrap to DeadlineExceeded")
	}
	var coe *CircuitOpenError
	if !errors.As(agg, &coe) || coe.Dependency != "weather" {
		t.Error("expected aggregate to expose the circuit-open cause")
	}
}

func TestRateLimitError_NamesQuota(t *testing.T) {
	err := &RateLimitError{Service: "dining", Mode: ModeGuest, Limit: 3}
	want := "rate limit exceeded for dining (guest quota: 3/min)"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestEmergingIntent_AddSampleBounded(t *testing.T) {
	var e EmergingIntent
	for i := 0; i < 13; i++ {
		e.AddSample(fmt.Sprintf("q%d", i))
	}
	if len(e.SampleQueries) != MaxSampleQueries {
		t.Fatalf("expected %d samples, got %d", MaxSampleQueries, len(e.SampleQueries))
	}
	if e.SampleQueries[0] != "q3" || e.SampleQueries[9] != "q12" {
		t.Errorf("expected oldest samples dropped, got %v", e.SampleQueries)
	}
}

func TestQueryValidate(t *testing.T) {
	q := Query{Text: "  turn off the lights  "}
	if err := q.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Mode != ModeOwner {
		t.Errorf("expected default mode owner, got %s", q.Mode)
	}
	if q.Text != "turn off the lights" {
		t.Errorf("expected trimmed text, got %q", q.Text)
	}

	bad := []Query{
		{Text: ""},
		{Text: "hi", Mode: "admin"},
		{Text: "hi", Temperature: 3},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", b)
		}
	}
}
