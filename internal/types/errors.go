package types

import (
	"errors"
	"fmt"
)

// ClassificationError means a classifier was unavailable or returned garbage.
type ClassificationError struct {
	Classifier string
	Err        error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classifier %s: %v", e.Classifier, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// UpstreamError is a failed or timed-out backend call. Causes holds every
// branch error when several backends failed together.
type UpstreamError struct {
	Backend string
	Timeout bool
	Err     error
	Causes  []error
}

func (e *UpstreamError) Error() string {
	if len(e.Causes) > 0 {
		return fmt.Sprintf("all %d backends failed: %v", len(e.Causes), errors.Join(e.Causes...))
	}
	if e.Timeout {
		return fmt.Sprintf("backend %s timed out: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("backend %s failed: %v", e.Backend, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	if len(e.Causes) > 0 {
		return e.Causes
	}
	if e.Err == nil {
		return nil
	}
	return []error{e.Err}
}

// RateLimitError is a quota rejection for one (service, mode) pair.
type RateLimitError struct {
	Service string
	Mode    Mode
	Limit   int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s quota: %d/min)", e.Service, e.Mode, e.Limit)
}

// CircuitOpenError is returned without any network attempt.
type CircuitOpenError struct {
	Dependency string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s", e.Dependency)
}

// ValidationError flags an answer that contradicts or outruns the retrieved data.
type ValidationError struct {
	Reason  string
	Details []string
}

func (e *ValidationError) Error() string {
	return "answer failed validation: " + e.Reason
}

// ConfigUnavailableError means the config source could not be read and a
// stale snapshot is being served.
type ConfigUnavailableError struct {
	Source string
	Err    error
}

func (e *ConfigUnavailableError) Error() string {
	return fmt.Sprintf("config source %s unavailable: %v", e.Source, e.Err)
}

func (e *ConfigUnavailableError) Unwrap() error { return e.Err }

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	var (
		ce  *ClassificationError
		ue  *UpstreamError
		rle *RateLimitError
		coe *CircuitOpenError
		ve  *ValidationError
		cue *ConfigUnavailableError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &rle):
		return "rate_limited"
	case errors.As(err, &coe):
		return "circuit_open"
	case errors.As(err, &ce):
		return "classification"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &cue):
		return "config_unavailable"
	case errors.As(err, &ue):
		if ue.Timeout {
			return "timeout"
		}
		for _, c := range ue.Causes {
			if ErrorKind(c) == "timeout" {
				return "timeout"
			}
		}
		return "upstream"
	default:
		return "internal"
	}
}
