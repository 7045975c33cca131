// Package events publishes pipeline observability events. Sinks never fail
// a request: errors are logged and dropped.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Event types.
const (
	TypeReceived   = "query_received"
	TypeClassified = "classified"
	TypeCacheHit   = "cache_hit"
	TypeBackend    = "backend_call"
	TypeToken      = "token"
	TypeValidated  = "validated"
	TypeDevice     = "device_command"
	TypeFinalized  = "finalized"
	TypeDiscovery  = "discovery_scheduled"
)

// Event is one observation about a request.
type Event struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id,omitempty"`
	Node      string         `json:"node,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink receives events. Emit must not block on the network.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// LogSink writes events to a slog logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"type", e.Type, "request_id", e.RequestID}
	if e.Node != "" {
		attrs = append(attrs, "node", e.Node)
	}
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	logger.DebugContext(ctx, "pipeline event", attrs...)
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

type sinkKey struct{}

// ContextWithSink attaches a request-scoped sink that receives the request's
// events in addition to the process-wide sink.
func ContextWithSink(ctx context.Context, s Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, s)
}

// SinkFromContext returns the request-scoped sink, or nil.
func SinkFromContext(ctx context.Context) Sink {
	s, _ := ctx.Value(sinkKey{}).(Sink)
	return s
}
