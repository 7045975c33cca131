// Package dispatch sends backend calls under breaker, rate-limit, timeout and
// fallback controls, runs batches in parallel and fuses their results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/af-corp/hearth/internal/backend"
	"github.com/af-corp/hearth/internal/breaker"
	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

const (
	defaultTimeout   = 12 * time.Second
	fallbackPriority = 99
)

// ErrUnknownBackend is wrapped when a route names a backend that is not registered.
var ErrUnknownBackend = errors.New("backend not registered")

// Call is one logical backend request.
type Call struct {
	Intent   string
	Text     string
	Mode     types.Mode
	Room     string
	Entities map[string]string
	// Backend pins the call to one backend with no fallback.
	Backend string
	// ForceFallback skips the primary and asks the fallback backend.
	ForceFallback bool
}

// Limiter is the quota check the dispatcher applies before each attempt.
type Limiter interface {
	Allow(ctx context.Context, service string, mode types.Mode) error
}

// Dispatcher holds no per-call state; one instance serves all requests.
type Dispatcher struct {
	backends *backend.Registry
	breakers *breaker.Registry
	limits   Limiter
	provider config.Provider
	selector *ToolSelector
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Dispatcher)

// WithToolSelector enables LLM tool selection for always_tool_calling routes.
func WithToolSelector(s *ToolSelector) Option {
	return func(d *Dispatcher) { d.selector = s }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(backends *backend.Registry, breakers *breaker.Registry, limits Limiter, provider config.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backends: backends,
		breakers: breakers,
		limits:   limits,
		provider: provider,
		logger:   slog.Default(),
		timeout:  defaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves the route for call.Intent and applies its strategy.
// Rate-limit rejections are returned as-is and never retried elsewhere.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*types.BackendResult, error) {
	rt := d.provider.Runtime()
	fallback := rt.FallbackBackend
	if fallback == "" {
		fallback = "web_search"
	}

	if call.Backend != "" {
		return d.attempt(ctx, call.Backend, call, priorityOf(rt, call.Backend))
	}
	if call.ForceFallback {
		res, err := d.attempt(ctx, fallback, call, priorityOf(rt, fallback))
		if res != nil {
			res.FallbackUsed = true
		}
		return res, err
	}

	route, ok := rt.Route(call.Intent)
	if !ok {
		return d.attempt(ctx, fallback, call, priorityOf(rt, fallback))
	}

	primary := route.Backend
	switch route.RoutingStrategy() {
	case types.StrategyDirectOnly:
		return d.attempt(ctx, primary, call, route.Priority)
	case types.StrategyAlwaysToolCalling:
		primary = d.selectTool(ctx, call, fallback)
	}

	res, err := d.attempt(ctx, primary, call, route.Priority)
	if err == nil && !res.Empty() {
		return res, nil
	}
	var rle *types.RateLimitError
	if errors.As(err, &rle) || primary == fallback || ctx.Err() != nil {
		return res, err
	}

	d.logger.Info("falling back",
		"intent", call.Intent,
		"primary", primary,
		"fallback", fallback,
		"reason", reason(err),
	)
	fres, ferr := d.attempt(ctx, fallback, call, priorityOf(rt, fallback))
	if ferr == nil {
		fres.FallbackUsed = true
		if !fres.Empty() || err != nil {
			return fres, nil
		}
		return res, nil
	}
	if err == nil {
		// The primary answered, just with nothing; that still stands.
		return res, nil
	}
	return nil, &types.UpstreamError{Causes: []error{err, ferr}}
}

func (d *Dispatcher) selectTool(ctx context.Context, call Call, fallback string) string {
	if d.selector == nil {
		return fallback
	}
	name, err := d.selector.Select(ctx, call.Text)
	if err != nil {
		d.logger.Warn("tool selection failed", "error", err, "fallback", fallback)
		return fallback
	}
	return name
}

// attempt is one gated call to one backend.
func (d *Dispatcher) attempt(ctx context.Context, name string, call Call, priority int) (*types.BackendResult, error) {
	b, ok := d.backends.Get(name)
	if !ok {
		return nil, &types.UpstreamError{Backend: name, Err: ErrUnknownBackend}
	}
	if !d.breakers.CanExecute(name) {
		d.metrics.RecordBackendCall(name, "circuit_open", 0)
		return nil, &types.CircuitOpenError{Dependency: name}
	}
	if d.limits != nil {
		if err := d.limits.Allow(ctx, name, call.Mode); err != nil {
			d.metrics.RecordBackendCall(name, "rate_limited", 0)
			return nil, err
		}
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.now()
	resp, err := b.Call(cctx, backend.Request{
		Query:    call.Text,
		Intent:   call.Intent,
		Entities: call.Entities,
		Mode:     call.Mode,
		Room:     call.Room,
	})
	elapsed := float64(d.now().Sub(start).Milliseconds())
	if err == nil {
		err = resp.Err()
	}

	if err != nil {
		timedOut := isTimeout(cctx, err)
		if ctx.Err() == nil {
			// Only the backend's own failures count against its breaker.
			d.breakers.RecordFailure(name)
		}
		outcome := "failure"
		if timedOut {
			outcome = "timeout"
		}
		d.metrics.RecordBackendCall(name, outcome, elapsed)
		d.logger.Warn("backend call failed", "backend", name, "intent", call.Intent, "timeout", timedOut, "error", err)
		return nil, &types.UpstreamError{Backend: name, Timeout: timedOut, Err: err}
	}

	d.breakers.RecordSuccess(name)
	res := d.toResult(resp, name, call.Intent, priority)
	outcome := "success"
	if res.Empty() {
		outcome = "empty"
	}
	d.metrics.RecordBackendCall(name, outcome, elapsed)
	return res, nil
}

func (d *Dispatcher) toResult(resp *backend.Response, name, intent string, priority int) *types.BackendResult {
	now := d.now()
	source := name
	if resp != nil && resp.Source != "" {
		source = resp.Source
	}
	res := &types.BackendResult{
		Success:   true,
		Source:    source,
		Backend:   name,
		Intent:    intent,
		Priority:  priority,
		FetchedAt: now,
	}
	if resp == nil {
		return res
	}
	res.Data = resp.Data
	res.Formatted = resp.Formatted
	res.Cached = resp.Cached
	res.Items = make([]types.Item, len(resp.Items))
	for i, item := range resp.Items {
		if item.Source == "" {
			item.Source = source
		}
		if item.FetchedAt.IsZero() {
			item.FetchedAt = now
		}
		item.Priority = priority
		res.Items[i] = item
	}
	return res
}

// isTimeout covers both context deadlines and transport timeouts such as
// http.Client.Timeout.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// priorityOf returns the best priority of any route served by name.
func priorityOf(rt *config.RuntimeConfig, name string) int {
	best := fallbackPriority
	for _, route := range rt.Intents {
		if route.Backend == name && route.Enabled && route.Priority < best {
			best = route.Priority
		}
	}
	return best
}

func reason(err error) string {
	if err == nil {
		return "empty result"
	}
	return types.ErrorKind(err)
}

// Describe is a short form of a call for logs.
func (c Call) Describe() string {
	if c.Backend != "" {
		return fmt.Sprintf("%s@%s", c.Intent, c.Backend)
	}
	return c.Intent
}
