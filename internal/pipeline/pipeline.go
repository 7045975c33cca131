// Package pipeline drives one query through classification, routing,
// retrieval, synthesis and validation to a final answer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/af-corp/hearth/internal/breaker"
	"github.com/af-corp/hearth/internal/cache"
	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/device"
	"github.com/af-corp/hearth/internal/discovery"
	"github.com/af-corp/hearth/internal/dispatch"
	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/intent"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/policy"
	"github.com/af-corp/hearth/internal/session"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

// Deps are the collaborators of a Pipeline. Optional ones may be nil:
// LLMClassifier, Synthesizer, Cache, Devices, Policy, Discovery.
type Deps struct {
	Provider      config.Provider
	Settings      config.PipelineConfig
	Pattern       intent.Classifier
	LLMClassifier intent.Classifier
	Sessions      session.Store
	Cache         *cache.Cache
	Executor      *dispatch.Executor
	Breakers      *breaker.Registry
	Synthesizer   llm.Client
	Devices       device.Controller
	Policy        *policy.Evaluator
	Discovery     *discovery.Service
	Events        events.Sink
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
}

// Pipeline is safe for concurrent use; each Submit owns its RequestState.
type Pipeline struct {
	Deps
	now func() time.Time
}

func New(deps Deps) *Pipeline {
	if deps.Pattern == nil {
		deps.Pattern = intent.NewPatternClassifier()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &deps.Settings
	if s.ControlDeadline <= 0 {
		s.ControlDeadline = 5 * time.Second
	}
	if s.RetrievalDeadline <= 0 {
		s.RetrievalDeadline = 20 * time.Second
	}
	if s.FinalizeGrace <= 0 {
		s.FinalizeGrace = 500 * time.Millisecond
	}
	if s.BatchDeadline <= 0 {
		s.BatchDeadline = 12 * time.Second
	}
	if s.HistoryTurns <= 0 {
		s.HistoryTurns = session.MaxHistory
	}
	return &Pipeline{Deps: deps, now: time.Now}
}

// run is the per-request scratch space around the RequestState.
type run struct {
	p          *Pipeline
	st         *types.RequestState
	rt         *config.RuntimeConfig
	prior      *types.ConversationContext
	resolution session.Resolution
	decision   intent.Decision
	params     map[string]string
	fused      *dispatch.Fused
	lastErr    error
	degraded   bool
}

// Submit runs q to completion and always returns a response with a
// non-empty answer.
func (p *Pipeline) Submit(ctx context.Context, q types.Query) types.Response {
	id, ok := RequestIDFromContext(ctx)
	if !ok {
		id = uuid.NewString()
	}
	st := &types.RequestState{
		RequestID: id,
		Query:     q,
		StartedAt: p.now(),
		Entities:  map[string]string{},
	}
	r := &run{p: p, st: st, rt: p.Provider.Runtime()}

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.submit")
	span.SetAttributes(attribute.String("request_id", st.RequestID))
	defer span.End()

	if err := st.Query.Validate(); err != nil {
		st.AddError(err)
		st.Answer = "Sorry, I didn't catch that. Could you say it again?"
		r.finalize(ctx)
		span.SetStatus(codes.Error, err.Error())
		return st.Response()
	}

	p.emit(ctx, st, events.TypeReceived, "", map[string]any{"mode": string(st.Query.Mode), "room": st.Query.Room})
	r.loadSession(ctx)

	runCtx, cancel := context.WithDeadline(ctx, st.StartedAt.Add(p.Settings.RetrievalDeadline))
	defer cancel()

	state := StateClassify
	for state != StateFinalize {
		nodeCtx := runCtx
		var cancelNode context.CancelFunc
		if state == StateRouteControl {
			nodeCtx, cancelNode = context.WithDeadline(runCtx, st.StartedAt.Add(p.Settings.ControlDeadline))
		}

		next := r.step(nodeCtx, state)
		if cancelNode != nil {
			cancelNode()
		}

		if err := nodeCtx.Err(); err != nil && next != StateFinalize {
			timeout := &types.UpstreamError{Backend: "pipeline", Timeout: true, Err: err}
			st.AddError(timeout)
			r.lastErr = timeout
			next = StateFinalize
		}
		if !allowed(state, next, st.RetryCount) {
			p.Logger.Error("illegal pipeline transition", "request_id", st.RequestID, "from", state, "to", next)
			next = StateFinalize
		}
		state = next
	}

	r.finalize(ctx)
	if st.Error != "" {
		span.SetStatus(codes.Error, st.Error)
	}
	return st.Response()
}

// step runs one node under its own span and timing and converts a panic
// into a degraded transition.
func (r *run) step(ctx context.Context, state State) (next State) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline."+string(state))
	span.SetAttributes(attribute.String("request_id", r.st.RequestID))
	start := r.p.now()
	r.degraded = false

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%s panicked: %v", state, rec)
			r.p.Logger.Error("pipeline node panicked", "request_id", r.st.RequestID, "node", state, "panic", fmt.Sprint(rec))
			r.st.AddError(err)
			span.RecordError(err)
			r.degraded = true
			next = degradedNext[state]
		}
		elapsed := r.p.now().Sub(start)
		r.st.RecordTiming(types.NodeTiming{Node: string(state), StartedAt: start, Duration: elapsed, Degraded: r.degraded})
		r.p.Metrics.RecordNode(string(state), float64(elapsed.Milliseconds()))
		span.SetAttributes(attribute.String("next", string(next)), attribute.Bool("degraded", r.degraded))
		span.End()
	}()

	switch state {
	case StateClassify:
		return r.classify(ctx)
	case StateRouteControl:
		return r.routeControl(ctx)
	case StateRouteInfo:
		return r.routeInfo(ctx)
	case StateRetrieve, StateToolCall:
		return r.retrieve(ctx, state)
	case StateSynthesize:
		return r.synthesize(ctx)
	case StateValidate:
		return r.validate(ctx)
	default:
		return StateFinalize
	}
}

func (r *run) loadSession(ctx context.Context) {
	st := r.st
	if st.Query.SessionID == "" || r.p.Sessions == nil {
		r.resolution = session.Resolve(st.Query.Text, st.Query.Room, nil)
		r.params = turnParameters(st.Query, r.resolution)
		return
	}
	prior, err := r.p.Sessions.Get(ctx, st.Query.SessionID)
	if err != nil {
		r.p.Logger.Warn("session load failed", "request_id", st.RequestID, "session_id", st.Query.SessionID, "error", err)
	}
	r.prior = prior
	if prior != nil {
		st.ConversationHistory = prior.History
		st.ResolvedContext = prior.Clone()
	}
	r.resolution = session.Resolve(st.Query.Text, st.Query.Room, prior)
	r.params = turnParameters(st.Query, r.resolution)
}

// turnParameters merges the query's own parameters over inherited ones.
func turnParameters(q types.Query, res session.Resolution) map[string]string {
	params := make(map[string]string, len(res.Parameters)+1)
	for k, v := range res.Parameters {
		params[k] = v
	}
	if q.Temperature > 0 {
		params[session.ParamTemperature] = strconv.FormatFloat(q.Temperature, 'f', -1, 64)
	}
	return params
}

// temperature is the effective sampling temperature for this turn.
func (r *run) temperature() float64 {
	if r.st.Query.Temperature > 0 {
		return r.st.Query.Temperature
	}
	t, err := strconv.ParseFloat(r.params[session.ParamTemperature], 64)
	if err != nil || t < 0 || t > 2 {
		return 0
	}
	return t
}

func (p *Pipeline) emit(ctx context.Context, st *types.RequestState, typ string, node State, fields map[string]any) {
	e := events.Event{
		Type:      typ,
		RequestID: st.RequestID,
		SessionID: st.Query.SessionID,
		Node:      string(node),
		Fields:    fields,
		At:        p.now(),
	}
	p.Events.Emit(ctx, e)
	if s := events.SinkFromContext(ctx); s != nil {
		s.Emit(ctx, e)
	}
}

type requestIDKey struct{}

// ContextWithRequestID makes Submit use id instead of generating one.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
