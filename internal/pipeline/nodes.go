package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/af-corp/hearth/internal/cache"
	"github.com/af-corp/hearth/internal/device"
	"github.com/af-corp/hearth/internal/dispatch"
	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/intent"
	"github.com/af-corp/hearth/internal/types"
)

// Route names recorded on RequestState.Route.
const (
	routeControl = "control"
	routeInfo    = "info"
)

// deviceDependency is the breaker name guarding the device backend.
const deviceDependency = "device"

const maxCitations = 5

func (r *run) classify(ctx context.Context) State {
	st := r.st
	var classifier intent.Classifier = r.p.Pattern
	if r.rt.Features.LLMClassification && r.p.LLMClassifier != nil {
		classifier = &intent.Fallback{Primary: r.p.LLMClassifier, Secondary: r.p.Pattern, Logger: r.p.Logger}
	}

	res, err := classifier.Classify(ctx, intent.Input{
		Text:       st.Query.Text,
		IntentHint: r.resolution.IntentHint,
		Entities:   r.resolution.Entities,
	})
	if err != nil {
		st.AddError(err)
		r.p.Logger.Warn("classification failed", "request_id", st.RequestID, "error", err)
		res = &intent.Result{Intent: types.IntentGeneral, Entities: intent.ExtractEntities(st.Query.Text), Classifier: "default"}
		for k, v := range r.resolution.Entities {
			if _, ok := res.Entities[k]; !ok {
				res.Entities[k] = v
			}
		}
	}

	st.Intent = res.Intent
	st.SecondaryIntents = res.SecondaryIntents
	st.Confidence = res.Confidence
	st.Classifier = res.Classifier
	if res.Entities != nil {
		st.Entities = res.Entities
	}
	if st.Intent == types.IntentControl && st.Entities["room"] == "" && st.Query.Room != "" {
		st.Entities["room"] = st.Query.Room
	}

	r.decision = intent.SelectComplexity(st.Query.Text, res, r.rt.EscalationRules, r.prior, r.p.now())
	st.Complexity = r.decision.Complexity
	tier := r.rt.Tier(st.Complexity)
	st.ModelTier = tier.Name
	st.ModelComponent = tier.Component

	r.p.Metrics.RecordClassification(st.Classifier, st.Intent)
	r.p.emit(ctx, st, events.TypeClassified, StateClassify, map[string]any{
		"intent":     st.Intent,
		"confidence": st.Confidence,
		"classifier": st.Classifier,
		"complexity": string(st.Complexity),
		"rule":       r.decision.Rule,
	})

	if r.p.Discovery != nil && r.p.Discovery.ShouldObserve(st.Confidence) {
		scheduled := r.p.Discovery.Submit(st.Query.Text)
		r.p.emit(ctx, st, events.TypeDiscovery, StateClassify, map[string]any{"scheduled": scheduled})
	}

	if st.Intent == types.IntentControl {
		return StateRouteControl
	}
	return StateRouteInfo
}

func (r *run) routeControl(ctx context.Context) State {
	st := r.st
	st.Route = routeControl

	cmd, err := device.ParseCommand(st.Entities)
	if err != nil {
		st.AddError(err)
		st.Answer = "Sorry, I'm not sure which device you mean. Could you say that again?"
		return StateFinalize
	}

	st.Permissions = types.Permissions{Mode: st.Query.Mode, DeviceControl: true}
	if r.p.Policy != nil {
		st.Permissions = r.p.Policy.Authorize(ctx, st.Query.Mode, cmd.Device, cmd.Action, cmd.Room, cmd.Value)
	}
	if !st.Permissions.DeviceControl {
		reason := st.Permissions.Reason
		if reason == "" {
			reason = "that isn't allowed right now"
		}
		st.AddError(fmt.Errorf("device control denied: %s", reason))
		st.Answer = "Sorry, " + reason + "."
		r.p.emit(ctx, st, events.TypeDevice, StateRouteControl, map[string]any{"command": cmd.Describe(), "allowed": false, "reason": reason})
		return StateFinalize
	}

	if r.p.Devices == nil {
		err := &types.UpstreamError{Backend: deviceDependency, Err: errors.New("no device controller configured")}
		st.AddError(err)
		r.lastErr = err
		st.Answer = fmt.Sprintf("Sorry, I can't control the %s right now.", cmd.Device)
		return StateFinalize
	}
	if r.p.Breakers != nil && !r.p.Breakers.CanExecute(deviceDependency) {
		err := &types.CircuitOpenError{Dependency: deviceDependency}
		st.AddError(err)
		r.lastErr = err
		r.p.Metrics.RecordBackendCall(deviceDependency, "circuit_open", 0)
		st.Answer = fmt.Sprintf("Sorry, I can't reach the %s right now. Please try again shortly.", cmd.Device)
		return StateFinalize
	}

	start := time.Now()
	res, err := r.p.Devices.Execute(ctx, cmd)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		if r.p.Breakers != nil && ctx.Err() == nil {
			r.p.Breakers.RecordFailure(deviceDependency)
		}
		r.p.Metrics.RecordBackendCall(deviceDependency, "failure", elapsed)
		st.AddError(err)
		r.lastErr = err
		st.Answer = fmt.Sprintf("Sorry, I couldn't reach the %s right now.", cmd.Device)
		r.p.Logger.Warn("device command failed", "request_id", st.RequestID, "command", cmd.Describe(), "error", err)
		return StateFinalize
	}
	if r.p.Breakers != nil {
		r.p.Breakers.RecordSuccess(deviceDependency)
	}
	r.p.Metrics.RecordBackendCall(deviceDependency, "success", elapsed)

	st.Answer = res.Message
	if st.Answer == "" {
		st.Answer = cmd.Describe()
	}
	st.DataSource = deviceDependency
	st.ValidationPassed = true
	r.p.emit(ctx, st, events.TypeDevice, StateRouteControl, map[string]any{
		"command": cmd.Describe(),
		"allowed": true,
		"entity":  res.Entity,
		"service": res.Service,
	})
	return StateFinalize
}

func (r *run) routeInfo(ctx context.Context) State {
	st := r.st
	st.Route = routeInfo
	st.RoutingStrategy = types.StrategyCascading
	if route, ok := r.rt.Route(st.Intent); ok {
		st.RoutingStrategy = route.RoutingStrategy()
	}

	if r.p.Cache != nil && r.rt.Features.SemanticCache {
		if e, hit := r.p.Cache.Lookup(ctx, r.cacheKey()); hit {
			st.CacheHit = true
			st.Answer = e.Answer
			st.Citations = e.Citations
			st.DataSource = "cache"
			st.ValidationPassed = true
			r.p.emit(ctx, st, events.TypeCacheHit, StateRouteInfo, map[string]any{"fingerprint": e.Fingerprint})
			return StateFinalize
		}
	}

	if st.RoutingStrategy == types.StrategyAlwaysToolCalling {
		return StateToolCall
	}
	return StateRetrieve
}

func (r *run) cacheKey() cache.Key {
	return cache.Key{Intent: r.st.Intent, Entities: r.st.Entities, Text: r.st.Query.Text}
}

// retrieve serves both RETRIEVE and TOOL_CALL; the dispatcher applies the
// intent's routing strategy to each call.
func (r *run) retrieve(ctx context.Context, state State) State {
	st := r.st
	retry := st.RetryCount > 0
	calls := r.calls()

	outcomes := r.p.Executor.Execute(ctx, calls, r.p.Settings.BatchDeadline)
	for _, o := range outcomes {
		fields := map[string]any{"call": o.Call.Describe(), "duration_ms": o.Duration.Milliseconds()}
		if o.Err != nil {
			fields["error"] = o.Err.Error()
		} else if o.Result != nil {
			fields["backend"] = o.Result.Backend
			fields["empty"] = o.Result.Empty()
		}
		r.p.emit(ctx, st, events.TypeBackend, state, fields)
	}

	fused, err := dispatch.Fuse(outcomes)
	if err != nil {
		st.AddError(err)
		r.lastErr = err
		r.p.Logger.Warn("retrieval failed", "request_id", st.RequestID, "intent", st.Intent, "retry", retry, "error", err)
		if !retry {
			st.RetrievedData = nil
		}
		return StateSynthesize
	}
	if retry && !hasData(fused.Results) {
		r.p.Logger.Info("fallback retrieval returned no data, keeping prior results", "request_id", st.RequestID)
		return StateSynthesize
	}

	for _, e := range fused.Errors {
		st.AddError(e)
	}
	if fused.Degraded && len(fused.Errors) > 0 {
		r.lastErr = fused.Errors[0]
	}
	r.fused = fused
	st.RetrievedData = fused.Results
	st.DataSource = strings.Join(fused.Sources, ",")
	for i := range fused.Results {
		if fused.Results[i].FallbackUsed {
			st.FallbackUsed = true
		}
	}
	st.Citations = citationsOf(fused.Items)
	return StateSynthesize
}

// calls builds the batch: the primary intent, enabled secondary intents and
// cross-validation backends. A validation retry asks only the fallback.
func (r *run) calls() []dispatch.Call {
	st := r.st
	base := dispatch.Call{
		Intent:   st.Intent,
		Text:     st.Query.Text,
		Mode:     st.Query.Mode,
		Room:     st.Query.Room,
		Entities: st.Entities,
	}
	if st.RetryCount > 0 {
		base.ForceFallback = true
		return []dispatch.Call{base}
	}

	calls := []dispatch.Call{base}
	for _, sec := range st.SecondaryIntents {
		if sec == st.Intent || sec == types.IntentControl {
			continue
		}
		if _, ok := r.rt.Route(sec); !ok {
			continue
		}
		c := base
		c.Intent = sec
		calls = append(calls, c)
	}
	if route, ok := r.rt.Route(st.Intent); ok {
		for _, b := range route.CrossValidate {
			if b == route.Backend {
				continue
			}
			c := base
			c.Backend = b
			calls = append(calls, c)
		}
	}
	return calls
}

func hasData(results []types.BackendResult) bool {
	for i := range results {
		if results[i].Success && !results[i].Empty() {
			return true
		}
	}
	return false
}

func citationsOf(items []types.Item) []types.Citation {
	var out []types.Citation
	seen := make(map[string]bool)
	for _, item := range items {
		if item.Source == "" {
			continue
		}
		key := item.Source + "|" + item.URL
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, types.Citation{Source: item.Source, Title: item.Title, URL: item.URL})
		if len(out) == maxCitations {
			break
		}
	}
	return out
}
