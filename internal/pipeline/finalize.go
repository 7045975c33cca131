package pipeline

import (
	"context"
	"strings"

	"github.com/af-corp/hearth/internal/cache"
	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/session"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

// finalize runs on a detached context with a short grace period so that a
// request which hit its deadline still answers and records state.
func (r *run) finalize(parent context.Context) {
	st := r.st
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.p.Settings.FinalizeGrace)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline."+string(StateFinalize))
	defer span.End()
	start := r.p.now()

	if strings.TrimSpace(st.Answer) == "" {
		if st.HasData() {
			st.Answer = templateAnswer(st)
		} else {
			st.Answer = apology(r.lastErr)
		}
	}
	if st.Intent == "" {
		st.Intent = types.IntentUnknown
	}

	if r.cacheable() {
		r.p.Cache.Store(ctx, r.cacheKey(), cache.Entry{Answer: st.Answer, Citations: st.Citations})
	}
	r.saveSession(ctx)

	elapsed := r.p.now().Sub(start)
	st.RecordTiming(types.NodeTiming{Node: string(StateFinalize), StartedAt: start, Duration: elapsed})
	r.p.Metrics.RecordNode(string(StateFinalize), float64(elapsed.Milliseconds()))

	status := "ok"
	if st.Error != "" {
		status = types.ErrorKind(r.lastErr)
		if r.lastErr == nil {
			status = "degraded"
		}
	}
	total := r.p.now().Sub(st.StartedAt)
	r.p.Metrics.RecordRequest(telemetry.RequestLabels{
		Intent:     st.Intent,
		Mode:       string(st.Query.Mode),
		Status:     status,
		DurationMs: float64(total.Milliseconds()),
	})
	r.p.emit(ctx, st, events.TypeFinalized, StateFinalize, map[string]any{
		"intent":      st.Intent,
		"route":       st.Route,
		"cache_hit":   st.CacheHit,
		"validated":   st.ValidationPassed,
		"retries":     st.RetryCount,
		"status":      status,
		"duration_ms": total.Milliseconds(),
	})
	r.p.Logger.Info("query completed",
		"request_id", st.RequestID,
		"intent", st.Intent,
		"route", st.Route,
		"complexity", st.Complexity,
		"cache_hit", st.CacheHit,
		"source", st.DataSource,
		"status", status,
		"duration_ms", total.Milliseconds(),
	)
}

// cacheable holds only for validated, complete, freshly retrieved INFO answers.
func (r *run) cacheable() bool {
	st := r.st
	return r.p.Cache != nil &&
		r.rt.Features.SemanticCache &&
		st.Route == routeInfo &&
		st.ValidationPassed &&
		!st.CacheHit &&
		st.Error == "" &&
		st.HasData()
}

func (r *run) saveSession(ctx context.Context) {
	st := r.st
	if st.Query.SessionID == "" || st.Query.Text == "" || r.p.Sessions == nil {
		return
	}
	c := r.prior.Clone()
	if c == nil {
		c = &types.ConversationContext{SessionID: st.Query.SessionID}
	}
	if c.Entities == nil {
		c.Entities = make(map[string]string)
	}
	for k, v := range st.Entities {
		c.Entities[k] = v
	}
	if len(r.params) > 0 {
		if c.Parameters == nil {
			c.Parameters = make(map[string]string, len(r.params))
		}
		for k, v := range r.params {
			c.Parameters[k] = v
		}
	}
	if st.Intent != types.IntentUnknown {
		c.LastIntent = st.Intent
	}
	c.LastQuery = st.Query.Text
	c.LastResponse = st.Answer
	if st.Query.Room != "" {
		c.Room = st.Query.Room
	}
	now := r.p.now()
	c.Timestamp = now
	if r.decision.Rule != "" && r.decision.Rule != "sticky" && !r.decision.EscalatedUntil.IsZero() {
		c.EscalatedComplexity = r.decision.Complexity
		c.EscalatedUntil = r.decision.EscalatedUntil
	}
	session.AppendTurn(c, types.Turn{Query: st.Query.Text, Answer: st.Answer, Intent: st.Intent, At: now}, r.p.Settings.HistoryTurns)

	if err := r.p.Sessions.Update(ctx, st.Query.SessionID, c); err != nil {
		r.p.Logger.Warn("session update failed", "request_id", st.RequestID, "session_id", st.Query.SessionID, "error", err)
	}
}
