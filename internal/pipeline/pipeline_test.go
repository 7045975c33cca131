package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/hearth/internal/backend"
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
	"github.com/af-corp/hearth/internal/ratelimit"
	"github.com/af-corp/hearth/internal/session"
	"github.com/af-corp/hearth/internal/types"
)

type fakeBackend struct {
	name  string
	fn    func(req backend.Request) (*backend.Response, error)
	delay time.Duration
	calls atomic.Int32

	mu   sync.Mutex
	last backend.Request
}

func (f *fakeBackend) Name() string                { return f.name }
func (f *fakeBackend) Health(context.Context) bool { return true }
func (f *fakeBackend) Call(ctx context.Context, req backend.Request) (*backend.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.fn(req)
}

func (f *fakeBackend) lastRequest() backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func answers(name, text string) *fakeBackend {
	return &fakeBackend{name: name, fn: func(backend.Request) (*backend.Response, error) {
		return &backend.Response{Items: []types.Item{{Key: name + ":1", Text: text}}}, nil
	}}
}

func failing(name string) *fakeBackend {
	return &fakeBackend{name: name, fn: func(backend.Request) (*backend.Response, error) {
		return nil, errors.New("connection refused")
	}}
}

type fakeController struct {
	mu   sync.Mutex
	cmds []device.Command
	err  error
}

func (c *fakeController) Execute(_ context.Context, cmd device.Command) (*device.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.cmds = append(c.cmds, cmd)
	return &device.Result{Command: cmd, Message: cmd.Describe()}, nil
}

func (c *fakeController) executed() []device.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]device.Command(nil), c.cmds...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Emit(_ context.Context, e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) count(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	rt       *config.RuntimeConfig
	breakers *breaker.Registry
	sessions *session.MemoryStore
	devices  *fakeController
	sink     *recordingSink
	clock    *fakeClock
	deps     Deps
}

func newHarness(t *testing.T, backends ...*fakeBackend) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := config.DefaultRuntime()
	provider := config.Static(rt)

	reg := backend.NewRegistry()
	for _, b := range backends {
		reg.Register(b.name, b)
	}
	breakers := breaker.NewRegistry(breaker.Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1})
	limits := ratelimit.NewRegistry(ratelimit.NewLimiter(nil, logger), provider, nil, logger)
	d := dispatch.NewDispatcher(reg, breakers, limits, provider, dispatch.WithLogger(logger))

	pol := policy.NewEvaluator(config.PolicyConfig{}, logger)
	require.NoError(t, pol.Load())

	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	sessions := session.NewMemoryStore(time.Hour)
	devices := &fakeController{}
	sink := &recordingSink{}

	return &harness{
		rt:       rt,
		breakers: breakers,
		sessions: sessions,
		devices:  devices,
		sink:     sink,
		clock:    clock,
		deps: Deps{
			Provider: provider,
			Settings: config.PipelineConfig{BatchDeadline: time.Second},
			Sessions: sessions,
			Cache:    cache.New(config.CacheConfig{TTL: time.Minute, MaxEntries: 100}, provider, cache.WithClock(clock.Now)),
			Executor: dispatch.NewExecutor(d, 4),
			Breakers: breakers,
			Devices:  devices,
			Policy:   pol,
			Events:   sink,
			Logger:   logger,
		},
	}
}

func (h *harness) submit(t *testing.T, q types.Query) types.Response {
	t.Helper()
	return New(h.deps).Submit(context.Background(), q)
}

func owner(text string) types.Query {
	return types.Query{Text: text, Mode: types.ModeOwner, Room: "kitchen"}
}

func TestSubmit_DeviceControl(t *testing.T) {
	weather := answers("weather", "72F")
	h := newHarness(t, weather)

	resp := h.submit(t, owner("turn off the kitchen lights"))

	assert.Equal(t, types.IntentControl, resp.Intent)
	assert.Equal(t, "OK, the kitchen light is off.", resp.Answer)
	assert.Empty(t, resp.Error)
	cmds := h.devices.executed()
	require.Len(t, cmds, 1)
	assert.Equal(t, device.Command{Device: "light", Action: "off", Room: "kitchen"}, cmds[0])
	assert.Zero(t, weather.calls.Load())
	assert.Equal(t, 1, h.sink.count(events.TypeDevice))
}

func TestSubmit_ControlUsesRequestRoom(t *testing.T) {
	h := newHarness(t)

	resp := h.submit(t, types.Query{Text: "turn on the lights", Mode: types.ModeOwner, Room: "office"})

	assert.Equal(t, "OK, the office light is on.", resp.Answer)
}

func TestSubmit_GuestCannotOperateLock(t *testing.T) {
	h := newHarness(t)

	resp := h.submit(t, types.Query{Text: "lock the front door", Mode: types.ModeGuest})

	assert.Equal(t, types.IntentControl, resp.Intent)
	assert.Contains(t, resp.Answer, "guests cannot operate the lock")
	assert.Contains(t, resp.Error, "denied")
	assert.Empty(t, h.devices.executed())
}

func TestSubmit_DeviceFailureStillAnswers(t *testing.T) {
	h := newHarness(t)
	h.devices.err = &types.UpstreamError{Backend: "device", Err: errors.New("503")}

	resp := h.submit(t, owner("turn off the kitchen lights"))

	assert.Contains(t, resp.Answer, "couldn't reach the light")
	assert.NotEmpty(t, resp.Error)
}

func TestSubmit_BaltimoreWeather(t *testing.T) {
	weather := answers("weather", "72F and sunny")
	search := answers("web_search", "search results")
	h := newHarness(t, weather, search)

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Equal(t, "weather", resp.Intent)
	assert.Equal(t, "Here's what I found for Baltimore: 72F and sunny.", resp.Answer)
	assert.Empty(t, resp.Error)
	assert.False(t, resp.CacheHit)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "weather", resp.Citations[0].Source)
	assert.Equal(t, int32(1), weather.calls.Load())
	assert.Zero(t, search.calls.Load())
	assert.Equal(t, "Baltimore", weather.lastRequest().Entities["location"])
}

func TestSubmit_CacheHitMakesNoBackendCalls(t *testing.T) {
	weather := answers("weather", "72F and sunny")
	h := newHarness(t, weather, answers("web_search", "x"))

	first := h.submit(t, owner("what's the weather in Baltimore"))
	second := h.submit(t, owner("what's the weather in Baltimore"))

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Citations, second.Citations)
	assert.Equal(t, int32(1), weather.calls.Load())
	assert.Equal(t, 1, h.sink.count(events.TypeCacheHit))
}

func TestSubmit_CacheEntryExpires(t *testing.T) {
	weather := answers("weather", "72F and sunny")
	h := newHarness(t, weather, answers("web_search", "x"))

	h.submit(t, owner("what's the weather in Baltimore"))
	h.clock.Advance(2 * time.Minute)
	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.False(t, resp.CacheHit)
	assert.Equal(t, int32(2), weather.calls.Load())
}

func TestSubmit_CacheDisabledByFlag(t *testing.T) {
	weather := answers("weather", "72F and sunny")
	h := newHarness(t, weather, answers("web_search", "x"))
	h.rt.Features.SemanticCache = false

	h.submit(t, owner("what's the weather in Baltimore"))
	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.False(t, resp.CacheHit)
	assert.Equal(t, int32(2), weather.calls.Load())
}

func TestSubmit_TotalFailureStillAnswers(t *testing.T) {
	weather, search := failing("weather"), failing("web_search")
	h := newHarness(t, weather, search)

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, "Sorry, I couldn't find an answer to that right now.", resp.Answer)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, "weather", resp.Intent)

	again := h.submit(t, owner("what's the weather in Baltimore"))
	assert.False(t, again.CacheHit, "failed answers are never cached")
}

func TestSubmit_OpenBreakerCascadesToWebSearch(t *testing.T) {
	weather := answers("weather", "72F")
	search := answers("web_search", "Baltimore is 72F and sunny today")
	h := newHarness(t, weather, search)
	h.breakers.RecordFailure("weather")
	h.breakers.RecordFailure("weather")

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Contains(t, resp.Answer, "Baltimore is 72F and sunny today")
	assert.Zero(t, weather.calls.Load())
	assert.Equal(t, int32(1), search.calls.Load())
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, "web_search", resp.Citations[0].Source)
}

func TestSubmit_DirectOnlyOpenBreakerApologizes(t *testing.T) {
	weather := answers("weather", "72F")
	search := answers("web_search", "search results")
	h := newHarness(t, weather, search)
	route := h.rt.Intents["weather"]
	route.Strategy = string(types.StrategyDirectOnly)
	h.rt.Intents["weather"] = route
	h.breakers.RecordFailure("weather")
	h.breakers.RecordFailure("weather")

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Contains(t, resp.Answer, "temporarily unavailable")
	assert.Contains(t, resp.Error, "circuit open")
	assert.Zero(t, weather.calls.Load())
	assert.Zero(t, search.calls.Load())
}

func TestSubmit_BatchWithOneTimeout(t *testing.T) {
	weather := answers("weather", "72F and sunny")
	slow := answers("weather_alt", "73F")
	slow.delay = 5 * time.Second
	h := newHarness(t, weather, slow, answers("web_search", "x"))
	route := h.rt.Intents["weather"]
	route.CrossValidate = []string{"weather_alt"}
	h.rt.Intents["weather"] = route
	h.deps.Settings.BatchDeadline = 100 * time.Millisecond

	start := time.Now()
	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, resp.Answer, "72F and sunny")
	assert.NotContains(t, resp.Answer, "73F")
	assert.Contains(t, resp.Error, "timed out")
}

func TestSubmit_RetrievalDeadlineFinalizes(t *testing.T) {
	weather := answers("weather", "72F")
	weather.delay = 5 * time.Second
	h := newHarness(t, weather, answers("web_search", "x"))
	h.deps.Settings.RetrievalDeadline = 100 * time.Millisecond

	start := time.Now()
	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "Sorry, that took too long to look up. Please try again.", resp.Answer)
	assert.NotEmpty(t, resp.Error)
}

func TestSubmit_ValidationRetriesWithFallback(t *testing.T) {
	weather := answers("weather", "72F and sunny")
	search := answers("web_search", "Baltimore: 85 degrees")
	h := newHarness(t, weather, search)
	var generated atomic.Int32
	h.deps.Synthesizer = llm.ClientFunc(func(context.Context, llm.Request, llm.TokenFunc) (string, error) {
		generated.Add(1)
		return "It's 85 degrees in Baltimore.", nil
	})

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Equal(t, "It's 85 degrees in Baltimore.", resp.Answer)
	assert.Empty(t, resp.Error)
	assert.Equal(t, int32(1), weather.calls.Load())
	assert.Equal(t, int32(1), search.calls.Load())
	assert.Equal(t, int32(2), generated.Load())
	assert.Equal(t, 2, h.sink.count(events.TypeValidated))
}

func TestSubmit_ValidationFailureWithoutRetryKeepsAnswer(t *testing.T) {
	weather := answers("weather", "72F and sunny")
	search := answers("web_search", "x")
	h := newHarness(t, weather, search)
	h.rt.Features.ValidationFallback = false
	h.deps.Synthesizer = llm.ClientFunc(func(context.Context, llm.Request, llm.TokenFunc) (string, error) {
		return "I couldn't find any weather for Baltimore.", nil
	})

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Equal(t, "I couldn't find any weather for Baltimore.", resp.Answer)
	assert.Contains(t, resp.Error, "answer_denies_data")
	assert.Zero(t, search.calls.Load())

	// An unvalidated answer is never cached.
	h.submit(t, owner("what's the weather in Baltimore"))
	assert.Equal(t, int32(2), weather.calls.Load())
}

func TestSubmit_StreamsSynthesisTokens(t *testing.T) {
	h := newHarness(t, answers("weather", "72F and sunny"), answers("web_search", "x"))
	h.rt.Features.StreamSynthesis = true
	h.deps.Synthesizer = llm.ClientFunc(func(_ context.Context, req llm.Request, onToken llm.TokenFunc) (string, error) {
		require.True(t, req.Stream)
		require.NotNil(t, onToken)
		assert.Equal(t, "llama3.2:3b", req.Model)
		onToken("It's ")
		onToken("72F.")
		return "It's 72F.", nil
	})

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Equal(t, "It's 72F.", resp.Answer)
	assert.Equal(t, 2, h.sink.count(events.TypeToken))
}

func TestSubmit_NodePanicDegrades(t *testing.T) {
	h := newHarness(t, answers("weather", "72F and sunny"), answers("web_search", "x"))
	h.deps.Synthesizer = llm.ClientFunc(func(context.Context, llm.Request, llm.TokenFunc) (string, error) {
		panic("model exploded")
	})

	resp := h.submit(t, owner("what's the weather in Baltimore"))

	assert.Equal(t, "Here's what I found for Baltimore: 72F and sunny.", resp.Answer)
	assert.Contains(t, resp.Error, "panicked")
}

func TestSubmit_SessionFollowUp(t *testing.T) {
	weather := &fakeBackend{name: "weather", fn: func(req backend.Request) (*backend.Response, error) {
		return &backend.Response{Items: []types.Item{{Key: "now", Text: req.Entities["location"] + " is 72F"}}}, nil
	}}
	h := newHarness(t, weather, answers("web_search", "x"))

	q := owner("what's the weather in Baltimore")
	q.SessionID = "s1"
	h.submit(t, q)

	q = owner("and in Boston?")
	q.SessionID = "s1"
	resp := h.submit(t, q)

	assert.Equal(t, "weather", resp.Intent)
	assert.Equal(t, "Boston", weather.lastRequest().Entities["location"])
	assert.Contains(t, resp.Answer, "Boston is 72F")

	sess, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "weather", sess.LastIntent)
	assert.Equal(t, "Boston", sess.Entities["location"])
}

func TestSubmit_FollowUpInheritsParameters(t *testing.T) {
	h := newHarness(t, answers("weather", "72F and sunny"), answers("web_search", "x"))
	var temps []float64
	h.deps.Synthesizer = llm.ClientFunc(func(_ context.Context, req llm.Request, _ llm.TokenFunc) (string, error) {
		temps = append(temps, req.Temperature)
		return "It's sunny.", nil
	})

	q := owner("what's the weather in Baltimore")
	q.SessionID = "s1"
	q.Temperature = 0.2
	h.submit(t, q)

	q = owner("what about tomorrow")
	q.SessionID = "s1"
	h.submit(t, q)

	assert.Equal(t, []float64{0.2, 0.2}, temps)
	sess, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "0.2", sess.Parameters[session.ParamTemperature])
}

type classifierFunc func(intent.Input) *intent.Result

func (f classifierFunc) Name() string { return "llm" }
func (f classifierFunc) Classify(_ context.Context, in intent.Input) (*intent.Result, error) {
	return f(in), nil
}

func TestSubmit_LowConfidenceControlIsObserved(t *testing.T) {
	h := newHarness(t, answers("web_search", "x"))
	h.rt.Features.LLMClassification = true
	h.deps.LLMClassifier = classifierFunc(func(intent.Input) *intent.Result {
		return &intent.Result{
			Intent:     types.IntentControl,
			Confidence: 0.2,
			Entities:   map[string]string{"device": "light", "action": "off", "room": "kitchen"},
		}
	})
	store := discovery.NewMemoryStore()
	svc := discovery.NewService(store, llm.HashEmbedder{}, config.Static(h.rt), config.DiscoveryConfig{MaxInFlight: 2, Timeout: time.Second})
	h.deps.Discovery = svc

	resp := h.submit(t, owner("make the kitchen cozy"))
	svc.Wait()

	assert.Equal(t, types.IntentControl, resp.Intent)
	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, h.sink.count(events.TypeDiscovery))
}

func TestSubmit_InvalidQuery(t *testing.T) {
	h := newHarness(t)

	resp := h.submit(t, types.Query{Text: "   "})

	assert.NotEmpty(t, resp.Answer)
	assert.Contains(t, resp.Error, "required")
	assert.Equal(t, types.IntentUnknown, resp.Intent)
}

func TestSubmit_EmitsLifecycleEvents(t *testing.T) {
	h := newHarness(t, answers("weather", "72F and sunny"), answers("web_search", "x"))

	h.submit(t, owner("what's the weather in Baltimore"))

	assert.Equal(t, 1, h.sink.count(events.TypeReceived))
	assert.Equal(t, 1, h.sink.count(events.TypeClassified))
	assert.Equal(t, 1, h.sink.count(events.TypeBackend))
	assert.Equal(t, 1, h.sink.count(events.TypeFinalized))
}

func TestSubmit_UsesCallerRequestIDAndScopedSink(t *testing.T) {
	h := newHarness(t, answers("weather", "72F and sunny"), answers("web_search", "x"))
	scoped := &recordingSink{}
	ctx := ContextWithRequestID(context.Background(), "req_123")
	ctx = events.ContextWithSink(ctx, scoped)

	resp := New(h.deps).Submit(ctx, owner("what's the weather in Baltimore"))

	assert.Equal(t, "req_123", resp.RequestID)
	assert.Equal(t, 1, scoped.count(events.TypeFinalized))
	assert.Equal(t, 1, h.sink.count(events.TypeFinalized))
}
