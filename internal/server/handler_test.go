package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/af-corp/hearth/internal/auth"
	"github.com/af-corp/hearth/internal/backend"
	"github.com/af-corp/hearth/internal/breaker"
	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/pipeline"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

// fakePipeline answers every query and streams the answer word by word
// through the request-scoped sink.
type fakePipeline struct {
	mu      sync.Mutex
	queries []types.Query
}

func (f *fakePipeline) Submit(ctx context.Context, q types.Query) types.Response {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	answer := "It is 72F in Baltimore."
	if s := events.SinkFromContext(ctx); s != nil {
		for _, word := range strings.SplitAfter(answer, " ") {
			s.Emit(ctx, events.Event{Type: events.TypeToken, Fields: map[string]any{"token": word}})
		}
	}
	id, _ := pipeline.RequestIDFromContext(ctx)
	return types.Response{RequestID: id, Answer: answer, Intent: "weather", Citations: []types.Citation{}}
}

func (f *fakePipeline) submitted() []types.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Query(nil), f.queries...)
}

type healthStub struct {
	name string
	up   bool
}

func (s healthStub) Name() string { return s.name }
func (s healthStub) Call(context.Context, backend.Request) (*backend.Response, error) {
	return nil, nil
}
func (s healthStub) Health(context.Context) bool { return s.up }

const guestKey = "hearth-test-guestkey00000000000000000000"

func newTestRouter(t *testing.T, p Submitter, withAuth bool) (http.Handler, *breaker.Registry, *backend.Registry) {
	t.Helper()
	backends := backend.NewRegistry()
	backends.Register("weather", healthStub{name: "weather", up: true})
	breakers := breaker.NewRegistry(breaker.Settings{FailureThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1})

	opts := Options{Gatherer: prometheus.NewRegistry()}
	if withAuth {
		store, err := auth.NewConfigKeyStore([]config.APIKeyConfig{
			{ID: "k1", Name: "kitchen speaker", Hash: auth.HashKey(guestKey), MaxMode: "guest"},
		})
		if err != nil {
			t.Fatalf("key store: %v", err)
		}
		opts.KeyStore = store
	}
	h := NewHandler(p, backends, breakers, "test", nil)
	return NewRouter(h, opts), breakers, backends
}

func postQuery(t *testing.T, router http.Handler, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-test-1")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestQuery_ReturnsPipelineResponse(t *testing.T) {
	p := &fakePipeline{}
	router, _, _ := newTestRouter(t, p, false)

	w := postQuery(t, router, "/v1/query", `{"query":"what's the weather in Baltimore","room":"kitchen","session_id":"s1"}`, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp types.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "It is 72F in Baltimore." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.RequestID != "req-test-1" {
		t.Errorf("request id = %q, want req-test-1", resp.RequestID)
	}

	got := p.submitted()
	if len(got) != 1 {
		t.Fatalf("submitted %d queries, want 1", len(got))
	}
	if got[0].Mode != types.ModeOwner {
		t.Errorf("mode = %q, want owner default", got[0].Mode)
	}
	if got[0].Room != "kitchen" || got[0].SessionID != "s1" {
		t.Errorf("query = %+v", got[0])
	}
}

func TestQuery_RejectsBadInput(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakePipeline{}, false)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"query":`},
		{"empty query", `{"query":"   "}`},
		{"unknown mode", `{"query":"hi","mode":"admin"}`},
		{"temperature out of range", `{"query":"hi","temperature":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postQuery(t, router, "/v1/query", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), `"request_id":"req-test-1"`) {
				t.Errorf("error envelope missing request id: %s", w.Body.String())
			}
		})
	}
}

func TestQuery_AuthRequired(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakePipeline{}, true)

	w := postQuery(t, router, "/v1/query", `{"query":"hi","mode":"guest"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", w.Code)
	}

	w = postQuery(t, router, "/v1/query", `{"query":"hi","mode":"guest"}`, "hearth-test-wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}

	w = postQuery(t, router, "/v1/query", `{"query":"hi","mode":"guest"}`, guestKey)
	if w.Code != http.StatusOK {
		t.Errorf("guest key guest query: status = %d, want 200", w.Code)
	}
}

func TestQuery_GuestKeyCannotSubmitOwnerQuery(t *testing.T) {
	p := &fakePipeline{}
	router, _, _ := newTestRouter(t, p, true)

	w := postQuery(t, router, "/v1/query", `{"query":"unlock the front door","mode":"owner"}`, guestKey)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if len(p.submitted()) != 0 {
		t.Error("forbidden query reached the pipeline")
	}
}

func TestHealth_ReportsBackends(t *testing.T) {
	router, _, backends := newTestRouter(t, &fakePipeline{}, true)

	get := func() healthResponse {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp healthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	resp := get()
	if resp.Status != "healthy" || !resp.Backends["weather"] || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}

	backends.Register("sports", healthStub{name: "sports", up: false})
	resp = get()
	if resp.Status != "degraded" || resp.Backends["sports"] {
		t.Errorf("health with a down backend = %+v", resp)
	}
}

func TestBreakers_ListsSnapshot(t *testing.T) {
	router, breakers, _ := newTestRouter(t, &fakePipeline{}, false)
	breakers.RecordFailure("weather")
	breakers.RecordFailure("weather")

	req := httptest.NewRequest(http.MethodGet, "/v1/breakers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body struct {
		Breakers []breaker.Status `json:"breakers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Breakers) != 1 {
		t.Fatalf("breakers = %+v", body.Breakers)
	}
	if body.Breakers[0].Name != "weather" || body.Breakers[0].State != breaker.StateOpen.String() {
		t.Errorf("breaker = %+v", body.Breakers[0])
	}
}

func TestMetrics_Exposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.RecordCacheLookup(true)

	h := NewHandler(&fakePipeline{}, nil, nil, "test", nil)
	router := NewRouter(h, Options{Gatherer: reg, Metrics: m})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hearth_cache_lookup_total") {
		t.Error("expected cache lookup counter in exposition")
	}
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakePipeline{}, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if id := w.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Errorf("X-Request-ID = %q, want generated req_ prefix", id)
	}
}
