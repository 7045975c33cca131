package backend

import (
	"context"
	"testing"
	"time"

	"github.com/af-corp/hearth/internal/config"
)

type fakeBackend struct {
	name    string
	healthy bool
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Call(_ context.Context, _ Request) (*Response, error) {
	return &Response{Formatted: f.name}, nil
}
func (f *fakeBackend) Health(_ context.Context) bool { return f.healthy }

func configWithURL(url string) config.BackendConfig {
	return config.BackendConfig{BaseURL: url, Timeout: time.Second}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("weather", &fakeBackend{name: "weather"})

	b, ok := r.Get("weather")
	if !ok || b.Name() != "weather" {
		t.Fatalf("expected weather backend, got %v %v", b, ok)
	}
	if _, ok := r.Get("sports"); ok {
		t.Error("expected sports to be missing")
	}
}

func TestBuildFromConfig(t *testing.T) {
	r := BuildFromConfig(&config.BackendsConfig{Backends: map[string]config.BackendConfig{
		"weather":    configWithURL("http://weather:8080"),
		"web_search": configWithURL("http://search:8080"),
	}})

	names := r.Names()
	if len(names) != 2 || names[0] != "weather" || names[1] != "web_search" {
		t.Errorf("expected sorted [weather web_search], got %v", names)
	}
	b, _ := r.Get("weather")
	hb, ok := b.(*HTTPBackend)
	if !ok {
		t.Fatalf("expected *HTTPBackend, got %T", b)
	}
	if hb.client.Timeout != time.Second {
		t.Errorf("expected configured timeout, got %s", hb.client.Timeout)
	}
}

func TestBuildFromConfig_DefaultTimeout(t *testing.T) {
	r := BuildFromConfig(&config.BackendsConfig{Backends: map[string]config.BackendConfig{
		"news": {BaseURL: "http://news"},
	}})
	b, _ := r.Get("news")
	if got := b.(*HTTPBackend).client.Timeout; got != defaultBackendTimeout {
		t.Errorf("expected default timeout %s, got %s", defaultBackendTimeout, got)
	}
}

func TestRegistry_Reload(t *testing.T) {
	r := BuildFromConfig(&config.BackendsConfig{Backends: map[string]config.BackendConfig{
		"weather": configWithURL("http://weather"),
	}})
	r.Reload(&config.BackendsConfig{Backends: map[string]config.BackendConfig{
		"sports": configWithURL("http://sports"),
	}})

	if _, ok := r.Get("weather"); ok {
		t.Error("expected weather to be removed on reload")
	}
	if _, ok := r.Get("sports"); !ok {
		t.Error("expected sports after reload")
	}
}

func TestRegistry_Health(t *testing.T) {
	r := NewRegistry()
	r.Register("weather", &fakeBackend{name: "weather", healthy: true})
	r.Register("sports", &fakeBackend{name: "sports", healthy: false})

	got := r.Health(context.Background())
	if !got["weather"] || got["sports"] {
		t.Errorf("unexpected health map: %v", got)
	}
}
