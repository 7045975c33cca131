package backend

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/hearth/internal/config"
)

const defaultBackendTimeout = 12 * time.Second

// Registry maps backend names to implementations. It is rebuilt in place
// when backends.yaml changes.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Names returns registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reload replaces every backend with those built from cfg and closes the
// previous ones.
func (r *Registry) Reload(cfg *config.BackendsConfig) {
	next := build(cfg)

	r.mu.Lock()
	prev := r.backends
	r.backends = next
	r.mu.Unlock()

	for _, b := range prev {
		if c, ok := b.(interface{ Close() error }); ok {
			c.Close()
		}
	}
}

// Health probes every backend concurrently and reports name -> healthy.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	r.mu.RLock()
	backends := make(map[string]Backend, len(r.backends))
	for n, b := range r.backends {
		backends[n] = b
	}
	r.mu.RUnlock()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]bool, len(backends))
	)
	for name, b := range backends {
		wg.Add(1)
		go func(name string, b Backend) {
			defer wg.Done()
			ok := b.Health(ctx)
			mu.Lock()
			out[name] = ok
			mu.Unlock()
		}(name, b)
	}
	wg.Wait()
	return out
}

// BuildFromConfig builds HTTP backends from the backends config.
func BuildFromConfig(cfg *config.BackendsConfig) *Registry {
	return &Registry{backends: build(cfg)}
}

func build(cfg *config.BackendsConfig) map[string]Backend {
	out := make(map[string]Backend)
	if cfg == nil {
		return out
	}
	for name, bc := range cfg.Backends {
		timeout := bc.Timeout
		if timeout <= 0 {
			timeout = defaultBackendTimeout
		}
		maxConns := bc.MaxConcurrent
		if maxConns <= 0 {
			maxConns = 16
		}
		client := &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxConns,
				MaxIdleConnsPerHost: maxConns,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		b := NewHTTPBackend(name, bc, client)
		if bc.HealthGRPCAddress != "" {
			h, err := DialGRPCHealth(bc.HealthGRPCAddress, name)
			if err != nil {
				slog.Warn("grpc health unavailable, using http health", "backend", name, "error", err)
			} else {
				b.health = h
			}
		}
		out[name] = b
	}
	return out
}
