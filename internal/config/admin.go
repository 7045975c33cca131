package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/af-corp/hearth/internal/types"
)

const adminRuntimePath = "/api/v1/runtime-config"

// AdminProvider polls the admin service for runtime config. Until the first
// successful fetch, and whenever the admin service is down, it serves the
// last-known-good snapshot (initially the fallback provider's).
type AdminProvider struct {
	cfg      AdminConfig
	client   *http.Client
	fallback Provider
	logger   *slog.Logger

	mu        sync.RWMutex
	snapshot  *RuntimeConfig
	fetchedAt time.Time
	lastErr   error
	watchers  []func()
}

func NewAdminProvider(cfg AdminConfig, fallback Provider, logger *slog.Logger) *AdminProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &AdminProvider{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		fallback: fallback,
		logger:   logger,
	}
}

// Runtime implements Provider. It never touches the network.
func (a *AdminProvider) Runtime() *RuntimeConfig {
	a.mu.RLock()
	snap := a.snapshot
	a.mu.RUnlock()
	if snap != nil {
		return snap
	}
	return a.fallback.Runtime()
}

// Stale reports whether the most recent refresh failed.
func (a *AdminProvider) Stale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr != nil
}

// OnReload registers a callback fired after a successful refresh.
func (a *AdminProvider) OnReload(fn func()) {
	a.mu.Lock()
	a.watchers = append(a.watchers, fn)
	a.mu.Unlock()
}

// Refresh fetches a new snapshot. On failure the previous snapshot is kept
// and a *types.ConfigUnavailableError is returned.
func (a *AdminProvider) Refresh(ctx context.Context) error {
	snap, err := a.fetch(ctx)
	if err != nil {
		cerr := &types.ConfigUnavailableError{Source: "admin", Err: err}
		a.mu.Lock()
		a.lastErr = cerr
		a.mu.Unlock()
		a.logger.Warn("admin config unavailable, serving stale snapshot", "error", err)
		return cerr
	}

	a.mu.Lock()
	a.snapshot = snap
	a.fetchedAt = time.Now()
	a.lastErr = nil
	watchers := append([]func(){}, a.watchers...)
	a.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
	return nil
}

func (a *AdminProvider) fetch(ctx context.Context) (*RuntimeConfig, error) {
	url := strings.TrimSuffix(a.cfg.URL, "/") + adminRuntimePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create admin request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read admin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin returned status %d", resp.StatusCode)
	}

	// Start from defaults so fields the admin service omits keep sane values.
	snap := DefaultRuntime()
	if err := Decode(body, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Run polls until ctx is cancelled.
func (a *AdminProvider) Run(ctx context.Context) {
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	_ = a.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.Refresh(ctx)
		}
	}
}
