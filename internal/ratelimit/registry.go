package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

// Registry enforces per-service, per-mode request ceilings over a one minute
// window. Ceilings are read from the runtime config on every call.
type Registry struct {
	limiter  *Limiter
	provider config.Provider
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewRegistry(limiter *Limiter, provider config.Provider, metrics *telemetry.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{limiter: limiter, provider: provider, metrics: metrics, logger: logger}
}

// Allow consumes one call for service in the given mode. It returns a
// *types.RateLimitError when the ceiling is reached. A ceiling of zero or
// less means unlimited.
func (r *Registry) Allow(ctx context.Context, service string, mode types.Mode) error {
	limit := int64(r.provider.Runtime().RateLimits.Limit(service, mode))
	if limit <= 0 {
		return nil
	}

	key := fmt.Sprintf("svc:%s:%s", service, mode)
	result, err := r.limiter.Check(ctx, key, limit, time.Minute)
	if err != nil {
		return err
	}
	if result.Allowed {
		return nil
	}

	r.logger.Warn("rate limit exceeded",
		"service", service,
		"mode", string(mode),
		"limit", limit,
		"retry_after", result.RetryAfter,
	)
	r.metrics.RecordRateLimitHit(service, string(mode))
	return &types.RateLimitError{Service: service, Mode: mode, Limit: limit}
}
