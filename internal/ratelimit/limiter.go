package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter performs sliding-window rate limiting backed by Redis sorted sets.
// Without Redis, or when Redis errors, it enforces the same ceiling with an
// in-process token bucket per key.
type Limiter struct {
	rdb    redis.UniversalClient
	logger *slog.Logger

	mu    sync.Mutex
	local map[string]*localBucket
}

type localBucket struct {
	limit   int64
	limiter *rate.Limiter
}

// NewLimiter creates a new rate limiter. rdb may be nil.
func NewLimiter(rdb redis.UniversalClient, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{rdb: rdb, logger: logger, local: make(map[string]*localBucket)}
}

// slidingWindowScript atomically: removes expired entries, adds current, counts.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro), also the member prefix
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// Returns: [current_count, 1=allowed/0=denied]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, ttl)
    return {count + 1, 1}
end

redis.call('EXPIRE', key, ttl)
return {count, 0}
`)

// Check performs a sliding-window rate limit check.
// key: the rate limit bucket identifier
// limit: maximum allowed requests in the window
// window: the sliding window duration
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error) {
	if l.rdb == nil {
		return l.checkLocal(key, limit, window), nil
	}

	now := time.Now()
	windowStart := now.Add(-window).UnixMicro()
	nowMicro := now.UnixMicro()
	ttlSecs := int64(window.Seconds()) + 1

	redisKey := fmt.Sprintf("hearth:rl:%s", key)

	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{redisKey},
		windowStart, nowMicro, limit, ttlSecs,
	).Int64Slice()
	if err != nil {
		l.logger.Warn("redis rate limit check failed, using local limiter", "key", key, "error", err)
		return l.checkLocal(key, limit, window), nil
	}

	count := result[0]
	allowed := result[1] == 1
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = window / 2 // conservative estimate
	}

	return LimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetAt:    now.Add(window),
		RetryAfter: retryAfter,
	}, nil
}

func (l *Limiter) checkLocal(key string, limit int64, window time.Duration) LimitResult {
	if limit <= 0 {
		return LimitResult{Allowed: true, ResetAt: time.Now().Add(window)}
	}

	l.mu.Lock()
	b, ok := l.local[key]
	if !ok || b.limit != limit {
		every := rate.Every(window / time.Duration(limit))
		b = &localBucket{limit: limit, limiter: rate.NewLimiter(every, int(limit))}
		l.local[key] = b
	}
	l.mu.Unlock()

	now := time.Now()
	if b.limiter.AllowN(now, 1) {
		return LimitResult{
			Allowed:   true,
			Remaining: int64(b.limiter.TokensAt(now)),
			ResetAt:   now.Add(window),
		}
	}

	r := b.limiter.ReserveN(now, 1)
	retryAfter := r.DelayFrom(now)
	r.CancelAt(now)
	return LimitResult{
		Allowed:    false,
		ResetAt:    now.Add(retryAfter),
		RetryAfter: retryAfter,
	}
}
