// Package cache holds synthesized INFO answers keyed by a fingerprint of the
// classified query, with an optional embedding nearest-neighbour lookup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

const (
	defaultTTL        = 10 * time.Minute
	defaultMaxEntries = 5000
	redisKeyPrefix    = "hearth:cache:"
)

// Key identifies a cacheable query.
type Key struct {
	Intent   string
	Entities map[string]string
	Text     string
}

// Entry is one cached answer.
type Entry struct {
	Fingerprint string           `json:"fingerprint"`
	Answer      string           `json:"answer"`
	Citations   []types.Citation `json:"citations,omitempty"`
	Intent      string           `json:"intent"`
	Embedding   []float32        `json:"embedding,omitempty"`
	WrittenAt   time.Time        `json:"written_at"`
	TTL         time.Duration    `json:"ttl"`
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.WrittenAt) >= e.TTL
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Citations = append([]types.Citation(nil), e.Citations...)
	return &out
}

// Cache is safe for concurrent use. At most one entry exists per fingerprint.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int

	provider config.Provider
	embedder llm.Embedder
	rdb      redis.UniversalClient
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Cache)

// WithEmbedder enables nearest-neighbour lookups when the embedding_cache
// feature flag is on.
func WithEmbedder(e llm.Embedder) Option {
	return func(c *Cache) { c.embedder = e }
}

// WithRedis mirrors entries to Redis so replicas share exact hits.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(c *Cache) { c.rdb = rdb }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(cfg config.CacheConfig, provider config.Provider, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		provider:   provider,
		logger:     slog.Default(),
		now:        time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	if c.maxEntries <= 0 {
		c.maxEntries = defaultMaxEntries
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint is the SHA-256 of the normalized intent, the sorted entities
// and the normalized query text.
func Fingerprint(k Key) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(k.Intent)))
	b.WriteByte('\n')

	keys := make([]string, 0, len(k.Entities))
	for name := range k.Entities {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		v := normalizeText(k.Entities[name])
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "%s=%s;", strings.ToLower(name), v)
	}
	b.WriteByte('\n')
	b.WriteString(normalizeText(k.Text))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func normalizeText(s string) string {
	return strings.Join(llm.Tokenize(s), " ")
}

// Lookup returns a live entry for k. Expired entries are never returned.
func (c *Cache) Lookup(ctx context.Context, k Key) (*Entry, bool) {
	e, ok := c.lookup(ctx, k)
	c.metrics.RecordCacheLookup(ok)
	return e, ok
}

func (c *Cache) lookup(ctx context.Context, k Key) (*Entry, bool) {
	fp := Fingerprint(k)
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	if ok {
		if !e.expired(now) {
			return e.clone(), true
		}
		c.remove(fp, e)
	}

	if e, ok := c.lookupRedis(ctx, fp, now); ok {
		return e, true
	}

	if !c.similarityEnabled() {
		return nil, false
	}
	return c.nearest(ctx, k, now)
}

func (c *Cache) lookupRedis(ctx context.Context, fp string, now time.Time) (*Entry, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, redisKeyPrefix+fp).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache redis read failed", "error", err)
		}
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("cache redis entry corrupt", "fingerprint", fp, "error", err)
		return nil, false
	}
	if e.expired(now) {
		return nil, false
	}
	c.put(&e)
	return e.clone(), true
}

func (c *Cache) similarityEnabled() bool {
	if c.embedder == nil || c.provider == nil {
		return false
	}
	return c.provider.Runtime().Features.EmbeddingCache
}

func (c *Cache) threshold() float64 {
	if c.provider == nil {
		return 1
	}
	t := c.provider.Runtime().Thresholds.CacheSimilarity
	if t <= 0 || t > 1 {
		return 1
	}
	return t
}

// nearest scans same-intent entries for the most similar embedding.
func (c *Cache) nearest(ctx context.Context, k Key, now time.Time) (*Entry, bool) {
	vec, err := c.embedder.Embed(ctx, k.Text)
	if err != nil {
		c.logger.Warn("cache embedding failed", "error", err)
		return nil, false
	}
	threshold := c.threshold()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		best      *Entry
		bestScore float64
	)
	for _, e := range c.entries {
		if e.Intent != k.Intent || len(e.Embedding) == 0 || e.expired(now) {
			continue
		}
		if score := llm.Cosine(vec, e.Embedding); score >= threshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return nil, false
	}
	return best.clone(), true
}

// Store writes e under k's fingerprint, replacing any previous entry.
func (c *Cache) Store(ctx context.Context, k Key, e Entry) {
	e.Fingerprint = Fingerprint(k)
	e.Intent = k.Intent
	e.WrittenAt = c.now()
	if e.TTL <= 0 {
		e.TTL = c.ttl
	}
	e.Citations = append([]types.Citation(nil), e.Citations...)
	if e.Embedding == nil && c.similarityEnabled() {
		if vec, err := c.embedder.Embed(ctx, k.Text); err == nil {
			e.Embedding = vec
		}
	}
	c.put(&e)

	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+e.Fingerprint, data, e.TTL).Err(); err != nil {
		c.logger.Warn("cache redis write failed", "error", err)
	}
}

func (c *Cache) put(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[e.Fingerprint]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[e.Fingerprint] = e
}

// evictLocked drops expired entries, or the oldest one when none expired.
func (c *Cache) evictLocked() {
	now := c.now()
	var (
		oldestKey string
		oldest    time.Time
	)
	for fp, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, fp)
			continue
		}
		if oldestKey == "" || e.WrittenAt.Before(oldest) {
			oldestKey, oldest = fp, e.WrittenAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) remove(fp string, e *Entry) {
	c.mu.Lock()
	if c.entries[fp] == e {
		delete(c.entries, fp)
	}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for fp, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("expired cache entries swept", "count", n)
			}
		}
	}
}
