// Package discovery clusters low-confidence queries into emerging intents for
// human review.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

// Outcomes recorded per observation.
const (
	OutcomeCreated   = "created"
	OutcomeClustered = "clustered"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

const (
	defaultMaxInFlight = 8
	defaultTimeout     = 10 * time.Second
)

// Service records novel queries off the request path. Submit never blocks;
// all failures are logged and swallowed.
type Service struct {
	store     Store
	namer     Namer
	heuristic Namer
	embedder  llm.Embedder
	provider  config.Provider
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
	// writeMu serializes read-match-write so one canonical name never
	// yields two rows.
	writeMu sync.Mutex
}

type Option func(*Service)

// WithNamer sets the model-backed namer used when llm_discovery_naming is on.
func WithNamer(n Namer) Option {
	return func(s *Service) { s.namer = n }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, embedder llm.Embedder, provider config.Provider, cfg config.DiscoveryConfig, opts ...Option) *Service {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if embedder == nil {
		embedder = llm.HashEmbedder{}
	}
	s := &Service{
		store:     store,
		heuristic: HeuristicNamer{},
		embedder:  embedder,
		provider:  provider,
		logger:    slog.Default(),
		timeout:   timeout,
		now:       time.Now,
		sem:       make(chan struct{}, maxInFlight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldObserve reports whether a classification at this confidence is a
// discovery candidate under the current runtime config.
func (s *Service) ShouldObserve(confidence float64) bool {
	rt := s.provider.Runtime()
	return rt.Features.IntentDiscovery && confidence < rt.Thresholds.Discovery
}

// Submit schedules query for observation and returns immediately. It returns
// false when the query was dropped because too many observations are running.
func (s *Service) Submit(query string) bool {
	select {
	case s.sem <- struct{}{}:
	default:
		s.metrics.RecordDiscovery(OutcomeDropped)
		s.logger.Warn("discovery saturated, dropping query")
		return false
	}

	s.wg.Add(1)
	s.metrics.DiscoveryStarted()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.metrics.RecordDiscovery(OutcomeFailed)
				s.logger.Error("discovery panicked", "panic", fmt.Sprint(r))
			}
			s.metrics.DiscoveryFinished()
			<-s.sem
			s.wg.Done()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Observe(ctx, query); err != nil {
			s.metrics.RecordDiscovery(OutcomeFailed)
			s.logger.Warn("discovery failed", "error", err)
		}
	}()
	return true
}

// Wait blocks until every submitted observation has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Observe names, embeds and clusters one query, returning the emerging
// intent it was counted against.
func (s *Service) Observe(ctx context.Context, query string) (*types.EmergingIntent, error) {
	name, err := s.name(ctx, query)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		// Exact-name clustering still works without a vector.
		s.logger.Warn("discovery embedding failed", "error", err)
		vec = nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load emerging intents: %w", err)
	}

	now := s.now()
	outcome := OutcomeClustered
	match := s.match(name, vec, existing)
	if match == nil {
		outcome = OutcomeCreated
		match = &types.EmergingIntent{
			ID:            uuid.NewString(),
			CanonicalName: name,
			Embedding:     vec,
			Status:        types.StatusDiscovered,
			FirstSeen:     now,
		}
	}
	match.OccurrenceCount++
	match.AddSample(query)
	match.LastSeen = now
	if len(match.Embedding) == 0 {
		match.Embedding = vec
	}

	if err := s.store.Save(ctx, match); err != nil {
		return nil, fmt.Errorf("save emerging intent: %w", err)
	}
	s.metrics.RecordDiscovery(outcome)
	s.logger.Info("emerging intent observed",
		"canonical_name", match.CanonicalName,
		"outcome", outcome,
		"occurrences", match.OccurrenceCount,
	)
	return match, nil
}

func (s *Service) name(ctx context.Context, query string) (string, error) {
	if s.namer != nil && s.provider.Runtime().Features.LLMDiscoveryNaming {
		name, err := s.namer.Name(ctx, query)
		if err == nil {
			return name, nil
		}
		s.logger.Warn("discovery namer failed, using heuristic", "error", err)
	}
	return s.heuristic.Name(ctx, query)
}

// match prefers an exact canonical-name hit, then the most similar stored
// embedding at or above the cluster threshold.
func (s *Service) match(name string, vec []float32, existing []*types.EmergingIntent) *types.EmergingIntent {
	for _, e := range existing {
		if e.CanonicalName == name {
			return e
		}
	}
	if len(vec) == 0 {
		return nil
	}

	threshold := s.provider.Runtime().Thresholds.Cluster
	var (
		best      *types.EmergingIntent
		bestScore float64
	)
	for _, e := range existing {
		score := llm.Cosine(vec, e.Embedding)
		if score >= threshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	return best
}
