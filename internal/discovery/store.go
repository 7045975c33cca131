package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/af-corp/hearth/internal/types"
)

// Store persists emerging intents. CanonicalName is unique: Save inserts a
// new row or replaces the row with the same name.
type Store interface {
	All(ctx context.Context) ([]*types.EmergingIntent, error)
	Save(ctx context.Context, e *types.EmergingIntent) error
}

// MemoryStore keeps emerging intents in process.
type MemoryStore struct {
	mu     sync.RWMutex
	byName map[string]*types.EmergingIntent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byName: make(map[string]*types.EmergingIntent)}
}

// All returns copies ordered by first sighting.
func (s *MemoryStore) All(_ context.Context) ([]*types.EmergingIntent, error) {
	s.mu.RLock()
	out := make([]*types.EmergingIntent, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, cloneIntent(e))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].CanonicalName < out[j].CanonicalName
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, e *types.EmergingIntent) error {
	s.mu.Lock()
	s.byName[e.CanonicalName] = cloneIntent(e)
	s.mu.Unlock()
	return nil
}

func cloneIntent(e *types.EmergingIntent) *types.EmergingIntent {
	out := *e
	out.Embedding = append([]float32(nil), e.Embedding...)
	out.SampleQueries = append([]string(nil), e.SampleQueries...)
	return &out
}
