package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/hearth/internal/types"
)

type memEntry struct {
	ctx     *types.ConversationContext
	touched time.Time
}

// MemoryStore is an in-process Store. Expired sessions are dropped on read
// and by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memEntry
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryStore{
		sessions: make(map[string]memEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*types.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if s.now().Sub(e.touched) >= s.ttl {
		delete(s.sessions, sessionID)
		return nil, nil
	}
	return e.ctx.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, sessionID string, c *types.ConversationContext) error {
	stored := c.Clone()
	stored.SessionID = sessionID

	s.mu.Lock()
	s.sessions[sessionID] = memEntry{ctx: stored, touched: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if now.Sub(e.touched) >= s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
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
			if n := s.Sweep(); n > 0 {
				slog.Debug("expired sessions swept", "count", n)
			}
		}
	}
}
