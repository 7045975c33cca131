// Package session keeps per-session conversation context between turns and
// resolves references to it.
package session

import (
	"context"

	"github.com/af-corp/hearth/internal/types"
)

// MaxHistory is the default number of turns kept per session.
const MaxHistory = 10

// Store persists ConversationContext by session id with an inactivity TTL.
// Concurrent updates to one session are not serialized; the last write wins.
type Store interface {
	// Get returns nil, nil for unknown or expired sessions.
	Get(ctx context.Context, sessionID string) (*types.ConversationContext, error)
	Update(ctx context.Context, sessionID string, c *types.ConversationContext) error
	Delete(ctx context.Context, sessionID string) error
}

// AppendTurn adds a turn and drops the oldest beyond max.
func AppendTurn(c *types.ConversationContext, turn types.Turn, max int) {
	if max <= 0 {
		max = MaxHistory
	}
	c.History = append(c.History, turn)
	if over := len(c.History) - max; over > 0 {
		c.History = append([]types.Turn(nil), c.History[over:]...)
	}
}
