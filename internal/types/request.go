package types

import (
	"fmt"
	"strings"
	"time"
)

// Intent names used across the orchestrator. Backends are configured per intent,
// so any string is a valid intent; these are the ones the engine treats specially.
const (
	IntentControl   = "control"
	IntentWebSearch = "web_search"
	IntentGeneral   = "general"
	IntentUnknown   = "unknown"
)

// Query is the accepted user input. It is never mutated after validation.
type Query struct {
	Text        string  `json:"query"`
	Mode        Mode    `json:"mode"`
	Room        string  `json:"room,omitempty"`
	SessionID   string  `json:"session_id"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Validate normalizes defaults and rejects malformed queries.
func (q *Query) Validate() error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("query text is required")
	}
	if q.Mode == "" {
		q.Mode = ModeOwner
	}
	if _, ok := ParseMode(string(q.Mode)); !ok {
		return fmt.Errorf("invalid mode %q (use owner or guest)", q.Mode)
	}
	if q.Temperature < 0 || q.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// Turn is one exchange in a session's history.
type Turn struct {
	Query  string    `json:"query"`
	Answer string    `json:"answer"`
	Intent string    `json:"intent"`
	At     time.Time `json:"at"`
}

// ConversationContext is the per-session memory carried between turns.
type ConversationContext struct {
	SessionID    string            `json:"session_id"`
	LastIntent   string            `json:"last_intent"`
	LastQuery    string            `json:"last_query"`
	Entities     map[string]string `json:"entities,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	LastResponse string            `json:"last_response"`
	Room         string            `json:"room,omitempty"`
	History      []Turn            `json:"history,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`

	// Sticky escalation set by an escalation rule with a duration.
	EscalatedComplexity Complexity `json:"escalated_complexity,omitempty"`
	EscalatedUntil      time.Time  `json:"escalated_until,omitempty"`
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Entities = copyMap(c.Entities)
	out.Parameters = copyMap(c.Parameters)
	out.History = append([]Turn(nil), c.History...)
	return &out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
