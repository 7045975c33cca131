// Package backend defines the contract for RAG and tool backends and the
// HTTP implementation used for every configured service.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/af-corp/hearth/internal/types"
)

// Request is what the dispatcher sends to a backend.
type Request struct {
	Query    string            `json:"query"`
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities,omitempty"`
	Mode     types.Mode        `json:"mode"`
	Room     string            `json:"room,omitempty"`
}

// ErrReported is wrapped when a backend answers but reports its own failure.
var ErrReported = errors.New("backend reported failure")

// Response is a backend's answer. An empty Items and Data means the backend
// found nothing. Success is optional on the wire; only an explicit false
// marks a failure.
type Response struct {
	Success   *bool          `json:"success,omitempty"`
	Items     []types.Item   `json:"items,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Formatted string         `json:"formatted,omitempty"`
	Error     string         `json:"error,omitempty"`
	Cached    bool           `json:"cached,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// Err returns the failure the backend reported in its body, if any.
func (r *Response) Err() error {
	if r == nil {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("%w: %s", ErrReported, r.Error)
	}
	if r.Success != nil && !*r.Success {
		return ErrReported
	}
	return nil
}

// Empty reports whether the response carries no usable data.
func (r *Response) Empty() bool {
	return r == nil || (len(r.Items) == 0 && len(r.Data) == 0 && r.Formatted == "")
}

// Backend is one independent retrieval or tool service.
type Backend interface {
	Name() string
	Call(ctx context.Context, req Request) (*Response, error)
	Health(ctx context.Context) bool
}
