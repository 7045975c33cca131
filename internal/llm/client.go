// Package llm provides the LLM and embedding contracts and their
// OpenAI-compatible implementations.
package llm

import (
	"context"
	"strings"
)

// TokenFunc receives streamed tokens in order.
type TokenFunc func(token string)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// Stream delivers tokens through the TokenFunc as they arrive.
	Stream bool
	// JSON asks the model for a single JSON object.
	JSON bool
}

// Client generates text. Implementations must honor ctx cancellation.
type Client interface {
	Generate(ctx context.Context, req Request, onToken TokenFunc) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request, onToken TokenFunc) (string, error)

func (f ClientFunc) Generate(ctx context.Context, req Request, onToken TokenFunc) (string, error) {
	return f(ctx, req, onToken)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ExtractJSON returns the outermost {...} span of s, tolerating models that
// wrap JSON in prose or code fences. It returns "" when there is none.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
