package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/types"
)

const selectPrompt = `You pick the single best tool to answer a home assistant question.
Tools:
%s
Reply with one JSON object and nothing else: {"tool": "<tool name>"}`

// ToolSelector asks the LLM which backend should answer a query. Only the
// backends of enabled intents are offered.
type ToolSelector struct {
	client   llm.Client
	provider config.Provider
	model    string
}

func NewToolSelector(client llm.Client, provider config.Provider, model string) *ToolSelector {
	return &ToolSelector{client: client, provider: provider, model: model}
}

// Select returns the chosen backend name, or an error when the model is
// unavailable or names a tool that was not offered.
func (s *ToolSelector) Select(ctx context.Context, query string) (string, error) {
	tools := s.tools()
	if len(tools) == 0 {
		return "", fmt.Errorf("no tools configured")
	}

	var list strings.Builder
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&list, "- %s: %s\n", name, tools[name])
	}

	out, err := s.client.Generate(ctx, llm.Request{
		Model:       s.model,
		System:      fmt.Sprintf(selectPrompt, list.String()),
		Messages:    []llm.Message{{Role: "user", Content: query}},
		MaxTokens:   40,
		Temperature: 0,
		JSON:        true,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("select tool: %w", err)
	}

	var reply struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &reply); err != nil {
		return "", fmt.Errorf("decode tool choice: %w", err)
	}
	if _, ok := tools[reply.Tool]; !ok {
		return "", fmt.Errorf("model chose unknown tool %q", reply.Tool)
	}
	return reply.Tool, nil
}

// tools maps backend name to a description built from the intents it serves.
func (s *ToolSelector) tools() map[string]string {
	rt := s.provider.Runtime()
	descs := make(map[string][]string)
	for name, route := range rt.Intents {
		if !route.Enabled || route.Backend == "" || name == types.IntentControl {
			continue
		}
		desc := route.Description
		if desc == "" {
			desc = name
		}
		descs[route.Backend] = append(descs[route.Backend], desc)
	}

	tools := make(map[string]string, len(descs))
	for backend, d := range descs {
		sort.Strings(d)
		tools[backend] = strings.Join(d, "; ")
	}
	return tools
}
