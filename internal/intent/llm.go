package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/types"
)

const classifyPrompt = `You route questions for a home assistant. Pick the single best intent for the user's query from this list:
%s
- control: operate a device in the home (lights, locks, thermostat, doors)

Reply with one JSON object and nothing else:
{"intent": "<name>", "secondary_intents": ["<name>", ...], "confidence": <0..1>, "entities": {"location": "...", "date": "...", "room": "...", "device": "...", "team": "..."}}
Leave out entities that are not mentioned.`

// LLMClassifier asks a language model for the intent. Any transport or
// parse failure is returned as *types.ClassificationError.
type LLMClassifier struct {
	client   llm.Client
	provider config.Provider
	model    string
}

func NewLLMClassifier(client llm.Client, provider config.Provider, model string) *LLMClassifier {
	return &LLMClassifier{client: client, provider: provider, model: model}
}

func (c *LLMClassifier) Name() string { return "llm" }

type llmReply struct {
	Intent           string            `json:"intent"`
	SecondaryIntents []string          `json:"secondary_intents"`
	Confidence       float64           `json:"confidence"`
	Entities         map[string]string `json:"entities"`
}

func (c *LLMClassifier) Classify(ctx context.Context, in Input) (*Result, error) {
	known := c.knownIntents()

	out, err := c.client.Generate(ctx, llm.Request{
		Model:       c.model,
		System:      fmt.Sprintf(classifyPrompt, describe(known)),
		Messages:    []llm.Message{{Role: "user", Content: in.Text}},
		Temperature: 0,
		MaxTokens:   200,
		JSON:        true,
	}, nil)
	if err != nil {
		return nil, &types.ClassificationError{Classifier: c.Name(), Err: err}
	}

	raw := llm.ExtractJSON(out)
	if raw == "" {
		return nil, &types.ClassificationError{Classifier: c.Name(), Err: errors.New("reply contained no JSON object")}
	}
	var reply llmReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, &types.ClassificationError{Classifier: c.Name(), Err: fmt.Errorf("decode reply: %w", err)}
	}

	intent := strings.ToLower(strings.TrimSpace(reply.Intent))
	if _, ok := known[intent]; !ok && intent != types.IntentControl {
		return nil, &types.ClassificationError{Classifier: c.Name(), Err: fmt.Errorf("unknown intent %q", reply.Intent)}
	}

	res := &Result{
		Intent:     intent,
		Confidence: clamp(reply.Confidence),
		Classifier: c.Name(),
	}
	for _, s := range reply.SecondaryIntents {
		s = strings.ToLower(strings.TrimSpace(s))
		if _, ok := known[s]; ok && s != intent {
			res.SecondaryIntents = append(res.SecondaryIntents, s)
		}
	}
	res.Entities = mergeEntities(nil, reply.Entities)
	res.Entities = mergeEntities(res.Entities, ExtractEntities(in.Text))
	res.Entities = mergeEntities(res.Entities, in.Entities)
	return res, nil
}

func (c *LLMClassifier) knownIntents() map[string]string {
	out := make(map[string]string)
	for name, route := range c.provider.Runtime().Intents {
		if route.Enabled {
			out[name] = route.Description
		}
	}
	return out
}

func describe(intents map[string]string) string {
	names := make([]string, 0, len(intents))
	for n := range intents {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString("- ")
		b.WriteString(n)
		if d := intents[n]; d != "" {
			b.WriteString(": ")
			b.WriteString(d)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
