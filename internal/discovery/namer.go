package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/af-corp/hearth/internal/llm"
)

// Namer derives a canonical snake_case name for the need behind a query.
type Namer interface {
	Name(ctx context.Context, query string) (string, error)
}

const maxNameWords = 3

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "me": true, "my": true, "we": true, "our": true,
	"you": true, "your": true, "it": true, "is": true, "are": true, "was": true, "be": true,
	"do": true, "does": true, "did": true, "can": true, "could": true, "should": true, "would": true,
	"will": true, "how": true, "what": true, "what's": true, "when": true, "where": true, "why": true,
	"who": true, "which": true, "to": true, "of": true, "for": true, "in": true, "on": true, "at": true,
	"with": true, "and": true, "or": true, "about": true, "please": true, "tell": true, "there": true,
	"any": true, "some": true, "this": true, "that": true, "get": true, "know": true, "need": true,
	"want": true, "hey": true, "if": true, "from": true, "up": true, "much": true,
}

// HeuristicNamer joins the first few content words of the query.
type HeuristicNamer struct{}

func (HeuristicNamer) Name(_ context.Context, query string) (string, error) {
	var words []string
	for _, w := range llm.Tokenize(query) {
		w = strings.Trim(w, "'")
		if w == "" || stopwords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == maxNameWords {
			break
		}
	}
	if len(words) == 0 {
		return "", fmt.Errorf("no content words in %q", query)
	}
	return strings.Join(words, "_"), nil
}

// LLMNamer asks the model for a short canonical name.
type LLMNamer struct {
	Client llm.Client
	Model  string
}

const namerPrompt = `You group home-assistant questions that no existing skill handles.
Name the underlying need of the user's question in 2 to 4 lowercase words joined by underscores,
general enough that paraphrases get the same name (e.g. "descale_coffee_machine").
Reply with a JSON object: {"name": "<snake_case_name>"}`

func (n LLMNamer) Name(ctx context.Context, query string) (string, error) {
	out, err := n.Client.Generate(ctx, llm.Request{
		Model:       n.Model,
		System:      namerPrompt,
		Messages:    []llm.Message{{Role: "user", Content: query}},
		MaxTokens:   32,
		Temperature: 0,
		JSON:        true,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("name query: %w", err)
	}
	var reply struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &reply); err != nil {
		return "", fmt.Errorf("decode namer reply: %w", err)
	}
	name := CanonicalName(reply.Name)
	if name == "" {
		return "", fmt.Errorf("namer returned empty name")
	}
	return name, nil
}

var nonName = regexp.MustCompile(`[^a-z0-9]+`)

// CanonicalName lowercases s and collapses everything else to single underscores.
func CanonicalName(s string) string {
	return strings.Trim(nonName.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
