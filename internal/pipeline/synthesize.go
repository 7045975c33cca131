package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/types"
)

const synthesisPrompt = `You are a home voice assistant. Answer the user's question in one to three short spoken sentences using only the data provided.
Do not invent numbers, names or times that are not in the data. If the data does not answer the question, say what it does tell you.`

const (
	maxTemplateItems = 3
	maxPromptTurns   = 4
)

func (r *run) synthesize(ctx context.Context) State {
	st := r.st
	if !st.HasData() {
		st.Answer = apology(r.lastErr)
		return StateFinalize
	}

	if r.rt.Features.LLMSynthesis && r.p.Synthesizer != nil {
		answer, err := r.generate(ctx)
		answer = strings.TrimSpace(answer)
		if err == nil && answer != "" {
			st.Answer = answer
			return StateValidate
		}
		r.p.Logger.Warn("synthesis failed, using template answer", "request_id", st.RequestID, "model_tier", st.ModelTier, "error", err)
	}
	st.Answer = templateAnswer(st)
	return StateValidate
}

func (r *run) generate(ctx context.Context) (string, error) {
	st := r.st
	tier := r.rt.Tier(st.Complexity)

	var msgs []llm.Message
	history := st.ConversationHistory
	if len(history) > maxPromptTurns {
		history = history[len(history)-maxPromptTurns:]
	}
	for _, t := range history {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: t.Query},
			llm.Message{Role: "assistant", Content: t.Answer},
		)
	}
	msgs = append(msgs, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Question: %s\n\nData:\n%s", st.Query.Text, dataSummary(st)),
	})

	req := llm.Request{
		Model:       tier.Model,
		System:      synthesisPrompt,
		Messages:    msgs,
		MaxTokens:   tier.MaxTokens,
		Temperature: r.temperature(),
		Stream:      r.rt.Features.StreamSynthesis,
	}
	var onToken llm.TokenFunc
	if req.Stream {
		onToken = func(token string) {
			r.p.emit(ctx, st, events.TypeToken, StateSynthesize, map[string]any{"token": token})
		}
	}
	return r.p.Synthesizer.Generate(ctx, req, onToken)
}

// templateAnswer speaks the top retrieved items without a model.
func templateAnswer(st *types.RequestState) string {
	var parts []string
	for _, res := range st.RetrievedData {
		if !res.Success || res.Empty() {
			continue
		}
		if len(res.Items) == 0 {
			if text := strings.TrimSpace(res.Formatted); text != "" {
				parts = append(parts, text)
			} else if len(res.Data) > 0 {
				parts = append(parts, fieldsText(res.Data))
			}
		}
		for _, item := range res.Items {
			parts = append(parts, itemText(item))
		}
		if len(parts) >= maxTemplateItems {
			break
		}
	}
	if len(parts) > maxTemplateItems {
		parts = parts[:maxTemplateItems]
	}
	if len(parts) == 0 {
		return apology(nil)
	}

	lead := "Here's what I found"
	if loc := st.Entities["location"]; loc != "" {
		lead += " for " + loc
	}
	return lead + ": " + strings.Join(parts, " ")
}

func itemText(item types.Item) string {
	text := strings.TrimSpace(item.Text)
	if text == "" && len(item.Fields) > 0 {
		text = fieldsText(item.Fields)
	}
	switch {
	case item.Title != "" && text != "":
		return ensurePeriod(item.Title + ": " + text)
	case item.Title != "":
		return ensurePeriod(item.Title)
	default:
		return ensurePeriod(text)
	}
}

func fieldsText(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %v", strings.ReplaceAll(k, "_", " "), fields[k]))
	}
	return strings.Join(parts, ", ")
}

func ensurePeriod(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") {
		return s
	}
	return s + "."
}

// dataSummary is the retrieved data as prompt text.
func dataSummary(st *types.RequestState) string {
	var b strings.Builder
	for _, res := range st.RetrievedData {
		if !res.Success || res.Empty() {
			continue
		}
		if len(res.Items) == 0 {
			text := strings.TrimSpace(res.Formatted)
			if text == "" {
				text = fieldsText(res.Data)
			}
			fmt.Fprintf(&b, "[%s] %s\n", res.Source, text)
			continue
		}
		for _, item := range res.Items {
			fmt.Fprintf(&b, "[%s] %s\n", item.Source, itemText(item))
		}
	}
	return b.String()
}

// apology is the safe answer when nothing usable was retrieved.
func apology(err error) string {
	switch types.ErrorKind(err) {
	case "rate_limited":
		return "You've asked a lot in a short time. Please try again in a minute."
	case "circuit_open":
		return "Sorry, that service is temporarily unavailable. Please try again shortly."
	case "timeout":
		return "Sorry, that took too long to look up. Please try again."
	default:
		return "Sorry, I couldn't find an answer to that right now."
	}
}
