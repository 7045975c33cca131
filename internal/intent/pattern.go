package intent

import (
	"context"
	"sort"

	"github.com/af-corp/hearth/internal/types"
)

const (
	hintConfidence    = 0.6
	unknownConfidence = 0.2
	secondaryMinScore = 0.5
	extraMatchBonus   = 0.05
)

// PatternClassifier scores intents by regular expression rules. It never fails.
type PatternClassifier struct {
	rules []Rule
}

func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{rules: DefaultRules()}
}

func (p *PatternClassifier) Name() string { return "pattern" }

// Scores returns the best score per intent. Each extra matching rule for the
// same intent adds a small bonus, capped at 1.
func (p *PatternClassifier) Scores(text string) map[string]float64 {
	scores := make(map[string]float64)
	hits := make(map[string]int)
	for _, r := range p.rules {
		if !r.Regex.MatchString(text) {
			continue
		}
		hits[r.Intent]++
		if r.Weight > scores[r.Intent] {
			scores[r.Intent] = r.Weight
		}
	}
	for intent, n := range hits {
		s := scores[intent] + float64(n-1)*extraMatchBonus
		if s > 1 {
			s = 1
		}
		scores[intent] = s
	}
	return scores
}

func (p *PatternClassifier) Classify(_ context.Context, in Input) (*Result, error) {
	res := &Result{
		Entities:   mergeEntities(ExtractEntities(in.Text), in.Entities),
		Classifier: p.Name(),
	}

	scores := p.Scores(in.Text)

	// Device control wins outright: "turn off the kitchen lights" must never
	// route to retrieval even if another rule matched a word.
	if s, ok := scores[types.IntentControl]; ok {
		res.Intent = types.IntentControl
		res.Confidence = s
		return res, nil
	}

	// An open question matching a specific domain is that domain, and a bare
	// follow-up question ("what about tomorrow?") keeps the prior intent.
	if _, general := scores[types.IntentGeneral]; general {
		if len(scores) > 1 || in.IntentHint != "" {
			delete(scores, types.IntentGeneral)
		}
	}

	ranked := rank(scores)
	switch {
	case len(ranked) > 0:
		res.Intent = ranked[0]
		res.Confidence = scores[ranked[0]]
		for _, other := range ranked[1:] {
			if scores[other] >= secondaryMinScore {
				res.SecondaryIntents = append(res.SecondaryIntents, other)
			}
		}
	case in.IntentHint != "":
		res.Intent = in.IntentHint
		res.Confidence = hintConfidence
	default:
		res.Intent = types.IntentGeneral
		res.Confidence = unknownConfidence
	}
	return res, nil
}

// rank orders intents by descending score, then name for determinism.
func rank(scores map[string]float64) []string {
	out := make([]string, 0, len(scores))
	for k := range scores {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if scores[out[i]] != scores[out[j]] {
			return scores[out[i]] > scores[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
