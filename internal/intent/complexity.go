package intent

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/types"
)

// Trigger types understood by escalation rules.
const (
	TriggerKeyword   = "keyword"
	TriggerRegex     = "regex"
	TriggerWordCount = "word_count"
	TriggerIntent    = "intent"
)

var (
	comparisonRe = regexp.MustCompile(`(?i)\b(compare|comparison|versus|vs\.?|better than|difference between|pros and cons)\b`)
	planningRe   = regexp.MustCompile(`(?i)\b(plan|planning|itinerary|schedule|should i|should we|recommend|step by step|organize)\b`)
	conjunctRe   = regexp.MustCompile(`(?i)\b(and|then|also|plus|as well as)\b`)
)

// Decision is the selected complexity and, when an escalation rule fired,
// which one and how long it stays in effect for the session.
type Decision struct {
	Complexity     types.Complexity
	Base           types.Complexity
	Rule           string
	EscalatedUntil time.Time
}

// SelectComplexity derives a base complexity from the query and classification,
// then applies escalation rules by descending priority. The first matching
// rule overrides the base. A still-active sticky escalation on the session
// applies when no rule matches.
func SelectComplexity(text string, res *Result, rules []config.EscalationRule, session *types.ConversationContext, now time.Time) Decision {
	base := baseComplexity(text, res)
	d := Decision{Complexity: base, Base: base}

	if rule, ok := firstMatch(text, res, rules); ok {
		target, valid := types.ParseComplexity(rule.TargetComplexity)
		if valid {
			d.Complexity = target
			d.Rule = rule.Name
			if rule.Duration > 0 {
				d.EscalatedUntil = now.Add(rule.Duration)
			}
			return d
		}
		slog.Warn("escalation rule has unknown target complexity", "rule", rule.Name, "target", rule.TargetComplexity)
	}

	if session != nil && session.EscalatedComplexity != "" && now.Before(session.EscalatedUntil) {
		d.Complexity = session.EscalatedComplexity
		d.Rule = "sticky"
		d.EscalatedUntil = session.EscalatedUntil
	}
	return d
}

func baseComplexity(text string, res *Result) types.Complexity {
	if res != nil && res.Intent == types.IntentControl {
		return types.ComplexitySimple
	}

	words := len(llm.Tokenize(text))
	score := 0
	if words > 20 {
		score++
	}
	if words > 40 {
		score++
	}
	if comparisonRe.MatchString(text) {
		score++
	}
	if planningRe.MatchString(text) {
		score++
	}
	if len(conjunctRe.FindAllString(text, -1)) >= 2 {
		score++
	}
	if res != nil && len(res.SecondaryIntents) > 0 {
		score++
	}

	switch {
	case score >= 3:
		return types.ComplexitySuperComplex
	case score >= 1:
		return types.ComplexityComplex
	default:
		return types.ComplexitySimple
	}
}

func firstMatch(text string, res *Result, rules []config.EscalationRule) (config.EscalationRule, bool) {
	ordered := make([]config.EscalationRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	for _, r := range ordered {
		if matches(r, text, res) {
			return r, true
		}
	}
	return config.EscalationRule{}, false
}

func matches(r config.EscalationRule, text string, res *Result) bool {
	switch r.TriggerType {
	case TriggerKeyword:
		lower := strings.ToLower(text)
		for _, kw := range splitList(r.TriggerPattern) {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	case TriggerRegex:
		re, err := compiled(r.TriggerPattern)
		if err != nil {
			slog.Warn("escalation rule has invalid regex", "rule", r.Name, "error", err)
			return false
		}
		return re.MatchString(text)
	case TriggerWordCount:
		n, err := strconv.Atoi(strings.TrimSpace(r.TriggerPattern))
		if err != nil {
			slog.Warn("escalation rule has invalid word count", "rule", r.Name, "pattern", r.TriggerPattern)
			return false
		}
		return len(llm.Tokenize(text)) >= n
	case TriggerIntent:
		if res == nil {
			return false
		}
		for _, want := range splitList(r.TriggerPattern) {
			if want == res.Intent {
				return true
			}
			for _, s := range res.SecondaryIntents {
				if want == s {
					return true
				}
			}
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var regexCache sync.Map // pattern -> *regexp.Regexp

func compiled(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}
