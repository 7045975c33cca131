package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/types"
)

// Validation failure reasons.
const (
	reasonNoData      = "no_data"
	reasonDenial      = "answer_denies_data"
	reasonUnsupported = "unsupported_figures"
)

var figureRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

var denialCache sync.Map // pattern -> *regexp.Regexp or nil when invalid

func (r *run) validate(ctx context.Context) State {
	st := r.st
	if slices.Contains(r.rt.Validation.SkipIntents, st.Intent) {
		st.ValidationPassed = true
		return StateFinalize
	}

	reason, details := r.check()
	r.p.Metrics.RecordValidation(reason == "")
	r.p.emit(ctx, st, events.TypeValidated, StateValidate, map[string]any{
		"passed":  reason == "",
		"reason":  reason,
		"details": details,
		"retry":   st.RetryCount,
	})
	if reason == "" {
		st.ValidationPassed = true
		st.ValidationReason = ""
		st.ValidationDetails = nil
		return StateFinalize
	}
	st.ValidationPassed = false
	st.ValidationReason = reason
	st.ValidationDetails = details

	if r.canRetry() {
		st.RetryCount++
		r.p.Logger.Info("answer failed validation, retrying with fallback backend",
			"request_id", st.RequestID,
			"intent", st.Intent,
			"reason", reason,
		)
		return StateRetrieve
	}

	// The unvalidated answer stands; finalize fills it only when empty.
	st.AddError(&types.ValidationError{Reason: reason, Details: details})
	return StateFinalize
}

// canRetry allows one forced-fallback retrieval unless quotas were hit or
// the fallback already answered.
func (r *run) canRetry() bool {
	st := r.st
	if !r.rt.Features.ValidationFallback || st.RetryCount > 0 || st.FallbackUsed {
		return false
	}
	if types.ErrorKind(r.lastErr) == "rate_limited" {
		return false
	}
	fallback := r.rt.FallbackBackend
	if fallback == "" {
		return false
	}
	if route, ok := r.rt.Route(st.Intent); ok && route.Backend == fallback {
		return false
	}
	return true
}

// check returns an empty reason when the answer is grounded in the data.
func (r *run) check() (string, []string) {
	st := r.st
	if !st.HasData() {
		return reasonNoData, nil
	}
	answer := st.Answer

	for _, p := range r.rt.Validation.DenialPatterns {
		re := denialPattern(p)
		if re != nil && re.MatchString(answer) {
			return reasonDenial, []string{p}
		}
	}

	corpus := groundingCorpus(st)
	var missing []string
	for _, fig := range figureRe.FindAllString(answer, -1) {
		digits := strings.ReplaceAll(fig, ",", "")
		if len(strings.TrimLeft(strings.SplitN(digits, ".", 2)[0], "0")) < 2 {
			continue
		}
		if !strings.Contains(corpus, digits) && !strings.Contains(corpus, fig) {
			missing = append(missing, fig)
		}
	}
	if len(missing) > 0 {
		return reasonUnsupported, missing
	}
	return "", nil
}

func denialPattern(p string) *regexp.Regexp {
	if v, ok := denialCache.Load(p); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		denialCache.Store(p, (*regexp.Regexp)(nil))
		return nil
	}
	denialCache.Store(p, re)
	return re
}

// groundingCorpus is every piece of text an answer may quote figures from.
func groundingCorpus(st *types.RequestState) string {
	var b strings.Builder
	b.WriteString(st.Query.Text)
	b.WriteByte('\n')
	b.WriteString(dataSummary(st))
	for _, res := range st.RetrievedData {
		if len(res.Data) > 0 {
			if raw, err := json.Marshal(res.Data); err == nil {
				b.Write(raw)
				b.WriteByte('\n')
			}
		}
		for _, item := range res.Items {
			if len(item.Fields) > 0 {
				if raw, err := json.Marshal(item.Fields); err == nil {
					b.Write(raw)
					b.WriteByte('\n')
				}
			}
		}
	}
	for _, v := range st.Entities {
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return b.String()
}
