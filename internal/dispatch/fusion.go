package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/af-corp/hearth/internal/types"
)

// Fused is the merged view of a batch.
type Fused struct {
	Items   []types.Item
	Results []types.BackendResult
	Sources []string
	Summary string
	// Degraded is set when at least one branch failed.
	Degraded bool
	Errors   []error
}

// Fuse merges successful outcomes. Duplicate item keys keep the item with
// the lowest priority number, then the most recent FetchedAt, then the
// lexicographically smaller source. When every branch failed it returns one
// *types.UpstreamError carrying all causes.
func Fuse(outcomes []Outcome) (*Fused, error) {
	f := &Fused{}
	best := make(map[string]types.Item)

	for _, o := range outcomes {
		if o.Err != nil {
			f.Errors = append(f.Errors, o.Err)
			continue
		}
		if o.Result == nil || !o.Result.Success || o.Result.Empty() {
			continue
		}
		f.Results = append(f.Results, *o.Result)
		for _, item := range itemsOf(o.Result) {
			if cur, ok := best[item.Key]; !ok || preferred(item, cur) {
				best[item.Key] = item
			}
		}
	}

	f.Degraded = len(f.Errors) > 0
	if len(f.Results) == 0 && len(f.Errors) > 0 {
		return nil, &types.UpstreamError{Causes: f.Errors}
	}

	f.Items = make([]types.Item, 0, len(best))
	for _, item := range best {
		f.Items = append(f.Items, item)
	}
	sort.Slice(f.Items, func(i, j int) bool {
		a, b := f.Items[i], f.Items[j]
		if preferred(a, b) != preferred(b, a) {
			return preferred(a, b)
		}
		return a.Key < b.Key
	})

	seen := make(map[string]bool)
	var summary strings.Builder
	for _, item := range f.Items {
		if !seen[item.Source] {
			seen[item.Source] = true
			f.Sources = append(f.Sources, item.Source)
		}
		summary.WriteString(describeItem(item))
		summary.WriteByte('\n')
	}
	f.Summary = strings.TrimSpace(summary.String())
	return f, nil
}

// preferred reports whether a wins over b for the same key.
func preferred(a, b types.Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.After(b.FetchedAt)
	}
	return a.Source < b.Source
}

// itemsOf returns the result's items, or one synthetic item for results
// that only carry formatted text or raw data.
func itemsOf(r *types.BackendResult) []types.Item {
	if len(r.Items) > 0 {
		return r.Items
	}
	return []types.Item{{
		Key:       r.Backend + ":" + r.Intent,
		Text:      r.Formatted,
		Fields:    r.Data,
		Source:    r.Source,
		Priority:  r.Priority,
		FetchedAt: r.FetchedAt,
	}}
}

func describeItem(item types.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", item.Source)
	if item.Title != "" {
		b.WriteString(" " + item.Title + ":")
	}
	if item.Text != "" {
		b.WriteString(" " + item.Text)
	}
	if len(item.Fields) > 0 {
		keys := make([]string, 0, len(item.Fields))
		for k := range item.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, item.Fields[k])
		}
	}
	return b.String()
}
