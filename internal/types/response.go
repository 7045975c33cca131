package types

import "time"

// Citation points at the backend that supplied part of an answer.
type Citation struct {
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Response is what the public entrypoint returns for every well-formed query.
type Response struct {
	RequestID  string     `json:"request_id"`
	Answer     string     `json:"answer"`
	Intent     string     `json:"intent"`
	Citations  []Citation `json:"citations"`
	Complexity Complexity `json:"complexity,omitempty"`
	CacheHit   bool       `json:"cache_hit"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// Item is one fusable unit of backend data.
type Item struct {
	Key       string         `json:"key"`
	Title     string         `json:"title,omitempty"`
	Text      string         `json:"text,omitempty"`
	URL       string         `json:"url,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Source    string         `json:"source"`
	Priority  int            `json:"priority"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// BackendResult is the tagged outcome of one logical backend call.
type BackendResult struct {
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data,omitempty"`
	Items        []Item         `json:"items,omitempty"`
	Formatted    string         `json:"formatted,omitempty"`
	Source       string         `json:"source"`
	Backend      string         `json:"backend"`
	Intent       string         `json:"intent"`
	Cached       bool           `json:"cached"`
	Priority     int            `json:"priority"`
	FallbackUsed bool           `json:"fallback_used"`
	FetchedAt    time.Time      `json:"fetched_at"`
}

// Empty reports whether the result carries nothing a synthesizer could use.
func (r *BackendResult) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.Data) == 0 && len(r.Items) == 0 && r.Formatted == ""
}

// EmergingIntentStatus tracks the external review workflow.
type EmergingIntentStatus string

const (
	StatusDiscovered EmergingIntentStatus = "discovered"
	StatusReviewed   EmergingIntentStatus = "reviewed"
	StatusPromoted   EmergingIntentStatus = "promoted"
	StatusRejected   EmergingIntentStatus = "rejected"
)

// MaxSampleQueries bounds EmergingIntent.SampleQueries.
const MaxSampleQueries = 10

// EmergingIntent is a cluster of low-confidence queries awaiting review.
type EmergingIntent struct {
	ID              string               `json:"id"`
	CanonicalName   string               `json:"canonical_name"`
	Embedding       []float32            `json:"embedding,omitempty"`
	OccurrenceCount int                  `json:"occurrence_count"`
	SampleQueries   []string             `json:"sample_queries"`
	Status          EmergingIntentStatus `json:"status"`
	FirstSeen       time.Time            `json:"first_seen"`
	LastSeen        time.Time            `json:"last_seen"`
}

// AddSample appends a sample query, dropping the oldest beyond MaxSampleQueries.
func (e *EmergingIntent) AddSample(q string) {
	e.SampleQueries = append(e.SampleQueries, q)
	if over := len(e.SampleQueries) - MaxSampleQueries; over > 0 {
		e.SampleQueries = append([]string(nil), e.SampleQueries[over:]...)
	}
}
