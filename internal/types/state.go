package types

import "time"

// NodeTiming records how long one pipeline stage took.
type NodeTiming struct {
	Node      string        `json:"node"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// Permissions is the outcome of the permission policy for this request.
type Permissions struct {
	Mode          Mode   `json:"mode"`
	DeviceControl bool   `json:"device_control"`
	Reason        string `json:"reason,omitempty"`
}

// RequestState is the single mutable record threaded through the pipeline.
// Only the goroutine driving the request touches it.
type RequestState struct {
	RequestID string    `json:"request_id"`
	Query     Query     `json:"query"`
	StartedAt time.Time `json:"started_at"`

	ConversationHistory []Turn               `json:"conversation_history,omitempty"`
	ResolvedContext     *ConversationContext `json:"resolved_context,omitempty"`
	Permissions         Permissions          `json:"permissions"`

	Intent           string            `json:"intent"`
	SecondaryIntents []string          `json:"secondary_intents,omitempty"`
	Confidence       float64           `json:"confidence"`
	Entities         map[string]string `json:"entities,omitempty"`
	Complexity       Complexity        `json:"complexity"`
	ModelTier        string            `json:"model_tier"`
	ModelComponent   string            `json:"model_component"`
	Classifier       string            `json:"classifier"`

	Route           string          `json:"route"`
	RoutingStrategy RoutingStrategy `json:"routing_strategy,omitempty"`
	CacheHit        bool            `json:"cache_hit"`
	RetrievedData   []BackendResult `json:"retrieved_data,omitempty"`
	DataSource      string          `json:"data_source,omitempty"`
	FallbackUsed    bool            `json:"fallback_used"`
	RetryCount      int             `json:"retry_count"`

	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations,omitempty"`

	ValidationPassed  bool     `json:"validation_passed"`
	ValidationReason  string   `json:"validation_reason,omitempty"`
	ValidationDetails []string `json:"validation_details,omitempty"`

	NodeTimings []NodeTiming `json:"node_timings"`
	Error       string       `json:"error,omitempty"`
}

// RecordTiming appends a timing; timings are never rewritten.
func (s *RequestState) RecordTiming(t NodeTiming) {
	s.NodeTimings = append(s.NodeTimings, t)
}

// AddError keeps the first error and appends later ones for diagnostics.
func (s *RequestState) AddError(err error) {
	if err == nil {
		return
	}
	if s.Error == "" {
		s.Error = err.Error()
		return
	}
	s.Error += "; " + err.Error()
}

// HasData reports whether any retrieved branch carries usable data.
func (s *RequestState) HasData() bool {
	for i := range s.RetrievedData {
		if s.RetrievedData[i].Success && !s.RetrievedData[i].Empty() {
			return true
		}
	}
	return false
}

// Response projects the state onto the public response shape.
func (s *RequestState) Response() Response {
	citations := s.Citations
	if citations == nil {
		citations = []Citation{}
	}
	return Response{
		RequestID:  s.RequestID,
		Answer:     s.Answer,
		Intent:     s.Intent,
		Citations:  citations,
		Complexity: s.Complexity,
		CacheHit:   s.CacheHit,
		Error:      s.Error,
		DurationMs: time.Since(s.StartedAt).Milliseconds(),
	}
}
