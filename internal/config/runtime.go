package config

import (
	"time"

	"github.com/af-corp/hearth/internal/types"
)

// RuntimeConfig is the read-mostly configuration owned by the admin service:
// feature flags, per-intent routing, escalation rules and resilience tunables.
type RuntimeConfig struct {
	Features        FeatureFlags           `yaml:"features"`
	FallbackBackend string                 `yaml:"fallback_backend"`
	Intents         map[string]IntentRoute `yaml:"intents"`
	EscalationRules []EscalationRule       `yaml:"escalation_rules"`
	ModelTiers      map[string]ModelTier   `yaml:"model_tiers"`
	CircuitBreaker  CircuitBreakerConfig   `yaml:"circuit_breaker"`
	RateLimits      RateLimitConfig        `yaml:"rate_limits"`
	Thresholds      ThresholdConfig        `yaml:"thresholds"`
	Validation      ValidationConfig       `yaml:"validation"`
}

type FeatureFlags struct {
	LLMClassification  bool `yaml:"llm_classification"`
	LLMSynthesis       bool `yaml:"llm_synthesis"`
	StreamSynthesis    bool `yaml:"stream_synthesis"`
	LLMDiscoveryNaming bool `yaml:"llm_discovery_naming"`
	SemanticCache      bool `yaml:"semantic_cache"`
	EmbeddingCache     bool `yaml:"embedding_cache"`
	ValidationFallback bool `yaml:"validation_fallback"`
	IntentDiscovery    bool `yaml:"intent_discovery"`
}

// IntentRoute says which backend answers an intent and how failures fall back.
type IntentRoute struct {
	Backend       string   `yaml:"backend"`
	CrossValidate []string `yaml:"cross_validate,omitempty"`
	Strategy      string   `yaml:"routing_strategy"`
	Priority      int      `yaml:"priority"`
	Enabled       bool     `yaml:"enabled"`
	Description   string   `yaml:"description,omitempty"`
}

// RoutingStrategy parses Strategy, defaulting to cascading.
func (r IntentRoute) RoutingStrategy() types.RoutingStrategy {
	if s, ok := types.ParseRoutingStrategy(r.Strategy); ok {
		return s
	}
	return types.StrategyCascading
}

type EscalationRule struct {
	Name             string        `yaml:"name"`
	TriggerType      string        `yaml:"trigger_type"`
	TriggerPattern   string        `yaml:"trigger_pattern"`
	TargetComplexity string        `yaml:"target_complexity"`
	Duration         time.Duration `yaml:"duration,omitempty"`
	Priority         int           `yaml:"priority"`
}

type ModelTier struct {
	Name      string `yaml:"name"`
	Model     string `yaml:"model"`
	Component string `yaml:"component"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int                            `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration                  `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int                            `yaml:"half_open_max_calls"`
	Overrides        map[string]CircuitBreakerTuning `yaml:"overrides,omitempty"`
}

type CircuitBreakerTuning struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

type RateLimitConfig struct {
	OwnerPerMinute int                   `yaml:"owner_per_minute"`
	GuestPerMinute int                   `yaml:"guest_per_minute"`
	Services       map[string]ModeLimits `yaml:"services,omitempty"`
}

type ModeLimits struct {
	Owner int `yaml:"owner"`
	Guest int `yaml:"guest"`
}

// Limit returns the per-minute ceiling for a service and mode.
func (c RateLimitConfig) Limit(service string, mode types.Mode) int {
	if svc, ok := c.Services[service]; ok {
		switch {
		case mode == types.ModeOwner && svc.Owner > 0:
			return svc.Owner
		case mode == types.ModeGuest && svc.Guest > 0:
			return svc.Guest
		}
	}
	if mode == types.ModeOwner {
		return c.OwnerPerMinute
	}
	return c.GuestPerMinute
}

type ThresholdConfig struct {
	Discovery       float64 `yaml:"discovery"`
	Cluster         float64 `yaml:"cluster"`
	CacheSimilarity float64 `yaml:"cache_similarity"`
}

type ValidationConfig struct {
	SkipIntents    []string `yaml:"skip_intents"`
	DenialPatterns []string `yaml:"denial_patterns"`
}

// Route returns the routing entry for an intent if it exists and is enabled.
func (r *RuntimeConfig) Route(intent string) (IntentRoute, bool) {
	route, ok := r.Intents[intent]
	if !ok || !route.Enabled {
		return IntentRoute{}, false
	}
	return route, true
}

// Tier returns the model tier configured for a complexity level.
func (r *RuntimeConfig) Tier(c types.Complexity) ModelTier {
	if t, ok := r.ModelTiers[string(c)]; ok {
		return t
	}
	if t, ok := r.ModelTiers[string(types.ComplexitySimple)]; ok {
		return t
	}
	return ModelTier{Name: string(c)}
}

func DefaultRuntime() *RuntimeConfig {
	return &RuntimeConfig{
		Features: FeatureFlags{
			LLMSynthesis:       true,
			SemanticCache:      true,
			ValidationFallback: true,
			IntentDiscovery:    true,
		},
		FallbackBackend: "web_search",
		Intents: map[string]IntentRoute{
			"weather":             {Backend: "weather", Strategy: "cascading", Priority: 1, Enabled: true, Description: "current conditions and forecasts for a location"},
			"sports":              {Backend: "sports", Strategy: "cascading", Priority: 2, Enabled: true, Description: "scores, schedules and standings"},
			"dining":              {Backend: "dining", Strategy: "cascading", Priority: 3, Enabled: true, Description: "restaurants, menus and reservations"},
			"flights":             {Backend: "flights", Strategy: "cascading", Priority: 2, Enabled: true, Description: "flight status and departures"},
			"news":                {Backend: "news", Strategy: "cascading", Priority: 4, Enabled: true, Description: "headlines and news stories"},
			"events":              {Backend: "events", Strategy: "cascading", Priority: 4, Enabled: true, Description: "local events and concerts"},
			types.IntentWebSearch: {Backend: "web_search", Strategy: "direct_only", Priority: 9, Enabled: true, Description: "general web search"},
			types.IntentGeneral:   {Backend: "web_search", Strategy: "always_tool_calling", Priority: 9, Enabled: true, Description: "open questions"},
		},
		ModelTiers: map[string]ModelTier{
			"simple":        {Name: "fast", Model: "llama3.2:3b", Component: "synthesizer_fast", MaxTokens: 256},
			"complex":       {Name: "balanced", Model: "llama3.1:8b", Component: "synthesizer_balanced", MaxTokens: 512},
			"super_complex": {Name: "deep", Model: "llama3.1:70b", Component: "synthesizer_deep", MaxTokens: 1024},
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
		RateLimits: RateLimitConfig{
			OwnerPerMinute: 60,
			GuestPerMinute: 10,
		},
		Thresholds: ThresholdConfig{
			Discovery:       0.5,
			Cluster:         0.85,
			CacheSimilarity: 0.92,
		},
		Validation: ValidationConfig{
			SkipIntents: []string{types.IntentControl},
			DenialPatterns: []string{
				`(?i)\b(could not|couldn't|can't|cannot|unable to) find\b`,
				`(?i)\bno (information|data|results) (is )?available\b`,
				`(?i)\bi (don't|do not) have (any )?(information|data|access)\b`,
			},
		},
	}
}

// Provider hands out the current runtime snapshot. Implementations must never
// block on the network; stale values are preferred over waiting.
type Provider interface {
	Runtime() *RuntimeConfig
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() *RuntimeConfig

func (f ProviderFunc) Runtime() *RuntimeConfig { return f() }

// Static returns a Provider that always serves r.
func Static(r *RuntimeConfig) Provider {
	return ProviderFunc(func() *RuntimeConfig { return r })
}
