package config

import (
	"fmt"
	"time"
)

// Config is the process-level configuration (hearth.yaml). It is read at
// startup; only the runtime and backends files are expected to change live.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LLM       LLMConfig       `yaml:"llm"`
	Device    DeviceConfig    `yaml:"device"`
	Policy    PolicyConfig    `yaml:"policy"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Admin     AdminConfig     `yaml:"admin"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	IPRateLimit      int           `yaml:"ip_rate_limit"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int32  `yaml:"max_conns"`
}

// DSN returns the postgres URL, or "" when no host is configured.
func (d DatabaseConfig) DSN() string {
	if d.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type TelemetryConfig struct {
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
}

type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
}

type DeviceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type PolicyConfig struct {
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type PipelineConfig struct {
	ControlDeadline   time.Duration `yaml:"control_deadline"`
	RetrievalDeadline time.Duration `yaml:"retrieval_deadline"`
	FinalizeGrace     time.Duration `yaml:"finalize_grace"`
	BatchDeadline     time.Duration `yaml:"batch_deadline"`
	MaxParallel       int           `yaml:"max_parallel"`
	HistoryTurns      int           `yaml:"history_turns"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxEntries    int           `yaml:"max_entries"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type DiscoveryConfig struct {
	MaxInFlight int           `yaml:"max_in_flight"`
	Timeout     time.Duration `yaml:"timeout"`
}

type AdminConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// AuthConfig lists hashed API keys accepted by the HTTP surface. An empty
// list disables authentication.
type AuthConfig struct {
	Keys []APIKeyConfig `yaml:"keys"`
}

type APIKeyConfig struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Hash      string    `yaml:"hash"`
	MaxMode   string    `yaml:"max_mode"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 20 * time.Second,
			IPRateLimit:      120,
		},
		Database: DatabaseConfig{
			Port:     5432,
			Name:     "hearth",
			User:     "hearth",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 50,
		},
		NATS: NATSConfig{
			SubjectPrefix: "hearth.events",
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			TraceSampleRate: 0.1,
		},
		LLM: LLMConfig{
			BaseURL:        "http://localhost:11434/v1",
			EmbeddingModel: "nomic-embed-text",
			Timeout:        15 * time.Second,
			MaxTokens:      512,
		},
		Device: DeviceConfig{
			Timeout: 4 * time.Second,
		},
		Policy: PolicyConfig{
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			ControlDeadline:   5 * time.Second,
			RetrievalDeadline: 20 * time.Second,
			FinalizeGrace:     500 * time.Millisecond,
			BatchDeadline:     12 * time.Second,
			MaxParallel:       4,
			HistoryTurns:      10,
		},
		Cache: CacheConfig{
			TTL:           10 * time.Minute,
			SweepInterval: time.Minute,
			MaxEntries:    5000,
		},
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Discovery: DiscoveryConfig{
			MaxInFlight: 8,
			Timeout:     10 * time.Second,
		},
		Admin: AdminConfig{
			PollInterval: 30 * time.Second,
			Timeout:      3 * time.Second,
		},
	}
}
