package config

import "time"

// BackendsConfig lists the RAG/tool backends reachable by the dispatcher.
type BackendsConfig struct {
	Backends map[string]BackendConfig `yaml:"backends"`
}

type BackendConfig struct {
	Type              string            `yaml:"type"`
	BaseURL           string            `yaml:"base_url"`
	APIKey            string            `yaml:"api_key"`
	Source            string            `yaml:"source"`
	Timeout           time.Duration     `yaml:"timeout"`
	MaxConcurrent     int               `yaml:"max_concurrent"`
	HealthGRPCAddress string            `yaml:"health_grpc_address,omitempty"`
	Headers           map[string]string `yaml:"headers,omitempty"`
}
