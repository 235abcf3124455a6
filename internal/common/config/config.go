// internal/common/config/config.go
package config

import "time"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Cube      CubeConfig      `mapstructure:"cube"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Semantics SemanticsConfig `mapstructure:"semantics"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// CubeConfig points at the semantic layer's REST API.
type CubeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// LookupConfig points at the raw-data REST API used for direct lookups.
type LookupConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// LLMConfig configures the language-model backend.
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	Timeout     int     `mapstructure:"timeout"` // milliseconds
	MaxRetries  int     `mapstructure:"max_retries"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
	CacheTTL   int    `mapstructure:"cache_ttl"` // seconds, 0 disables caching
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SnapshotConfig locates the persisted schema index artifact.
type SnapshotConfig struct {
	Path           string `mapstructure:"path"`
	StalenessProbe bool   `mapstructure:"staleness_probe"`
}

// SemanticsConfig locates the glossary and worked-example files.
type SemanticsConfig struct {
	GlossaryPath string `mapstructure:"glossary_path"`
	ExamplesPath string `mapstructure:"examples_path"`
}

// AgentConfig tunes the query-resolution pipeline.
type AgentConfig struct {
	RetrievalK            int `mapstructure:"retrieval_k"`
	PromptExamples        int `mapstructure:"prompt_examples"`
	DefaultLimit          int `mapstructure:"default_limit"`
	MaxLimit              int `mapstructure:"max_limit"`
	MaxRegenerations      int `mapstructure:"max_regenerations"`
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
	ListLimit             int `mapstructure:"list_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// RequestTimeout converts the configured milliseconds to a duration.
func (s ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Millisecond
}

func (c CubeConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (l LookupConfig) TimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Millisecond
}

func (l LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Millisecond
}

func (e EmbeddingConfig) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Millisecond
}

func (e EmbeddingConfig) CacheTTLDuration() time.Duration {
	return time.Duration(e.CacheTTL) * time.Second
}
