// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, e.g. config.production.yaml
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env from a few locations so tools and tests can run
// from nested directories.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "semantic-layer-agent"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60000
	}
	if cfg.Cube.BaseURL == "" {
		cfg.Cube.BaseURL = "http://localhost:4000/cubejs-api/v1"
	}
	if cfg.Cube.Timeout == 0 {
		cfg.Cube.Timeout = 30000
	}
	if cfg.Lookup.BaseURL == "" {
		cfg.Lookup.BaseURL = "http://localhost:3001"
	}
	if cfg.Lookup.Timeout == 0 {
		cfg.Lookup.Timeout = 30000
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30000
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "paraphrase-multilingual-minilm-l12-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 15000
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "data/schema_snapshot.json"
	}
	if cfg.Semantics.GlossaryPath == "" {
		cfg.Semantics.GlossaryPath = "configs/glossary.yaml"
	}
	if cfg.Semantics.ExamplesPath == "" {
		cfg.Semantics.ExamplesPath = "configs/examples.yaml"
	}
	if cfg.Agent.RetrievalK == 0 {
		cfg.Agent.RetrievalK = 10
	}
	if cfg.Agent.PromptExamples == 0 {
		cfg.Agent.PromptExamples = 3
	}
	if cfg.Agent.DefaultLimit == 0 {
		cfg.Agent.DefaultLimit = 100
	}
	if cfg.Agent.MaxLimit == 0 {
		cfg.Agent.MaxLimit = 10000
	}
	if cfg.Agent.MaxRegenerations == 0 {
		cfg.Agent.MaxRegenerations = 1
	}
	if cfg.Agent.MaxConcurrentRequests == 0 {
		cfg.Agent.MaxConcurrentRequests = 32
	}
	if cfg.Agent.ListLimit == 0 {
		cfg.Agent.ListLimit = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Cube.BaseURL == "" {
		return fmt.Errorf("cube.base_url is required")
	}
	if cfg.LLM.BaseURL == "" && cfg.App.Environment != "development" {
		return fmt.Errorf("llm.base_url is required outside development")
	}
	if cfg.Agent.RetrievalK < 1 {
		return fmt.Errorf("agent.retrieval_k must be positive")
	}
	if cfg.Agent.MaxLimit < cfg.Agent.DefaultLimit {
		return fmt.Errorf("agent.max_limit must be >= agent.default_limit")
	}
	if cfg.Agent.MaxConcurrentRequests < 1 {
		return fmt.Errorf("agent.max_concurrent_requests must be positive")
	}
	return nil
}
