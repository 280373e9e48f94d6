package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hegna/taskcore/internal/resilience"
	"github.com/hegna/taskcore/internal/worker"
)

// Config represents the application configuration
type Config struct {
	Debug      bool             `yaml:"debug"` // Enable debug logging
	Storage    StorageConfig    `yaml:"storage"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Worker     WorkerConfig     `yaml:"worker"`
	LLM        LLMConfig        `yaml:"llm"`
	Identity   IdentityConfig   `yaml:"identity"`
	Payment    PaymentConfig    `yaml:"payment"`
	Web        WebConfig        `yaml:"web"`
}

// StorageConfig selects the task store backend
type StorageConfig struct {
	Driver string `yaml:"driver"`  // "memory" or "postgres"
	DSN    string `yaml:"dsn"`     // Direct Postgres DSN (takes precedence over dsn_env)
	DSNEnv string `yaml:"dsn_env"` // Environment variable name containing DSN
}

// ResilienceConfig tunes the circuit breaker and retry layer
type ResilienceConfig struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	SuccessThreshold int  `yaml:"success_threshold"`
	RecoverySeconds  int  `yaml:"recovery_seconds"`
}

// WorkerConfig tunes task execution
type WorkerConfig struct {
	HistoryLength int    `yaml:"history_length"` // Max messages passed to the executor, 0 = unlimited
	SystemPrompt  string `yaml:"system_prompt"`
}

// LLMConfig represents LLM provider configuration
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`     // Direct API key (takes precedence over api_key_env)
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable name containing API key
	UseAgent  bool   `yaml:"use_agent"`   // Run through the agent runtime instead of one-shot generation
	AgentName string `yaml:"agent_name"`
}

// IdentityConfig points at the artifact signing key
type IdentityConfig struct {
	KeyPath string `yaml:"key_path"` // Path to a raw Ed25519 seed; empty generates an ephemeral key
}

// PaymentConfig represents settlement configuration
type PaymentConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // Facilitator URL
}

// WebConfig represents the HTTP server configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: "memory",
			DSNEnv: "TASKCORE_DATABASE_URL",
		},
		Resilience: ResilienceConfig{
			Enabled:          true,
			FailureThreshold: 3,
			SuccessThreshold: 1,
			RecoverySeconds:  30,
		},
		Worker: WorkerConfig{
			HistoryLength: 50,
		},
		LLM: LLMConfig{
			Provider:  "gemini",
			Model:     "gemini-3.0-flash",
			APIKeyEnv: "GOOGLE_API_KEY",
			UseAgent:  true,
			AgentName: "taskcore",
		},
		Web: WebConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// Load loads configuration from the specified path, falling back to defaults
func Load(configPath string) (*Config, error) {
	// If no path specified, use default location
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".config", "taskcore", "config.yaml")
	}

	configPath = expandPath(configPath)

	// Start with defaults
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, return defaults
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Identity.KeyPath = expandPath(cfg.Identity.KeyPath)

	return cfg, nil
}

// expandPath expands ~ to home directory in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if len(path) == 1 {
			return homeDir
		}
		return filepath.Join(homeDir, path[1:])
	}

	return path
}

// GetDSN returns the Postgres DSN, checking direct value first then env var
func (c *Config) GetDSN() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	if c.Storage.DSNEnv != "" {
		return os.Getenv(c.Storage.DSNEnv)
	}
	return ""
}

// GetAPIKey returns the LLM API key, checking direct key first then env var
func (c *Config) GetAPIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	if c.LLM.APIKeyEnv != "" {
		return os.Getenv(c.LLM.APIKeyEnv)
	}
	return ""
}

// ResilienceGuardConfig translates the YAML section into the guard's
// runtime configuration, keeping the per-category retry defaults.
func (c *Config) ResilienceGuardConfig() resilience.Config {
	return resilience.Config{
		Enabled:          c.Resilience.Enabled,
		FailureThreshold: c.Resilience.FailureThreshold,
		SuccessThreshold: c.Resilience.SuccessThreshold,
		RecoveryTimeout:  time.Duration(c.Resilience.RecoverySeconds) * time.Second,
		Retry:            resilience.DefaultRetryPolicies(),
	}
}

// WorkerPipelineConfig translates the YAML section for the pipeline
func (c *Config) WorkerPipelineConfig() worker.Config {
	return worker.Config{
		HistoryLength: c.Worker.HistoryLength,
		SystemPrompt:  c.Worker.SystemPrompt,
	}
}
