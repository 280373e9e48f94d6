package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home directory: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "tilde alone",
			input: "~",
			want:  homeDir,
		},
		{
			name:  "tilde with path",
			input: "~/keys",
			want:  filepath.Join(homeDir, "keys"),
		},
		{
			name:  "absolute path unchanged",
			input: "/usr/local/bin",
			want:  "/usr/local/bin",
		},
		{
			name:  "relative path unchanged",
			input: "relative/path",
			want:  "relative/path",
		},
		{
			name:  "tilde in middle not expanded",
			input: "/some/path/~user/file",
			want:  "/some/path/~user/file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expandPath(tt.input)
			if got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.Storage.Driver != "memory" {
		t.Errorf("default Storage.Driver = %q, want %q", cfg.Storage.Driver, "memory")
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("default LLM.Provider = %q, want %q", cfg.LLM.Provider, "gemini")
	}
	if !cfg.LLM.UseAgent {
		t.Error("default LLM.UseAgent should be true")
	}
	if !cfg.Resilience.Enabled {
		t.Error("default Resilience.Enabled should be true")
	}
	if cfg.Resilience.FailureThreshold != 3 {
		t.Errorf("default Resilience.FailureThreshold = %d, want 3", cfg.Resilience.FailureThreshold)
	}
	if cfg.Resilience.SuccessThreshold != 1 {
		t.Errorf("default Resilience.SuccessThreshold = %d, want 1", cfg.Resilience.SuccessThreshold)
	}
	if cfg.Resilience.RecoverySeconds != 30 {
		t.Errorf("default Resilience.RecoverySeconds = %d, want 30", cfg.Resilience.RecoverySeconds)
	}
	if cfg.Worker.HistoryLength != 50 {
		t.Errorf("default Worker.HistoryLength = %d, want 50", cfg.Worker.HistoryLength)
	}
	if cfg.Payment.Enabled {
		t.Error("default Payment.Enabled should be false")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() with missing file: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want default %q", cfg.Storage.Driver, "memory")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"debug: true",
		"storage:",
		"  driver: postgres",
		"  dsn: postgres://localhost/taskcore",
		"resilience:",
		"  enabled: true",
		"  failure_threshold: 5",
		"  recovery_seconds: 60",
		"worker:",
		"  history_length: 10",
		"  system_prompt: be terse",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !cfg.Debug {
		t.Error("Debug should be true")
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, "postgres")
	}
	if cfg.GetDSN() != "postgres://localhost/taskcore" {
		t.Errorf("GetDSN() = %q, want %q", cfg.GetDSN(), "postgres://localhost/taskcore")
	}
	if cfg.Resilience.FailureThreshold != 5 {
		t.Errorf("Resilience.FailureThreshold = %d, want 5", cfg.Resilience.FailureThreshold)
	}
	// Untouched sections keep their defaults
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("LLM.Provider = %q, want default %q", cfg.LLM.Provider, "gemini")
	}
	if cfg.Worker.SystemPrompt != "be terse" {
		t.Errorf("Worker.SystemPrompt = %q, want %q", cfg.Worker.SystemPrompt, "be terse")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage: [not a map"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid YAML should fail")
	}
}

func TestGetDSN(t *testing.T) {
	// Direct DSN takes precedence
	cfg := &Config{
		Storage: StorageConfig{
			DSN:    "postgres://direct",
			DSNEnv: "TEST_TASKCORE_DSN",
		},
	}
	os.Setenv("TEST_TASKCORE_DSN", "postgres://from-env")
	defer os.Unsetenv("TEST_TASKCORE_DSN")

	if got := cfg.GetDSN(); got != "postgres://direct" {
		t.Errorf("GetDSN() with direct value = %q, want %q", got, "postgres://direct")
	}

	// Env var fallback
	cfg = &Config{
		Storage: StorageConfig{DSNEnv: "TEST_TASKCORE_DSN"},
	}
	if got := cfg.GetDSN(); got != "postgres://from-env" {
		t.Errorf("GetDSN() with env var = %q, want %q", got, "postgres://from-env")
	}

	// Empty when nothing configured
	cfg = &Config{}
	if got := cfg.GetDSN(); got != "" {
		t.Errorf("GetDSN() with nothing configured = %q, want empty string", got)
	}
}

func TestGetAPIKey(t *testing.T) {
	// Direct key takes precedence
	cfg := &Config{
		LLM: LLMConfig{
			APIKey:    "direct-key",
			APIKeyEnv: "TEST_TASKCORE_API_KEY",
		},
	}
	if got := cfg.GetAPIKey(); got != "direct-key" {
		t.Errorf("GetAPIKey() with direct key = %q, want %q", got, "direct-key")
	}

	// Env var fallback
	cfg = &Config{
		LLM: LLMConfig{APIKeyEnv: "TEST_TASKCORE_API_KEY"},
	}
	os.Setenv("TEST_TASKCORE_API_KEY", "env-key")
	defer os.Unsetenv("TEST_TASKCORE_API_KEY")

	if got := cfg.GetAPIKey(); got != "env-key" {
		t.Errorf("GetAPIKey() with env var = %q, want %q", got, "env-key")
	}
}

func TestResilienceGuardConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resilience.RecoverySeconds = 45

	gc := cfg.ResilienceGuardConfig()
	if !gc.Enabled {
		t.Error("guard config should be enabled")
	}
	if gc.RecoveryTimeout != 45*time.Second {
		t.Errorf("RecoveryTimeout = %v, want 45s", gc.RecoveryTimeout)
	}
	if len(gc.Retry) == 0 {
		t.Error("guard config should carry per-category retry policies")
	}
}
