package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "crew.toml")
	os.WriteFile(configPath, []byte(`
[llm]
provider = "anthropic"
model = "claude-3-5-sonnet"
max_tokens = 2048

[profiles.fast]
model = "claude-3-5-haiku"

[storage]
backend = "memory"
checkpoints = "/tmp/crew/checkpoints"

[timeouts]
stream = 30
tools = 10

[worker]
nats_url = "nats://queue:4222"
concurrency = 4

[catalog]
path = "crew.yaml"
watch = true
`), 0644)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic', got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens != 2048 {
		t.Errorf("expected max_tokens 2048, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if cfg.StreamTimeout() != 30*time.Second {
		t.Errorf("expected 30s stream timeout, got %v", cfg.StreamTimeout())
	}
	if cfg.ToolTimeout() != 10*time.Second {
		t.Errorf("expected 10s tool timeout, got %v", cfg.ToolTimeout())
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	// untouched defaults survive
	if cfg.Worker.Subject != "crew.jobs" {
		t.Errorf("expected default subject, got %s", cfg.Worker.Subject)
	}
	if !cfg.Catalog.Watch || cfg.Catalog.Path != "crew.yaml" {
		t.Errorf("unexpected catalog config: %+v", cfg.Catalog)
	}
}

func TestConfig_LoadDefault(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Timeouts.Stream != 120 || cfg.Timeouts.Tools != 60 {
		t.Errorf("unexpected default timeouts: %+v", cfg.Timeouts)
	}

	os.WriteFile(DefaultFile, []byte(`
[server]
addr = ":9090"
`), 0644)

	cfg, err = LoadDefault()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr ':9090', got %s", cfg.Server.Addr)
	}
}

func TestConfig_InvalidBackend(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "crew.toml")
	os.WriteFile(configPath, []byte(`
[storage]
backend = "postgres"
`), 0644)

	if _, err := LoadFile(configPath); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestConfig_InvalidTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "crew.toml")
	os.WriteFile(configPath, []byte(`[llm`), 0644)

	if _, err := LoadFile(configPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_Profiles(t *testing.T) {
	cfg := New()
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "gpt-4o"
	cfg.Profiles = map[string]Profile{
		"fast": {Model: "gpt-4o-mini"},
	}

	fast := cfg.GetProfile("fast")
	if fast.Model != "gpt-4o-mini" {
		t.Errorf("expected profile model, got %s", fast.Model)
	}
	if fast.Provider != "openai" {
		t.Errorf("expected provider inherited from [llm], got %s", fast.Provider)
	}
	if fast.MaxTokens != cfg.LLM.MaxTokens {
		t.Errorf("expected inherited max_tokens, got %d", fast.MaxTokens)
	}

	if got := cfg.GetProfile("missing"); got.Model != "gpt-4o" {
		t.Errorf("unknown profile should fall back to [llm], got %s", got.Model)
	}
}

func TestConfig_APIKeyFromEnv(t *testing.T) {
	cfg := New()
	cfg.LLM.Provider = "groq"
	t.Setenv("GROQ_API_KEY", "gsk-test")

	if got := cfg.GetAPIKey(); got != "gsk-test" {
		t.Errorf("expected key from GROQ_API_KEY, got %q", got)
	}

	cfg.LLM.APIKeyEnv = "CUSTOM_KEY"
	t.Setenv("CUSTOM_KEY", "custom")
	if got := cfg.GetAPIKey(); got != "custom" {
		t.Errorf("expected key from api_key_env, got %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/crew.db"); got != filepath.Join(home, "crew.db") {
		t.Errorf("unexpected expansion: %s", got)
	}
	if got := ExpandHome("/abs/crew.db"); got != "/abs/crew.db" {
		t.Errorf("absolute path changed: %s", got)
	}
}
