// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "crew.toml"

// Config represents the crew configuration.
type Config struct {
	LLM       LLMConfig          `toml:"llm"`      // Default LLM settings
	Profiles  map[string]Profile `toml:"profiles"` // Named LLM profiles agents can reference
	Tools     ToolsConfig        `toml:"tools"`
	Storage   StorageConfig      `toml:"storage"`
	Timeouts  TimeoutsConfig     `toml:"timeouts"`
	Worker    WorkerConfig       `toml:"worker"`
	Server    ServerConfig       `toml:"server"`
	Telemetry TelemetryConfig    `toml:"telemetry"`
	Catalog   CatalogConfig      `toml:"catalog"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	Thinking     string `toml:"thinking"`      // Thinking level: auto|off|low|medium|high
	MaxRetries   int    `toml:"max_retries"`   // Max retry attempts (default 5)
	RetryBackoff string `toml:"retry_backoff"` // Max backoff duration (default "60s")
}

// Profile is a named LLM configuration. Empty fields inherit from [llm].
type Profile struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"`
	Thinking  string `toml:"thinking"`
}

// ToolsConfig controls the built-in tool registry.
type ToolsConfig struct {
	Policy    string `toml:"policy"`    // policy.toml path for built-in tools
	Workspace string `toml:"workspace"` // directory file tools operate in
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Backend     string `toml:"backend"`     // sqlite or memory
	Path        string `toml:"path"`        // SQLite database file
	Checkpoints string `toml:"checkpoints"` // directory for review trails, empty disables
}

// TimeoutsConfig bounds model streams and tool calls, in seconds.
type TimeoutsConfig struct {
	Stream int `toml:"stream"` // default 120
	Tools  int `toml:"tools"`  // default 60
}

// WorkerConfig configures background task execution.
type WorkerConfig struct {
	NATSURL     string `toml:"nats_url"`
	Subject     string `toml:"subject"`
	QueueGroup  string `toml:"queue_group"`
	Concurrency int    `toml:"concurrency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc, http or noop
}

// CatalogConfig points at the agent and team definition file.
type CatalogConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens:    4096,
			MaxRetries:   5,
			RetryBackoff: "60s",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "~/.local/crew/crew.db",
		},
		Timeouts: TimeoutsConfig{
			Stream: 120,
			Tools:  60,
		},
		Worker: WorkerConfig{
			NATSURL:     "nats://127.0.0.1:4222",
			Subject:     "crew.jobs",
			QueueGroup:  "crew-workers",
			Concurrency: 2,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads crew.toml from the current directory, falling back to
// defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg, err := LoadFile(filepath.Join(cwd, DefaultFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported storage backend: %s (supported: sqlite, memory)", c.Storage.Backend)
	}
	if c.Timeouts.Stream < 0 || c.Timeouts.Tools < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Worker.Concurrency < 1 {
		c.Worker.Concurrency = 1
	}
	return nil
}

// StreamTimeout returns the per-turn model stream limit, zero for none.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Timeouts.Stream) * time.Second
}

// ToolTimeout returns the per-call tool limit, zero for none.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Timeouts.Tools) * time.Second
}

// StoragePath returns the database path with ~ expanded.
func (c *Config) StoragePath() string {
	return ExpandHome(c.Storage.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	return c.GetProfileAPIKey("")
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "cohere":
		return "COHERE_API_KEY"
	default:
		return ""
	}
}

// GetProfile returns the LLM config for a named profile.
// Falls back to default LLM config if profile not found.
func (c *Config) GetProfile(name string) LLMConfig {
	if name == "" {
		return c.LLM
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return c.LLM
	}

	// Fill in defaults from main LLM config
	result := c.LLM
	if profile.Provider != "" {
		result.Provider = profile.Provider
	}
	if profile.Model != "" {
		result.Model = profile.Model
	}
	if profile.APIKeyEnv != "" {
		result.APIKeyEnv = profile.APIKeyEnv
	}
	if profile.MaxTokens != 0 {
		result.MaxTokens = profile.MaxTokens
	}
	if profile.BaseURL != "" {
		result.BaseURL = profile.BaseURL
	}
	if profile.Thinking != "" {
		result.Thinking = profile.Thinking
	}
	return result
}

// GetProfileAPIKey returns the API key for a specific profile.
func (c *Config) GetProfileAPIKey(profileName string) string {
	llmCfg := c.GetProfile(profileName)
	envVar := llmCfg.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(llmCfg.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
