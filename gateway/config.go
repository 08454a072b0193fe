package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "20ms" or "12h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type (
	// Config is the gateway's deployment configuration, loaded from a YAML
	// file with ${VAR} expansion so secrets stay in the environment.
	Config struct {
		// Addr is the HTTP listen address.
		Addr string `yaml:"addr"`

		Redis     RedisConfig    `yaml:"redis"`
		Mongo     MongoConfig    `yaml:"mongo"`
		Providers ProviderConfig `yaml:"providers"`
		Search    SearchConfig   `yaml:"search"`
		Deployer  DeployerConfig `yaml:"deployer"`
		Throttle  ThrottleConfig `yaml:"throttle"`
		Retry     RetryConfig    `yaml:"retry"`
		Credits   CreditConfig   `yaml:"credits"`
		Pulse     PulseConfig    `yaml:"pulse"`
		RateLimit LimitConfig    `yaml:"rate_limit"`
	}

	// RedisConfig locates the Redis instance backing the thread cache,
	// credit meter and Pulse streams.
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// MongoConfig locates durable thread storage. An empty URI disables
	// persistence.
	MongoConfig struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	}

	// ProviderConfig holds one section per model backend. A backend with an
	// empty key or URL is left unconfigured and its models dispatch to
	// ErrInvalidModel.
	ProviderConfig struct {
		Gemini     GeminiConfig     `yaml:"gemini"`
		Anthropic  AnthropicConfig  `yaml:"anthropic"`
		SelfHosted SelfHostedConfig `yaml:"selfhosted"`
	}

	GeminiConfig struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	}

	AnthropicConfig struct {
		APIKey         string `yaml:"api_key"`
		MaxTokens      int    `yaml:"max_tokens"`
		ThinkingBudget int    `yaml:"thinking_budget"`
	}

	SelfHostedConfig struct {
		BaseURL          string `yaml:"base_url"`
		APIKey           string `yaml:"api_key"`
		DisableStreaming bool   `yaml:"disable_streaming"`
	}

	// SearchConfig locates the web search API used for answer grounding.
	SearchConfig struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	}

	// DeployerConfig locates the deployment service that executes confirmed
	// job actions.
	DeployerConfig struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	}

	// ThrottleConfig tunes paced delivery.
	ThrottleConfig struct {
		ChunkSize int      `yaml:"chunk_size"`
		MinDelay  Duration `yaml:"min_delay"`
		MaxDelay  Duration `yaml:"max_delay"`
	}

	// RetryConfig tunes cold-start retry.
	RetryConfig struct {
		MaxAttempts int      `yaml:"max_attempts"`
		BaseDelay   Duration `yaml:"base_delay"`
	}

	// CreditConfig tunes usage metering. Zero allowance disables metering.
	CreditConfig struct {
		Allowance int      `yaml:"allowance"`
		Window    Duration `yaml:"window"`
	}

	// PulseConfig tunes cross-replica event mirroring.
	PulseConfig struct {
		Enabled bool `yaml:"enabled"`
		MaxLen  int  `yaml:"max_len"`
	}

	// LimitConfig tunes the adaptive provider rate limiter. Zero disables
	// it.
	LimitConfig struct {
		InitialTPM float64 `yaml:"initial_tpm"`
		MaxTPM     float64 `yaml:"max_tpm"`
	}
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Addr: ":8080",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Mongo: MongoConfig{
			Database:   "nosana_chat",
			Collection: "threads",
		},
	}
}

// LoadConfig reads and expands the YAML file at path. A missing path yields
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
