// Package config loads typed runtime configuration from environment
// variables and an optional YAML file, using plain structs with
// Default/Validate constructors rather than a reflection-heavy configuration
// framework.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds top-level runtime configuration for the agent service.
type Config struct {
	// OperatorAddr is the listen address for the operator protocol server
	// (e.g. ":8765").
	OperatorAddr string `yaml:"operatorAddr"`

	// DefaultStepBudget bounds the number of primitive steps a goal may take
	// when the caller does not specify one.
	DefaultStepBudget int `yaml:"defaultStepBudget"`

	// DefaultTimeout bounds wall-clock goal execution when the caller does
	// not specify one.
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`

	// ExecutionMode selects the default executor mode: fast, smart, monitor, agent.
	ExecutionMode string `yaml:"executionMode"`

	// Mongo configures the durable memory store. Empty URI selects the
	// in-memory store.
	Mongo MongoConfig `yaml:"mongo"`

	// Model configures the language-model client adapter.
	Model ModelConfig `yaml:"model"`

	// Engine configures the durable-execution backend for goal runs. Empty
	// HostPort selects the in-memory engine.
	Engine EngineConfig `yaml:"engine"`

	// Stream configures the optional out-of-process broadcast sink. Empty
	// RedisAddr disables it.
	Stream StreamConfig `yaml:"stream"`
}

// StreamConfig configures the Redis/Pulse-backed broadcast sink.
type StreamConfig struct {
	RedisAddr string `yaml:"redisAddr"`
}

// EngineConfig selects and configures the executor/engine backend.
type EngineConfig struct {
	// TemporalHostPort is the Temporal frontend address (e.g.
	// "localhost:7233"). Empty selects the in-memory engine instead.
	TemporalHostPort string `yaml:"temporalHostPort"`
	Namespace        string `yaml:"namespace"`
	TaskQueue        string `yaml:"taskQueue"`
}

// MongoConfig configures the mongo-backed memory store.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// ModelConfig configures the language-model client adapter.
type ModelConfig struct {
	// Provider selects the adapter: "anthropic", "openai", or "bedrock".
	Provider string `yaml:"provider"`
	// APIKey is the provider credential for "anthropic" and "openai".
	// agentd does not build a "bedrock" client from this config; it
	// returns an error for that provider.
	APIKey string `yaml:"apiKey"`
	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`
	// Region names an AWS region; nothing in this repository reads it.
	Region string `yaml:"region"`
}

// Default returns a Config populated with conservative defaults.
func Default() Config {
	return Config{
		OperatorAddr:      ":8765",
		DefaultStepBudget: 30,
		DefaultTimeout:    2 * time.Minute,
		ExecutionMode:     "smart",
	}
}

// Load reads configuration from an optional YAML file and overlays
// environment variables on top. path may be empty, in which case only
// environment variables and defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	overlayEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	if v := os.Getenv("AGENT_OPERATOR_ADDR"); v != "" {
		cfg.OperatorAddr = v
	}
	if v := os.Getenv("AGENT_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("AGENT_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("AGENT_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("AGENT_MODEL_NAME"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("AGENT_TEMPORAL_HOST_PORT"); v != "" {
		cfg.Engine.TemporalHostPort = v
	}
	if v := os.Getenv("AGENT_STREAM_REDIS_ADDR"); v != "" {
		cfg.Stream.RedisAddr = v
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.DefaultStepBudget < 0 {
		return fmt.Errorf("defaultStepBudget must be >= 0")
	}
	switch c.ExecutionMode {
	case "fast", "smart", "monitor", "agent":
	default:
		return fmt.Errorf("invalid executionMode %q", c.ExecutionMode)
	}
	return nil
}
