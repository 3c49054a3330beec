// Package config loads the application configuration from YAML with
// environment fallbacks. All engine bounds live here so that components
// receive explicit configuration instead of process-wide singletons.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// Engine bounds for the workflow graph.
	Engine EngineConfig `yaml:"engine"`

	// Memory configures session and long-term persistence.
	Memory MemoryConfig `yaml:"memory"`

	// Generation configures the text-generation backend.
	Generation GenerationConfig `yaml:"generation"`

	// Feedback configures the rating aggregator.
	Feedback FeedbackConfig `yaml:"feedback"`

	// Server configures the HTTP transport.
	Server ServerConfig `yaml:"server"`
}

// EngineConfig holds the workflow graph bounds.
type EngineConfig struct {
	// MaxReinterpret bounds the Route→Interpret loop (default 1).
	MaxReinterpret int `yaml:"max_reinterpret"`
	// MaxReflections bounds the Reflect→Execute loop (default 2).
	MaxReflections int `yaml:"max_reflections"`
	// MaxRetries is the per-invocation retry budget for transient
	// failures (default 1).
	MaxRetries int `yaml:"max_retries"`
	// MaxFanout caps concurrent skill invocations per turn (default 4).
	MaxFanout int `yaml:"max_fanout"`
	// InvocationTimeout is the per-skill deadline (default 10s).
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
	// TurnTimeout is the overall turn deadline (default 60s).
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	// RoutePriority breaks routing-weight ties deterministically.
	// Earlier entries win.
	RoutePriority []string `yaml:"route_priority"`
}

// MemoryConfig holds persistence configuration.
type MemoryConfig struct {
	// Store selects the backend: "memory" or "redis".
	Store string `yaml:"store"`
	// RedisAddr is the Redis server address (host:port).
	RedisAddr string `yaml:"redis_addr"`
	// RedisDB is the Redis database number.
	RedisDB int `yaml:"redis_db"`
	// KeyPrefix namespaces all keys (default "conductor:").
	KeyPrefix string `yaml:"key_prefix"`
	// FactLimit caps the long-term fact slice returned by ReadContext
	// (default 20).
	FactLimit int `yaml:"fact_limit"`
	// SessionIdle is the idle timeout before eviction (default 30m).
	SessionIdle time.Duration `yaml:"session_idle"`
	// EvictionSchedule is the cron spec for the eviction sweep
	// (default "@every 5m").
	EvictionSchedule string `yaml:"eviction_schedule"`
}

// GenerationConfig holds text-generation backend configuration.
type GenerationConfig struct {
	// Provider selects the backend: "openai" or "mock".
	Provider string `yaml:"provider"`
	// APIKey authenticates against the provider; falls back to
	// OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the model identifier (default gpt-4o-mini).
	Model string `yaml:"model"`
	// MaxTokens bounds completion length (default 1024).
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls sampling (default 0.7). Zero means unset and
	// takes the default; use a small value like 0.01 for near-greedy
	// sampling.
	Temperature float64 `yaml:"temperature"`
	// RequestsPerSecond is the client-side rate limit (default 5).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Timeout is the per-call deadline (default 30s).
	Timeout time.Duration `yaml:"timeout"`
}

// FeedbackConfig holds rating aggregation configuration.
type FeedbackConfig struct {
	// MinRating and MaxRating bound accepted scores (default 1..5).
	MinRating int `yaml:"min_rating"`
	MaxRating int `yaml:"max_rating"`
	// Smoothing is the EWMA factor for routing weights (default 0.3).
	// Zero means unset and takes the default; a smoothing of exactly 0
	// is not expressible (it would freeze the weights anyway).
	Smoothing float64 `yaml:"smoothing"`
	// UsageRetention bounds how long a session's skill-usage attribution
	// is kept for rating attribution (default 30m, mirroring the session
	// idle timeout).
	UsageRetention time.Duration `yaml:"usage_retention"`
	// RatingHistory caps how many ratings are retained in memory
	// (default 1000). Older ratings are dropped; derived routing weights
	// already fold them in.
	RatingHistory int `yaml:"rating_history"`
}

// ServerConfig holds HTTP transport configuration.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Engine.MaxReinterpret == 0 {
		c.Engine.MaxReinterpret = 1
	}
	if c.Engine.MaxReflections == 0 {
		c.Engine.MaxReflections = 2
	}
	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 1
	}
	if c.Engine.MaxFanout == 0 {
		c.Engine.MaxFanout = 4
	}
	if c.Engine.InvocationTimeout == 0 {
		c.Engine.InvocationTimeout = 10 * time.Second
	}
	if c.Engine.TurnTimeout == 0 {
		c.Engine.TurnTimeout = 60 * time.Second
	}

	if c.Memory.Store == "" {
		c.Memory.Store = "memory"
	}
	if c.Memory.KeyPrefix == "" {
		c.Memory.KeyPrefix = "conductor:"
	}
	if c.Memory.FactLimit == 0 {
		c.Memory.FactLimit = 20
	}
	if c.Memory.SessionIdle == 0 {
		c.Memory.SessionIdle = 30 * time.Minute
	}
	if c.Memory.EvictionSchedule == "" {
		c.Memory.EvictionSchedule = "@every 5m"
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = "openai"
	}
	if c.Generation.APIKey == "" {
		c.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o-mini"
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = 1024
	}
	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = 0.7
	}
	if c.Generation.RequestsPerSecond == 0 {
		c.Generation.RequestsPerSecond = 5
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 30 * time.Second
	}

	if c.Feedback.MinRating == 0 {
		c.Feedback.MinRating = 1
	}
	if c.Feedback.MaxRating == 0 {
		c.Feedback.MaxRating = 5
	}
	if c.Feedback.Smoothing == 0 {
		c.Feedback.Smoothing = 0.3
	}
	if c.Feedback.UsageRetention == 0 {
		c.Feedback.UsageRetention = 30 * time.Minute
	}
	if c.Feedback.RatingHistory == 0 {
		c.Feedback.RatingHistory = 1000
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Engine.MaxFanout < 1 {
		return fmt.Errorf("engine.max_fanout must be at least 1")
	}
	if c.Feedback.MinRating >= c.Feedback.MaxRating {
		return fmt.Errorf("feedback rating bounds are inverted")
	}
	if c.Memory.Store == "redis" && c.Memory.RedisAddr == "" {
		return fmt.Errorf("memory.redis_addr is required for the redis store")
	}
	if c.Generation.Provider == "openai" && c.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key is required for the openai provider")
	}
	return nil
}
