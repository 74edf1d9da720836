// Package config loads the service configuration from a YAML file,
// MLAGENT_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/engine"
	"github.com/opensearch-project/mlagent/logging"
)

// EnvPrefix prefixes every environment override, e.g.
// MLAGENT_EXECUTOR_MODEL_TIMEOUT=30s.
const EnvPrefix = "MLAGENT"

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Connector ConnectorConfig `mapstructure:"connector"`
	Models    ModelsConfig    `mapstructure:"models"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// FeaturesConfig holds the feature flags.
type FeaturesConfig struct {
	AgentFrameworkEnabled bool `mapstructure:"agent_framework_enabled"`
}

// ExecutorConfig mirrors engine.Config.
type ExecutorConfig struct {
	MaxConcurrentExecutions int64         `mapstructure:"max_concurrent_executions"`
	ModelTimeout            time.Duration `mapstructure:"model_timeout"`
	ToolTimeout             time.Duration `mapstructure:"tool_timeout"`
	MemoryTimeout           time.Duration `mapstructure:"memory_timeout"`
	DefaultMaxIteration     int           `mapstructure:"default_max_iteration"`
	HistoryWindow           int           `mapstructure:"history_window"`
}

// MemoryConfig selects the memory store.
type MemoryConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis memory store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RegistryConfig selects the agent and template stores.
type RegistryConfig struct {
	Backend string      `mapstructure:"backend"`
	Mongo   MongoConfig `mapstructure:"mongo"`
}

// MongoConfig configures the MongoDB registry stores.
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ConnectorConfig configures the HTTP connector invoker.
type ConnectorConfig struct {
	// File is an optional YAML list of connectors loaded at startup.
	File        string          `mapstructure:"file"`
	HTTPTimeout time.Duration   `mapstructure:"http_timeout"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is a per-connector token bucket; RPS zero disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ModelsConfig configures the provider-backed models.
type ModelsConfig struct {
	DefaultProvider string         `mapstructure:"default_provider"`
	OpenAI          ProviderConfig `mapstructure:"openai"`
	Anthropic       ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig holds provider credentials. A provider without an API key
// is still registered and falls back to the SDK's environment lookup.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// CacheConfig bounds the toolset and pipeline caches.
type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"server.addr":                        ":9200",
	"server.read_timeout":                30 * time.Second,
	"features.agent_framework_enabled":   true,
	"executor.max_concurrent_executions": int64(0),
	"executor.model_timeout":             engine.DefaultConfig.ModelTimeout,
	"executor.tool_timeout":              engine.DefaultConfig.ToolTimeout,
	"executor.memory_timeout":            engine.DefaultConfig.MemoryTimeout,
	"executor.default_max_iteration":     engine.DefaultConfig.DefaultMaxIteration,
	"executor.history_window":            engine.DefaultConfig.HistoryWindow,
	"memory.backend":                     BackendMemory,
	"memory.redis.addr":                  "localhost:6379",
	"memory.redis.password":              "",
	"memory.redis.db":                    0,
	"memory.redis.prefix":                "mlagent",
	"memory.redis.ttl":                   time.Duration(0),
	"registry.backend":                   BackendMemory,
	"registry.mongo.uri":                 "mongodb://localhost:27017",
	"registry.mongo.database":            "mlagent",
	"registry.mongo.timeout":             5 * time.Second,
	"connector.file":                     "",
	"connector.http_timeout":             30 * time.Second,
	"connector.rate_limit.rps":           0.0,
	"connector.rate_limit.burst":         1,
	"models.default_provider":            "",
	"models.openai.api_key":              "",
	"models.openai.base_url":             "",
	"models.anthropic.api_key":           "",
	"models.anthropic.base_url":          "",
	"cache.size":                         256,
	"log.level":                          "info",
	"log.format":                         "json",
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := load(newViper(false))
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path (optional) and applies environment overrides on top of the
// defaults. The result is validated.
func Load(path string) (*Config, error) {
	v := newViper(true)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(env bool) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if env {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks backend names and limits.
func (c *Config) Validate() error {
	var errs []error
	switch c.Memory.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("memory.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Memory.Backend))
	}
	switch c.Registry.Backend {
	case BackendMemory, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("registry.backend must be %q or %q, got %q", BackendMemory, BackendMongo, c.Registry.Backend))
	}
	if c.Executor.MaxConcurrentExecutions < 0 {
		errs = append(errs, errors.New("executor.max_concurrent_executions must not be negative"))
	}
	if c.Executor.DefaultMaxIteration < 1 {
		errs = append(errs, errors.New("executor.default_max_iteration must be at least 1"))
	}
	if c.Connector.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("connector.rate_limit.rps must not be negative"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return core.Validationf("invalid config: %v", errors.Join(errs...))
	}
	return nil
}

// EngineConfig converts the executor section.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentExecutions: c.Executor.MaxConcurrentExecutions,
		ModelTimeout:            c.Executor.ModelTimeout,
		ToolTimeout:             c.Executor.ToolTimeout,
		MemoryTimeout:           c.Executor.MemoryTimeout,
		DefaultMaxIteration:     c.Executor.DefaultMaxIteration,
		HistoryWindow:           c.Executor.HistoryWindow,
	}
}

// LoggerConfig converts the log section.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = logging.ParseLevel(c.Log.Level)
	cfg.Format = c.Log.Format
	return cfg
}
