// Package config handles configuration loading and management for conductor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// EnvPrefix prefixes every environment override, e.g. CONDUCTOR_CACHE_TTL.
const EnvPrefix = "CONDUCTOR"

// projectConfigName is looked up in the current directory and its parents.
const projectConfigName = ".conductor.yaml"

// Cache store kinds.
const (
	StoreNone   = "none"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Broker kinds.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Config holds all configuration for conductor.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Correlation  CorrelationConfig  `mapstructure:"correlation"`
	Fallback     FallbackConfig     `mapstructure:"fallback"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Agents       []models.AgentRef  `mapstructure:"agents"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// BackendConfig holds text-generation backend settings.
type BackendConfig struct {
	// Enabled turns on the backend for planning, routed capabilities and synthesis.
	Enabled     bool          `mapstructure:"enabled"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Capabilities are answered by the backend instead of an agent.
	Capabilities []string    `mapstructure:"capabilities"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds backend retry settings.
type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// TimeoutsConfig holds task and session timeouts.
type TimeoutsConfig struct {
	Task    time.Duration `mapstructure:"task"`
	Session time.Duration `mapstructure:"session"`
	Grace   time.Duration `mapstructure:"grace"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Store selects the durable tier: none, sqlite or redis.
	Store           string        `mapstructure:"store"`
	Path            string        `mapstructure:"path"`
	RedisURL        string        `mapstructure:"redis_url"`
	TTL             time.Duration `mapstructure:"ttl"`
	MaxEntries      int           `mapstructure:"max_entries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CorrelationConfig holds correlation tracker settings.
type CorrelationConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// FallbackConfig holds fallback rule settings. An empty RulesFile uses the
// built-in rules.
type FallbackConfig struct {
	RulesFile     string  `mapstructure:"rules_file"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// CapabilityConfig maps a capability to the keywords that signal it.
type CapabilityConfig struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

// PlannerConfig holds planner settings. Empty Capabilities uses the
// built-in keyword table.
type PlannerConfig struct {
	MaxQueryLength    int                `mapstructure:"max_query_length"`
	MaxTasks          int                `mapstructure:"max_tasks"`
	DefaultCapability string             `mapstructure:"default_capability"`
	Capabilities      []CapabilityConfig `mapstructure:"capabilities"`
}

// BrokerConfig holds message broker settings.
type BrokerConfig struct {
	Type       string `mapstructure:"type"`
	RedisURL   string `mapstructure:"redis_url"`
	ReplyTopic string `mapstructure:"reply_topic"`
}

// OrchestratorConfig holds session behaviour toggles.
type OrchestratorConfig struct {
	Synthesize  bool `mapstructure:"synthesize"`
	EventBuffer int  `mapstructure:"event_buffer"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONDUCTOR_*, ANTHROPIC_API_KEY)
// 2. Project config (.conductor.yaml in current directory or parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file, with defaults and
// environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

// WriteDefaults writes a config file holding every default to path.
func WriteDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	return v.WriteConfigAs(path)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Cache.RedisURL = os.ExpandEnv(cfg.Cache.RedisURL)
	cfg.Broker.RedisURL = os.ExpandEnv(cfg.Broker.RedisURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("backend.enabled", d.Backend.Enabled)
	v.SetDefault("backend.model", d.Backend.Model)
	v.SetDefault("backend.max_tokens", d.Backend.MaxTokens)
	v.SetDefault("backend.temperature", d.Backend.Temperature)
	v.SetDefault("backend.timeout", d.Backend.Timeout.String())
	v.SetDefault("backend.capabilities", d.Backend.Capabilities)
	v.SetDefault("backend.retry.max_tries", d.Backend.Retry.MaxTries)
	v.SetDefault("backend.retry.initial_interval", d.Backend.Retry.InitialInterval.String())
	v.SetDefault("backend.retry.max_interval", d.Backend.Retry.MaxInterval.String())

	v.SetDefault("timeouts.task", d.Timeouts.Task.String())
	v.SetDefault("timeouts.session", d.Timeouts.Session.String())
	v.SetDefault("timeouts.grace", d.Timeouts.Grace.String())

	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.open_duration", d.Breaker.OpenDuration.String())

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.store", d.Cache.Store)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval.String())

	v.SetDefault("correlation.sweep_interval", d.Correlation.SweepInterval.String())

	v.SetDefault("fallback.rules_file", d.Fallback.RulesFile)
	v.SetDefault("fallback.min_confidence", d.Fallback.MinConfidence)

	v.SetDefault("planner.max_query_length", d.Planner.MaxQueryLength)
	v.SetDefault("planner.max_tasks", d.Planner.MaxTasks)
	v.SetDefault("planner.default_capability", d.Planner.DefaultCapability)

	v.SetDefault("broker.type", d.Broker.Type)
	v.SetDefault("broker.redis_url", d.Broker.RedisURL)
	v.SetDefault("broker.reply_topic", d.Broker.ReplyTopic)

	v.SetDefault("orchestrator.synthesize", d.Orchestrator.Synthesize)
	v.SetDefault("orchestrator.event_buffer", d.Orchestrator.EventBuffer)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conductor")
	}

	// Fall back to ~/.config/conductor
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conductor")
	}
	return filepath.Join(home, ".config", "conductor")
}

// findProjectConfig searches for .conductor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Model:        "claude-sonnet-4-20250514",
			MaxTokens:    1024,
			Temperature:  0.2,
			Timeout:      30 * time.Second,
			Capabilities: []string{},
			Retry: RetryConfig{
				MaxTries:        3,
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
			},
		},
		Timeouts: TimeoutsConfig{
			Task:    10 * time.Second,
			Session: 30 * time.Second,
			Grace:   time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			OpenDuration:     60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Store:           StoreNone,
			TTL:             24 * time.Hour,
			MaxEntries:      1024,
			CleanupInterval: 5 * time.Minute,
		},
		Correlation: CorrelationConfig{
			SweepInterval: 250 * time.Millisecond,
		},
		Fallback: FallbackConfig{
			MinConfidence: 0.3,
		},
		Planner: PlannerConfig{
			MaxQueryLength:    2000,
			MaxTasks:          8,
			DefaultCapability: "general",
		},
		Broker: BrokerConfig{
			Type:       BrokerMemory,
			ReplyTopic: "conductor.replies",
		},
		Orchestrator: OrchestratorConfig{
			EventBuffer: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Timeouts.Task <= 0 {
		add("timeouts.task must be positive, got %v", c.Timeouts.Task)
	}
	if c.Timeouts.Session <= 0 {
		add("timeouts.session must be positive, got %v", c.Timeouts.Session)
	}
	if c.Timeouts.Grace < 0 {
		add("timeouts.grace must not be negative, got %v", c.Timeouts.Grace)
	}
	if c.Breaker.FailureThreshold < 1 {
		add("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.OpenDuration <= 0 {
		add("breaker.open_duration must be positive, got %v", c.Breaker.OpenDuration)
	}
	if c.Correlation.SweepInterval <= 0 {
		add("correlation.sweep_interval must be positive, got %v", c.Correlation.SweepInterval)
	}
	if c.Fallback.MinConfidence < 0 || c.Fallback.MinConfidence > 1 {
		add("fallback.min_confidence must be within [0, 1], got %v", c.Fallback.MinConfidence)
	}

	if c.Cache.Enabled {
		if c.Cache.MaxEntries < 1 {
			add("cache.max_entries must be at least 1, got %d", c.Cache.MaxEntries)
		}
		if c.Cache.TTL <= 0 {
			add("cache.ttl must be positive, got %v", c.Cache.TTL)
		}
		switch c.Cache.Store {
		case StoreNone, StoreSQLite:
		case StoreRedis:
			if c.Cache.RedisURL == "" {
				add("cache.redis_url is required for the redis store")
			}
		default:
			add("cache.store must be one of none, sqlite, redis, got %q", c.Cache.Store)
		}
	}

	switch c.Broker.Type {
	case BrokerMemory:
	case BrokerRedis:
		if c.Broker.RedisURL == "" {
			add("broker.redis_url is required for the redis broker")
		}
	default:
		add("broker.type must be memory or redis, got %q", c.Broker.Type)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}

	for i, a := range c.Agents {
		if a.ID == "" || a.Capability == "" || a.Topic == "" {
			add("agents[%d]: id, capability and topic are required", i)
		}
	}
	for i, cp := range c.Planner.Capabilities {
		if cp.Name == "" || len(cp.Keywords) == 0 {
			add("planner.capabilities[%d]: name and keywords are required", i)
		}
	}

	return errors.Join(errs...)
}
