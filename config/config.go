// Package config provides configuration management for the lexext CLI and
// engine. It supports loading configuration from YAML files and environment
// variables, with command-line flags applied by the cmd layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultLLMBaseURL   = "http://localhost:8000"
	DefaultLLMModel     = "llama-3.1-70b-instruct"
	DefaultConfigDir    = ".lexext"
	DefaultConfigFile   = "config.yaml"
	DefaultPatternRoot  = "patterns"
	DefaultOutputFormat = OutputFormatText
)

// LLMConfig holds LLM server connection settings.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible server base URL.
	BaseURL string `yaml:"base_url"`

	// Model is the model name passed on chat-completion requests.
	Model string `yaml:"model"`

	// RequestTimeout bounds a single chat-completion request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the per-request retry budget.
	MaxRetries int `yaml:"max_retries"`
}

// ThrottleConfig holds throttled-client settings.
type ThrottleConfig struct {
	// MaxConcurrent caps in-flight LLM requests.
	MaxConcurrent int `yaml:"max_concurrent"`

	// RequestsPerMinute caps the sliding 60-second request window.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// RequestDelay is the base delay inserted between requests.
	RequestDelay time.Duration `yaml:"request_delay"`

	// TargetResponseTime drives the adaptive delay controller.
	TargetResponseTime time.Duration `yaml:"target_response_time"`

	// AdaptationRate scales the delay correction per sample.
	AdaptationRate float64 `yaml:"adaptation_rate"`

	// MinDelay and MaxDelay clamp the adaptive delay.
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`

	// FailureThreshold opens the circuit after this many consecutive failures.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before half-open trials.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// HalfOpenRequests is the number of trial requests allowed in half-open state.
	HalfOpenRequests int `yaml:"half_open_requests"`
}

// RoutingConfig holds document-router settings.
type RoutingConfig struct {
	// CharsPerToken is the token estimation divisor.
	CharsPerToken float64 `yaml:"chars_per_token"`

	// MaxContextTokens is the model context window used for chunking decisions.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// SafetyMarginTokens is subtracted from the context window before
	// deciding a document fits unchunked.
	SafetyMarginTokens int `yaml:"safety_margin_tokens"`
}

// PatternConfig holds pattern-library settings.
type PatternConfig struct {
	// Root is the directory recursively scanned for pattern files.
	Root string `yaml:"root"`

	// CacheSize is the maximum number of cached read results.
	CacheSize int `yaml:"cache_size"`

	// CacheTTL is how long a cached read result stays valid.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RedisConfig holds batch-queue connection settings.
type RedisConfig struct {
	// Addr is the Redis host:port. Empty disables the batch queue.
	Addr string `yaml:"addr,omitempty"`

	// Password is the Redis password.
	Password string `yaml:"password,omitempty"`

	// DB is the Redis database number.
	DB int `yaml:"db,omitempty"`
}

// AuditConfig holds extraction-run audit persistence settings.
type AuditConfig struct {
	// DatabaseURL is the Postgres connection string. Empty disables auditing.
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// Config is the top-level lexext configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Routing  RoutingConfig  `yaml:"routing"`
	Patterns PatternConfig  `yaml:"patterns"`
	Redis    RedisConfig    `yaml:"redis,omitempty"`
	Audit    AuditConfig    `yaml:"audit,omitempty"`

	// OutputFormat controls CLI output rendering.
	OutputFormat OutputFormat `yaml:"output_format,omitempty"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug,omitempty"`

	// ExtractionTimeout bounds a whole extraction, all waves included.
	ExtractionTimeout time.Duration `yaml:"extraction_timeout,omitempty"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:        DefaultLLMBaseURL,
			Model:          DefaultLLMModel,
			RequestTimeout: 120 * time.Second,
			MaxRetries:     2,
		},
		Throttle: ThrottleConfig{
			MaxConcurrent:      4,
			RequestsPerMinute:  60,
			RequestDelay:       100 * time.Millisecond,
			TargetResponseTime: 8 * time.Second,
			AdaptationRate:     0.1,
			MinDelay:           50 * time.Millisecond,
			MaxDelay:           5 * time.Second,
			FailureThreshold:   5,
			RecoveryTimeout:    30 * time.Second,
			HalfOpenRequests:   2,
		},
		Routing: RoutingConfig{
			CharsPerToken:      4.0,
			MaxContextTokens:   32768,
			SafetyMarginTokens: 2048,
		},
		Patterns: PatternConfig{
			Root:      DefaultPatternRoot,
			CacheSize: 256,
			CacheTTL:  time.Hour,
		},
		OutputFormat:      DefaultOutputFormat,
		ExtractionTimeout: 15 * time.Minute,
	}
}

// ConfigPath returns the path to the config file, honouring LEXEXT_CONFIG.
func ConfigPath() (string, error) {
	if p := os.Getenv("LEXEXT_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// LoadConfig loads configuration from the config file (if present) and
// applies environment variable overrides. A missing config file is not an
// error; defaults apply.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies LEXEXT_* environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("LEXEXT_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LEXEXT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LEXEXT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Throttle.MaxConcurrent = n
		}
	}
	if v := os.Getenv("LEXEXT_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Throttle.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("LEXEXT_REQUEST_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Throttle.RequestDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("LEXEXT_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Throttle.FailureThreshold = n
		}
	}
	if v := os.Getenv("LEXEXT_TARGET_RESPONSE_TIME_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Throttle.TargetResponseTime = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("LEXEXT_PATTERN_ROOT"); v != "" {
		c.Patterns.Root = v
	}
	if v := os.Getenv("LEXEXT_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Patterns.CacheSize = n
		}
	}
	if v := os.Getenv("LEXEXT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Patterns.CacheTTL = d
		}
	}
	if v := os.Getenv("LEXEXT_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LEXEXT_DATABASE_URL"); v != "" {
		c.Audit.DatabaseURL = v
	}
	if v := os.Getenv("LEXEXT_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must not be empty")
	}
	if c.Throttle.MaxConcurrent <= 0 {
		return fmt.Errorf("throttle.max_concurrent must be positive, got %d", c.Throttle.MaxConcurrent)
	}
	if c.Throttle.RequestsPerMinute <= 0 {
		return fmt.Errorf("throttle.requests_per_minute must be positive, got %d", c.Throttle.RequestsPerMinute)
	}
	if c.Throttle.FailureThreshold <= 0 {
		return fmt.Errorf("throttle.failure_threshold must be positive, got %d", c.Throttle.FailureThreshold)
	}
	if c.Routing.CharsPerToken <= 0 {
		return fmt.Errorf("routing.chars_per_token must be positive, got %f", c.Routing.CharsPerToken)
	}
	if c.Routing.MaxContextTokens <= c.Routing.SafetyMarginTokens {
		return fmt.Errorf("routing.max_context_tokens (%d) must exceed safety margin (%d)",
			c.Routing.MaxContextTokens, c.Routing.SafetyMarginTokens)
	}
	if c.Patterns.CacheSize <= 0 {
		return fmt.Errorf("patterns.cache_size must be positive, got %d", c.Patterns.CacheSize)
	}
	switch c.OutputFormat {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML, "":
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}
	return nil
}

// Save writes the configuration to the config file, creating the directory
// if needed.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
