package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4.0, cfg.Routing.CharsPerToken)
	assert.Equal(t, time.Hour, cfg.Patterns.CacheTTL)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
llm:
  base_url: http://llm.internal:8080
  model: mistral-7b
throttle:
  max_concurrent: 8
  requests_per_minute: 120
patterns:
  root: /srv/patterns
  cache_size: 64
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("LEXEXT_CONFIG", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://llm.internal:8080", cfg.LLM.BaseURL)
	assert.Equal(t, "mistral-7b", cfg.LLM.Model)
	assert.Equal(t, 8, cfg.Throttle.MaxConcurrent)
	assert.Equal(t, "/srv/patterns", cfg.Patterns.Root)
	// Defaults survive partial files.
	assert.Equal(t, 5, cfg.Throttle.FailureThreshold)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEXEXT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("LEXEXT_LLM_BASE_URL", "http://override:9000")
	t.Setenv("LEXEXT_MAX_CONCURRENT", "16")
	t.Setenv("LEXEXT_REQUEST_DELAY_MS", "250")
	t.Setenv("LEXEXT_CACHE_TTL", "30m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://override:9000", cfg.LLM.BaseURL)
	assert.Equal(t, 16, cfg.Throttle.MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, cfg.Throttle.RequestDelay)
	assert.Equal(t, 30*time.Minute, cfg.Patterns.CacheTTL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Throttle.MaxConcurrent = 0 }},
		{"zero rpm", func(c *Config) { c.Throttle.RequestsPerMinute = 0 }},
		{"zero failure threshold", func(c *Config) { c.Throttle.FailureThreshold = 0 }},
		{"bad chars per token", func(c *Config) { c.Routing.CharsPerToken = 0 }},
		{"margin exceeds context", func(c *Config) {
			c.Routing.MaxContextTokens = 1000
			c.Routing.SafetyMarginTokens = 1000
		}},
		{"empty base url", func(c *Config) { c.LLM.BaseURL = "" }},
		{"bad output format", func(c *Config) { c.OutputFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	t.Setenv("LEXEXT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultLLMBaseURL, cfg.LLM.BaseURL)
}
