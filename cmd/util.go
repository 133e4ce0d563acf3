// Package cmd provides CLI commands for the lexext tool.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/casemark/lexext-cli/config"
	"github.com/casemark/lexext-cli/credentials"
	"github.com/casemark/lexext-cli/pkg/extraction"
	"github.com/casemark/lexext-cli/pkg/llm"
	"github.com/casemark/lexext-cli/pkg/logging"
	"github.com/casemark/lexext-cli/pkg/patterns"
	"github.com/casemark/lexext-cli/pkg/routing"
)

// ConfigProvider returns the active configuration. The root command loads
// configuration once in PersistentPreRunE; commands resolve it lazily.
type ConfigProvider func() *config.Config

// newLogger builds the command logger from the active configuration.
// Logs go to stderr so stdout stays clean for command output.
func newLogger(cfg *config.Config) logging.Logger {
	level := logging.LevelWarn
	if cfg.Debug {
		level = logging.LevelDebug
	}
	return logging.NewLogger(&logging.Config{
		Level:       level,
		ServiceName: "lexext",
		Output:      os.Stderr,
	})
}

// openPatterns loads the pattern library behind the read cache.
func openPatterns(cfg *config.Config, logger logging.Logger) (*patterns.CachedStore, error) {
	store := patterns.NewStore(cfg.Patterns.Root, logger)
	if err := store.LoadAll(); err != nil {
		return nil, fmt.Errorf("loading patterns from %s: %w", cfg.Patterns.Root, err)
	}
	return patterns.NewCachedStore(store, cfg.Patterns.CacheSize, cfg.Patterns.CacheTTL), nil
}

// newRouter builds the document router from the active configuration.
func newRouter(cfg *config.Config, logger logging.Logger) *routing.Router {
	detector := routing.NewSizeDetector(cfg.Routing.CharsPerToken)
	return routing.NewRouter(detector, cfg.Routing.MaxContextTokens, cfg.Routing.SafetyMarginTokens, logger)
}

// activeAPIKey resolves the LLM API key: environment first, then the
// encrypted credential store. Local LLM servers often run without
// authentication, so a missing key is not an error.
func activeAPIKey() string {
	if key := os.Getenv("LEXEXT_API_KEY"); key != "" {
		return key
	}
	store, err := credentials.NewStore()
	if err != nil {
		return ""
	}
	key, err := store.GetActiveAPIKey()
	if err != nil {
		return ""
	}
	return key
}

// activeBaseURL returns the stored base URL override, if any.
func activeBaseURL() string {
	store, err := credentials.NewStore()
	if err != nil {
		return ""
	}
	creds, err := store.Load()
	if err != nil {
		return ""
	}
	return creds.BaseURL
}

// newThrottledClient builds the throttled LLM client from the active
// configuration and credential store.
func newThrottledClient(cfg *config.Config, logger logging.Logger) *llm.ThrottledClient {
	baseURL := cfg.LLM.BaseURL
	if stored := activeBaseURL(); stored != "" && baseURL == config.DefaultLLMBaseURL {
		baseURL = stored
	}

	inner := llm.NewHTTPClient(llm.ClientOptions{
		BaseURL:        baseURL,
		Model:          cfg.LLM.Model,
		APIKey:         activeAPIKey(),
		RequestTimeout: cfg.LLM.RequestTimeout,
		MaxRetries:     cfg.LLM.MaxRetries,
		Logger:         logger,
	})

	return llm.NewThrottledClient(inner, llm.ThrottleOptions{
		MaxConcurrent:      cfg.Throttle.MaxConcurrent,
		RequestsPerMinute:  cfg.Throttle.RequestsPerMinute,
		RequestDelay:       cfg.Throttle.RequestDelay,
		TargetResponseTime: cfg.Throttle.TargetResponseTime,
		AdaptationRate:     cfg.Throttle.AdaptationRate,
		MinDelay:           cfg.Throttle.MinDelay,
		MaxDelay:           cfg.Throttle.MaxDelay,
		FailureThreshold:   cfg.Throttle.FailureThreshold,
		RecoveryTimeout:    cfg.Throttle.RecoveryTimeout,
		HalfOpenRequests:   cfg.Throttle.HalfOpenRequests,
		Logger:             logger,
	})
}

// newOrchestrator wires the extraction pipeline.
func newOrchestrator(cfg *config.Config, client llm.Client, lib *patterns.CachedStore, logger logging.Logger) *extraction.Orchestrator {
	return extraction.NewOrchestrator(client, lib, lib.Store().Aliases(), extraction.OrchestratorOptions{
		CharsPerToken:     cfg.Routing.CharsPerToken,
		ExtractionTimeout: cfg.ExtractionTimeout,
		Logger:            logger,
	})
}

// documentIDFromPath derives a stable document identifier from a file path.
func documentIDFromPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// readDocument reads the document text from path.
func readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading document %s: %w", path, err)
	}
	return string(data), nil
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML writes v as YAML.
func outputYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

// formatDurationMs formats milliseconds as a human-readable duration.
func formatDurationMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%.1fm", float64(ms)/60000)
}
