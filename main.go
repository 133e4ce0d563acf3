// Package main provides the lexext CLI entry point.
// lexext extracts legal entities, citations and relationships from
// documents using a local OpenAI-compatible LLM server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/cmd"
	"github.com/casemark/lexext-cli/config"
	"github.com/casemark/lexext-cli/pkg/buildinfo"
)

// Global flags and state.
var (
	llmBaseURL        string
	llmModel          string
	outputFormat      string
	patternRoot       string
	extractionTimeout time.Duration
	debug             bool

	// cfg holds the loaded configuration.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lexext",
	Short: "Legal entity extraction engine",
	Long: `lexext extracts entities, citations and relationships from legal
documents using declarative patterns and a local OpenAI-compatible
LLM server.

Documents are routed to a processing strategy by size: short filings
run in a single pass, standard briefs in three or four waves, and long
documents are chunked with overlap and merged.

COMMON WORKFLOWS:
  One document:     lexext extract brief.txt
  Plan only:        lexext route brief.txt
  Batch:            lexext enqueue docs/*.txt  ->  lexext worker run
  Patterns:         lexext patterns list  |  lexext patterns validate
  Server key:       lexext auth login

Configuration lives in ~/.lexext/config.yaml; every setting also has a
LEXEXT_* environment variable. Run 'lexext config show' to inspect the
active values.`,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Override with command-line flags.
		if llmBaseURL != "" {
			cfg.LLM.BaseURL = llmBaseURL
		}
		if llmModel != "" {
			cfg.LLM.Model = llmModel
		}
		if outputFormat != "" {
			cfg.OutputFormat = config.OutputFormat(outputFormat)
		}
		if patternRoot != "" {
			cfg.Patterns.Root = patternRoot
		}
		if extractionTimeout != 0 {
			cfg.ExtractionTimeout = extractionTimeout
		}
		if debug {
			cfg.Debug = true
		}

		return cfg.Validate()
	},
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get()
		out := c.OutOrStdout()
		fmt.Fprintf(out, "lexext version %s\n", info.Version)
		fmt.Fprintf(out, "  commit: %s\n", info.Commit)
		fmt.Fprintf(out, "  built:  %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:     %s\n", info.GoVersion)
		return nil
	},
}

// configCmd manages CLI configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `View and modify the lexext configuration settings.`,
}

// configShowCmd displays current configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(c *cobra.Command, args []string) error {
		configPath, _ := config.ConfigPath()
		out := c.OutOrStdout()

		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Config file:      %s\n", configPath)
		fmt.Fprintf(out, "  LLM base URL:     %s\n", cfg.LLM.BaseURL)
		fmt.Fprintf(out, "  LLM model:        %s\n", cfg.LLM.Model)
		fmt.Fprintf(out, "  Request timeout:  %s\n", cfg.LLM.RequestTimeout)
		fmt.Fprintf(out, "  Max concurrent:   %d\n", cfg.Throttle.MaxConcurrent)
		fmt.Fprintf(out, "  Requests/minute:  %d\n", cfg.Throttle.RequestsPerMinute)
		fmt.Fprintf(out, "  Pattern root:     %s\n", cfg.Patterns.Root)
		fmt.Fprintf(out, "  Cache:            %d entries, TTL %s\n", cfg.Patterns.CacheSize, cfg.Patterns.CacheTTL)
		fmt.Fprintf(out, "  Max context:      %d tokens (margin %d)\n", cfg.Routing.MaxContextTokens, cfg.Routing.SafetyMarginTokens)
		fmt.Fprintf(out, "  Output format:    %s\n", cfg.OutputFormat)
		fmt.Fprintf(out, "  Redis:            %s\n", valueOrDefault(cfg.Redis.Addr, "(not set)"))
		fmt.Fprintf(out, "  Audit database:   %s\n", valueOrDefault(cfg.Audit.DatabaseURL, "(not set)"))
		fmt.Fprintf(out, "  Debug:            %t\n", cfg.Debug)
		return nil
	},
}

// configInitCmd initializes configuration.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with default values if one doesn't exist.`,
	RunE: func(c *cobra.Command, args []string) error {
		configPath, err := config.ConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}

		out := c.OutOrStdout()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
			fmt.Fprintln(out, "Use 'lexext config show' to view current settings.")
			return nil
		}

		defaultCfg := config.DefaultConfig()
		if err := defaultCfg.Save(); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(out, "Created configuration file: %s\n", configPath)
		return nil
	},
}

// configSetCmd sets a configuration value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Available keys:
  llm.base_url                 LLM server base URL
  llm.model                    Model name for chat-completion requests
  llm.request_timeout          Per-request timeout (e.g. 120s)
  throttle.max_concurrent      Max in-flight LLM requests
  throttle.requests_per_minute Request rate cap
  patterns.root                Pattern library directory
  routing.max_context_tokens   Model context window
  output_format                text, json or yaml
  redis.addr                   Redis host:port for the batch queue
  audit.database_url           Postgres URL for audit records
  extraction_timeout           Whole-extraction timeout (e.g. 15m)
  debug                        true/false

Examples:
  lexext config set llm.base_url http://llm01:8000
  lexext config set llm.model llama-3.1-70b-instruct
  lexext config set output_format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		currentCfg, err := config.LoadConfig()
		if err != nil {
			currentCfg = config.DefaultConfig()
		}

		switch key {
		case "llm.base_url":
			currentCfg.LLM.BaseURL = value
		case "llm.model":
			currentCfg.LLM.Model = value
		case "llm.request_timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			currentCfg.LLM.RequestTimeout = d
		case "throttle.max_concurrent":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid number: %w", err)
			}
			currentCfg.Throttle.MaxConcurrent = n
		case "throttle.requests_per_minute":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid number: %w", err)
			}
			currentCfg.Throttle.RequestsPerMinute = n
		case "patterns.root":
			currentCfg.Patterns.Root = value
		case "routing.max_context_tokens":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid number: %w", err)
			}
			currentCfg.Routing.MaxContextTokens = n
		case "output_format":
			currentCfg.OutputFormat = config.OutputFormat(value)
		case "redis.addr":
			currentCfg.Redis.Addr = value
		case "audit.database_url":
			currentCfg.Audit.DatabaseURL = value
		case "extraction_timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			currentCfg.ExtractionTimeout = d
		case "debug":
			switch value {
			case "true", "1":
				currentCfg.Debug = true
			case "false", "0":
				currentCfg.Debug = false
			default:
				return fmt.Errorf("invalid debug value: %s (must be true or false)", value)
			}
		default:
			return fmt.Errorf("unknown configuration key: %s", key)
		}

		if err := currentCfg.Validate(); err != nil {
			return err
		}
		if err := currentCfg.Save(); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(c.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for lexext.

To load completions:

Bash:
  $ source <(lexext completion bash)

Zsh:
  $ lexext completion zsh > "${fpath[1]}/_lexext"

Fish:
  $ lexext completion fish | source

PowerShell:
  PS> lexext completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(c *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

// valueOrDefault returns the value if non-empty, otherwise the default.
func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&llmBaseURL, "llm-url", "", "LLM server base URL")
	rootCmd.PersistentFlags().StringVar(&llmModel, "model", "", "Model name for chat-completion requests")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&patternRoot, "pattern-root", "", "Pattern library directory")
	rootCmd.PersistentFlags().DurationVar(&extractionTimeout, "timeout", 0, "Whole-extraction timeout (e.g. 15m)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	provider := func() *config.Config { return cfg }

	// Command groups for organized help output.
	rootCmd.AddGroup(
		&cobra.Group{ID: "extraction", Title: "Extraction:"},
		&cobra.Group{ID: "batch", Title: "Batch Processing:"},
		&cobra.Group{ID: "library", Title: "Pattern Library:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	// Extraction
	extractCmd := cmd.NewExtractCommand(provider)
	extractCmd.GroupID = "extraction"
	rootCmd.AddCommand(extractCmd)

	routeCmd := cmd.NewRouteCommand(provider)
	routeCmd.GroupID = "extraction"
	rootCmd.AddCommand(routeCmd)

	auditCmd := cmd.NewAuditCommand(provider)
	auditCmd.GroupID = "extraction"
	rootCmd.AddCommand(auditCmd)

	// Batch Processing
	enqueueCmd := cmd.NewEnqueueCommand(provider)
	enqueueCmd.GroupID = "batch"
	rootCmd.AddCommand(enqueueCmd)

	workerCmd := cmd.NewWorkerCommand(provider)
	workerCmd.GroupID = "batch"
	rootCmd.AddCommand(workerCmd)

	// Pattern Library
	patternsCmd := cmd.NewPatternsCommand(provider)
	patternsCmd.GroupID = "library"
	rootCmd.AddCommand(patternsCmd)

	cacheCmd := cmd.NewCacheCommand(provider)
	cacheCmd.GroupID = "library"
	rootCmd.AddCommand(cacheCmd)

	// Setup
	authCmd := cmd.NewAuthCommand()
	authCmd.GroupID = "setup"
	rootCmd.AddCommand(authCmd)

	configCmd.GroupID = "setup"
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)

	versionCmd.GroupID = "setup"
	rootCmd.AddCommand(versionCmd)

	completionCmd.GroupID = "setup"
	rootCmd.AddCommand(completionCmd)
}

func main() {
	// Signal handling for graceful shutdown: the first interrupt cancels the
	// command context so workers drain; a second interrupt force-exits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
		<-sigChan
		os.Exit(1)
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
