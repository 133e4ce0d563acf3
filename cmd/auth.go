package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/casemark/lexext-cli/credentials"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage LLM server credentials",
		Long: `Manage the API key used for the OpenAI-compatible LLM server.

The key is stored encrypted in ~/.lexext/credentials.yaml. The
encryption key comes from the OS keyring, or from the
LEXEXT_ENCRYPTION_KEY environment variable on headless machines.

The LEXEXT_API_KEY environment variable takes precedence over stored
credentials. Local LLM servers that run without authentication need no
credentials at all.`,
	}

	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthLogoutCommand())
	cmd.AddCommand(newAuthStatusCommand())

	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var (
		apiKey         string
		baseURL        string
		nonInteractive bool
	)

	cmd := &cobra.Command{
		Use:     "login",
		Aliases: []string{"set-key"},
		Short:   "Store the LLM server API key",
		Long: `Store the API key for the LLM server, encrypted at rest.

Examples:
  # Interactive (hidden prompt)
  lexext auth login

  # Non-interactive
  lexext auth login --api-key sk-abc123...

  # From the environment
  LEXEXT_API_KEY=sk-abc123... lexext auth login

  # Also pin the server base URL
  lexext auth login --base-url http://llm01:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}

			key := apiKey
			if key == "" {
				if envKey := os.Getenv("LEXEXT_API_KEY"); envKey != "" {
					key = envKey
					fmt.Fprintln(cmd.OutOrStdout(), "Using API key from LEXEXT_API_KEY environment variable")
				}
			}

			if key == "" {
				if nonInteractive {
					return fmt.Errorf("no API key provided and --non-interactive flag set")
				}
				key, err = promptForAPIKey()
				if err != nil {
					return fmt.Errorf("reading API key: %w", err)
				}
			}

			if len(key) < 8 {
				return fmt.Errorf("API key is too short")
			}

			if err := store.Save(&credentials.Credentials{
				APIKey:  key,
				BaseURL: baseURL,
			}); err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Credentials saved.")
			fmt.Fprintf(out, "  API Key: %s\n", credentials.MaskAPIKey(key))
			if baseURL != "" {
				fmt.Fprintf(out, "  Base URL: %s\n", baseURL)
			}
			credPath, _ := credentials.CredentialsPath()
			fmt.Fprintf(out, "\nStored in: %s\n", credPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for the LLM server")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "LLM server base URL to associate with the key")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Fail instead of prompting for input")

	return cmd
}

// promptForAPIKey reads the API key from the terminal with echo disabled.
func promptForAPIKey() (string, error) {
	fmt.Print("API Key: ")

	keyBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		// Not a terminal; fall back to plain stdin.
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		keyBytes = []byte(line)
	}

	key := strings.TrimSpace(string(keyBytes))
	if key == "" {
		return "", fmt.Errorf("no API key provided")
	}
	return key, nil
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}

			out := cmd.OutOrStdout()
			if !store.Exists() {
				fmt.Fprintln(out, "No stored credentials found.")
				return nil
			}

			if err := store.Delete(); err != nil {
				return fmt.Errorf("removing credentials: %w", err)
			}

			fmt.Fprintln(out, "Stored credentials removed.")
			if os.Getenv("LEXEXT_API_KEY") != "" {
				fmt.Fprintln(out, "\nNote: LEXEXT_API_KEY environment variable is still set.")
			}
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			envKey := os.Getenv("LEXEXT_API_KEY")
			if envKey != "" {
				fmt.Fprintf(out, "LEXEXT_API_KEY: %s (active)\n", credentials.MaskAPIKey(envKey))
			} else {
				fmt.Fprintln(out, "LEXEXT_API_KEY: (not set)")
			}

			if credentials.IsKeyringAvailable() {
				fmt.Fprintln(out, "Keyring: available")
			} else {
				fmt.Fprintln(out, "Keyring: unavailable (LEXEXT_ENCRYPTION_KEY fallback required)")
			}

			store, err := credentials.NewStore()
			if err != nil {
				fmt.Fprintf(out, "Credential store: unavailable (%v)\n", err)
				return nil
			}

			creds, err := store.Load()
			if err != nil {
				if errors.Is(err, credentials.ErrNoCredentials) {
					fmt.Fprintln(out, "Stored credentials: none")
					if envKey == "" {
						fmt.Fprintln(out, "\nNo API key configured. Fine for unauthenticated local servers;")
						fmt.Fprintln(out, "otherwise run 'lexext auth login'.")
					}
					return nil
				}
				return fmt.Errorf("loading credentials: %w", err)
			}

			fmt.Fprintln(out, "Stored credentials:")
			fmt.Fprintf(out, "  API Key:      %s\n", credentials.MaskAPIKey(creds.APIKey))
			if creds.BaseURL != "" {
				fmt.Fprintf(out, "  Base URL:     %s\n", creds.BaseURL)
			}
			fmt.Fprintf(out, "  Last Updated: %s\n", creds.LastUpdated.Format(time.RFC3339))

			if envKey != "" {
				fmt.Fprintln(out, "\nActive source: LEXEXT_API_KEY (takes precedence)")
			} else {
				fmt.Fprintln(out, "\nActive source: stored credentials")
			}
			return nil
		},
	}
}
