package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/config"
	"github.com/casemark/lexext-cli/pkg/extraction/audit"
)

// openAuditRepo connects to the audit database.
func openAuditRepo(ctx context.Context, cfg *config.Config, databaseURL string) (*audit.PostgresRepository, func(), error) {
	url := databaseURL
	if url == "" {
		url = cfg.Audit.DatabaseURL
	}
	if url == "" {
		return nil, nil, fmt.Errorf("audit.database_url is not configured; set it in the config file or LEXEXT_DATABASE_URL")
	}
	pool, err := audit.Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return audit.NewPostgresRepository(pool), pool.Close, nil
}

// NewAuditCommand creates the audit command group.
func NewAuditCommand(provider ConfigProvider) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect recorded extraction runs",
		Long: `Inspect extraction runs recorded in the audit database. Runs are
recorded automatically by 'lexext extract' and the batch workers when
audit.database_url is configured.`,
	}

	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Audit database URL (overrides config)")

	cmd.AddCommand(newAuditInitCommand(provider, &databaseURL))
	cmd.AddCommand(newAuditListCommand(provider, &databaseURL))
	cmd.AddCommand(newAuditShowCommand(provider, &databaseURL))
	cmd.AddCommand(newAuditPruneCommand(provider, &databaseURL))

	return cmd
}

func newAuditInitCommand(provider ConfigProvider, databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the audit schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := openAuditRepo(cmd.Context(), provider(), *databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := repo.Init(cmd.Context()); err != nil {
				return fmt.Errorf("applying audit schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audit schema ready.")
			return nil
		},
	}
}

func newAuditListCommand(provider ConfigProvider, databaseURL *string) *cobra.Command {
	var (
		documentID string
		strategy   string
		status     string
		model      string
		since      time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded extraction runs",
		Long: `List recorded extraction runs, most recent first.

Examples:
  lexext audit list
  lexext audit list --status failed --since 24h
  lexext audit list --document /data/brief.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			repo, closeFn, err := openAuditRepo(cmd.Context(), cfg, *databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			filter := audit.RunFilter{
				DocumentID: documentID,
				Strategy:   strategy,
				Model:      model,
				Limit:      limit,
			}
			if status != "" {
				s := audit.RunStatus(status)
				filter.Status = &s
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}

			runs, err := repo.ListRuns(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			if cfg.OutputFormat == config.OutputFormatJSON {
				return outputJSON(cmd.OutOrStdout(), runs)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s %-20s %-10s %-9s %-8s %s\n",
				"ID", "STRATEGY", "STATUS", "ENTITIES", "DURATION", "STARTED")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s %-20s %-10s %-9d %-8s %s\n",
					r.ID, r.Strategy, r.Status, r.EntityCount,
					formatDurationMs(int64(r.DurationMs)),
					r.StartedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(out, "\n%d run(s)\n", len(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&documentID, "document", "", "Only runs for this document")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Only runs with this strategy")
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status (running, completed, partial, failed)")
	cmd.Flags().StringVar(&model, "model", "", "Only runs against this model")
	cmd.Flags().DurationVar(&since, "since", 0, "Only runs started within this window (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum runs to list")

	return cmd
}

func newAuditShowCommand(provider ConfigProvider, databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one extraction run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			repo, closeFn, err := openAuditRepo(cmd.Context(), cfg, *databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := repo.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading run %s: %w", args[0], err)
			}

			if cfg.OutputFormat == config.OutputFormatJSON {
				return outputJSON(cmd.OutOrStdout(), run)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:        %s\n", run.ID)
			fmt.Fprintf(out, "Document:   %s\n", run.DocumentID)
			fmt.Fprintf(out, "Strategy:   %s", run.Strategy)
			if run.PromptVersion != "" {
				fmt.Fprintf(out, " (prompts %s)", run.PromptVersion)
			}
			fmt.Fprintln(out)
			if run.Model != "" {
				fmt.Fprintf(out, "Model:      %s\n", run.Model)
			}
			fmt.Fprintf(out, "Status:     %s\n", run.Status)
			fmt.Fprintf(out, "Started:    %s\n", run.StartedAt.Format(time.RFC3339))
			if run.CompletedAt != nil {
				fmt.Fprintf(out, "Completed:  %s (%s)\n",
					run.CompletedAt.Format(time.RFC3339), formatDurationMs(int64(run.DurationMs)))
			}
			fmt.Fprintf(out, "Waves:      %d executed, %d failed\n", run.WavesExecuted, run.WavesFailed)
			fmt.Fprintf(out, "Found:      %d entities, %d citations, %d relationships\n",
				run.EntityCount, run.CitationCount, run.RelationshipCount)
			fmt.Fprintf(out, "Tokens:     %d\n", run.TokensUsed)
			if run.DuplicatesRemoved > 0 || run.SpansDropped > 0 {
				fmt.Fprintf(out, "Merge:      %d duplicates removed, %d spans dropped\n",
					run.DuplicatesRemoved, run.SpansDropped)
			}
			if run.TimedOut {
				fmt.Fprintln(out, "Timed out:  yes")
			}
			if run.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:      %s\n", run.ErrorMessage)
			}
			if len(run.WaveStats) > 0 {
				fmt.Fprintln(out, "\nWaves:")
				for _, ws := range run.WaveStats {
					status := "ok"
					if ws.Failed {
						status = "failed"
					}
					fmt.Fprintf(out, "  %d: %-7s %3d entities, %6d tokens, %s\n",
						ws.WaveNumber, status, ws.EntityCount, ws.TokensUsed,
						formatDurationMs(ws.DurationMs))
				}
			}
			return nil
		},
	}
}

func newAuditPruneCommand(provider ConfigProvider, databaseURL *string) *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old extraction runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := openAuditRepo(cmd.Context(), provider(), *databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			deleted, err := repo.DeleteOldRuns(cmd.Context(), olderThanDays)
			if err != nil {
				return fmt.Errorf("pruning runs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s) older than %d days.\n", deleted, olderThanDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 90, "Delete runs older than this many days")

	return cmd
}
