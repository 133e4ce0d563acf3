package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/config"
	"github.com/casemark/lexext-cli/pkg/extraction"
	"github.com/casemark/lexext-cli/pkg/extraction/audit"
	"github.com/casemark/lexext-cli/pkg/logging"
	"github.com/casemark/lexext-cli/pkg/observability"
	"github.com/casemark/lexext-cli/pkg/routing"
)

// NewExtractCommand creates the extract command.
func NewExtractCommand(provider ConfigProvider) *cobra.Command {
	var (
		strategyOverride string
		relationships    bool
		graphRAG         bool
		documentID       string
		outputFile       string
		noAudit          bool
	)

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract entities, citations and relationships from a document",
		Long: `Run the wave-based extraction pipeline over a legal document.

The document is routed to a processing strategy based on its size, then
processed wave by wave against the local LLM server. Results include
entities, citations, optional relationships, and per-wave statistics.

Examples:
  lexext extract brief.txt
  lexext extract brief.txt --output json
  lexext extract opinion.txt --strategy FOUR_WAVE --relationships
  lexext extract contract.txt --out result.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			logger := newLogger(cfg)
			ctx := cmd.Context()

			text, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if documentID == "" {
				documentID = documentIDFromPath(args[0])
			}

			lib, err := openPatterns(cfg, logger)
			if err != nil {
				return err
			}
			if n := lib.Store().ErrorCount(); n > 0 {
				logger.Warn("pattern files failed to load", logging.F("count", n))
			}

			router := newRouter(cfg, logger)
			decision, err := router.Route(&text, nil, routing.RouteOptions{
				StrategyOverride:     strategyOverride,
				ExtractRelationships: relationships,
				GraphRAGMode:         graphRAG,
			})
			if err != nil {
				return fmt.Errorf("routing document: %w", err)
			}

			client := newThrottledClient(cfg, logger)
			orch := newOrchestrator(cfg, client, lib, logger)

			tracer := observability.NewTracer()
			ctx, span := tracer.StartExtractionSpan(ctx, documentID, string(decision.Strategy))
			defer span.End()
			helper := observability.NewSpanHelper(span)
			helper.SetRouting(string(decision.Strategy), string(decision.SizeInfo.Category), decision.PromptVersion)

			var run *audit.Run
			var repo *audit.PostgresRepository
			if cfg.Audit.DatabaseURL != "" && !noAudit {
				pool, err := audit.Connect(ctx, cfg.Audit.DatabaseURL)
				if err != nil {
					logger.Warn("audit database unavailable", logging.Err(err))
				} else {
					defer pool.Close()
					repo = audit.NewPostgresRepository(pool)
					run = audit.NewRun(uuid.New().String(), documentID,
						string(decision.Strategy), decision.PromptVersion, cfg.LLM.Model)
					if err := repo.CreateRun(ctx, run); err != nil {
						logger.Warn("recording audit run failed", logging.Err(err))
						run = nil
					}
				}
			}

			result, err := orch.Extract(ctx, text, decision, decision.SizeInfo)
			if err != nil {
				helper.SetError(err, "extraction", false)
				if run != nil {
					run.Fail(err)
					if uerr := repo.UpdateRun(ctx, run); uerr != nil {
						logger.Warn("updating audit run failed", logging.Err(uerr))
					}
				}
				return fmt.Errorf("extraction failed: %w", err)
			}
			result.DocumentID = documentID
			helper.SetWaveResult(len(result.Entities), result.Statistics.DurationMs)
			helper.SetSuccess()

			if run != nil {
				run.Complete(result)
				if uerr := repo.UpdateRun(ctx, run); uerr != nil {
					logger.Warn("updating audit run failed", logging.Err(uerr))
				}
			}

			if outputFile != "" {
				f, err := os.Create(outputFile)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outputFile, err)
				}
				defer f.Close()
				if err := outputJSON(f, result); err != nil {
					return fmt.Errorf("writing %s: %w", outputFile, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Result written to %s\n", outputFile)
				return nil
			}

			switch cfg.OutputFormat {
			case config.OutputFormatJSON:
				return outputJSON(cmd.OutOrStdout(), result)
			case config.OutputFormatYAML:
				return outputYAML(cmd.OutOrStdout(), result)
			default:
				return printExtractionResult(cmd, result, decision)
			}
		},
	}

	cmd.Flags().StringVar(&strategyOverride, "strategy", "", "Force a processing strategy (SINGLE_PASS, THREE_WAVE, FOUR_WAVE, THREE_WAVE_CHUNKED, EIGHT_WAVE_FALLBACK)")
	cmd.Flags().BoolVar(&relationships, "relationships", false, "Extract relationships between entities")
	cmd.Flags().BoolVar(&graphRAG, "graphrag", false, "GraphRAG mode: force relationship extraction regardless of strategy")
	cmd.Flags().StringVar(&documentID, "document-id", "", "Document identifier (defaults to the absolute file path)")
	cmd.Flags().StringVar(&outputFile, "out", "", "Write the full result as JSON to this file")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Skip audit-run recording even when an audit database is configured")

	return cmd
}

// printExtractionResult renders the human-readable extraction summary.
func printExtractionResult(cmd *cobra.Command, result *extraction.ExtractionResult, decision *routing.RoutingDecision) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Document: %s\n", result.DocumentID)
	fmt.Fprintf(out, "Strategy: %s", result.Strategy)
	if decision.NumChunks > 1 {
		fmt.Fprintf(out, " (%d chunks)", decision.NumChunks)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Waves:    %d executed, %d failed\n", result.WavesExecuted, result.Statistics.WavesFailed)
	fmt.Fprintf(out, "Duration: %s", formatDurationMs(result.Statistics.DurationMs))
	if result.Statistics.Partial {
		fmt.Fprint(out, "  (partial result)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Tokens:   %d\n\n", result.TokensUsed)

	if len(result.Entities) > 0 {
		byType := make(map[string]int)
		for _, e := range result.Entities {
			byType[string(e.EntityType)]++
		}
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)

		fmt.Fprintf(out, "Entities (%d):\n", len(result.Entities))
		for _, t := range types {
			fmt.Fprintf(out, "  %-22s %d\n", t, byType[t])
		}
		fmt.Fprintln(out)

		for _, e := range result.Entities {
			fmt.Fprintf(out, "  [%.2f] %-20s %q @ %d\n",
				e.Confidence, e.EntityType, e.Text, e.Position.Start)
		}
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, "Entities: none")
	}

	if len(result.Citations) > 0 {
		fmt.Fprintf(out, "Citations (%d):\n", len(result.Citations))
		for _, c := range result.Citations {
			fmt.Fprintf(out, "  [%.2f] %-20s %q @ %d\n",
				c.Confidence, c.CitationType, c.Text, c.Position.Start)
		}
		fmt.Fprintln(out)
	}

	if len(result.Relationships) > 0 {
		fmt.Fprintf(out, "Relationships (%d):\n", len(result.Relationships))
		for _, r := range result.Relationships {
			fmt.Fprintf(out, "  [%.2f] %s: %s -> %s\n",
				r.Confidence, r.RelationshipType, r.SourceEntityID, r.TargetEntityID)
		}
		fmt.Fprintln(out)
	}

	if result.Statistics.DuplicatesRemoved > 0 || result.Statistics.SpansDropped > 0 {
		fmt.Fprintf(out, "Merge: %d duplicates removed, %d spans dropped\n",
			result.Statistics.DuplicatesRemoved, result.Statistics.SpansDropped)
	}

	return nil
}
