package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/config"
	"github.com/casemark/lexext-cli/pkg/routing"
)

// NewRouteCommand creates the route command.
func NewRouteCommand(provider ConfigProvider) *cobra.Command {
	var (
		strategyOverride string
		relationships    bool
		graphRAG         bool
	)

	cmd := &cobra.Command{
		Use:   "route <file>",
		Short: "Show the routing decision for a document without extracting",
		Long: `Analyze a document and print the processing strategy it would be
routed to, with size analysis, chunking plan and cost estimates.
No LLM calls are made.

Examples:
  lexext route brief.txt
  lexext route opinion.txt --output json
  lexext route contract.txt --strategy THREE_WAVE_CHUNKED`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			logger := newLogger(cfg)

			text, err := readDocument(args[0])
			if err != nil {
				return err
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

			switch cfg.OutputFormat {
			case config.OutputFormatJSON:
				return outputJSON(cmd.OutOrStdout(), decision)
			case config.OutputFormatYAML:
				return outputYAML(cmd.OutOrStdout(), decision)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Strategy:       %s\n", decision.Strategy)
			if decision.PromptVersion != "" {
				fmt.Fprintf(out, "Prompt version: %s\n", decision.PromptVersion)
			}
			fmt.Fprintf(out, "Size:           %s (%d chars, ~%d tokens, ~%d pages)\n",
				decision.SizeInfo.Category, decision.SizeInfo.Chars,
				decision.SizeInfo.Tokens, decision.SizeInfo.Pages)
			if decision.ChunkConfig != nil && decision.NumChunks > 0 {
				fmt.Fprintf(out, "Chunking:       %s, %d chunks of %d tokens (%d overlap)\n",
					decision.ChunkConfig.Strategy, decision.NumChunks,
					decision.ChunkConfig.ChunkSizeTokens, decision.ChunkConfig.OverlapTokens)
			}
			fmt.Fprintf(out, "Relationships:  %t\n", decision.ExtractRelationships)
			if decision.ExpectedAccuracy > 0 {
				fmt.Fprintf(out, "Est. accuracy:  %.0f%%\n", decision.ExpectedAccuracy*100)
			}
			if decision.EstimatedDuration > 0 {
				fmt.Fprintf(out, "Est. duration:  %.0fs\n", decision.EstimatedDuration)
			}
			if decision.EstimatedCostUSD > 0 {
				fmt.Fprintf(out, "Est. cost:      $%.4f\n", decision.EstimatedCostUSD)
			}
			if decision.Rationale != "" {
				fmt.Fprintf(out, "Rationale:      %s\n", decision.Rationale)
			}

			if ok, warnings := router.ValidateDecision(decision); !ok {
				fmt.Fprintln(out)
				for _, w := range warnings {
					fmt.Fprintf(out, "Warning: %s\n", w)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&strategyOverride, "strategy", "", "Force a processing strategy")
	cmd.Flags().BoolVar(&relationships, "relationships", false, "Plan for relationship extraction")
	cmd.Flags().BoolVar(&graphRAG, "graphrag", false, "GraphRAG mode")

	return cmd
}
