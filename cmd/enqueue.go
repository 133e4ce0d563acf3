package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/pkg/queues"
)

// parsePriority maps a priority name to a queue priority.
func parsePriority(name string) (queues.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return queues.PriorityLow, nil
	case "", "normal":
		return queues.PriorityNormal, nil
	case "high":
		return queues.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("unknown priority %q (low, normal, high)", name)
	}
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(provider ConfigProvider) *cobra.Command {
	var (
		priority      string
		strategy      string
		relationships bool
		graphRAG      bool
		outputDir     string
		batchID       string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <file> [file...]",
		Short: "Enqueue documents for batch extraction",
		Long: `Enqueue one or more documents on the Redis extraction queue. Queued
documents are processed by 'lexext worker run'. Documents travel by
path, so workers must share a filesystem with the enqueuer.

Examples:
  lexext enqueue brief.txt
  lexext enqueue --priority high --relationships *.txt
  lexext enqueue --output-dir results/ docs/*.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			ctx := cmd.Context()

			prio, err := parsePriority(priority)
			if err != nil {
				return err
			}

			client, err := connectRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			queue := queues.NewRedisQueue(client, queues.DefaultExtractionQueueConfig())
			defer queue.Close()

			if batchID == "" && len(args) > 1 {
				batchID = uuid.New().String()
			}

			msgs := make([]queues.Message, 0, len(args))
			now := time.Now()
			for _, path := range args {
				abs, err := filepath.Abs(path)
				if err != nil {
					return fmt.Errorf("resolving %s: %w", path, err)
				}
				msg := &queues.ExtractionMessage{
					DocumentID:           abs,
					DocumentPath:         abs,
					StrategyOverride:     strategy,
					ExtractRelationships: relationships,
					GraphRAGMode:         graphRAG,
					Priority:             prio,
					EnqueuedAt:           now,
					BatchID:              batchID,
				}
				if outputDir != "" {
					base := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
					msg.OutputPath = filepath.Join(outputDir, base+".json")
				}
				msgs = append(msgs, msg)
			}

			if err := queue.EnqueueBatch(msgs); err != nil {
				return fmt.Errorf("enqueueing documents: %w", err)
			}

			depth, _ := queue.Depth()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Enqueued %d document(s) at %s priority", len(msgs), priorityName(prio))
			if batchID != "" {
				fmt.Fprintf(out, " (batch %s)", batchID)
			}
			fmt.Fprintf(out, "\nQueue depth: %d\n", depth)
			return nil
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "Queue priority: low, normal, high")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Force a processing strategy")
	cmd.Flags().BoolVar(&relationships, "relationships", false, "Extract relationships between entities")
	cmd.Flags().BoolVar(&graphRAG, "graphrag", false, "GraphRAG mode")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory where workers write result JSON files")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch identifier (generated when enqueueing multiple files)")

	return cmd
}

// priorityName returns the display name for a priority.
func priorityName(p queues.Priority) string {
	switch p {
	case queues.PriorityLow:
		return "low"
	case queues.PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}
