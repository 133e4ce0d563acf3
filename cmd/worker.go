package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/config"
	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
	"github.com/casemark/lexext-cli/pkg/extraction"
	"github.com/casemark/lexext-cli/pkg/extraction/audit"
	"github.com/casemark/lexext-cli/pkg/logging"
	"github.com/casemark/lexext-cli/pkg/observability"
	"github.com/casemark/lexext-cli/pkg/queues"
	"github.com/casemark/lexext-cli/pkg/routing"
	"github.com/casemark/lexext-cli/pkg/workers"
)

// NewWorkerCommand creates the worker command group.
func NewWorkerCommand(provider ConfigProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run and inspect batch extraction workers",
		Long: `Run workers that drain the Redis extraction queue through the
extraction pipeline. Requires redis.addr in the config file or the
LEXEXT_REDIS_ADDR environment variable.`,
	}

	cmd.AddCommand(newWorkerRunCommand(provider))
	cmd.AddCommand(newWorkerStatsCommand(provider))

	return cmd
}

// connectRedis builds the Redis client from the active configuration.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is not configured; set it in the config file or LEXEXT_REDIS_ADDR")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

func newWorkerRunCommand(provider ConfigProvider) *cobra.Command {
	var (
		workerCount  int
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run extraction workers until interrupted",
		Long: `Start a pool of workers that dequeue extraction messages, run the
pipeline over each document, and write results to each message's
output path. Failed messages are retried with backoff; messages that
exhaust their retries move to the dead letter queue.

Examples:
  lexext worker run
  lexext worker run --workers 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			logger := newLogger(cfg)
			ctx := cmd.Context()

			client, err := connectRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			queue := queues.NewRedisQueue(client, queues.DefaultExtractionQueueConfig())
			defer queue.Close()

			lib, err := openPatterns(cfg, logger)
			if err != nil {
				return err
			}
			router := newRouter(cfg, logger)
			llmClient := newThrottledClient(cfg, logger)
			orch := newOrchestrator(cfg, llmClient, lib, logger)
			metrics := observability.DefaultExtractionMetrics()

			var repo audit.Repository
			if cfg.Audit.DatabaseURL != "" {
				pool, err := audit.Connect(ctx, cfg.Audit.DatabaseURL)
				if err != nil {
					logger.Warn("audit database unavailable", logging.Err(err))
				} else {
					defer pool.Close()
					repo = audit.NewPostgresRepository(pool)
				}
			}

			handler := func(ctx context.Context, msg queues.Message) error {
				em, ok := msg.(*queues.ExtractionMessage)
				if !ok {
					return lexerrors.NewPermanentError(lexerrors.ErrorCodeInvalidInput,
						"unexpected message type", nil)
				}
				return processExtractionMessage(ctx, cfg, em, router, orch, repo, metrics, logger)
			}

			workerCfg := workers.DefaultWorkerConfig()
			if workerCount > 0 {
				workerCfg.Count = workerCount
			}
			if pollInterval > 0 {
				workerCfg.PollInterval = pollInterval
			}

			pool := workers.NewPool(workerCfg, queue, handler, logger)
			pool.Start()

			// Publish queue depth and cache gauges while running.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if depth, err := queue.Depth(); err == nil {
							metrics.SetQueueDepth(queue.Name(), float64(depth))
						}
						cm := lib.Cache().Metrics()
						metrics.SetCacheStats("patterns", cm.HitRate, float64(cm.CacheSize))
						st := llmClient.Stats()
						metrics.SetThrottleDelay(cfg.LLM.Model, float64(st.CurrentDelayMs)/1000)
					}
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "Worker pool running (%d workers, queue %s). Ctrl-C to stop.\n",
				workerCfg.Count, queue.Name())

			<-ctx.Done()
			pool.Stop()

			stats := pool.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped. Processed %d, failed %d.\n",
				stats.Processed, stats.Failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&workerCount, "workers", 0, "Number of workers (default 4)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Queue poll interval (default 1s)")

	return cmd
}

// extractor is the slice of the orchestrator the message handler needs.
// Narrowed to an interface so handler tests can script results.
type extractor interface {
	Extract(ctx context.Context, text string, decision *routing.RoutingDecision, info routing.SizeInfo) (*extraction.ExtractionResult, error)
}

// processExtractionMessage runs the pipeline over one queued document.
func processExtractionMessage(
	ctx context.Context,
	cfg *config.Config,
	msg *queues.ExtractionMessage,
	router *routing.Router,
	orch extractor,
	repo audit.Repository,
	metrics *observability.ExtractionMetrics,
	logger logging.Logger,
) error {
	log := logger.With(logging.F("document_id", msg.DocumentID))

	text, err := readDocument(msg.DocumentPath)
	if err != nil {
		// A missing or unreadable file will not fix itself on retry.
		return lexerrors.NewPermanentError(lexerrors.ErrorCodeInvalidInput, "reading document", err)
	}

	decision, err := router.Route(&text, nil, routing.RouteOptions{
		StrategyOverride:     msg.StrategyOverride,
		ExtractRelationships: msg.ExtractRelationships,
		GraphRAGMode:         msg.GraphRAGMode,
	})
	if err != nil {
		return lexerrors.NewPermanentError(lexerrors.ErrorCodeInvalidInput, "routing document", err)
	}
	metrics.RecordRouting(string(decision.Strategy), string(decision.SizeInfo.Category),
		float64(decision.SizeInfo.Tokens))

	var run *audit.Run
	if repo != nil {
		run = audit.NewRun(uuid.New().String(), msg.DocumentID,
			string(decision.Strategy), decision.PromptVersion, cfg.LLM.Model)
		if err := repo.CreateRun(ctx, run); err != nil {
			log.Warn("recording audit run failed", logging.Err(err))
			run = nil
		}
	}

	result, err := orch.Extract(ctx, text, decision, decision.SizeInfo)
	if err != nil {
		if run != nil {
			run.Fail(err)
			if uerr := repo.UpdateRun(ctx, run); uerr != nil {
				log.Warn("updating audit run failed", logging.Err(uerr))
			}
		}
		return err
	}
	result.DocumentID = msg.DocumentID

	for _, e := range result.Entities {
		metrics.RecordEntity(string(e.EntityType), e.Confidence)
	}
	metrics.RecordDuplicates(string(result.Strategy), float64(result.Statistics.DuplicatesRemoved))
	for _, ws := range result.Statistics.Waves {
		status := "ok"
		if ws.Failed {
			status = "failed"
		}
		metrics.RecordWave(fmt.Sprintf("wave_%d", ws.WaveNumber), status,
			float64(ws.DurationMs)/1000)
	}

	if run != nil {
		run.Complete(result)
		if uerr := repo.UpdateRun(ctx, run); uerr != nil {
			log.Warn("updating audit run failed", logging.Err(uerr))
		}
	}

	if msg.OutputPath != "" {
		f, err := os.Create(msg.OutputPath)
		if err != nil {
			return lexerrors.NewPermanentError(lexerrors.ErrorCodeInvalidInput, "creating output file", err)
		}
		defer f.Close()
		if err := outputJSON(f, result); err != nil {
			return lexerrors.NewPermanentError(lexerrors.ErrorCodeInvalidInput, "writing output file", err)
		}
	}

	log.Info("document extracted",
		logging.F("strategy", string(result.Strategy)),
		logging.F("entities", len(result.Entities)),
		logging.F("duration_ms", result.Statistics.DurationMs))
	return nil
}

func newWorkerStatsCommand(provider ConfigProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show extraction queue depth and dead letter count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			ctx := cmd.Context()

			client, err := connectRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			queue := queues.NewRedisQueue(client, queues.DefaultExtractionQueueConfig())
			defer queue.Close()

			depth, err := queue.Depth()
			if err != nil {
				return fmt.Errorf("reading queue depth: %w", err)
			}
			dlq, err := queue.DeadLetterDepth()
			if err != nil {
				return fmt.Errorf("reading dead letter depth: %w", err)
			}

			if cfg.OutputFormat == config.OutputFormatJSON {
				return outputJSON(cmd.OutOrStdout(), map[string]interface{}{
					"queue":             queue.Name(),
					"depth":             depth,
					"dead_letter_depth": dlq,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queue:       %s\n", queue.Name())
			fmt.Fprintf(out, "Depth:       %d\n", depth)
			fmt.Fprintf(out, "Dead letter: %d\n", dlq)
			return nil
		},
	}
}
