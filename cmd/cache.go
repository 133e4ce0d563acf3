package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/config"
	"github.com/casemark/lexext-cli/pkg/patterns"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(provider ConfigProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the pattern read cache",
		Long: `Inspect the TTL+LRU cache that fronts pattern library reads.

The cache lives inside one process. 'cache stats' warms it with the
extraction read set and reports hit rates, so cache_size and cache_ttl
can be tuned before a batch run.`,
	}

	cmd.AddCommand(newCacheStatsCommand(provider))
	cmd.AddCommand(newCacheClearCommand(provider))

	return cmd
}

// warmCache exercises the reads the extraction pipeline performs.
func warmCache(lib *patterns.CachedStore) {
	for _, t := range lib.Store().EntityTypes() {
		lib.GetPatternsByEntityType(string(t))
		lib.AggregatedExamples(t)
	}
	lib.RelationshipPatterns()
}

func newCacheStatsCommand(provider ConfigProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache hit rates for the extraction read set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			lib, err := openPatterns(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			// Two passes: the first fills, the second should hit.
			warmCache(lib)
			warmCache(lib)

			metrics := lib.Cache().Metrics()
			info := lib.Cache().Info()

			if cfg.OutputFormat == config.OutputFormatJSON {
				return outputJSON(cmd.OutOrStdout(), map[string]interface{}{
					"metrics": metrics,
					"info":    info,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache: %d/%d entries, TTL %s\n", info.Size, info.MaxSize, info.TTL)
			fmt.Fprintf(out, "Requests: %d (%d hits, %d misses, hit rate %.1f%%)\n",
				metrics.TotalRequests, metrics.Hits, metrics.Misses, metrics.HitRate*100)
			fmt.Fprintf(out, "Evictions: %d, expirations: %d\n", metrics.Evictions, metrics.Expirations)

			if len(metrics.PerMethod) > 0 {
				methods := make([]string, 0, len(metrics.PerMethod))
				for m := range metrics.PerMethod {
					methods = append(methods, m)
				}
				sort.Strings(methods)
				fmt.Fprintln(out, "\nPer method:")
				for _, m := range methods {
					mm := metrics.PerMethod[m]
					fmt.Fprintf(out, "  %-28s %d hits, %d misses\n", m, mm.Hits, mm.Misses)
				}
			}
			return nil
		},
	}
}

func newCacheClearCommand(provider ConfigProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache and show post-clear state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			lib, err := openPatterns(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			warmCache(lib)
			before := lib.Cache().Info()
			lib.Cache().Clear()
			after := lib.Cache().Info()

			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached entries (%d remain)\n",
				before.Size-after.Size, after.Size)
			return nil
		},
	}
}
