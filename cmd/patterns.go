package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/casemark/lexext-cli/config"
	"github.com/casemark/lexext-cli/pkg/patterns"
)

// NewPatternsCommand creates the patterns command group.
func NewPatternsCommand(provider ConfigProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect the pattern library",
		Long: `Inspect the declarative pattern library: groups, entity types,
individual patterns and their dependency graph.

The pattern root directory is taken from patterns.root in the config
file or the LEXEXT_PATTERN_ROOT environment variable.`,
	}

	cmd.AddCommand(newPatternsListCommand(provider))
	cmd.AddCommand(newPatternsTypesCommand(provider))
	cmd.AddCommand(newPatternsShowCommand(provider))
	cmd.AddCommand(newPatternsRelationshipsCommand(provider))
	cmd.AddCommand(newPatternsValidateCommand(provider))

	return cmd
}

func newPatternsListCommand(provider ConfigProvider) *cobra.Command {
	var (
		group         string
		entityType    string
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded patterns",
		Long: `List all loaded patterns with group, entity type and confidence.

Examples:
  lexext patterns list
  lexext patterns list --group federal_courts
  lexext patterns list --entity-type JUDGE_NAME
  lexext patterns list --min-confidence 0.9`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			lib, err := openPatterns(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			store := lib.Store()

			var selected []*patterns.Pattern
			switch {
			case entityType != "":
				selected = lib.GetPatternsByEntityType(entityType)
			case minConfidence > 0:
				selected = lib.GetPatternsByConfidence(minConfidence)
			default:
				for _, g := range store.Groups() {
					pg, ok := store.GetGroup(g)
					if !ok {
						continue
					}
					selected = append(selected, pg.Patterns...)
				}
			}

			if group != "" {
				filtered := selected[:0]
				for _, p := range selected {
					if p.GroupName == group {
						filtered = append(filtered, p)
					}
				}
				selected = filtered
			}

			sort.Slice(selected, func(i, j int) bool {
				return selected[i].FullName() < selected[j].FullName()
			})

			if cfg.OutputFormat == config.OutputFormatJSON {
				type row struct {
					FullName     string  `json:"full_name"`
					EntityType   string  `json:"entity_type,omitempty"`
					CitationType string  `json:"citation_type,omitempty"`
					Confidence   float64 `json:"confidence"`
					Examples     int     `json:"examples"`
				}
				rows := make([]row, 0, len(selected))
				for _, p := range selected {
					rows = append(rows, row{
						FullName:     p.FullName(),
						EntityType:   string(p.EntityType),
						CitationType: string(p.CitationType),
						Confidence:   p.Confidence,
						Examples:     len(p.Examples),
					})
				}
				return outputJSON(cmd.OutOrStdout(), rows)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-40s %-22s %-10s %s\n", "PATTERN", "TYPE", "CONFIDENCE", "EXAMPLES")
			for _, p := range selected {
				typeName := string(p.EntityType)
				if p.IsCitation() {
					typeName = string(p.CitationType)
				}
				fmt.Fprintf(out, "%-40s %-22s %-10.2f %d\n",
					p.FullName(), typeName, p.Confidence, len(p.Examples))
			}
			fmt.Fprintf(out, "\n%d patterns in %d groups\n", len(selected), len(store.Groups()))
			return nil
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "Only patterns from this group")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Only patterns declaring this entity type (aliases accepted)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Only patterns at or above this confidence")

	return cmd
}

func newPatternsTypesCommand(provider ConfigProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List entity types covered by the loaded patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			lib, err := openPatterns(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			store := lib.Store()

			withExamples := make(map[patterns.EntityType]bool)
			for _, t := range store.EntityTypesWithExamples() {
				withExamples[t] = true
			}

			types := store.EntityTypes()
			sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

			if cfg.OutputFormat == config.OutputFormatJSON {
				type row struct {
					EntityType  string `json:"entity_type"`
					Patterns    int    `json:"patterns"`
					HasExamples bool   `json:"has_examples"`
				}
				rows := make([]row, 0, len(types))
				for _, t := range types {
					rows = append(rows, row{
						EntityType:  string(t),
						Patterns:    len(store.GetPatternsByEntityType(string(t))),
						HasExamples: withExamples[t],
					})
				}
				return outputJSON(cmd.OutOrStdout(), rows)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-26s %-9s %s\n", "ENTITY TYPE", "PATTERNS", "EXAMPLES")
			for _, t := range types {
				examples := "-"
				if withExamples[t] {
					examples = "yes"
				}
				fmt.Fprintf(out, "%-26s %-9d %s\n",
					t, len(store.GetPatternsByEntityType(string(t))), examples)
			}
			return nil
		},
	}
}

func newPatternsShowCommand(provider ConfigProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "show <group.pattern>",
		Short: "Show one pattern in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			lib, err := openPatterns(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			p, ok := lib.Store().GetPattern(args[0])
			if !ok {
				return fmt.Errorf("pattern %q not found", args[0])
			}

			if cfg.OutputFormat == config.OutputFormatJSON {
				view := map[string]interface{}{
					"full_name":     p.FullName(),
					"expression":    p.Expr.String(),
					"confidence":    p.Confidence,
					"entity_type":   string(p.EntityType),
					"declared_type": p.DeclaredType,
					"citation_type": string(p.CitationType),
					"components":    p.Components,
					"examples":      p.Examples,
					"dependencies":  p.Dependencies,
				}
				return outputJSON(cmd.OutOrStdout(), view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pattern:     %s\n", p.FullName())
			fmt.Fprintf(out, "Expression:  %s\n", p.Expr.String())
			fmt.Fprintf(out, "Confidence:  %.2f\n", p.Confidence)
			if p.IsCitation() {
				fmt.Fprintf(out, "Citation:    %s\n", p.CitationType)
			} else {
				fmt.Fprintf(out, "Entity type: %s", p.EntityType)
				if p.DeclaredType != "" && string(p.EntityType) != p.DeclaredType {
					fmt.Fprintf(out, " (declared %s)", p.DeclaredType)
				}
				fmt.Fprintln(out)
			}
			if len(p.Components) > 0 {
				fmt.Fprintln(out, "Components:")
				names := make([]string, 0, len(p.Components))
				for n := range p.Components {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					fmt.Fprintf(out, "  %s -> %s\n", n, p.Components[n])
				}
			}
			if len(p.Examples) > 0 {
				fmt.Fprintln(out, "Examples:")
				for _, e := range p.Examples {
					fmt.Fprintf(out, "  %s\n", e)
				}
			}
			if len(p.Dependencies) > 0 {
				fmt.Fprintln(out, "Dependencies:")
				for _, d := range p.Dependencies {
					fmt.Fprintf(out, "  %s\n", d)
				}
			}
			return nil
		},
	}
}

func newPatternsRelationshipsCommand(provider ConfigProvider) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "List loaded relationship patterns",
		Long: `List relationship patterns by category with their endpoint entity
types and indicators.

Examples:
  lexext patterns relationships
  lexext patterns relationships --category judicial`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			lib, err := openPatterns(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			store := lib.Store()

			byCategory := store.RelationshipPatterns()
			cats := store.RelationshipCategories()
			if category != "" {
				if _, ok := byCategory[category]; !ok {
					return fmt.Errorf("relationship category %q not found", category)
				}
				cats = []string{category}
			}

			var selected []*patterns.RelationshipPattern
			for _, cat := range cats {
				selected = append(selected, byCategory[cat]...)
			}
			sort.Slice(selected, func(i, j int) bool {
				if selected[i].Category != selected[j].Category {
					return selected[i].Category < selected[j].Category
				}
				return selected[i].RelationshipType < selected[j].RelationshipType
			})

			if cfg.OutputFormat == config.OutputFormatJSON {
				type row struct {
					RelationshipType string   `json:"relationship_type"`
					Category         string   `json:"category"`
					Source           string   `json:"source_entity_type"`
					Target           string   `json:"target_entity_type"`
					Bidirectional    bool     `json:"bidirectional"`
					Confidence       float64  `json:"confidence"`
					Indicators       []string `json:"indicators,omitempty"`
				}
				rows := make([]row, 0, len(selected))
				for _, r := range selected {
					rows = append(rows, row{
						RelationshipType: r.RelationshipType,
						Category:         r.Category,
						Source:           string(r.SourceEntityType),
						Target:           string(r.TargetEntityType),
						Bidirectional:    r.Bidirectional,
						Confidence:       r.Confidence,
						Indicators:       r.Indicators,
					})
				}
				return outputJSON(cmd.OutOrStdout(), rows)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-26s %-14s %-18s %-18s %s\n",
				"RELATIONSHIP", "CATEGORY", "SOURCE", "TARGET", "CONFIDENCE")
			for _, r := range selected {
				arrow := "->"
				if r.Bidirectional {
					arrow = "<->"
				}
				fmt.Fprintf(out, "%-26s %-14s %-18s %-18s %.2f\n",
					r.RelationshipType, r.Category,
					string(r.SourceEntityType)+" "+arrow, string(r.TargetEntityType), r.Confidence)
			}
			fmt.Fprintf(out, "\n%d relationship patterns in %d categories\n",
				len(selected), len(cats))
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only relationships from this category")

	return cmd
}

func newPatternsValidateCommand(provider ConfigProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate pattern files and dependencies",
		Long: `Load all pattern files and report load failures and missing
dependencies. Exits non-zero when any pattern failed to load.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := provider()
			lib, err := openPatterns(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			store := lib.Store()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Loaded %d patterns in %d groups from %s\n",
				store.PatternCount(), len(store.Groups()), cfg.Patterns.Root)

			loadErrs := store.LoadErrors()
			for _, le := range loadErrs {
				fmt.Fprintf(out, "  load error: %s\n", le.Error())
			}

			missing := store.ValidateDependencies()
			if len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for n := range missing {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					for _, dep := range missing[n] {
						fmt.Fprintf(out, "  missing dependency: %s -> %s\n", n, dep)
					}
				}
			}

			if len(loadErrs) > 0 {
				return fmt.Errorf("%d pattern file(s) failed to load", len(loadErrs))
			}
			fmt.Fprintln(out, "OK")
			return nil
		},
	}
}
