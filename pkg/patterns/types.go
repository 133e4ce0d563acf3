// Package patterns loads the declarative pattern library: named, compiled
// matching patterns with metadata, cross-indexed by semantic entity type and
// group, plus relationship patterns, served behind a TTL+LRU cache.
package patterns

import (
	"fmt"
	"regexp"
	"time"
)

// ValidationRules constrain values captured by a pattern's components.
type ValidationRules struct {
	// YearMin/YearMax bound a captured year, when non-zero.
	YearMin int `yaml:"year_min,omitempty"`
	YearMax int `yaml:"year_max,omitempty"`

	// VolumeMin/VolumeMax bound a captured reporter volume, when non-zero.
	VolumeMin int `yaml:"volume_min,omitempty"`
	VolumeMax int `yaml:"volume_max,omitempty"`

	// PageMin/PageMax bound a captured page number, when non-zero.
	PageMin int `yaml:"page_min,omitempty"`
	PageMax int `yaml:"page_max,omitempty"`
}

// Pattern is a single named matcher. Identity is (GroupName, Name);
// FullName is "group.pattern". Patterns are immutable after load.
type Pattern struct {
	GroupName string
	Name      string

	// Expr is the compiled match expression.
	Expr *regexp.Regexp

	// Confidence is the base confidence in [0,1].
	Confidence float64

	// EntityType is the canonical declared type after alias resolution.
	EntityType EntityType

	// DeclaredType is the type name as written in the pattern file.
	DeclaredType string

	// CitationType is set instead of EntityType for citation-valued patterns.
	CitationType CitationType

	// Examples are declared example strings.
	Examples []string

	// Components maps semantic component names to capture-group names
	// exposed by the expression (e.g. "volume" -> "vol").
	Components map[string]string

	// Validation constrains captured component values.
	Validation ValidationRules

	// Dependencies lists full names of patterns this pattern depends on.
	Dependencies []string
}

// FullName returns "group.pattern".
func (p *Pattern) FullName() string {
	return p.GroupName + "." + p.Name
}

// IsCitation reports whether the pattern produces Citation records.
func (p *Pattern) IsCitation() bool {
	return p.CitationType != ""
}

// GroupMetadata is the metadata block of a pattern file.
type GroupMetadata struct {
	PatternType        string `yaml:"pattern_type"`
	Jurisdiction       string `yaml:"jurisdiction"`
	CourtLevel         string `yaml:"court_level,omitempty"`
	PatternVersion     string `yaml:"pattern_version"`
	BluebookCompliance bool   `yaml:"bluebook_compliance,omitempty"`
	Description        string `yaml:"description,omitempty"`
	CreatedDate        string `yaml:"created_date,omitempty"`
	LastUpdated        string `yaml:"last_updated,omitempty"`
}

// PatternGroup is the set of Patterns originating in one pattern file.
// Groups are the reload granularity: a group is replaced wholesale when its
// file's content hash changes.
type PatternGroup struct {
	Name        string
	Metadata    GroupMetadata
	SourceFile  string
	ContentHash string
	LoadedAt    time.Time
	Patterns    []*Pattern
}

// RelationshipPattern declares a binary relationship between entity types.
// Relationship patterns live in a separate namespace from entity patterns
// and are keyed by (Category, RelationshipType).
type RelationshipPattern struct {
	RelationshipType string     `yaml:"relationship_type"`
	SourceEntityType EntityType `yaml:"-"`
	TargetEntityType EntityType `yaml:"-"`
	Indicators       []string   `yaml:"indicators"`
	Examples         []string   `yaml:"examples,omitempty"`
	Bidirectional    bool       `yaml:"bidirectional,omitempty"`
	Category         string     `yaml:"-"`
	Confidence       float64    `yaml:"confidence,omitempty"`
	Description      string     `yaml:"description,omitempty"`
	Jurisdiction     string     `yaml:"jurisdiction,omitempty"`

	// file is the source path, used as the reload key for the category.
	file string
}

func (r *RelationshipPattern) sourceFile() string { return r.file }

// LoadError records a file or pattern that failed to load. Failures never
// abort a load; the prior group (if any) stays live.
type LoadError struct {
	File    string
	Pattern string
	Err     error
}

func (e LoadError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("%s: pattern %q: %v", e.File, e.Pattern, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// patternRecord is the on-disk shape of one pattern, shared between the flat
// list form and the name-keyed map form. Both normalise to this record
// during load; the shape difference is never carried past the loader.
type patternRecord struct {
	Name            string            `yaml:"name,omitempty"`
	MatchExpression string            `yaml:"match_expression"`
	Confidence      *float64          `yaml:"confidence"`
	Components      map[string]string `yaml:"components,omitempty"`
	Examples        []string          `yaml:"examples,omitempty"`
	EntityTypes     []string          `yaml:"entity_types,omitempty"`
	Dependencies    []string          `yaml:"dependencies,omitempty"`
	Validation      ValidationRules   `yaml:"validation,omitempty"`
}

// relationshipRecord is the on-disk shape of one relationship pattern.
type relationshipRecord struct {
	RelationshipType string   `yaml:"relationship_type"`
	SourceEntity     string   `yaml:"source_entity"`
	TargetEntity     string   `yaml:"target_entity"`
	Indicators       []string `yaml:"indicators"`
	Examples         []string `yaml:"examples,omitempty"`
	Confidence       *float64 `yaml:"confidence,omitempty"`
	Bidirectional    bool     `yaml:"bidirectional,omitempty"`
	Description      string   `yaml:"description,omitempty"`
	Jurisdiction     string   `yaml:"jurisdiction,omitempty"`
}

// entityTypeDecl is one entry of a pattern file's entity_types section,
// accepted either as a list of {name: ...} records or as a map.
type entityTypeDecl struct {
	Name string `yaml:"name"`
}
