// Package extraction runs the wave-based entity extraction pipeline: it
// builds a wave plan from a routing decision, assembles prompts from the
// pattern library, calls the throttled LLM client, and assembles the final
// result with deduplicated entities, citations and relationships.
package extraction

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/casemark/lexext-cli/pkg/patterns"
	"github.com/casemark/lexext-cli/pkg/routing"
)

// Position is a half-open [Start, End) character span into the original
// document text. ContextStart/ContextEnd bound the surrounding snippet.
type Position struct {
	Start        int `json:"start"`
	End          int `json:"end"`
	ContextStart int `json:"context_start,omitempty"`
	ContextEnd   int `json:"context_end,omitempty"`
}

// Provenance records where a record came from.
type Provenance struct {
	PatternFullName string `json:"pattern_full_name,omitempty"`
	WaveNumber      int    `json:"wave_number,omitempty"`
	ChunkID         string `json:"chunk_id,omitempty"`
	DocumentID      string `json:"document_id"`

	// TypeCoerced is set when the model reported an unknown entity type
	// that was mapped to the fallback canonical type.
	TypeCoerced bool `json:"type_coerced,omitempty"`
}

// Entity is one extracted entity occurrence.
type Entity struct {
	ID               string              `json:"id"`
	EntityType       patterns.EntityType `json:"entity_type"`
	Text             string              `json:"text"`
	CleanedText      string              `json:"cleaned_text"`
	Confidence       float64             `json:"confidence"`
	Position         Position            `json:"position"`
	ContextSnippet   string              `json:"context_snippet,omitempty"`
	ExtractionMethod string              `json:"extraction_method"`
	Attributes       map[string]string   `json:"attributes,omitempty"`
	Provenance       Provenance          `json:"provenance"`
}

// Citation is an extracted legal citation. Same shape as Entity with a
// citation type and parsed components.
type Citation struct {
	ID                string                `json:"id"`
	CitationType      patterns.CitationType `json:"citation_type"`
	Text              string                `json:"text"`
	CleanedText       string                `json:"cleaned_text"`
	Confidence        float64               `json:"confidence"`
	Position          Position              `json:"position"`
	ContextSnippet    string                `json:"context_snippet,omitempty"`
	ExtractionMethod  string                `json:"extraction_method"`
	Components        map[string]string     `json:"components,omitempty"`
	BluebookCompliant bool                  `json:"bluebook_compliant"`
	Provenance        Provenance            `json:"provenance"`
}

// Relationship links two extracted entities.
type Relationship struct {
	ID                string   `json:"id"`
	RelationshipType  string   `json:"relationship_type"`
	SourceEntityID    string   `json:"source_entity_id"`
	TargetEntityID    string   `json:"target_entity_id"`
	Confidence        float64  `json:"confidence"`
	EvidenceText      string   `json:"evidence_text,omitempty"`
	Position          Position `json:"position"`
	IndicatorsMatched []string `json:"indicators_matched,omitempty"`
}

// WaveStats aggregates one wave's execution.
type WaveStats struct {
	WaveNumber     int     `json:"wave_number"`
	EntityCount    int     `json:"entity_count"`
	TokensUsed     int     `json:"tokens_used"`
	DurationMs     int64   `json:"duration_ms"`
	Retries        int     `json:"retries"`
	Failed         bool    `json:"failed"`
	FailureReason  string  `json:"failure_reason,omitempty"`
	SpansDropped   int     `json:"spans_dropped,omitempty"`
	AvgConfidence  float64 `json:"avg_confidence,omitempty"`
	MalformedJSON  bool    `json:"malformed_json,omitempty"`
	ChunksExecuted int     `json:"chunks_executed,omitempty"`
}

// Statistics aggregates the whole extraction.
type Statistics struct {
	Waves             []WaveStats `json:"waves"`
	DurationMs        int64       `json:"duration_ms"`
	DuplicatesRemoved int         `json:"duplicates_removed"`
	SpansDropped      int         `json:"spans_dropped"`
	ChunksProcessed   int         `json:"chunks_processed"`
	WavesFailed       int         `json:"waves_failed"`
	TimedOut          bool        `json:"timed_out,omitempty"`
	Partial           bool        `json:"partial,omitempty"`
}

// ExtractionResult is the pipeline's final answer for one document.
type ExtractionResult struct {
	DocumentID    string           `json:"document_id"`
	Strategy      routing.Strategy `json:"strategy"`
	WavesExecuted int              `json:"waves_executed"`
	TokensUsed    int              `json:"tokens_used"`
	Entities      []*Entity        `json:"entities"`
	Citations     []*Citation      `json:"citations"`
	Relationships []*Relationship  `json:"relationships"`
	Statistics    Statistics       `json:"statistics"`
}

// NewID returns an opaque unique record id.
func NewID() string {
	return uuid.New().String()
}

// ClampConfidence clips a reported confidence into [0, 1]. Out-of-range
// reports are clipped, never rejected.
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// CleanText normalises extracted text for matching: Unicode NFC, collapsed
// whitespace, control characters dropped.
func CleanText(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// dedupKey identifies an entity occurrence for cross-wave deduplication.
type dedupKey struct {
	entityType patterns.EntityType
	text       string
	start      int
}

func entityKey(e *Entity) dedupKey {
	return dedupKey{entityType: e.EntityType, text: e.Text, start: e.Position.Start}
}
