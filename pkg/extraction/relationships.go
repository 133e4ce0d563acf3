package extraction

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/casemark/lexext-cli/pkg/logging"
	"github.com/casemark/lexext-cli/pkg/patterns"
)

// relItem is one record in the relationship wave's JSON response.
type relItem struct {
	Type         string  `json:"type"`
	SourceID     string  `json:"source_id"`
	TargetID     string  `json:"target_id"`
	Confidence   float64 `json:"confidence"`
	EvidenceText string  `json:"evidence_text"`
	Start        int     `json:"start"`
	End          int     `json:"end"`
}

type relResponse struct {
	Relationships []relItem `json:"relationships"`
}

// relKey deduplicates relationships.
type relKey struct {
	relType  string
	sourceID string
	targetID string
}

// runRelationshipWave runs the final wave over the union of deduplicated
// entities. Relationships citing unknown entity ids are dropped, duplicates
// collapse on (type, source, target), and results below the confidence
// floor are discarded.
func (o *Orchestrator) runRelationshipWave(ctx context.Context, log logging.Logger, wave WaveSpec, documentID, text string, entities []*Entity) ([]*Relationship, WaveStats) {
	stats := WaveStats{WaveNumber: wave.Number}
	start := time.Now()
	defer func() { stats.DurationMs = time.Since(start).Milliseconds() }()

	eligible := o.eligibleRelationshipPatterns(entities)
	if len(eligible) == 0 {
		return nil, stats
	}
	relTypes := make([]string, 0, len(eligible))
	for name := range eligible {
		relTypes = append(relTypes, name)
	}
	sort.Strings(relTypes)

	prompt, err := buildRelationshipPrompt(text, entities, relTypes)
	if err != nil {
		stats.Failed = true
		stats.FailureReason = err.Error()
		return nil, stats
	}

	resp, retries, err := o.callWave(ctx, wave, prompt)
	stats.Retries = retries
	if err != nil {
		stats.Failed = true
		stats.FailureReason = err.Error()
		log.Warn("relationship wave failed", logging.Err(err))
		return nil, stats
	}
	stats.TokensUsed = resp.TokensUsed.Total
	stats.MalformedJSON = resp.Malformed
	if resp.Malformed {
		stats.Failed = true
		stats.FailureReason = "malformed JSON after repair"
		return nil, stats
	}

	var parsed relResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		stats.Failed = true
		stats.FailureReason = "unexpected relationship response shape"
		return nil, stats
	}

	known := make(map[string]bool, len(entities))
	for _, e := range entities {
		known[e.ID] = true
	}

	seen := make(map[relKey]bool)
	var rels []*Relationship
	for _, item := range parsed.Relationships {
		if len(rels) >= o.opts.MaxRelationships {
			break
		}
		if !known[item.SourceID] || !known[item.TargetID] {
			continue
		}
		conf := ClampConfidence(item.Confidence)
		if conf < o.opts.RelMinConfidence {
			continue
		}
		key := relKey{relType: item.Type, sourceID: item.SourceID, targetID: item.TargetID}
		if seen[key] {
			continue
		}
		seen[key] = true

		pos := Position{Start: item.Start, End: item.End}
		if pos.End > len(text) {
			pos.End = len(text)
		}
		if pos.Start < 0 || pos.Start >= pos.End {
			pos = Position{}
		}

		rels = append(rels, &Relationship{
			ID:                NewID(),
			RelationshipType:  item.Type,
			SourceEntityID:    item.SourceID,
			TargetEntityID:    item.TargetID,
			Confidence:        conf,
			EvidenceText:      item.EvidenceText,
			Position:          pos,
			IndicatorsMatched: matchedIndicators(item.EvidenceText, eligible[item.Type]),
		})
	}
	stats.EntityCount = len(rels)
	return rels, stats
}

// eligibleRelationshipPatterns filters the library's relationship patterns
// to those whose declared endpoint types are both present among the
// extracted entities.
func (o *Orchestrator) eligibleRelationshipPatterns(entities []*Entity) map[string][]*patterns.RelationshipPattern {
	if o.library == nil {
		return nil
	}
	present := make(map[patterns.EntityType]bool, len(entities))
	for _, e := range entities {
		present[e.EntityType] = true
	}

	eligible := make(map[string][]*patterns.RelationshipPattern)
	for _, group := range o.library.RelationshipPatterns() {
		for _, rp := range group {
			if present[rp.SourceEntityType] && present[rp.TargetEntityType] {
				eligible[rp.RelationshipType] = append(eligible[rp.RelationshipType], rp)
			}
		}
	}
	return eligible
}

// matchedIndicators records which declared indicator phrases appear in the
// cited evidence, for traceability.
func matchedIndicators(evidence string, pats []*patterns.RelationshipPattern) []string {
	if evidence == "" || len(pats) == 0 {
		return nil
	}
	lower := strings.ToLower(evidence)
	var matched []string
	seen := make(map[string]bool)
	for _, rp := range pats {
		for _, ind := range rp.Indicators {
			if ind == "" || seen[ind] {
				continue
			}
			if strings.Contains(lower, strings.ToLower(ind)) {
				matched = append(matched, ind)
				seen[ind] = true
			}
		}
	}
	sort.Strings(matched)
	return matched
}
