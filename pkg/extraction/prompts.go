package extraction

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/casemark/lexext-cli/pkg/patterns"
	"github.com/casemark/lexext-cli/pkg/routing"
)

// snippetLimit bounds the whole-document context snippet appended to chunk
// prompts.
const snippetLimit = 1200

// exampleLimit bounds the aggregated examples injected per entity type.
const exampleLimit = 3

// PromptData feeds the wave prompt templates.
type PromptData struct {
	ChunkContent      string
	EntityTypes       string
	Examples          string
	DocumentSnippet   string
	Entities          string
	RelationshipTypes string
}

const entityWaveTemplateText = `You are extracting legal entities from a court document.

TARGET ENTITY TYPES:
{{.EntityTypes}}
{{if .Examples}}
EXAMPLES OF THESE TYPES:
{{.Examples}}
{{end}}{{if .DocumentSnippet}}
DOCUMENT CONTEXT (for reference only, do not extract from it):
{{.DocumentSnippet}}
{{end}}
INSTRUCTIONS:
Find every occurrence of the target entity types in the text below. For each occurrence report:
- "type": one of the target entity types, exactly as listed
- "text": the exact span as it appears in the text
- "start" and "end": character offsets of the span within the text below
- "confidence": 0.0 to 1.0
- "attributes": optional named sub-parts (e.g. court_name, jurisdiction)

Respond with valid JSON only, matching:
{"entities": [{"type": "", "text": "", "start": 0, "end": 0, "confidence": 0.0, "attributes": {}}]}

If nothing is found, use an empty array.

TEXT:
{{.ChunkContent}}`

const relationshipWaveTemplateText = `You are identifying relationships between legal entities already extracted from a court document.

EXTRACTED ENTITIES (id, type, text, span):
{{.Entities}}

ELIGIBLE RELATIONSHIP TYPES:
{{.RelationshipTypes}}

INSTRUCTIONS:
Report every relationship between two of the entities above that the text below supports. For each:
- "type": one of the eligible relationship types
- "source_id" and "target_id": ids from the entity list above
- "confidence": 0.0 to 1.0
- "evidence_text": the exact passage supporting the relationship
- "start" and "end": character offsets of the evidence within the text below

Respond with valid JSON only, matching:
{"relationships": [{"type": "", "source_id": "", "target_id": "", "confidence": 0.0, "evidence_text": "", "start": 0, "end": 0}]}

If none are found, use an empty array.

TEXT:
{{.ChunkContent}}`

// promptTemplates maps a routing decision's prompt version to its entity
// wave template. All current versions share one optimized template; the
// version string still travels in provenance so results are comparable
// across template revisions.
var promptTemplates = map[string]*template.Template{
	routing.PromptSinglePass: template.Must(template.New(routing.PromptSinglePass).Parse(entityWaveTemplateText)),
	routing.PromptThreeWave:  template.Must(template.New(routing.PromptThreeWave).Parse(entityWaveTemplateText)),
	routing.PromptFourWave:   template.Must(template.New(routing.PromptFourWave).Parse(entityWaveTemplateText)),
	routing.PromptEightWave:  template.Must(template.New(routing.PromptEightWave).Parse(entityWaveTemplateText)),
}

var relationshipTemplate = template.Must(template.New("relationship_wave").Parse(relationshipWaveTemplateText))

// exampleSource is the slice of the pattern library the prompt builder
// needs. *patterns.CachedStore satisfies it.
type exampleSource interface {
	AggregatedExamples(t patterns.EntityType) []string
}

// buildEntityPrompt renders the entity wave prompt for one chunk.
func buildEntityPrompt(promptVersion string, wave WaveSpec, chunkContent, documentSnippet string, examples exampleSource) (string, error) {
	tmpl, ok := promptTemplates[promptVersion]
	if !ok {
		tmpl = promptTemplates[routing.PromptThreeWave]
	}

	names := make([]string, len(wave.TargetTypes))
	for i, t := range wave.TargetTypes {
		names[i] = string(t)
	}

	data := PromptData{
		ChunkContent:    chunkContent,
		EntityTypes:     strings.Join(names, ", "),
		Examples:        formatExamples(wave.TargetTypes, examples),
		DocumentSnippet: documentSnippet,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render wave %d prompt: %w", wave.Number, err)
	}
	return buf.String(), nil
}

// buildRelationshipPrompt renders the relationship wave prompt.
func buildRelationshipPrompt(chunkContent string, entities []*Entity, relTypes []string) (string, error) {
	var list strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&list, "- %s | %s | %q | [%d, %d)\n", e.ID, e.EntityType, e.Text, e.Position.Start, e.Position.End)
	}

	data := PromptData{
		ChunkContent:      chunkContent,
		Entities:          list.String(),
		RelationshipTypes: strings.Join(relTypes, ", "),
	}

	var buf bytes.Buffer
	if err := relationshipTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render relationship prompt: %w", err)
	}
	return buf.String(), nil
}

// formatExamples pulls a few aggregated examples per target type from the
// pattern library.
func formatExamples(types []patterns.EntityType, source exampleSource) string {
	if source == nil {
		return ""
	}
	var b strings.Builder
	for _, t := range types {
		ex := source.AggregatedExamples(t)
		if len(ex) == 0 {
			continue
		}
		if len(ex) > exampleLimit {
			ex = ex[:exampleLimit]
		}
		fmt.Fprintf(&b, "%s: %s\n", t, strings.Join(ex, "; "))
	}
	return b.String()
}

// documentSnippet returns a bounded prefix of the whole document used as
// context on chunk prompts. The full document never rides along.
func documentSnippet(doc string) string {
	if len(doc) <= snippetLimit {
		return doc
	}
	cut := doc[:snippetLimit]
	if i := strings.LastIndexByte(cut, ' '); i > snippetLimit/2 {
		cut = cut[:i]
	}
	return cut + " ..."
}
