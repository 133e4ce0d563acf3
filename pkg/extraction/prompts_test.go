package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemark/lexext-cli/pkg/patterns"
	"github.com/casemark/lexext-cli/pkg/routing"
)

func TestBuildEntityPrompt(t *testing.T) {
	wave := WaveSpec{
		Number:      1,
		TargetTypes: []patterns.EntityType{patterns.EntityJudge, patterns.EntityCourt},
	}

	prompt, err := buildEntityPrompt(routing.PromptThreeWave, wave, "The chunk body.", "", testLibrary())
	require.NoError(t, err)

	assert.Contains(t, prompt, "JUDGE, COURT")
	assert.Contains(t, prompt, "JUDGE: Judge Maria Alvarez")
	assert.Contains(t, prompt, "The chunk body.")
	assert.NotContains(t, prompt, "DOCUMENT CONTEXT", "no snippet section without a snippet")
	assert.True(t, strings.HasSuffix(prompt, "The chunk body."), "chunk text closes the prompt")
}

func TestBuildEntityPromptWithSnippet(t *testing.T) {
	wave := WaveSpec{Number: 2, TargetTypes: []patterns.EntityType{patterns.EntityMotion}}

	prompt, err := buildEntityPrompt(routing.PromptThreeWave, wave, "chunk", "document head", testLibrary())
	require.NoError(t, err)

	assert.Contains(t, prompt, "DOCUMENT CONTEXT")
	assert.Contains(t, prompt, "document head")
}

func TestBuildEntityPromptUnknownVersionFallsBack(t *testing.T) {
	wave := WaveSpec{Number: 1, TargetTypes: []patterns.EntityType{patterns.EntityJudge}}

	prompt, err := buildEntityPrompt("no_such_version", wave, "chunk", "", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "TARGET ENTITY TYPES")
}

func TestBuildRelationshipPrompt(t *testing.T) {
	entities := []*Entity{
		{ID: "id-1", EntityType: patterns.EntityCourt, Text: "District Court", Position: Position{Start: 4, End: 18}},
		{ID: "id-2", EntityType: patterns.EntityJudge, Text: "Judge Alvarez", Position: Position{Start: 30, End: 43}},
	}

	prompt, err := buildRelationshipPrompt("full text", entities, []string{"presided_over_by"})
	require.NoError(t, err)

	assert.Contains(t, prompt, "- id-1 | COURT | \"District Court\" | [4, 18)")
	assert.Contains(t, prompt, "- id-2 | JUDGE | \"Judge Alvarez\" | [30, 43)")
	assert.Contains(t, prompt, "presided_over_by")
	assert.Contains(t, prompt, "full text")
}

func TestDocumentSnippetBounded(t *testing.T) {
	short := "A short filing."
	assert.Equal(t, short, documentSnippet(short))

	long := strings.Repeat("word ", 1000)
	got := documentSnippet(long)
	assert.LessOrEqual(t, len(got), snippetLimit+len(" ..."))
	assert.True(t, strings.HasSuffix(got, " ..."))
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(got, " ..."), "wor"), "cut lands on a word boundary")
}

func TestFormatExamplesLimit(t *testing.T) {
	lib := &fakeLibrary{examples: map[patterns.EntityType][]string{
		patterns.EntityJudge: {"a", "b", "c", "d", "e"},
	}}
	got := formatExamples([]patterns.EntityType{patterns.EntityJudge, patterns.EntityCourt}, lib)
	assert.Equal(t, "JUDGE: a; b; c\n", got, "capped at three examples, empty types skipped")
}
