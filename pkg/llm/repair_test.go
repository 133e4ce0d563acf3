package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONValidPassthrough(t *testing.T) {
	got, ok := ExtractJSON(`{"entities": []}`)
	assert.True(t, ok)
	assert.Equal(t, `{"entities": []}`, got)
}

func TestExtractJSONStripsMarkdownFences(t *testing.T) {
	got, ok := ExtractJSON("```json\n{\"a\": 1}\n```")
	assert.True(t, ok)
	assert.JSONEq(t, `{"a": 1}`, got)
}

func TestExtractJSONStripsLeadingProse(t *testing.T) {
	got, ok := ExtractJSON(`Here are the entities: {"entities": [{"text": "Judge Smith"}]}`)
	assert.True(t, ok)
	assert.JSONEq(t, `{"entities": [{"text": "Judge Smith"}]}`, got)
}

func TestExtractJSONRepairsExcessTrailingBraces(t *testing.T) {
	got, ok := ExtractJSON(`{"entities": [{"text": "x"}]}}}`)
	assert.True(t, ok)
	assert.JSONEq(t, `{"entities": [{"text": "x"}]}`, got)
}

func TestExtractJSONClosesUnbalancedBraces(t *testing.T) {
	got, ok := ExtractJSON(`{"entities": [{"text": "x"}, {"text": "y"`)
	require.True(t, ok)
	var parsed struct {
		Entities []struct {
			Text string `json:"text"`
		} `json:"entities"`
	}
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.Len(t, parsed.Entities, 2)
}

func TestExtractJSONRemovesTrailingCommas(t *testing.T) {
	got, ok := ExtractJSON(`{"a": [1, 2, 3,], "b": {"c": 1,},}`)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a": [1, 2, 3], "b": {"c": 1}}`, got)
}

func TestExtractJSONUnwrapsExtractedText(t *testing.T) {
	wrapped := `{"extracted_text": "{\"entities\": [{\"text\": \"Judge Smith\"}]}"}`
	got, ok := ExtractJSON(wrapped)
	assert.True(t, ok)
	assert.JSONEq(t, `{"entities": [{"text": "Judge Smith"}]}`, got)
}

func TestExtractJSONCommasInsideStringsUntouched(t *testing.T) {
	body := `{"text": "Smith, Jones, and Brown, LLP"}`
	got, ok := ExtractJSON(body)
	assert.True(t, ok)
	assert.Equal(t, body, got)
}

func TestExtractJSONUnrepairableReportsMalformed(t *testing.T) {
	got, ok := ExtractJSON(`{"a": [1, oops !!`)
	assert.False(t, ok)
	assert.NotEmpty(t, got, "best-effort repair is still returned")
}
