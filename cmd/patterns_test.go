package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemark/lexext-cli/config"
)

const testPatternFile = `
metadata:
  pattern_type: courts
  jurisdiction: federal
  pattern_version: "1.0.0"
patterns:
  - name: district_court
    match_expression: 'United States District Court for the (?P<district>[A-Z][a-z]+ District of [A-Z][a-z]+)'
    confidence: 0.95
    entity_types: [DISTRICT_COURT]
    examples:
      - United States District Court for the Northern District of California
  - name: judge_honorific
    match_expression: '(?:Judge|Justice|Hon\.)\s+(?P<name>[A-Z][a-z]+(?:\s[A-Z][a-z]+)+)'
    confidence: 0.9
    entity_types: [JUDGE_NAME]
    examples:
      - Judge Maria Alvarez
`

const testRelationshipFile = `
patterns:
  - relationship_type: presided_over_by
    source_entity: COURT
    target_entity: JUDGE
    indicators: ["presiding", "before Judge"]
    confidence: 0.85
`

// testProvider returns a provider whose pattern root is a temp directory
// seeded with one pattern file and one relationship file.
func testProvider(t *testing.T) ConfigProvider {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "courts.yaml"), []byte(testPatternFile), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "relationships"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relationships", "judicial.yaml"), []byte(testRelationshipFile), 0o600))

	cfg := config.DefaultConfig()
	cfg.Patterns.Root = dir
	return func() *config.Config { return cfg }
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestPatternsListCommand(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	out := runCommand(t, cmd, "list")

	assert.Contains(t, out, "courts.district_court")
	assert.Contains(t, out, "courts.judge_honorific")
	assert.Contains(t, out, "2 patterns in 1 groups")
}

func TestPatternsListFiltersByEntityType(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	out := runCommand(t, cmd, "list", "--entity-type", "JUDGE_NAME")

	assert.Contains(t, out, "courts.judge_honorific")
	assert.NotContains(t, out, "courts.district_court")
}

func TestPatternsTypesCommand(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	out := runCommand(t, cmd, "types")

	assert.Contains(t, out, "DISTRICT_COURT")
	assert.Contains(t, out, "JUDGE_NAME")
}

func TestPatternsShowCommand(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	out := runCommand(t, cmd, "show", "courts.judge_honorific")

	assert.Contains(t, out, "courts.judge_honorific")
	assert.Contains(t, out, "JUDGE_NAME")
	assert.Contains(t, out, "Judge Maria Alvarez")
}

func TestPatternsShowUnknownPattern(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "courts.no_such_pattern"})

	err := cmd.Execute()
	assert.Error(t, err)
}

func TestPatternsRelationshipsCommand(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	out := runCommand(t, cmd, "relationships")

	assert.Contains(t, out, "presided_over_by")
	assert.Contains(t, out, "judicial")
	assert.Contains(t, out, "1 relationship patterns in 1 categories")
}

func TestPatternsRelationshipsUnknownCategory(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"relationships", "--category", "contractual"})

	err := cmd.Execute()
	assert.Error(t, err)
}

func TestPatternsValidateCommand(t *testing.T) {
	cmd := NewPatternsCommand(testProvider(t))
	out := runCommand(t, cmd, "validate")

	assert.Contains(t, out, "Loaded 2 patterns")
	assert.Contains(t, out, "OK")
}

func TestCacheStatsCommand(t *testing.T) {
	cmd := NewCacheCommand(testProvider(t))
	out := runCommand(t, cmd, "stats")

	// The second warm pass must hit the cache.
	assert.Contains(t, out, "hit rate")
	assert.NotContains(t, out, "hit rate 0.0%")
}
