package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalEntityTypeMembership(t *testing.T) {
	assert.True(t, IsCanonicalEntityType(EntityJudge))
	assert.True(t, IsCanonicalEntityType(EntityMonetaryAmount))
	assert.False(t, IsCanonicalEntityType(EntityType("JUDGE_NAME")))
	assert.False(t, IsCanonicalEntityType(EntityType("")))
}

func TestAliasResolution(t *testing.T) {
	m := NewAliasMap(nil)

	tests := []struct {
		name string
		want EntityType
		ok   bool
	}{
		{"JUDGE", EntityJudge, true},
		{"judge", EntityJudge, true},
		{"judge_name", EntityJudge, true},
		{"Judge Name", EntityJudge, true},
		{"court-name", EntityCourt, true},
		{"dollar_amount", EntityMonetaryAmount, true},
		{"completely_unknown", FallbackEntityType, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Canonical(tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestExtraAliasesMustBeCanonical(t *testing.T) {
	m := NewAliasMap(map[string]EntityType{
		"bench_officer": EntityJudge,
		"made_up":       EntityType("NOT_REAL"),
	})

	got, ok := m.Canonical("bench_officer")
	assert.True(t, ok)
	assert.Equal(t, EntityJudge, got)

	_, ok = m.Canonical("made_up")
	assert.False(t, ok, "aliases to non-canonical values are dropped")
}

func TestCitationTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want CitationType
		ok   bool
	}{
		{"case_citation", CitationCase, true},
		{"usc_citation", CitationStatute, true},
		{"cfr_citation", CitationRegulation, true},
		{"pincite", CitationPinpoint, true},
		{"supra", CitationSupra, true},
		{"JUDGE", "", false},
		{"court_name", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CitationTypeFor(tt.name)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCanonicalEnumerationsAreCopies(t *testing.T) {
	a := CanonicalEntityTypes()
	b := CanonicalEntityTypes()
	assert.Equal(t, len(a), len(b))
	assert.NotEmpty(t, CanonicalCitationTypes())
}
