package patterns

import "strings"

// CitationType is a canonical citation type drawn from a closed enumeration,
// separate from entity types. Citation-valued patterns produce Citation
// records instead of Entity records.
type CitationType string

const (
	CitationCase           CitationType = "CASE_CITATION"
	CitationStatute        CitationType = "STATUTE_CITATION"
	CitationRegulation     CitationType = "REGULATION_CITATION"
	CitationConstitutional CitationType = "CONSTITUTIONAL_CITATION"
	CitationRules          CitationType = "RULES_CITATION"
	CitationSecondary      CitationType = "SECONDARY_CITATION"
	CitationSignal         CitationType = "SIGNAL_CITATION"
	CitationPinpoint       CitationType = "PINPOINT_CITATION"
	CitationCrossReference CitationType = "CROSS_REFERENCE"
	CitationShortForm      CitationType = "SHORT_FORM_CITATION"
	CitationParallel       CitationType = "PARALLEL_CITATION"
	CitationId             CitationType = "ID_CITATION"
	CitationSupra          CitationType = "SUPRA_CITATION"
)

var canonicalCitationTypes = map[CitationType]struct{}{
	CitationCase: {}, CitationStatute: {}, CitationRegulation: {},
	CitationConstitutional: {}, CitationRules: {}, CitationSecondary: {},
	CitationSignal: {}, CitationPinpoint: {}, CitationCrossReference: {},
	CitationShortForm: {}, CitationParallel: {}, CitationId: {}, CitationSupra: {},
}

// IsCanonicalCitationType reports whether t is a member of the closed enumeration.
func IsCanonicalCitationType(t CitationType) bool {
	_, ok := canonicalCitationTypes[t]
	return ok
}

// CanonicalCitationTypes returns the full enumeration. The slice is a copy.
func CanonicalCitationTypes() []CitationType {
	out := make([]CitationType, 0, len(canonicalCitationTypes))
	for t := range canonicalCitationTypes {
		out = append(out, t)
	}
	return out
}

// CitationTypeFor maps a pattern's declared type name to a citation type.
// Returns ok=false when the name does not denote a citation-valued pattern.
func CitationTypeFor(name string) (CitationType, bool) {
	switch normaliseTypeName(name) {
	case "case_citation", "full_case_citation", "reporter_citation":
		return CitationCase, true
	case "statute_citation", "usc_citation", "code_citation":
		return CitationStatute, true
	case "regulation_citation", "cfr_citation":
		return CitationRegulation, true
	case "constitutional_citation", "constitution_citation":
		return CitationConstitutional, true
	case "rules_citation", "frcp_citation", "fre_citation":
		return CitationRules, true
	case "secondary_citation", "law_review_citation", "treatise_citation":
		return CitationSecondary, true
	case "signal_citation", "signal":
		return CitationSignal, true
	case "pinpoint_citation", "pincite":
		return CitationPinpoint, true
	case "cross_reference", "internal_reference":
		return CitationCrossReference, true
	case "short_form_citation", "short_cite":
		return CitationShortForm, true
	case "parallel_citation":
		return CitationParallel, true
	case "id_citation":
		return CitationId, true
	case "supra_citation", "supra":
		return CitationSupra, true
	}
	upper := CitationType(strings.ToUpper(normaliseTypeName(name)))
	if IsCanonicalCitationType(upper) {
		return upper, true
	}
	return "", false
}
