package extraction

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/casemark/lexext-cli/pkg/routing"
)

// Chunk is one slice of the document handed to a wave. Start/End are
// absolute character offsets into the original text.
type Chunk struct {
	ID    string
	Index int
	Start int
	End   int
	Text  string
}

// sectionHeadingPattern matches hierarchical numbered headings ("1.1",
// "12.3.4") and labelled headings ("Section 5", "ARTICLE IV") at the start
// of a line.
var sectionHeadingPattern = regexp.MustCompile(`^(?:\d+(?:\.\d+)+\s|(?i:section|article)\s+(?:\d+|[IVXLCDM]+)\b)`)

// sentenceEndPattern finds sentence terminators followed by whitespace.
var sentenceEndPattern = regexp.MustCompile(`[.!?]["')\]]?\s`)

// SplitChunks slices text per the chunk configuration, never cutting
// through a preserved boundary. Consecutive chunks overlap by roughly
// OverlapTokens so spans near a cut are seen whole by at least one chunk.
func SplitChunks(text string, cfg *routing.ChunkConfig, charsPerToken float64) []Chunk {
	if cfg == nil || text == "" {
		return nil
	}
	if charsPerToken <= 0 {
		charsPerToken = routing.DefaultCharsPerToken
	}

	chunkChars := int(float64(cfg.ChunkSizeTokens) * charsPerToken)
	overlapChars := int(float64(cfg.OverlapTokens) * charsPerToken)
	if chunkChars <= 0 {
		chunkChars = len(text)
	}
	if overlapChars >= chunkChars {
		overlapChars = chunkChars / 2
	}

	boundaries := boundaryOffsets(text, cfg.PreserveBoundaries)

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + chunkChars
		if end >= len(text) {
			end = len(text)
		} else {
			end = snapToBoundary(boundaries, start, end)
		}

		chunks = append(chunks, Chunk{
			ID:    fmt.Sprintf("chunk_%d", len(chunks)),
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  text[start:end],
		})

		if end >= len(text) {
			break
		}
		// The next chunk also starts on a boundary so the overlap region
		// holds whole units only.
		next := snapStartToBoundary(boundaries, start, end-overlapChars)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// boundaryOffsets returns sorted offsets where a chunk may begin or end
// without splitting the preserved unit. Section and page styles fall back
// to paragraph boundaries when the document carries none.
func boundaryOffsets(text, style string) []int {
	var offsets []int
	switch style {
	case routing.BoundarySentence:
		for _, loc := range sentenceEndPattern.FindAllStringIndex(text, -1) {
			offsets = append(offsets, loc[1])
		}
	case routing.BoundarySection:
		offsets = sectionOffsets(text)
		if len(offsets) == 0 {
			offsets = paragraphOffsets(text)
		}
	case routing.BoundaryPage:
		for i := 0; i < len(text); i++ {
			if text[i] == '\f' {
				offsets = append(offsets, i+1)
			}
		}
		if len(offsets) == 0 {
			offsets = paragraphOffsets(text)
		}
	default:
		offsets = paragraphOffsets(text)
	}
	sort.Ints(offsets)
	return offsets
}

func paragraphOffsets(text string) []int {
	var offsets []int
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '\n' && text[i+1] == '\n' {
			offsets = append(offsets, i+2)
		}
	}
	return offsets
}

// sectionOffsets returns the offsets of lines that begin a section.
func sectionOffsets(text string) []int {
	var offsets []int
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if sectionHeadingPattern.MatchString(trimmed) || isHeadingCaps(trimmed) {
			offsets = append(offsets, offset)
		}
		offset += len(line) + 1
	}
	return offsets
}

// isHeadingCaps reports whether a line looks like an all-caps heading.
func isHeadingCaps(line string) bool {
	if len(line) < 4 || len(line) > 80 {
		return false
	}
	letters := 0
	for _, r := range line {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= 'A' && r <= 'Z':
			letters++
		}
	}
	return letters >= 4
}

// snapToBoundary moves the ideal cut point back to the nearest boundary
// inside (start, ideal]. When no boundary lands in the chunk, the next
// boundary after the ideal point is used so the unit stays whole.
func snapToBoundary(boundaries []int, start, ideal int) int {
	if len(boundaries) == 0 {
		return ideal
	}
	// Largest boundary <= ideal.
	i := sort.SearchInts(boundaries, ideal+1) - 1
	if i >= 0 && boundaries[i] > start {
		return boundaries[i]
	}
	// Smallest boundary > ideal.
	j := sort.SearchInts(boundaries, ideal+1)
	if j < len(boundaries) {
		return boundaries[j]
	}
	return ideal
}

// snapStartToBoundary moves the next chunk's start back to the largest
// boundary inside (start, ideal]. When no boundary qualifies the ideal
// point is kept.
func snapStartToBoundary(boundaries []int, start, ideal int) int {
	if len(boundaries) == 0 {
		return ideal
	}
	i := sort.SearchInts(boundaries, ideal+1) - 1
	if i >= 0 && boundaries[i] > start {
		return boundaries[i]
	}
	return ideal
}
