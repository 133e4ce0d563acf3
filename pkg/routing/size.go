// Package routing decides how a document is processed: it derives size
// information from the text and maps it to a processing strategy with a
// chunking plan and cost, duration and accuracy estimates.
package routing

import (
	"strconv"
	"strings"
)

// SizeCategory buckets documents by character count.
type SizeCategory string

const (
	SizeVerySmall SizeCategory = "VERY_SMALL"
	SizeSmall     SizeCategory = "SMALL"
	SizeMedium    SizeCategory = "MEDIUM"
	SizeLarge     SizeCategory = "LARGE"
)

// Character-count thresholds. At an exact threshold the lower category wins.
const (
	VerySmallMaxChars = 5_000
	SmallMaxChars     = 50_000
	MediumMaxChars    = 150_000
)

// DefaultCharsPerToken is the token estimation divisor. The token count is a
// deliberate approximation, not a tokenizer call.
const DefaultCharsPerToken = 4.0

// SizeInfo describes a document's measured size.
type SizeInfo struct {
	Chars    int          `json:"chars"`
	Tokens   int          `json:"tokens"`
	Pages    int          `json:"pages"`
	Category SizeCategory `json:"category"`
	Words    int          `json:"words"`
	Lines    int          `json:"lines"`
}

// pageMetadataKeys are the metadata keys consulted for a page count, in order.
var pageMetadataKeys = []string{"pages", "page_count", "num_pages", "pageCount"}

// SizeDetector derives SizeInfo from document text and optional metadata.
// Detection is a pure function; no I/O.
type SizeDetector struct {
	charsPerToken float64
}

// NewSizeDetector creates a detector. charsPerToken <= 0 selects the default.
func NewSizeDetector(charsPerToken float64) *SizeDetector {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &SizeDetector{charsPerToken: charsPerToken}
}

// Detect measures text. The page count is taken from metadata with tolerant
// coercion; absent or unreadable values yield 0.
func (d *SizeDetector) Detect(text string, metadata map[string]interface{}) SizeInfo {
	chars := len(text)
	info := SizeInfo{
		Chars:    chars,
		Tokens:   int(float64(chars) / d.charsPerToken),
		Pages:    pagesFromMetadata(metadata),
		Category: Categorize(chars),
		Words:    len(strings.Fields(text)),
	}
	if chars > 0 {
		info.Lines = strings.Count(text, "\n") + 1
	}
	return info
}

// Categorize maps a character count to its size category.
func Categorize(chars int) SizeCategory {
	switch {
	case chars <= VerySmallMaxChars:
		return SizeVerySmall
	case chars <= SmallMaxChars:
		return SizeSmall
	case chars <= MediumMaxChars:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// pagesFromMetadata coerces the first recognised page-count key to an int.
func pagesFromMetadata(metadata map[string]interface{}) int {
	if metadata == nil {
		return 0
	}
	for _, key := range pageMetadataKeys {
		v, ok := metadata[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return parsed
			}
		}
	}
	return 0
}

// EstimateProcessingTime returns a coarse processing-time estimate in
// seconds, used only for routing estimates.
func (d *SizeDetector) EstimateProcessingTime(info SizeInfo) float64 {
	// Generation dominates; assume ~800 tokens/s end to end plus fixed
	// per-request overhead scaled by size bucket.
	base := float64(info.Tokens) / 800.0
	switch info.Category {
	case SizeVerySmall:
		return base + 2
	case SizeSmall:
		return base + 6
	case SizeMedium:
		return base + 15
	default:
		return base + 30
	}
}

// EstimateCost returns a coarse cost estimate in USD, never used for billing.
func (d *SizeDetector) EstimateCost(info SizeInfo) float64 {
	return float64(info.Tokens) / 1000.0 * 0.002
}
