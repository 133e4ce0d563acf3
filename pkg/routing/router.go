package routing

import (
	"fmt"
	"math"
	"strings"

	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
	"github.com/casemark/lexext-cli/pkg/logging"
)

// Strategy names a processing plan or a sentinel outcome.
type Strategy string

const (
	StrategySinglePass        Strategy = "SINGLE_PASS"
	StrategyThreeWave         Strategy = "THREE_WAVE"
	StrategyFourWave          Strategy = "FOUR_WAVE"
	StrategyThreeWaveChunked  Strategy = "THREE_WAVE_CHUNKED"
	StrategyEightWaveFallback Strategy = "EIGHT_WAVE_FALLBACK"

	// Sentinels. extract on a sentinel returns an empty result.
	StrategyEmptyDocument   Strategy = "EMPTY_DOCUMENT"
	StrategyTooSmall        Strategy = "TOO_SMALL"
	StrategyInvalidDocument Strategy = "INVALID_DOCUMENT"
)

// IsSentinel reports whether s carries no extraction work.
func (s Strategy) IsSentinel() bool {
	switch s {
	case StrategyEmptyDocument, StrategyTooSmall, StrategyInvalidDocument:
		return true
	}
	return false
}

// ParseStrategy resolves a caller-supplied strategy name. Unknown names
// return false so the router can fall back to normal routing.
func ParseStrategy(name string) (Strategy, bool) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(name))) {
	case StrategySinglePass:
		return StrategySinglePass, true
	case StrategyThreeWave:
		return StrategyThreeWave, true
	case StrategyFourWave:
		return StrategyFourWave, true
	case StrategyThreeWaveChunked:
		return StrategyThreeWaveChunked, true
	case StrategyEightWaveFallback:
		return StrategyEightWaveFallback, true
	}
	return "", false
}

// Prompt template versions selected per strategy.
const (
	PromptSinglePass = "single_pass_v1"
	PromptThreeWave  = "three_wave_optimized_v1"
	PromptFourWave   = "four_wave_relationships_v1"
	PromptEightWave  = "eight_wave_fallback_v1"
)

// Fixed per-strategy token budgets used for estimates.
const (
	singlePassPromptTokens   = 5_000
	singlePassResponseTokens = 1_000
	threeWavePromptTokens    = 17_500
	threeWaveResponseTokens  = 4_096
	fourWavePromptTokens     = 45_000
	fourWaveResponseTokens   = 6_000
	eightWavePromptTokens    = 26_900
	eightWaveResponseTokens  = 8_000
)

// Expected accuracy constants per strategy and trigger.
const (
	accuracySinglePass       = 0.87
	accuracyThreeWave        = 0.90
	accuracyThreeWaveChunked = 0.91
	accuracyFourWave         = 0.92
	accuracyFourWaveGraphRAG = 0.93
	accuracyEightWave        = 0.95
)

// Default chunking parameters.
const (
	DefaultChunkSizeTokens  = 8_000
	DefaultChunkOverlap     = 500
	LargeChunkOverlap       = 1_000
	BoundarySentence        = "sentence"
	BoundaryParagraph       = "paragraph"
	BoundarySection         = "section"
	BoundaryPage            = "page"
	fourWaveMinChars        = 20_000
	relationshipMinChars    = 5_000
	tooSmallMinChars        = 50
	binaryProbeChars        = 1_000
	binaryControlPercentage = 5
)

// Chunking strategies.
const (
	ChunkStrategyExtraction = "extraction"
	ChunkStrategyPageBased  = "page_based"
	ChunkStrategyNone       = "none"
)

// ChunkConfig describes how a chunked strategy splits the document.
type ChunkConfig struct {
	Strategy           string `json:"strategy"`
	ChunkSizeTokens    int    `json:"chunk_size_tokens"`
	OverlapTokens      int    `json:"overlap_tokens"`
	PreserveBoundaries string `json:"preserve_boundaries"`
}

// RoutingDecision is the router's full answer for one document.
type RoutingDecision struct {
	Strategy             Strategy     `json:"strategy"`
	PromptVersion        string       `json:"prompt_version,omitempty"`
	ChunkConfig          *ChunkConfig `json:"chunk_config,omitempty"`
	NumChunks            int          `json:"num_chunks"`
	EstimatedTokens      int          `json:"estimated_tokens"`
	ExpectedAccuracy     float64      `json:"expected_accuracy"`
	EstimatedDuration    float64      `json:"estimated_duration_seconds"`
	EstimatedCostUSD     float64      `json:"estimated_cost_usd"`
	ExtractRelationships bool         `json:"extract_relationships"`
	SizeInfo             SizeInfo     `json:"size_info"`
	Rationale            string       `json:"rationale,omitempty"`
}

// RouteOptions carries the caller's routing preferences.
type RouteOptions struct {
	StrategyOverride     string
	ExtractRelationships bool
	GraphRAGMode         bool
}

// Router maps documents to processing strategies. Routing is deterministic:
// the same text, metadata and options always produce the same decision.
type Router struct {
	detector           *SizeDetector
	maxContextTokens   int
	safetyMarginTokens int
	logger             logging.Logger
}

// NewRouter builds a router. Zero values select the defaults used by the
// local vLLM deployment.
func NewRouter(detector *SizeDetector, maxContextTokens, safetyMarginTokens int, logger logging.Logger) *Router {
	if detector == nil {
		detector = NewSizeDetector(0)
	}
	if maxContextTokens <= 0 {
		maxContextTokens = 32_768
	}
	if safetyMarginTokens < 0 {
		safetyMarginTokens = 2_048
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Router{
		detector:           detector,
		maxContextTokens:   maxContextTokens,
		safetyMarginTokens: safetyMarginTokens,
		logger:             logger,
	}
}

// Route decides how text should be processed. text is a pointer so that a
// missing document is distinguishable from an empty one; nil fails fast.
func (r *Router) Route(text *string, metadata map[string]interface{}, opts RouteOptions) (*RoutingDecision, error) {
	if text == nil {
		return nil, lexerrors.NewPermanentError("INVALID_INPUT", "document text is required", lexerrors.ErrNilDocument)
	}

	doc := *text
	info := r.detector.Detect(doc, metadata)

	if len(doc) == 0 {
		return r.sentinel(StrategyEmptyDocument, info, "document is empty"), nil
	}
	if len(doc) < tooSmallMinChars {
		return r.sentinel(StrategyTooSmall, info, fmt.Sprintf("document is %d chars, below the %d char minimum", len(doc), tooSmallMinChars)), nil
	}
	if looksBinary(doc) {
		return r.sentinel(StrategyInvalidDocument, info, "document looks like binary content"), nil
	}

	if opts.GraphRAGMode {
		d := r.decisionFor(StrategyFourWave, info, true, "graphrag mode requested")
		d.ExpectedAccuracy = accuracyFourWaveGraphRAG
		return d, nil
	}

	if opts.StrategyOverride != "" {
		if s, ok := ParseStrategy(opts.StrategyOverride); ok {
			return r.decisionFor(s, info, opts.ExtractRelationships, "strategy override"), nil
		}
		r.logger.Warn("unknown strategy override, using normal routing",
			logging.F("override", opts.StrategyOverride))
	}

	// Relationship extraction and larger documents prefer the four-wave
	// plan, but only when the document still fits the model context. Past
	// the usable context the chunked plan is the only one that can see the
	// whole document.
	fits := info.Tokens <= r.usableContext()
	if opts.ExtractRelationships && info.Chars > relationshipMinChars && fits {
		return r.decisionFor(StrategyFourWave, info, true, "relationship extraction requested"), nil
	}
	if info.Chars > fourWaveMinChars && fits {
		return r.decisionFor(StrategyFourWave, info, opts.ExtractRelationships, "document large enough for the four wave plan"), nil
	}

	switch info.Category {
	case SizeVerySmall:
		return r.decisionFor(StrategySinglePass, info, opts.ExtractRelationships, "very small document"), nil
	case SizeSmall:
		if threeWavePromptTokens+info.Tokens+threeWaveResponseTokens <= r.usableContext() {
			return r.decisionFor(StrategyThreeWave, info, opts.ExtractRelationships, "small document fits in context"), nil
		}
		return r.decisionFor(StrategyThreeWaveChunked, info, opts.ExtractRelationships, "small document exceeds usable context"), nil
	case SizeMedium:
		return r.decisionFor(StrategyThreeWaveChunked, info, opts.ExtractRelationships, "medium document"), nil
	default:
		return r.decisionFor(StrategyThreeWaveChunked, info, opts.ExtractRelationships, "large document"), nil
	}
}

func (r *Router) usableContext() int {
	return r.maxContextTokens - r.safetyMarginTokens
}

func (r *Router) sentinel(s Strategy, info SizeInfo, rationale string) *RoutingDecision {
	d := &RoutingDecision{
		Strategy:         s,
		SizeInfo:         info,
		ExpectedAccuracy: 0,
		Rationale:        rationale,
	}
	if s == StrategyTooSmall {
		// Too-small fragments still carry a token estimate; the other
		// sentinels report zero.
		d.EstimatedTokens = info.Tokens
		if d.EstimatedTokens < 1 {
			d.EstimatedTokens = 1
		}
	}
	return d
}

func (r *Router) decisionFor(s Strategy, info SizeInfo, extractRelationships bool, rationale string) *RoutingDecision {
	d := &RoutingDecision{
		Strategy:             s,
		SizeInfo:             info,
		ExtractRelationships: extractRelationships,
		Rationale:            rationale,
		EstimatedDuration:    r.detector.EstimateProcessingTime(info),
		EstimatedCostUSD:     r.detector.EstimateCost(info),
	}

	switch s {
	case StrategySinglePass:
		d.PromptVersion = PromptSinglePass
		d.EstimatedTokens = singlePassPromptTokens + info.Tokens + singlePassResponseTokens
		d.ExpectedAccuracy = accuracySinglePass
	case StrategyThreeWave:
		d.PromptVersion = PromptThreeWave
		d.EstimatedTokens = threeWavePromptTokens + info.Tokens + threeWaveResponseTokens
		d.ExpectedAccuracy = accuracyThreeWave
	case StrategyFourWave:
		d.PromptVersion = PromptFourWave
		d.EstimatedTokens = fourWavePromptTokens + info.Tokens + fourWaveResponseTokens
		d.ExpectedAccuracy = accuracyFourWave
		d.ExtractRelationships = true
	case StrategyThreeWaveChunked:
		d.PromptVersion = PromptThreeWave
		d.EstimatedTokens = threeWavePromptTokens + info.Tokens + threeWaveResponseTokens
		d.ExpectedAccuracy = accuracyThreeWaveChunked
		d.ChunkConfig = chunkConfigFor(info.Category)
		d.NumChunks = numChunks(info.Tokens, d.ChunkConfig)
	case StrategyEightWaveFallback:
		d.PromptVersion = PromptEightWave
		d.EstimatedTokens = eightWavePromptTokens + info.Tokens + eightWaveResponseTokens
		d.ExpectedAccuracy = accuracyEightWave
	}
	return d
}

// chunkConfigFor returns the chunking defaults for a size category. Large
// documents use a wider overlap and split on section boundaries.
func chunkConfigFor(c SizeCategory) *ChunkConfig {
	if c == SizeLarge {
		return &ChunkConfig{
			Strategy:           ChunkStrategyExtraction,
			ChunkSizeTokens:    DefaultChunkSizeTokens,
			OverlapTokens:      LargeChunkOverlap,
			PreserveBoundaries: BoundarySection,
		}
	}
	return &ChunkConfig{
		Strategy:           ChunkStrategyExtraction,
		ChunkSizeTokens:    DefaultChunkSizeTokens,
		OverlapTokens:      DefaultChunkOverlap,
		PreserveBoundaries: BoundaryParagraph,
	}
}

// numChunks is ceil(docTokens / (chunkSize - overlap)), at least 1.
func numChunks(docTokens int, cfg *ChunkConfig) int {
	if cfg == nil {
		return 0
	}
	stride := cfg.ChunkSizeTokens - cfg.OverlapTokens
	if stride <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(docTokens) / float64(stride)))
	if n < 1 {
		n = 1
	}
	return n
}

// looksBinary reports whether more than 5% of the leading characters are
// control bytes other than newline, carriage return and tab.
func looksBinary(text string) bool {
	probe := text
	if len(probe) > binaryProbeChars {
		probe = probe[:binaryProbeChars]
	}
	control := 0
	for i := 0; i < len(probe); i++ {
		b := probe[i]
		if b < 0x20 && b != '\n' && b != '\r' && b != '\t' {
			control++
		}
	}
	return control*100 > len(probe)*binaryControlPercentage
}

// ValidateDecision sanity checks a decision and returns advisory warnings.
func (r *Router) ValidateDecision(d *RoutingDecision) (bool, []string) {
	if d == nil {
		return false, []string{"decision is nil"}
	}
	var warnings []string
	if d.EstimatedTokens > r.maxContextTokens {
		warnings = append(warnings, fmt.Sprintf("estimated tokens %d exceed the model context %d", d.EstimatedTokens, r.maxContextTokens))
	}
	if d.EstimatedCostUSD > 1.0 {
		warnings = append(warnings, fmt.Sprintf("estimated cost $%.2f exceeds $1.00", d.EstimatedCostUSD))
	}
	if d.EstimatedDuration > 60 {
		warnings = append(warnings, fmt.Sprintf("estimated duration %.0fs exceeds 60s", d.EstimatedDuration))
	}
	if d.EstimatedTokens == 0 && !d.Strategy.IsSentinel() {
		warnings = append(warnings, "estimated tokens are zero for a non-sentinel strategy")
	}
	return len(warnings) == 0, warnings
}
