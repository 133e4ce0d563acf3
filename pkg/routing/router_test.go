package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
	"github.com/casemark/lexext-cli/pkg/logging"
)

func newTestRouter() *Router {
	return NewRouter(NewSizeDetector(0), 32_768, 2_048, logging.NewNopLogger())
}

func routeText(t *testing.T, r *Router, text string, opts RouteOptions) *RoutingDecision {
	t.Helper()
	d, err := r.Route(&text, nil, opts)
	require.NoError(t, err)
	return d
}

func legalText(chars int) string {
	para := "The parties appeared before the United States District Court for oral argument on the pending motion. Counsel for Plaintiff requested leave to amend.\n\n"
	var b strings.Builder
	for b.Len() < chars {
		b.WriteString(para)
	}
	return b.String()[:chars]
}

func TestRouteNilDocument(t *testing.T) {
	r := newTestRouter()
	_, err := r.Route(nil, nil, RouteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, lexerrors.ErrNilDocument)
}

func TestRouteEmptyDocument(t *testing.T) {
	d := routeText(t, newTestRouter(), "", RouteOptions{})
	assert.Equal(t, StrategyEmptyDocument, d.Strategy)
	assert.Equal(t, 0, d.EstimatedTokens)
	assert.Equal(t, 0.0, d.ExpectedAccuracy)
	assert.Nil(t, d.ChunkConfig)
	assert.Equal(t, 0, d.NumChunks)
}

func TestRouteTooSmall(t *testing.T) {
	d := routeText(t, newTestRouter(), "Hello", RouteOptions{})
	assert.Equal(t, StrategyTooSmall, d.Strategy)
	assert.Equal(t, 0.0, d.ExpectedAccuracy)
	assert.Positive(t, d.EstimatedTokens)
}

func TestRouteBinaryDocument(t *testing.T) {
	// 60 control bytes in the first 1000 characters, above the 5% limit.
	body := []byte(legalText(1000))
	for i := 0; i < 60; i++ {
		body[i*16] = 0x00
	}
	d := routeText(t, newTestRouter(), string(body), RouteOptions{})
	assert.Equal(t, StrategyInvalidDocument, d.Strategy)
	assert.Equal(t, 0, d.EstimatedTokens)
}

func TestRouteControlBytesWithinToleranceAccepted(t *testing.T) {
	body := []byte(legalText(1000))
	for i := 0; i < 40; i++ {
		body[i*16] = 0x01
	}
	d := routeText(t, newTestRouter(), string(body), RouteOptions{})
	assert.NotEqual(t, StrategyInvalidDocument, d.Strategy)
}

func TestRouteSmallDocumentThreeWave(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(16_000), RouteOptions{})
	assert.Equal(t, StrategyThreeWave, d.Strategy)
	assert.Equal(t, "three_wave_optimized_v1", d.PromptVersion)
	assert.Nil(t, d.ChunkConfig)
	assert.Equal(t, 0, d.NumChunks)
	assert.Equal(t, 0.90, d.ExpectedAccuracy)
}

func TestRouteRelationshipsForceFourWave(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(30_000), RouteOptions{ExtractRelationships: true})
	assert.Equal(t, StrategyFourWave, d.Strategy)
	assert.True(t, d.ExtractRelationships)
	assert.Equal(t, 0.92, d.ExpectedAccuracy)
}

func TestRouteLargeDocumentChunked(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(200_000), RouteOptions{})
	assert.Equal(t, StrategyThreeWaveChunked, d.Strategy)
	require.NotNil(t, d.ChunkConfig)
	assert.Equal(t, 1000, d.ChunkConfig.OverlapTokens)
	assert.Equal(t, BoundarySection, d.ChunkConfig.PreserveBoundaries)
	assert.GreaterOrEqual(t, d.NumChunks, 2)
}

func TestRouteMediumDocumentChunkedParagraphs(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(120_000), RouteOptions{})
	assert.Equal(t, StrategyThreeWaveChunked, d.Strategy)
	require.NotNil(t, d.ChunkConfig)
	assert.Equal(t, DefaultChunkOverlap, d.ChunkConfig.OverlapTokens)
	assert.Equal(t, BoundaryParagraph, d.ChunkConfig.PreserveBoundaries)
}

func TestRouteVerySmallSinglePass(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(3_000), RouteOptions{})
	assert.Equal(t, StrategySinglePass, d.Strategy)
	assert.Equal(t, PromptSinglePass, d.PromptVersion)
	assert.Equal(t, 0.87, d.ExpectedAccuracy)
}

func TestRouteOverTwentyThousandCharsFourWave(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(25_000), RouteOptions{})
	assert.Equal(t, StrategyFourWave, d.Strategy)
	assert.True(t, d.ExtractRelationships, "the four wave plan always carries the relationship wave")
}

func TestRouteGraphRAGMode(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(16_000), RouteOptions{GraphRAGMode: true})
	assert.Equal(t, StrategyFourWave, d.Strategy)
	assert.Equal(t, 0.93, d.ExpectedAccuracy)
}

func TestRouteStrategyOverride(t *testing.T) {
	d := routeText(t, newTestRouter(), legalText(16_000), RouteOptions{StrategyOverride: "eight_wave_fallback"})
	assert.Equal(t, StrategyEightWaveFallback, d.Strategy)
	assert.Equal(t, 0.95, d.ExpectedAccuracy)

	// Unknown overrides fall back to normal routing.
	d = routeText(t, newTestRouter(), legalText(16_000), RouteOptions{StrategyOverride: "quantum_wave"})
	assert.Equal(t, StrategyThreeWave, d.Strategy)
}

func TestRouteIsDeterministic(t *testing.T) {
	r := newTestRouter()
	text := legalText(16_000)
	first := routeText(t, r, text, RouteOptions{})
	second := routeText(t, r, text, RouteOptions{})
	assert.Equal(t, first, second)
}

func TestSizeCategoryBoundaries(t *testing.T) {
	tests := []struct {
		chars int
		want  SizeCategory
	}{
		{0, SizeVerySmall},
		{5_000, SizeVerySmall},
		{5_001, SizeSmall},
		{50_000, SizeSmall},
		{50_001, SizeMedium},
		{150_000, SizeMedium},
		{150_001, SizeLarge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.chars), "chars=%d", tt.chars)
	}
}

func TestDetectSizeInfo(t *testing.T) {
	d := NewSizeDetector(4.0)
	info := d.Detect("one two three\nfour five", map[string]interface{}{"page_count": "12"})
	assert.Equal(t, 22, info.Chars)
	assert.Equal(t, 5, info.Tokens)
	assert.Equal(t, 12, info.Pages)
	assert.Equal(t, 5, info.Words)
	assert.Equal(t, 2, info.Lines)
	assert.Equal(t, SizeVerySmall, info.Category)
}

func TestPagesFromMetadataCoercion(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]interface{}
		want int
	}{
		{"int", map[string]interface{}{"pages": 7}, 7},
		{"float", map[string]interface{}{"num_pages": 7.0}, 7},
		{"string", map[string]interface{}{"pageCount": " 7 ", "unrelated": true}, 7},
		{"garbage", map[string]interface{}{"pages": "seven"}, 0},
		{"absent", map[string]interface{}{}, 0},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pagesFromMetadata(tt.meta))
		})
	}
}

func TestNumChunksFormula(t *testing.T) {
	cfg := &ChunkConfig{ChunkSizeTokens: 8_000, OverlapTokens: 500}
	assert.Equal(t, 1, numChunks(100, cfg))
	assert.Equal(t, 1, numChunks(7_500, cfg))
	assert.Equal(t, 2, numChunks(7_501, cfg))
	assert.Equal(t, 7, numChunks(50_000, cfg))
	assert.Equal(t, 0, numChunks(50_000, nil))
}

func TestChunkedDocumentEntersChunkingBeforeCategoryRequiresIt(t *testing.T) {
	// 16k chars is ~4k tokens; with a 24k context the three wave budget
	// pushes past the usable window, so a SMALL-category doc still chunks.
	r := NewRouter(NewSizeDetector(0), 24_000, 2_048, logging.NewNopLogger())
	d := routeText(t, r, legalText(16_000), RouteOptions{})
	assert.Equal(t, StrategyThreeWaveChunked, d.Strategy)
	assert.Equal(t, BoundaryParagraph, d.ChunkConfig.PreserveBoundaries)
}

func TestValidateDecisionWarnings(t *testing.T) {
	r := newTestRouter()

	ok, warnings := r.ValidateDecision(routeText(t, r, legalText(16_000), RouteOptions{}))
	assert.True(t, ok)
	assert.Empty(t, warnings)

	big := routeText(t, r, legalText(30_000), RouteOptions{ExtractRelationships: true})
	ok, warnings = r.ValidateDecision(big)
	assert.False(t, ok, "four wave estimate exceeds the context window")
	assert.NotEmpty(t, warnings)

	ok, _ = r.ValidateDecision(&RoutingDecision{Strategy: StrategyThreeWave})
	assert.False(t, ok, "zero tokens on a non-sentinel strategy")

	ok, _ = r.ValidateDecision(routeText(t, r, "", RouteOptions{}))
	assert.True(t, ok, "sentinels are valid with zero tokens")
}
