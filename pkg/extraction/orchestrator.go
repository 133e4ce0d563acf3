package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/casemark/lexext-cli/pkg/llm"
	"github.com/casemark/lexext-cli/pkg/logging"
	"github.com/casemark/lexext-cli/pkg/patterns"
	"github.com/casemark/lexext-cli/pkg/routing"
)

// Orchestration defaults.
const (
	defaultWaveTimeout       = 90 * time.Second
	defaultChunkConcurrency  = 4
	defaultRelMinConfidence  = 0.5
	defaultMaxRelationships  = 200
	waveRetryBaseBackoff     = time.Second
	contextSnippetRadius     = 60
)

// PatternLibrary is the slice of the pattern layer the orchestrator reads.
// *patterns.CachedStore satisfies it.
type PatternLibrary interface {
	AggregatedExamples(t patterns.EntityType) []string
	RelationshipPatterns() map[string][]*patterns.RelationshipPattern
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	CharsPerToken      float64
	WaveTimeout        time.Duration
	ExtractionTimeout  time.Duration
	ChunkConcurrency   int
	RelMinConfidence   float64
	MaxRelationships   int
	Logger             logging.Logger
}

// Orchestrator executes wave plans. One instance serves many concurrent
// documents; it holds no per-document mutable state.
type Orchestrator struct {
	client  llm.Client
	library PatternLibrary
	aliases *patterns.AliasMap
	opts    OrchestratorOptions
	logger  logging.Logger
}

// NewOrchestrator builds an orchestrator over the throttled client and the
// pattern library.
func NewOrchestrator(client llm.Client, library PatternLibrary, aliases *patterns.AliasMap, opts OrchestratorOptions) *Orchestrator {
	if opts.CharsPerToken <= 0 {
		opts.CharsPerToken = routing.DefaultCharsPerToken
	}
	if opts.WaveTimeout <= 0 {
		opts.WaveTimeout = defaultWaveTimeout
	}
	if opts.ChunkConcurrency <= 0 {
		opts.ChunkConcurrency = defaultChunkConcurrency
	}
	if opts.RelMinConfidence <= 0 {
		opts.RelMinConfidence = defaultRelMinConfidence
	}
	if opts.MaxRelationships <= 0 {
		opts.MaxRelationships = defaultMaxRelationships
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if aliases == nil {
		aliases = patterns.NewAliasMap(nil)
	}
	return &Orchestrator{
		client:  client,
		library: library,
		aliases: aliases,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// chunkOutcome carries one chunk's extraction output back to the merger.
type chunkOutcome struct {
	chunk     Chunk
	entities  []*Entity
	citations []*Citation
	waves     []WaveStats
}

// Extract runs the wave plan selected by the routing decision and returns
// the assembled result. Sentinel strategies yield an empty result. A
// whole-extraction timeout returns the partial result accumulated so far
// with the timeout flag set, not an error.
func (o *Orchestrator) Extract(ctx context.Context, text string, decision *routing.RoutingDecision, info routing.SizeInfo) (*ExtractionResult, error) {
	if decision == nil {
		return nil, fmt.Errorf("routing decision is required")
	}

	documentID := NewID()
	start := time.Now()
	result := &ExtractionResult{
		DocumentID:    documentID,
		Strategy:      decision.Strategy,
		Entities:      []*Entity{},
		Citations:     []*Citation{},
		Relationships: []*Relationship{},
	}

	if decision.Strategy.IsSentinel() {
		result.Statistics.DurationMs = time.Since(start).Milliseconds()
		return result, nil
	}

	plan, err := BuildWavePlan(decision)
	if err != nil {
		return nil, err
	}

	if o.opts.ExtractionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ExtractionTimeout)
		defer cancel()
	}

	log := o.logger.With(
		logging.F("document_id", documentID),
		logging.F("strategy", string(decision.Strategy)))

	chunks := o.planChunks(text, decision)
	outcomes := o.runChunks(ctx, log, plan, decision, documentID, text, chunks)

	entities, citations, stats := o.merge(outcomes, decision)
	result.Entities = entities
	result.Citations = citations
	result.Statistics = stats
	result.Statistics.ChunksProcessed = len(chunks)

	if relWave, ok := plan.RelationshipWave(); ok && ctx.Err() == nil && len(entities) > 0 {
		rels, relStats := o.runRelationshipWave(ctx, log, relWave, documentID, text, entities)
		result.Relationships = rels
		result.Statistics.Waves = append(result.Statistics.Waves, relStats)
		if relStats.Failed {
			result.Statistics.WavesFailed++
		}
	}

	for _, w := range result.Statistics.Waves {
		result.TokensUsed += w.TokensUsed
		if w.Failed {
			continue
		}
		result.WavesExecuted++
	}
	if ctx.Err() != nil {
		result.Statistics.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		result.Statistics.Partial = true
	}
	if result.Statistics.WavesFailed > 0 {
		result.Statistics.Partial = true
	}
	result.Statistics.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// planChunks returns the chunk list: the configured split for chunked
// plans, one whole-document chunk otherwise.
func (o *Orchestrator) planChunks(text string, decision *routing.RoutingDecision) []Chunk {
	if decision.ChunkConfig != nil {
		if chunks := SplitChunks(text, decision.ChunkConfig, o.opts.CharsPerToken); len(chunks) > 0 {
			return chunks
		}
	}
	return []Chunk{{ID: "chunk_0", Index: 0, Start: 0, End: len(text), Text: text}}
}

// runChunks executes the entity waves for every chunk. Chunks run
// concurrently; waves within a chunk run sequentially in priority order.
func (o *Orchestrator) runChunks(ctx context.Context, log logging.Logger, plan *WavePlan, decision *routing.RoutingDecision, documentID, text string, chunks []Chunk) []chunkOutcome {
	outcomes := make([]chunkOutcome, len(chunks))
	snippet := ""
	if len(chunks) > 1 {
		snippet = documentSnippet(text)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ChunkConcurrency)
	var mu sync.Mutex

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			outcome := chunkOutcome{chunk: chunk}
			for _, wave := range plan.EntityWaves() {
				if gctx.Err() != nil {
					break
				}
				ents, cits, stats := o.runEntityWave(gctx, log, wave, decision, documentID, snippet, chunk)
				outcome.entities = append(outcome.entities, ents...)
				outcome.citations = append(outcome.citations, cits...)
				outcome.waves = append(outcome.waves, stats)
			}
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// runEntityWave executes one wave against one chunk, including the per-wave
// retry budget. A final failure marks the wave failed without aborting the
// plan.
func (o *Orchestrator) runEntityWave(ctx context.Context, log logging.Logger, wave WaveSpec, decision *routing.RoutingDecision, documentID, snippet string, chunk Chunk) ([]*Entity, []*Citation, WaveStats) {
	stats := WaveStats{WaveNumber: wave.Number}
	waveStart := time.Now()
	defer func() { stats.DurationMs = time.Since(waveStart).Milliseconds() }()

	prompt, err := buildEntityPrompt(decision.PromptVersion, wave, chunk.Text, snippet, o.library)
	if err != nil {
		stats.Failed = true
		stats.FailureReason = err.Error()
		return nil, nil, stats
	}

	resp, retries, err := o.callWave(ctx, wave, prompt)
	stats.Retries = retries
	if err != nil {
		stats.Failed = true
		stats.FailureReason = err.Error()
		log.Warn("wave failed",
			logging.F("wave", wave.Number),
			logging.F("chunk", chunk.ID),
			logging.Err(err))
		return nil, nil, stats
	}
	stats.TokensUsed = resp.TokensUsed.Total
	stats.MalformedJSON = resp.Malformed
	if resp.Malformed {
		stats.Failed = true
		stats.FailureReason = "malformed JSON after repair"
		return nil, nil, stats
	}

	entities, citations, dropped := o.parseWaveItems(resp.Content, wave, documentID, chunk)
	stats.EntityCount = len(entities) + len(citations)
	stats.SpansDropped = dropped
	if n := len(entities); n > 0 {
		var sum float64
		for _, e := range entities {
			sum += e.Confidence
		}
		stats.AvgConfidence = sum / float64(n)
	}
	return entities, citations, stats
}

// callWave issues the LLM request with the wave's retry budget. Timeouts
// and transport failures are retried with exponential backoff; context
// cancellation and circuit-open stop immediately.
func (o *Orchestrator) callWave(ctx context.Context, wave WaveSpec, prompt string) (*llm.ChatResponse, int, error) {
	req := llm.ChatRequest{
		Messages:    []llm.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   wave.MaxTokens,
		Temperature: wave.Temperature,
		JSONMode:    true,
	}

	var lastErr error
	for attempt := 0; attempt <= wave.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := waveRetryBaseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			case <-time.After(backoff):
			}
		}

		waveCtx, cancel := context.WithTimeout(ctx, o.opts.WaveTimeout)
		resp, err := o.client.GenerateChatCompletion(waveCtx, req)
		cancel()
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		switch llm.CodeOf(err) {
		case llm.ErrCircuitOpen:
			return nil, attempt, err
		case llm.ErrTimeout, llm.ErrUnavailable, llm.ErrRateLimit, llm.ErrModelNotReady:
			continue
		default:
			return nil, attempt, err
		}
	}
	return nil, wave.RetryCount, lastErr
}

// waveItem is one record in a wave's JSON response.
type waveItem struct {
	Type       string                 `json:"type"`
	Text       string                 `json:"text"`
	Start      int                    `json:"start"`
	End        int                    `json:"end"`
	Confidence float64                `json:"confidence"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

type waveResponse struct {
	Entities []waveItem `json:"entities"`
}

// parseWaveItems converts a wave's JSON body into entity and citation
// records with absolute positions. Spans outside the chunk are clamped to
// it; spans that do not intersect the chunk at all are dropped.
func (o *Orchestrator) parseWaveItems(body string, wave WaveSpec, documentID string, chunk Chunk) ([]*Entity, []*Citation, int) {
	var parsed waveResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, nil, 0
	}

	var (
		entities  []*Entity
		citations []*Citation
		dropped   int
	)
	for _, item := range parsed.Items() {
		if item.Text == "" {
			continue
		}

		pos, ok := o.resolvePosition(item, chunk)
		if !ok {
			dropped++
			continue
		}

		snippet := contextSnippet(chunk, &pos)
		method := fmt.Sprintf("wave_%d", wave.Number)
		prov := Provenance{
			WaveNumber: wave.Number,
			ChunkID:    chunk.ID,
			DocumentID: documentID,
		}

		if ct, isCitation := patterns.CitationTypeFor(item.Type); isCitation {
			citations = append(citations, &Citation{
				ID:               NewID(),
				CitationType:     ct,
				Text:             item.Text,
				CleanedText:      CleanText(item.Text),
				Confidence:       ClampConfidence(item.Confidence),
				Position:         pos,
				ContextSnippet:   snippet,
				ExtractionMethod: method,
				Components:       stringAttributes(item.Attributes),
				Provenance:       prov,
			})
			continue
		}

		canonical, known := o.aliases.Canonical(item.Type)
		if !known {
			prov.TypeCoerced = true
		}
		entities = append(entities, &Entity{
			ID:               NewID(),
			EntityType:       canonical,
			Text:             item.Text,
			CleanedText:      CleanText(item.Text),
			Confidence:       ClampConfidence(item.Confidence),
			Position:         pos,
			ContextSnippet:   snippet,
			ExtractionMethod: method,
			Attributes:       stringAttributes(item.Attributes),
			Provenance:       prov,
		})
	}
	return entities, citations, dropped
}

// Items returns the response records; a nil slice stays empty.
func (r waveResponse) Items() []waveItem {
	return r.Entities
}

// resolvePosition rewrites a chunk-relative span to absolute document
// offsets, clamping spans that spill past the chunk and rejecting spans
// that miss it entirely.
func (o *Orchestrator) resolvePosition(item waveItem, chunk Chunk) (Position, bool) {
	start, end := item.Start, item.End
	if end <= start {
		// Zero or negative spans carry no position information; fall
		// back to locating the text within the chunk.
		if idx := indexOf(chunk.Text, item.Text); idx >= 0 {
			start, end = idx, idx+len(item.Text)
		} else {
			return Position{}, false
		}
	}
	chunkLen := chunk.End - chunk.Start
	if start >= chunkLen || end <= 0 {
		return Position{}, false
	}
	if start < 0 {
		start = 0
	}
	if end > chunkLen {
		end = chunkLen
	}
	return Position{Start: chunk.Start + start, End: chunk.Start + end}, true
}

func indexOf(haystack, needle string) int {
	if needle == "" {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// contextSnippet extracts the text surrounding a span, bounded to the
// chunk, and records the absolute context bounds on the position.
func contextSnippet(chunk Chunk, pos *Position) string {
	relStart := pos.Start - chunk.Start
	relEnd := pos.End - chunk.Start
	cs := relStart - contextSnippetRadius
	if cs < 0 {
		cs = 0
	}
	ce := relEnd + contextSnippetRadius
	if ce > len(chunk.Text) {
		ce = len(chunk.Text)
	}
	pos.ContextStart = chunk.Start + cs
	pos.ContextEnd = chunk.Start + ce
	return chunk.Text[cs:ce]
}

func stringAttributes(attrs map[string]interface{}) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch s := v.(type) {
		case string:
			out[k] = s
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// merge deduplicates entities across waves and chunks and aggregates the
// wave statistics.
func (o *Orchestrator) merge(outcomes []chunkOutcome, decision *routing.RoutingDecision) ([]*Entity, []*Citation, Statistics) {
	var stats Statistics

	byKey := make(map[dedupKey]*Entity)
	var order []dedupKey
	var citations []*Citation

	for _, outcome := range outcomes {
		for _, w := range outcome.waves {
			stats.Waves = append(stats.Waves, w)
			stats.SpansDropped += w.SpansDropped
			if w.Failed {
				stats.WavesFailed++
			}
		}
		citations = append(citations, outcome.citations...)
		for _, e := range outcome.entities {
			key := entityKey(e)
			if existing, ok := byKey[key]; ok {
				stats.DuplicatesRemoved++
				if e.Confidence > existing.Confidence {
					byKey[key] = e
				}
				continue
			}
			byKey[key] = e
			order = append(order, key)
		}
	}

	entities := make([]*Entity, 0, len(order))
	for _, key := range order {
		entities = append(entities, byKey[key])
	}

	if decision.ChunkConfig != nil {
		overlapChars := int(float64(decision.ChunkConfig.OverlapTokens) * o.opts.CharsPerToken)
		bounds := make(map[string]Chunk, len(outcomes))
		for _, outcome := range outcomes {
			bounds[outcome.chunk.ID] = outcome.chunk
		}
		entities, stats.DuplicatesRemoved = mergeOverlapDuplicates(entities, overlapChars, bounds, stats.DuplicatesRemoved)
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Position.Start < entities[j].Position.Start })
	sort.Slice(citations, func(i, j int) bool { return citations[i].Position.Start < citations[j].Position.Start })
	return entities, citations, stats
}

// mergeOverlapDuplicates collapses same-type same-text entities reported by
// two different chunks for the same overlap region, which both chunks read
// and can report with slightly shifted offsets. Entities from the same chunk
// are genuine repeat mentions and always survive.
func mergeOverlapDuplicates(entities []*Entity, window int, bounds map[string]Chunk, removed int) ([]*Entity, int) {
	if window <= 0 || len(entities) < 2 {
		return entities, removed
	}

	type group struct {
		entityType patterns.EntityType
		text       string
	}
	byGroup := make(map[group][]*Entity)
	for _, e := range entities {
		g := group{entityType: e.EntityType, text: e.Text}
		byGroup[g] = append(byGroup[g], e)
	}

	keep := make(map[string]bool, len(entities))
	for _, members := range byGroup {
		sort.Slice(members, func(i, j int) bool { return members[i].Position.Start < members[j].Position.Start })
		best := members[0]
		for _, e := range members[1:] {
			if e.Position.Start-best.Position.Start <= window && inSharedOverlap(best, e, bounds) {
				removed++
				if e.Confidence > best.Confidence {
					keep[best.ID] = false
					best = e
				}
				continue
			}
			keep[best.ID] = true
			best = e
		}
		keep[best.ID] = true
	}

	out := entities[:0]
	for _, e := range entities {
		if keep[e.ID] {
			out = append(out, e)
		}
	}
	return out, removed
}

// inSharedOverlap reports whether a and b came from different chunks and
// both spans fall inside the region those chunks share.
func inSharedOverlap(a, b *Entity, bounds map[string]Chunk) bool {
	ca, okA := bounds[a.Provenance.ChunkID]
	cb, okB := bounds[b.Provenance.ChunkID]
	if !okA || !okB || ca.ID == cb.ID {
		return false
	}
	lo := ca.Start
	if cb.Start > lo {
		lo = cb.Start
	}
	hi := ca.End
	if cb.End < hi {
		hi = cb.End
	}
	return a.Position.Start >= lo && a.Position.End <= hi &&
		b.Position.Start >= lo && b.Position.End <= hi
}
