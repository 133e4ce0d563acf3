package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for extraction operations.
	TracerName = "lexext"
)

// Span attribute keys
const (
	AttrDocumentID     = "document_id"
	AttrBatchID        = "batch_id"
	AttrStrategy       = "strategy"
	AttrSizeCategory   = "size_category"
	AttrWave           = "wave"
	AttrChunkID        = "chunk_id"
	AttrModel          = "model"
	AttrPromptVersion  = "prompt_version"
	AttrEntityCount    = "entity_count"
	AttrPromptTokens   = "prompt_tokens"
	AttrOutputTokens   = "output_tokens"
	AttrDurationMs     = "duration_ms"
	AttrErrorType      = "error_type"
	AttrRetryable      = "retryable"
)

// Span names
const (
	SpanExtractDocument  = "lexext.extract_document"
	SpanRouteDocument    = "lexext.route_document"
	SpanWave             = "lexext.wave"
	SpanRelationshipWave = "lexext.relationship_wave"
	SpanLLMCall          = "lexext.llm_call"
	SpanMergeResults     = "lexext.merge_results"
)

// Tracer provides distributed tracing for extraction operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new extraction tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartExtractionSpan starts a root span for one document extraction.
func (t *Tracer) StartExtractionSpan(ctx context.Context, documentID, strategy string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, SpanExtractDocument,
		trace.WithAttributes(
			attribute.String(AttrDocumentID, documentID),
			attribute.String(AttrStrategy, strategy),
		),
	)
	return ctx, span
}

// StartRoutingSpan starts a span for the routing decision.
func (t *Tracer) StartRoutingSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRouteDocument)
}

// StartWaveSpan starts a span for one extraction wave.
func (t *Tracer) StartWaveSpan(ctx context.Context, wave string, number int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanWave,
		trace.WithAttributes(
			attribute.String(AttrWave, wave),
			attribute.Int("wave_number", number),
		),
	)
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall,
		trace.WithAttributes(
			attribute.String(AttrModel, model),
		),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetRouting sets routing attributes on the span.
func (h *SpanHelper) SetRouting(strategy, sizeCategory, promptVersion string) {
	h.span.SetAttributes(
		attribute.String(AttrStrategy, strategy),
		attribute.String(AttrSizeCategory, sizeCategory),
		attribute.String(AttrPromptVersion, promptVersion),
	)
}

// SetWaveResult sets wave outcome attributes.
func (h *SpanHelper) SetWaveResult(entityCount int, durationMs int64) {
	h.span.SetAttributes(
		attribute.Int(AttrEntityCount, entityCount),
		attribute.Int64(AttrDurationMs, durationMs),
	)
}

// SetLLMResult sets LLM result attributes.
func (h *SpanHelper) SetLLMResult(promptTokens, outputTokens int, latencyMs int64) {
	h.span.SetAttributes(
		attribute.Int(AttrPromptTokens, promptTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
		attribute.Int64(AttrDurationMs, latencyMs),
	)
}

// SetChunk sets the chunk attribute.
func (h *SpanHelper) SetChunk(chunkID string) {
	h.span.SetAttributes(attribute.String(AttrChunkID, chunkID))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, errorType string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorType, errorType),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasSpanID() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// InjectTraceContext extracts trace context for propagation into queue
// messages.
func InjectTraceContext(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	if traceID := GetTraceID(ctx); traceID != "" {
		headers["trace_id"] = traceID
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		headers["span_id"] = spanID
	}
	return headers
}
