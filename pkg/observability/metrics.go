// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the extraction pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExtractionMetrics holds all Prometheus metrics for the pipeline.
type ExtractionMetrics struct {
	// Routing metrics
	DocumentsRoutedTotal *prometheus.CounterVec
	DocumentTokens       *prometheus.HistogramVec

	// Wave metrics
	WavesTotal          *prometheus.CounterVec
	WaveSeconds         *prometheus.HistogramVec
	EntitiesFoundTotal  *prometheus.CounterVec
	EntityConfidence    *prometheus.HistogramVec
	SpansDroppedTotal   *prometheus.CounterVec
	DuplicatesTotal     *prometheus.CounterVec

	// LLM metrics
	LLMCallsTotal      *prometheus.CounterVec
	LLMLatencySeconds  *prometheus.HistogramVec
	LLMTokensTotal     *prometheus.CounterVec
	CircuitState       *prometheus.GaugeVec
	ThrottleDelaySecs  *prometheus.GaugeVec

	// Queue metrics
	QueueItemsTotal *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	DLQItemsTotal   *prometheus.CounterVec

	// Pattern cache metrics
	CacheHitRate *prometheus.GaugeVec
	CacheSize    *prometheus.GaugeVec
}

// DefaultExtractionMetrics creates metrics on the default registerer.
func DefaultExtractionMetrics() *ExtractionMetrics {
	return NewExtractionMetrics(prometheus.DefaultRegisterer)
}

// NewExtractionMetrics creates a new set of extraction metrics.
func NewExtractionMetrics(reg prometheus.Registerer) *ExtractionMetrics {
	factory := promauto.With(reg)

	return &ExtractionMetrics{
		DocumentsRoutedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_documents_routed_total",
				Help: "Documents routed, by strategy and size category",
			},
			[]string{"strategy", "size_category"},
		),
		DocumentTokens: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexext_document_tokens",
				Help:    "Estimated document tokens at routing time",
				Buckets: []float64{100, 500, 1000, 5000, 12500, 37500, 100000, 250000},
			},
			[]string{"size_category"},
		),

		WavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_waves_total",
				Help: "Extraction waves executed, by wave name and status",
			},
			[]string{"wave", "status"},
		),
		WaveSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexext_wave_seconds",
				Help:    "Wave execution latency",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
			},
			[]string{"wave"},
		),
		EntitiesFoundTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_entities_found_total",
				Help: "Entities extracted, by entity type",
			},
			[]string{"entity_type"},
		),
		EntityConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexext_entity_confidence",
				Help:    "Confidence of extracted entities",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
			},
			[]string{"entity_type"},
		),
		SpansDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_spans_dropped_total",
				Help: "Reported spans dropped for falling outside their chunk",
			},
			[]string{"wave"},
		),
		DuplicatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_duplicates_removed_total",
				Help: "Duplicate entities removed during merge",
			},
			[]string{"strategy"},
		),

		LLMCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_llm_calls_total",
				Help: "LLM calls, by model and outcome",
			},
			[]string{"model", "status"},
		),
		LLMLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexext_llm_latency_seconds",
				Help:    "LLM call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"model"},
		),
		LLMTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_llm_tokens_total",
				Help: "Tokens consumed, by direction",
			},
			[]string{"direction", "model"},
		),
		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lexext_circuit_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"model"},
		),
		ThrottleDelaySecs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lexext_throttle_delay_seconds",
				Help: "Current adaptive inter-request delay",
			},
			[]string{"model"},
		),

		QueueItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_queue_items_total",
				Help: "Items entering the extraction queue",
			},
			[]string{"queue", "priority"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lexext_queue_depth",
				Help: "Current extraction queue depth",
			},
			[]string{"queue"},
		),
		DLQItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexext_dlq_items_total",
				Help: "Items moved to the dead letter queue",
			},
			[]string{"queue", "error_type"},
		),

		CacheHitRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lexext_pattern_cache_hit_rate",
				Help: "Pattern cache hit rate",
			},
			[]string{"cache"},
		),
		CacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lexext_pattern_cache_size",
				Help: "Pattern cache entry count",
			},
			[]string{"cache"},
		),
	}
}

// RecordRouting records a routing decision.
func (m *ExtractionMetrics) RecordRouting(strategy, sizeCategory string, tokens float64) {
	m.DocumentsRoutedTotal.WithLabelValues(strategy, sizeCategory).Inc()
	m.DocumentTokens.WithLabelValues(sizeCategory).Observe(tokens)
}

// RecordWave records a completed wave.
func (m *ExtractionMetrics) RecordWave(wave, status string, seconds float64) {
	m.WavesTotal.WithLabelValues(wave, status).Inc()
	m.WaveSeconds.WithLabelValues(wave).Observe(seconds)
}

// RecordEntity records one extracted entity.
func (m *ExtractionMetrics) RecordEntity(entityType string, confidence float64) {
	m.EntitiesFoundTotal.WithLabelValues(entityType).Inc()
	m.EntityConfidence.WithLabelValues(entityType).Observe(confidence)
}

// RecordSpansDropped records spans rejected during position resolution.
func (m *ExtractionMetrics) RecordSpansDropped(wave string, count float64) {
	m.SpansDroppedTotal.WithLabelValues(wave).Add(count)
}

// RecordDuplicates records duplicates removed during merge.
func (m *ExtractionMetrics) RecordDuplicates(strategy string, count float64) {
	m.DuplicatesTotal.WithLabelValues(strategy).Add(count)
}

// RecordLLMCall records one LLM call.
func (m *ExtractionMetrics) RecordLLMCall(model, status string, latencySeconds float64, promptTokens, completionTokens int) {
	m.LLMCallsTotal.WithLabelValues(model, status).Inc()
	m.LLMLatencySeconds.WithLabelValues(model).Observe(latencySeconds)
	m.LLMTokensTotal.WithLabelValues("prompt", model).Add(float64(promptTokens))
	m.LLMTokensTotal.WithLabelValues("completion", model).Add(float64(completionTokens))
}

// SetCircuitState publishes the breaker state for a model.
func (m *ExtractionMetrics) SetCircuitState(model string, state float64) {
	m.CircuitState.WithLabelValues(model).Set(state)
}

// SetThrottleDelay publishes the current adaptive delay.
func (m *ExtractionMetrics) SetThrottleDelay(model string, seconds float64) {
	m.ThrottleDelaySecs.WithLabelValues(model).Set(seconds)
}

// RecordQueueEnqueue records an item entering a queue.
func (m *ExtractionMetrics) RecordQueueEnqueue(queue, priority string) {
	m.QueueItemsTotal.WithLabelValues(queue, priority).Inc()
}

// SetQueueDepth publishes the current queue depth.
func (m *ExtractionMetrics) SetQueueDepth(queue string, depth float64) {
	m.QueueDepth.WithLabelValues(queue).Set(depth)
}

// RecordDLQItem records an item moved to the dead letter queue.
func (m *ExtractionMetrics) RecordDLQItem(queue, errorType string) {
	m.DLQItemsTotal.WithLabelValues(queue, errorType).Inc()
}

// SetCacheStats publishes pattern cache gauges.
func (m *ExtractionMetrics) SetCacheStats(cache string, hitRate float64, size float64) {
	m.CacheHitRate.WithLabelValues(cache).Set(hitRate)
	m.CacheSize.WithLabelValues(cache).Set(size)
}
