package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"policy", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_pipeline_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"policy"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_stage_duration_seconds",
			Help:    "Per-stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_stage_degraded_total",
			Help: "Stage executions that fell back to a degraded output",
		},
		[]string{"stage", "reason"},
	)

	ClassifierFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_classifier_fallback_total",
			Help: "Intent classifications served by the regex fallback layer",
		},
	)

	// Collaborator metrics
	CollaboratorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_collaborator_calls_total",
			Help: "Outbound collaborator calls",
		},
		[]string{"service", "status"},
	)

	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_collaborator_latency_seconds",
			Help:    "Outbound collaborator call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// LLM metrics
	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_llm_tokens_total",
			Help: "Tokens consumed by LLM calls",
		},
		[]string{"model", "kind"}, // kind: prompt|completion
	)

	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_llm_cost_usd_total",
			Help: "Estimated USD cost of LLM calls",
		},
		[]string{"model"},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_pricing_fallbacks_total",
			Help: "Cost estimates that fell back to default pricing",
		},
		[]string{"reason"}, // reason: missing_model|unknown_model
	)

	// Evidence metrics
	NewsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_news_deduplicated_total",
			Help: "News results dropped as duplicate canonical URLs",
		},
	)

	DocRequeries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_doc_requeries_total",
			Help: "Document fetches that issued a section-hinted re-query",
		},
	)

	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finsight_sessions_active",
			Help: "Number of sessions in the local cache",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_session_cache_hits_total",
			Help: "Session reads served from the local cache",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_session_cache_misses_total",
			Help: "Session reads that fell through to Redis",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_session_cache_evictions_total",
			Help: "Sessions evicted from the local cache",
		},
	)

	// Streaming metrics
	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finsight_active_streams",
			Help: "Open step-event streams by transport",
		},
		[]string{"transport"}, // sse|websocket
	)

	StreamEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_stream_events_published_total",
			Help: "Step events published to subscribers",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_stream_events_dropped_total",
			Help: "Step events dropped on saturated subscriber channels",
		},
	)
)

// RecordPipelineRun records a completed pipeline run.
func RecordPipelineRun(policy, status string, durationSeconds float64) {
	PipelineRuns.WithLabelValues(policy, status).Inc()
	PipelineDuration.WithLabelValues(policy).Observe(durationSeconds)
}

// RecordStage records one stage execution.
func RecordStage(stage string, durationSeconds float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageDegraded notes a stage that produced its degraded output.
func RecordStageDegraded(stage, reason string) {
	StageFailures.WithLabelValues(stage, reason).Inc()
}

// RecordCollaboratorCall records one outbound call.
func RecordCollaboratorCall(service, status string, durationSeconds float64) {
	CollaboratorCalls.WithLabelValues(service, status).Inc()
	if durationSeconds > 0 {
		CollaboratorLatency.WithLabelValues(service).Observe(durationSeconds)
	}
}

// RecordLLMUsage records token consumption and estimated cost for one call.
func RecordLLMUsage(model string, promptTokens, completionTokens int64, costUSD float64) {
	if promptTokens > 0 {
		LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		LLMCostUSD.WithLabelValues(model).Add(costUSD)
	}
}

// RecordVectorSearch records a similarity search call.
func RecordVectorSearch(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}
