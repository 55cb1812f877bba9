package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nelson-gpt/backend/pkg/circuitbreaker"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nelson_query_duration_seconds",
			Help:    "End-to-end query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow_type"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status", "urgency"},
	)

	SafetyAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_safety_alerts_total",
			Help: "Safety alerts raised, by category",
		},
		[]string{"category"},
	)

	UpstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_upstream_failures_total",
			Help: "Failed calls to model and retrieval backends",
		},
		[]string{"upstream", "backend"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nelson_upstream_duration_seconds",
			Help:    "Latency of successful upstream calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"upstream", "backend"},
	)

	CompletionFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nelson_completion_fallbacks_total",
			Help: "Completions answered with the fixed fallback text",
		},
	)

	StepDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_workflow_step_degraded_total",
			Help: "Workflow steps that used unparsed or fallback output",
		},
		[]string{"step", "reason"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nelson_confidence_score",
			Help:    "Response confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"path"},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nelson_retrieval_results_count",
			Help:    "Number of passages returned per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	TokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_llm_tokens_used_total",
			Help: "Total model tokens used",
		},
		[]string{"provider", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nelson_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	ChunksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nelson_chunks_ingested_total",
			Help: "Textbook chunks embedded and stored",
		},
		[]string{"specialty"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			SafetyAlerts,
			UpstreamFailures,
			UpstreamDuration,
			CompletionFallbacks,
			StepDegraded,
			ConfidenceScore,
			RetrievalResults,
			TokensUsed,
			CacheHits,
			CacheMisses,
			BreakerState,
			ChunksIngested,
		)
	})
}

// ObserveBreakerState matches circuitbreaker.Config.OnStateChange.
func ObserveBreakerState(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
