// Package metrics defines the Prometheus collectors for the ingestion
// pipeline, the embedder and hybrid retrieval, and exposes the scrape
// handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	PipelineRunsTotal     *prometheus.CounterVec
	PipelineStageDuration *prometheus.HistogramVec
	ChunksCreatedTotal    prometheus.Counter
	ProgressEventsDropped prometheus.Counter

	EmbeddingRequestsTotal *prometheus.CounterVec
	EmbeddingCacheHits     prometheus.Counter
	EmbeddingCacheMisses   prometheus.Counter

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	SearchCacheHits    prometheus.Counter
	SearchCacheMisses  prometheus.Counter

	CircuitBreakerState *prometheus.GaugeVec
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		PipelineRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_pipeline_runs_total",
			Help: "Pipeline runs by final status and failure class.",
		}, []string{"status", "failure_class"}),
		PipelineStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestion_stage_duration_seconds",
			Help:    "Latency of each pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 180},
		}, []string{"stage"}),
		ChunksCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestion_chunks_created_total",
			Help: "Chunks persisted by successful pipeline runs.",
		}),
		ProgressEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestion_progress_events_dropped_total",
			Help: "Progress events dropped because the sink buffer was full.",
		}),
		EmbeddingRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Embedding backend calls by outcome.",
		}, []string{"outcome"}),
		EmbeddingCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedding_cache_hits_total",
			Help: "Texts served from the embedding cache.",
		}),
		EmbeddingCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "embedding_cache_misses_total",
			Help: "Texts that required an embedding call.",
		}),
		SearchQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Hybrid searches by mode (hybrid, keyword_only, vector_only, empty, error).",
		}, []string{"mode"}),
		SearchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "search_latency_seconds",
			Help:    "Hybrid search latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"cache_status"}),
		SearchResultsCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_results_count",
			Help:    "Results returned per search.",
			Buckets: []float64{0, 1, 3, 5, 10, 25, 50},
		}),
		SearchCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_cache_hits_total",
			Help: "Search responses served from cache.",
		}),
		SearchCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_cache_misses_total",
			Help: "Search responses computed.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PipelineRunsTotal,
		m.PipelineStageDuration,
		m.ChunksCreatedTotal,
		m.ProgressEventsDropped,
		m.EmbeddingRequestsTotal,
		m.EmbeddingCacheHits,
		m.EmbeddingCacheMisses,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.SearchCacheHits,
		m.SearchCacheMisses,
		m.CircuitBreakerState,
	)
	return m
}

func (m *Metrics) ObservePipelineRun(status, class string) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status, class).Inc()
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineStageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) AddChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksCreatedTotal.Add(float64(n))
}

func (m *Metrics) DropProgressEvent() {
	if m == nil {
		return
	}
	m.ProgressEventsDropped.Inc()
}

func (m *Metrics) ObserveEmbedding(outcome string) {
	if m == nil {
		return
	}
	m.EmbeddingRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEmbeddingCache(hits, misses int) {
	if m == nil {
		return
	}
	m.EmbeddingCacheHits.Add(float64(hits))
	m.EmbeddingCacheMisses.Add(float64(misses))
}

func (m *Metrics) ObserveSearch(mode, cacheStatus string, seconds float64, results int) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(mode).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(seconds)
	m.SearchResultsCount.Observe(float64(results))
}

func (m *Metrics) ObserveSearchCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.SearchCacheHits.Inc()
		return
	}
	m.SearchCacheMisses.Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
