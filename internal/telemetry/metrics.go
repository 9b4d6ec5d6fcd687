// Package telemetry exposes Prometheus metrics for the search and
// indexing subsystems.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors. It satisfies
// reindex.Metrics; searches are observed via ObserveSearch.
type Metrics struct {
	SearchesTotal   *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec
	SearchResults   prometheus.Histogram
	ReindexRuns     *prometheus.CounterVec
	ReindexDuration *prometheus.HistogramVec
	DocumentsTotal  *prometheus.CounterVec
	EmbeddingCalls  *prometheus.CounterVec
	EmbeddingTexts  prometheus.Counter
	EmbeddingTime   prometheus.Histogram
}

// NewMetrics creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsearch_searches_total",
				Help: "Total number of semantic searches",
			},
			[]string{"repository", "status"},
		),
		SearchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragsearch_search_duration_seconds",
				Help:    "Duration of semantic searches in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"repository"},
		),
		SearchResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragsearch_search_results",
				Help:    "Number of results returned per search",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		ReindexRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsearch_reindex_runs_total",
				Help: "Total number of reindex runs by terminal phase",
			},
			[]string{"repository", "phase"},
		),
		ReindexDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragsearch_reindex_duration_seconds",
				Help:    "Duration of reindex runs in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"repository"},
		),
		DocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsearch_documents_total",
				Help: "Documents processed during reindex runs by outcome",
			},
			[]string{"repository", "outcome"},
		),
		EmbeddingCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragsearch_embedding_calls_total",
				Help: "Embedding service calls by status",
			},
			[]string{"status"},
		),
		EmbeddingTexts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ragsearch_embedding_texts_total",
				Help: "Texts embedded across all calls",
			},
		),
		EmbeddingTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragsearch_embedding_duration_seconds",
				Help:    "Duration of embedding calls in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 15, 60},
			},
		),
	}
}

// ObserveEmbedding records one embedding call covering n texts.
func (m *Metrics) ObserveEmbedding(n int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EmbeddingCalls.WithLabelValues(status).Inc()
	m.EmbeddingTime.Observe(elapsed.Seconds())
	if err == nil {
		m.EmbeddingTexts.Add(float64(n))
	}
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(repositoryID string, results int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SearchesTotal.WithLabelValues(repositoryID, status).Inc()
	m.SearchDuration.WithLabelValues(repositoryID).Observe(elapsed.Seconds())
	if err == nil {
		m.SearchResults.Observe(float64(results))
	}
}

// ReindexStarted implements reindex.Metrics.
func (m *Metrics) ReindexStarted(repositoryID string) {
	m.ReindexRuns.WithLabelValues(repositoryID, "started").Inc()
}

// DocumentIndexed implements reindex.Metrics.
func (m *Metrics) DocumentIndexed(repositoryID string) {
	m.DocumentsTotal.WithLabelValues(repositoryID, "indexed").Inc()
}

// DocumentSkipped implements reindex.Metrics.
func (m *Metrics) DocumentSkipped(repositoryID string) {
	m.DocumentsTotal.WithLabelValues(repositoryID, "skipped").Inc()
}

// DocumentFailed implements reindex.Metrics.
func (m *Metrics) DocumentFailed(repositoryID string) {
	m.DocumentsTotal.WithLabelValues(repositoryID, "error").Inc()
}

// ReindexFinished implements reindex.Metrics.
func (m *Metrics) ReindexFinished(repositoryID, phase string, elapsed time.Duration) {
	m.ReindexRuns.WithLabelValues(repositoryID, phase).Inc()
	m.ReindexDuration.WithLabelValues(repositoryID).Observe(elapsed.Seconds())
}
