package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the warehouse bot
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Message metrics
	MessagesTotal        *prometheus.CounterVec
	MessageDuration      *prometheus.HistogramVec
	TranscriptionsTotal  *prometheus.CounterVec
	TranscriptionSeconds *prometheus.HistogramVec

	// Extraction metrics
	ExtractionAttemptsTotal *prometheus.CounterVec
	ExtractionDuration      *prometheus.HistogramVec
	ItemsPerMessage         prometheus.Histogram

	// Transaction metrics
	TransactionsTotal  *prometheus.CounterVec
	DuplicatesTotal    *prometheus.CounterVec
	ResolverMatchTotal *prometheus.CounterVec
	LowStockAlerts     prometheus.Counter

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Health metrics
	DependencyHealth *prometheus.GaugeVec
}

// New creates a new Metrics instance with all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warehouse_bot_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warehouse_bot_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_messages_total",
				Help: "Total number of inbound messages",
			},
			[]string{"kind", "status"},
		),
		MessageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warehouse_bot_message_duration_seconds",
				Help:    "End-to-end processing duration per message",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		TranscriptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_transcriptions_total",
				Help: "Total number of voice transcriptions",
			},
			[]string{"status"},
		),
		TranscriptionSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warehouse_bot_transcription_duration_seconds",
				Help:    "Duration of voice transcriptions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		ExtractionAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_extraction_attempts_total",
				Help: "Total number of extraction collaborator calls",
			},
			[]string{"status"},
		),
		ExtractionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warehouse_bot_extraction_duration_seconds",
				Help:    "Duration of extraction collaborator calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		ItemsPerMessage: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warehouse_bot_items_per_message",
				Help:    "Number of transactions extracted per message",
				Buckets: []float64{1, 2, 3, 5, 10, 20},
			},
		),

		TransactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_transactions_total",
				Help: "Total number of processed transactions",
			},
			[]string{"action", "status"},
		),
		DuplicatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_duplicates_total",
				Help: "Total number of duplicate deliveries suppressed",
			},
			[]string{"scope"},
		),
		ResolverMatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_resolver_matches_total",
				Help: "Total number of item resolutions by match method",
			},
			[]string{"method"},
		),
		LowStockAlerts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warehouse_bot_low_stock_alerts_total",
				Help: "Total number of low stock alerts emitted",
			},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_bot_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DependencyHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warehouse_bot_dependency_health",
				Help: "Health status of dependencies (1 = healthy, 0 = unhealthy)",
			},
			[]string{"dependency"},
		),
	}
}

// Initialize sets up initial metric values
func (m *Metrics) Initialize() {
	m.DependencyHealth.WithLabelValues("postgres").Set(0)
	m.DependencyHealth.WithLabelValues("redis").Set(0)
	m.DependencyHealth.WithLabelValues("telegram").Set(0)
}

// UpdateDependencyHealth updates the health status of a dependency
func (m *Metrics) UpdateDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.DependencyHealth.WithLabelValues(dependency).Set(value)
}

// RecordTransaction records one processed transaction outcome
func (m *Metrics) RecordTransaction(action, status string) {
	if m.TransactionsTotal != nil {
		m.TransactionsTotal.WithLabelValues(action, status).Inc()
	}
}

// RecordResolverMatch records which cascade stage resolved an item
func (m *Metrics) RecordResolverMatch(method string) {
	if m.ResolverMatchTotal != nil {
		m.ResolverMatchTotal.WithLabelValues(method).Inc()
	}
}

// RecordExtractionAttempt records one extraction collaborator call
func (m *Metrics) RecordExtractionAttempt(status string, seconds float64) {
	if m == nil {
		return
	}
	m.ExtractionAttemptsTotal.WithLabelValues(status).Inc()
	m.ExtractionDuration.WithLabelValues(status).Observe(seconds)
}

// RecordCacheAccess records a cache hit or miss
func (m *Metrics) RecordCacheAccess(cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(cacheType).Inc()
	} else {
		m.CacheMisses.WithLabelValues(cacheType).Inc()
	}
}
