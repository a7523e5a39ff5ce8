// Package metrics provides Prometheus metrics for the PriceWise service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileOutcomesTotal tracks per-product reconciliation outcomes by kind
	ReconcileOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewise",
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Total number of per-product reconciliation outcomes by kind",
		},
		[]string{"kind"},
	)

	// ReconcileDuration tracks how long one product's reconciliation takes
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pricewise",
			Subsystem: "reconcile",
			Name:      "product_duration_seconds",
			Help:      "Duration of a single product reconciliation in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// PassesTotal tracks reconciliation passes by result
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewise",
			Subsystem: "scheduler",
			Name:      "passes_total",
			Help:      "Total number of reconciliation passes by result",
		},
		[]string{"result"},
	)

	// PassDuration tracks reconciliation pass duration in seconds
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pricewise",
			Subsystem: "scheduler",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// PassProducts tracks products seen by the last pass
	PassProducts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pricewise",
			Subsystem: "scheduler",
			Name:      "last_pass_products",
			Help:      "Products per outcome bucket in the most recent pass",
		},
		[]string{"bucket"},
	)

	// SearchRequestsTotal tracks provider searches by result
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewise",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of provider searches by result",
		},
		[]string{"result"},
	)

	// SearchRetriesTotal tracks retried provider searches
	SearchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pricewise",
			Subsystem: "search",
			Name:      "retries_total",
			Help:      "Total number of retried provider searches",
		},
	)

	// RateLimitWaitTime tracks time spent waiting on the provider rate limit
	RateLimitWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pricewise",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the provider rate limit in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewise",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricewise",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// APIRequestsTotal tracks inbound API requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewise",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of inbound API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// APIRequestDuration tracks inbound API request duration
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricewise",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewise",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pricewise",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricewise",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordOutcome records a per-product reconciliation outcome
func RecordOutcome(kind string, durationSeconds float64) {
	ReconcileOutcomesTotal.WithLabelValues(kind).Inc()
	ReconcileDuration.Observe(durationSeconds)
}

// RecordPass records a finished pass and its bucket counts
func RecordPass(result string, durationSeconds float64, buckets map[string]int) {
	PassesTotal.WithLabelValues(result).Inc()
	PassDuration.Observe(durationSeconds)
	for bucket, n := range buckets {
		PassProducts.WithLabelValues(bucket).Set(float64(n))
	}
}

// RecordSkippedPass records a pass that was skipped because another was running
func RecordSkippedPass() {
	PassesTotal.WithLabelValues("skipped").Inc()
}

// RecordSearch records a provider search result
func RecordSearch(result string) {
	SearchRequestsTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordAPIRequest records an inbound API request metric
func RecordAPIRequest(method, route, statusCode string, durationSeconds float64) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordDatabaseQuery records a database query duration
func RecordDatabaseQuery(operation string, durationSeconds float64) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}
