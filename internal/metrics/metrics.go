// Package metrics exposes Prometheus collectors for the extraction pipelines.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shard outcome labels.
const (
	StatusSucceeded = "succeeded"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

var (
	shardsTotal                *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	malformedRecordsTotal      *prometheus.CounterVec
	domainsTotal               *prometheus.CounterVec
	shardDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		shardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccextract_shards_total",
				Help: "Total number of shards handled, labeled by pipeline and outcome.",
			},
			[]string{"pipeline", "status"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccextract_records_total",
				Help: "Total number of rows extracted, labeled by pipeline.",
			},
			[]string{"pipeline"},
		)

		malformedRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccextract_malformed_records_total",
				Help: "Total number of archive records skipped as malformed, labeled by pipeline.",
			},
			[]string{"pipeline"},
		)

		domainsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccextract_domains_total",
				Help: "Metadata rows per top-level domain label.",
			},
			[]string{"domain"},
		)

		shardDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccextract_shard_duration_seconds",
				Help:    "Wall time spent per shard, labeled by pipeline.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"pipeline"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ccextract_active_workers",
				Help: "Number of workers currently processing a shard.",
			},
		)
	})
}

// SanitizeDomain normalizes a domain label for use as a metric label.
// It returns "unknown" for empty or non-alphanumeric labels.
func SanitizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || len(domain) > 63 {
		return "unknown"
	}
	for _, r := range domain {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return "unknown"
		}
	}
	return domain
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveShard records a shard outcome and its duration.
func ObserveShard(pipeline, status string, duration time.Duration) {
	Init()
	shardsTotal.WithLabelValues(pipeline, status).Inc()
	if status != StatusSkipped {
		shardDurationSeconds.WithLabelValues(pipeline).Observe(duration.Seconds())
	}
}

// ObserveRecords adds extracted and malformed record counts for a shard.
func ObserveRecords(pipeline string, rows, malformed int) {
	Init()
	if rows > 0 {
		recordsTotal.WithLabelValues(pipeline).Add(float64(rows))
	}
	if malformed > 0 {
		malformedRecordsTotal.WithLabelValues(pipeline).Add(float64(malformed))
	}
}

// ObserveDomain counts one metadata row for its top-level label.
func ObserveDomain(domain string) {
	Init()
	domainsTotal.WithLabelValues(SanitizeDomain(domain)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
