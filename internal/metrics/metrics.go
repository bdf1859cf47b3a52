// Package metrics exposes Prometheus collectors for the dossier crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchRetriesTotal          prometheus.Counter
	lastChanceTotal            *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	tasksInFlight              prometheus.Gauge
	rateLimitWaitSeconds       prometheus.Histogram
	storeFlushesTotal          *prometheus.CounterVec
	storeFlushDurationSeconds  prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_fetch_attempts_total",
				Help: "Network attempts made by the retrying fetcher, labeled by result kind.",
			},
			[]string{"result"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dossier_fetch_retries_total",
				Help: "Attempts that followed a retryable failure.",
			},
		)

		lastChanceTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_last_chance_total",
				Help: "Last-chance attempts on a recreated session, labeled by result.",
			},
			[]string{"result"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_records_total",
				Help: "Records produced, labeled by status.",
			},
			[]string{"status"},
		)

		tasksInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dossier_tasks_in_flight",
				Help: "Number of scheduler tasks currently running.",
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dossier_rate_limit_wait_seconds",
				Help:    "Histogram of global rate limiter waits.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		storeFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dossier_store_flushes_total",
				Help: "Store flushes, labeled by result.",
			},
			[]string{"result"},
		)

		storeFlushDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dossier_store_flush_duration_seconds",
				Help:    "Wall time of store merge flushes.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one network attempt. result is "ok" or a
// failure kind.
func ObserveFetchAttempt(result string, retry bool) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
	if retry {
		fetchRetriesTotal.Inc()
	}
}

// ObserveLastChance counts a last-chance attempt on a fresh session.
func ObserveLastChance(success bool) {
	Init()
	lastChanceTotal.WithLabelValues(resultLabel(success)).Inc()
}

// ObserveRecord counts a record handed to the store.
func ObserveRecord(success bool) {
	Init()
	status := "success"
	if !success {
		status = "failure"
	}
	recordsTotal.WithLabelValues(status).Inc()
}

// IncTasksInFlight increments the in-flight task gauge.
func IncTasksInFlight() {
	Init()
	tasksInFlight.Inc()
}

// DecTasksInFlight decrements the in-flight task gauge.
func DecTasksInFlight() {
	Init()
	tasksInFlight.Dec()
}

// ObserveRateLimitWait records the duration of a rate limiter wait.
func ObserveRateLimitWait(duration time.Duration) {
	Init()
	rateLimitWaitSeconds.Observe(duration.Seconds())
}

// ObserveFlush records one store flush.
func ObserveFlush(success bool, duration time.Duration) {
	Init()
	storeFlushesTotal.WithLabelValues(resultLabel(success)).Inc()
	storeFlushDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
