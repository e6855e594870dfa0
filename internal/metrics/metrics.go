// Package metrics exposes Prometheus collectors for the monitoring service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	monitorFetchesTotal           *prometheus.CounterVec
	monitorFetchBytesTotal        *prometheus.CounterVec
	monitorJobsTotal              *prometheus.CounterVec
	monitorJobAttemptsTotal       *prometheus.CounterVec
	monitorSchedulerTicksTotal    *prometheus.CounterVec
	monitorHashGateTotal          *prometheus.CounterVec
	monitorAICallsTotal           *prometheus.CounterVec
	monitorNotificationsTotal     *prometheus.CounterVec
	monitorDeadLettersTotal       prometheus.Counter
	monitorActiveWorkers          prometheus.Gauge
	monitorQueueDepth             prometheus.Gauge
	monitorRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		monitorFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetches_total",
				Help: "Total number of source fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		monitorFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		monitorJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_jobs_total",
				Help: "Total number of scrape jobs reaching a terminal status.",
			},
			[]string{"status"},
		)

		monitorJobAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_job_attempts_total",
				Help: "Total job attempts, labeled by outcome (success, retry, dead_letter).",
			},
			[]string{"outcome"},
		)

		monitorSchedulerTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_scheduler_ticks_total",
				Help: "Total scheduler ticks, labeled by result (dispatched, skipped, error).",
			},
			[]string{"result"},
		)

		monitorHashGateTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_hash_gate_total",
				Help: "Content hash gate decisions (unchanged, changed).",
			},
			[]string{"result"},
		)

		monitorAICallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_ai_calls_total",
				Help: "AI model calls, labeled by kind (extract, diff) and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		monitorNotificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_notifications_total",
				Help: "Notifications processed, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		monitorDeadLettersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_dead_letters_total",
				Help: "Total jobs pushed to the dead letter queue.",
			},
		)

		monitorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		monitorQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_queue_depth",
				Help: "Number of scrape jobs currently buffered in the work queue.",
			},
		)

		monitorRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_rate_limit_delays_seconds",
				Help:    "Histogram of per-origin rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	monitorFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		monitorFetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveJob increments the terminal job counter for the given status.
func ObserveJob(status string) {
	monitorJobsTotal.WithLabelValues(status).Inc()
}

// ObserveJobAttempt increments the attempt counter for the given outcome.
func ObserveJobAttempt(outcome string) {
	monitorJobAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSchedulerTick increments the scheduler tick counter.
func ObserveSchedulerTick(result string) {
	monitorSchedulerTicksTotal.WithLabelValues(result).Inc()
}

// ObserveHashGate records whether the content hash short-circuited the pipeline.
func ObserveHashGate(result string) {
	monitorHashGateTotal.WithLabelValues(result).Inc()
}

// ObserveAICall increments the AI call counter.
func ObserveAICall(kind, outcome string) {
	monitorAICallsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveNotification increments the notification counter.
func ObserveNotification(notificationType, status string) {
	monitorNotificationsTotal.WithLabelValues(notificationType, status).Inc()
}

// ObserveDeadLetter increments the dead letter counter.
func ObserveDeadLetter() {
	monitorDeadLettersTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	monitorActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	monitorActiveWorkers.Dec()
}

// SetQueueDepth records the number of jobs buffered in the work queue.
func SetQueueDepth(depth int) {
	monitorQueueDepth.Set(float64(depth))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	monitorRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
