// Package metrics exposes Prometheus collectors for the targeted crawl engine.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes recorded by ObservePage.
const (
	PageOK         = "ok"
	PageFetchError = "fetch_error"
	PageEmpty      = "empty"
)

var (
	pagesTotal             *prometheus.CounterVec
	pageFetchSeconds       prometheus.Histogram
	matchesTotal           prometheus.Counter
	duplicateMatchesTotal  prometheus.Counter
	extractWarningsTotal   prometheus.Counter
	workerCrashesTotal     prometheus.Counter
	fetchRetriesTotal      prometheus.Counter
	passesTotal            *prometheus.CounterVec
	activeWorkers          prometheus.Gauge
	rateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fcw_pages_total",
				Help: "Listing pages visited, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pageFetchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fcw_page_fetch_duration_seconds",
				Help:    "Histogram of listing page fetch latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		matchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fcw_matches_total",
				Help: "Targets found (first detection only).",
			},
		)

		duplicateMatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fcw_duplicate_matches_total",
				Help: "Target detections discarded because another worker found the target first.",
			},
		)

		extractWarningsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fcw_extract_warnings_total",
				Help: "Matched entries emitted with partial metadata.",
			},
		)

		workerCrashesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fcw_worker_crashes_total",
				Help: "Workers that ended on an unexpected fetch-layer failure.",
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fcw_fetch_retries_total",
				Help: "Listing page fetch retries.",
			},
		)

		passesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fcw_passes_total",
				Help: "Completed crawl passes, labeled by the state evaluated after the pass.",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fcw_active_workers",
				Help: "Number of workers currently scanning an assignment.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fcw_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fcw_http_requests_total",
				Help: "Requests served by the metrics endpoint, labeled by route and status code.",
			},
			[]string{"route", "code"},
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

// Router returns a chi router serving /metrics and /healthz.
func Router() http.Handler {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// ObservePage records one visited listing page.
func ObservePage(outcome string, duration time.Duration) {
	Init()
	pagesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		pageFetchSeconds.Observe(duration.Seconds())
	}
}

// ObserveMatch records a first detection.
func ObserveMatch() {
	Init()
	matchesTotal.Inc()
}

// ObserveDuplicateMatch records a discarded detection.
func ObserveDuplicateMatch() {
	Init()
	duplicateMatchesTotal.Inc()
}

// ObserveExtractWarning records a partial metadata record.
func ObserveExtractWarning() {
	Init()
	extractWarningsTotal.Inc()
}

// ObserveWorkerCrash records a crashed worker.
func ObserveWorkerCrash() {
	Init()
	workerCrashesTotal.Inc()
}

// ObserveFetchRetry records a page fetch retry.
func ObserveFetchRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObservePass records a completed pass and the state it evaluated to.
func ObservePass(state string) {
	Init()
	passesTotal.WithLabelValues(state).Inc()
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
