// Package metrics exposes Prometheus collectors for catalog sync runs.
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
	productsTotal              *prometheus.CounterVec
	imageResultsTotal          *prometheus.CounterVec
	hostingAttemptsTotal       *prometheus.CounterVec
	sinkWritesTotal            *prometheus.CounterVec
	crawlPagesTotal            *prometheus.CounterVec
	crawlLinksTotal            prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; the
// Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		productsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_products_total",
				Help: "Products handled by the orchestrator, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		imageResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_image_results_total",
				Help: "Image pipeline results, labeled by result.",
			},
			[]string{"result"},
		)

		hostingAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_hosting_attempts_total",
				Help: "Image hosting API calls, labeled by upload mode and result.",
			},
			[]string{"mode", "result"},
		)

		sinkWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_sink_writes_total",
				Help: "Spreadsheet upserts, labeled by write result.",
			},
			[]string{"result"},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_crawl_pages_total",
				Help: "Category and product pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlLinksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalogsync_crawl_product_links_total",
				Help: "Unique product links discovered on category pages.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalogsync_rate_limit_delay_seconds",
				Help:    "Histogram of pacing waits between navigations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogsync_http_requests_total",
				Help: "Requests served by the status listener, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalogsync_http_request_duration_seconds",
				Help:    "Latency of the status listener, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname, or "unknown".
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

// ObserveProduct counts an orchestrator outcome (inserted, updated, skipped,
// resumed, unchanged, failed).
func ObserveProduct(outcome string) {
	Init()
	productsTotal.WithLabelValues(outcome).Inc()
}

// ObserveImageResult counts an image pipeline result.
func ObserveImageResult(result string) {
	Init()
	imageResultsTotal.WithLabelValues(result).Inc()
}

// ObserveHostingAttempt counts one hosting API call.
func ObserveHostingAttempt(mode, result string) {
	Init()
	hostingAttemptsTotal.WithLabelValues(mode, result).Inc()
}

// ObserveSinkWrite counts a spreadsheet upsert result.
func ObserveSinkWrite(result string) {
	Init()
	sinkWritesTotal.WithLabelValues(result).Inc()
}

// ObserveCrawlPage counts a fetched page.
func ObserveCrawlPage(site, status string) {
	Init()
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// AddProductLinks counts newly discovered unique product links.
func AddProductLinks(n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlLinksTotal.Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a request served by the status listener.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
