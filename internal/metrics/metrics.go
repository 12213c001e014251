// Package metrics exposes Prometheus collectors for the issue crawler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuecrawler_search_pages_total",
			Help: "Total number of search pages requested, labeled by outcome.",
		},
		[]string{"status"},
	)

	issuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuecrawler_issues_total",
			Help: "Total number of issues processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	detailInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "issuecrawler_detail_inflight",
			Help: "Number of detail fetches currently in flight.",
		},
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "issuecrawler_request_duration_seconds",
			Help:    "Histogram of tracker request latencies, labeled by stage.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"stage"},
	)

	checkpointSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuecrawler_checkpoint_saves_total",
			Help: "Total number of checkpoint saves, labeled by outcome.",
		},
		[]string{"status"},
	)

	checkpointOffset = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "issuecrawler_checkpoint_offset",
			Help: "Last persisted search offset.",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuecrawler_runs_total",
			Help: "Total number of crawl runs, labeled by terminal state.",
		},
		[]string{"state"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "issuecrawler_ratelimit_delay_seconds",
			Help:    "Time spent waiting for a request token, labeled by host.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuecrawler_http_requests_total",
			Help: "Total number of ops HTTP requests, labeled by method, route and code.",
		},
		[]string{"method", "route", "code"},
	)
)

// Issue outcomes.
const (
	OutcomeEmitted = "emitted"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSearchPage counts a search page request.
func ObserveSearchPage(status string) {
	searchPagesTotal.WithLabelValues(status).Inc()
}

// ObserveIssue counts one issue outcome.
func ObserveIssue(outcome string) {
	issuesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest records the latency of a tracker request.
func ObserveRequest(stage string, duration time.Duration) {
	requestDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncDetailInflight increments the in-flight detail gauge.
func IncDetailInflight() {
	detailInflight.Inc()
}

// DecDetailInflight decrements the in-flight detail gauge.
func DecDetailInflight() {
	detailInflight.Dec()
}

// ObserveCheckpointSave records a checkpoint save and, on success, the offset.
func ObserveCheckpointSave(offset int, err error) {
	if err != nil {
		checkpointSavesTotal.WithLabelValues("error").Inc()
		return
	}
	checkpointSavesTotal.WithLabelValues("ok").Inc()
	checkpointOffset.Set(float64(offset))
}

// ObserveRun counts a finished run by terminal state.
func ObserveRun(state string) {
	runsTotal.WithLabelValues(state).Inc()
}

// ObserveRateLimitDelay records how long a request waited for its token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest counts an ops HTTP request.
func ObserveHTTPRequest(method, route string, code int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
