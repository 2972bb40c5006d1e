// Package telemetry exposes Prometheus collectors for the monitor service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	monitorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_events_total",
			Help: "Total browsing events processed, labeled by pipeline outcome.",
		},
		[]string{"outcome"},
	)

	monitorThumbnailFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_thumbnail_fetch_total",
			Help: "Total thumbnail fetch attempts, labeled by quality and result.",
		},
		[]string{"quality", "result"},
	)

	monitorScorerSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_scorer_duration_seconds",
			Help:    "Histogram of image scorer call latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	monitorClassifierSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_classifier_duration_seconds",
			Help:    "Histogram of behavior classifier call latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	monitorAlertsDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_alerts_dispatch_total",
			Help: "Total alert delivery attempts, labeled by result.",
		},
		[]string{"result"},
	)

	monitorVisitsLabeledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_visits_labeled_total",
			Help: "Total visits persisted, labeled by final label.",
		},
		[]string{"label"},
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvent increments the pipeline outcome counter.
func ObserveEvent(outcome string) {
	monitorEventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveThumbnailFetch records one fetch attempt for a quality tier.
func ObserveThumbnailFetch(quality, result string) {
	monitorThumbnailFetchTotal.WithLabelValues(quality, result).Inc()
}

// ObserveScorer records the duration of an image scorer call.
func ObserveScorer(duration time.Duration) {
	monitorScorerSeconds.Observe(duration.Seconds())
}

// ObserveClassifier records the duration of a behavior classifier call.
func ObserveClassifier(duration time.Duration) {
	monitorClassifierSeconds.Observe(duration.Seconds())
}

// ObserveAlertDispatch increments the alert delivery counter.
func ObserveAlertDispatch(result string) {
	monitorAlertsDispatchTotal.WithLabelValues(result).Inc()
}

// ObserveVisitLabel increments the persisted-label counter.
func ObserveVisitLabel(label string) {
	monitorVisitsLabeledTotal.WithLabelValues(label).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
