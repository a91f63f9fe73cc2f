// Package metrics holds the prometheus collectors shared by the cmore core.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmore_upstream_requests_total",
		Help: "Upstream API requests by logical endpoint and outcome",
	}, []string{
		"endpoint", // page|search|login|operators|playback_init|...
		"outcome",  // ok|auth_error|provider_error|transport_error|bad_status|decode_error
	})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cmore_upstream_request_duration_seconds",
		Help:    "Upstream API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	pageShapes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmore_page_shapes_total",
		Help: "Normalized catalog pages by detected shape",
	}, []string{"shape"})

	skippedAssets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmore_assets_skipped_total",
		Help: "Raw assets skipped during mapping because their type is unknown",
	}, []string{"type"})

	playbackOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmore_playback_requests_total",
		Help: "Playback resolutions by final state",
	}, []string{"state", "protocol"})

	relogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmore_relogin_total",
		Help: "Re-authenticate-and-retry cycles triggered by not-authenticated errors",
	}, []string{"result"})

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cmore_http_request_duration_seconds",
		Help:    "Facade HTTP request latency by route pattern and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveUpstream records one upstream request.
func ObserveUpstream(endpoint, outcome string, d time.Duration) {
	upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncPageShape counts a normalized page by shape.
func IncPageShape(shape string) {
	pageShapes.WithLabelValues(shape).Inc()
}

// IncSkippedAsset counts an asset dropped for an unknown type.
func IncSkippedAsset(typ string) {
	if typ == "" {
		typ = "none"
	}
	skippedAssets.WithLabelValues(typ).Inc()
}

// IncPlayback counts a finished playback request.
func IncPlayback(state, protocol string) {
	if protocol == "" {
		protocol = "unknown"
	}
	playbackOutcomes.WithLabelValues(state, protocol).Inc()
}

// IncRelogin counts a re-login cycle; result is "ok" or "failed".
func IncRelogin(result string) {
	relogins.WithLabelValues(result).Inc()
}

// ObserveHTTP records one facade request. route is the router pattern, not
// the raw path, to keep label cardinality bounded.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
