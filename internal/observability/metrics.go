package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequests counts API requests by method, route and status class.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopline_gateway_requests_total",
		Help: "Total number of API requests issued by the gateway",
	}, []string{"method", "route", "status"})

	// GatewayLatency records API request latency by method and route.
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loopline_gateway_request_latency_seconds",
		Help:    "API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// SessionLogouts counts session purges by reason.
	SessionLogouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopline_session_logouts_total",
		Help: "Total number of session purges by reason",
	}, []string{"reason"})

	// LiveFrames counts dispatched push frames by event type.
	LiveFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopline_live_frames_total",
		Help: "Total number of push frames dispatched",
	}, []string{"event_type"})

	// LiveFramesDropped counts discarded push frames by reason.
	LiveFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopline_live_frames_dropped_total",
		Help: "Total number of push frames discarded",
	}, []string{"reason"})

	// LiveConnectionState is 0 disconnected, 1 connecting, 2 connected.
	LiveConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loopline_live_connection_state",
		Help: "Current live channel state",
	})

	// CacheEntities is the number of entities held by the entity cache.
	CacheEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loopline_cache_entities",
		Help: "Number of entities in the entity cache",
	})

	// StaleUpdatesDropped counts responses discarded because newer local state existed.
	StaleUpdatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopline_stale_updates_dropped_total",
		Help: "Total number of stale updates discarded",
	}, []string{"entity"})

	// HubConnections is the number of devserver push connections.
	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loopline_devserver_hub_connections",
		Help: "Number of active devserver push connections",
	})

	// HubBackpressureDrops counts devserver push messages dropped due to backpressure.
	HubBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loopline_devserver_backpressure_drops_total",
		Help: "Total number of push messages dropped due to backpressure",
	}, []string{"reason"})
)

// StatusClass collapses an HTTP status into a low-cardinality label.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status == 401:
		return "401"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// TrackRequest returns a function that records request metrics when called (e.g. defer).
func TrackRequest(method, route string) func(status int) {
	start := time.Now()
	return func(status int) {
		GatewayLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		GatewayRequests.WithLabelValues(method, route, StatusClass(status)).Inc()
	}
}
