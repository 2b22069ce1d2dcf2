package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ephemera_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Presence
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemera_connected_users",
			Help: "Connections with a registered display name",
		},
	)

	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemera_open_connections",
			Help: "Open websocket connections",
		},
	)

	// Delivery
	SendOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_send_outcomes_total",
			Help: "Send requests by outcome",
		},
		[]string{"outcome"}, // "delivered", "blocked", "unavailable", "dropped", "invalid"
	)

	ProgressRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ephemera_upload_progress_relayed_total",
			Help: "Upload progress records forwarded to a peer",
		},
	)

	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_dropped_events_total",
			Help: "Inbound or outbound events dropped",
		},
		[]string{"reason"},
	)

	// Lifecycle
	StoredMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemera_stored_messages",
			Help: "Messages currently awaiting expiry",
		},
	)

	ExpiredMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_expired_messages_total",
			Help: "Messages evicted",
		},
		[]string{"trigger"}, // "timer" or "sweep"
	)

	// Safety
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_remote_scans_total",
			Help: "Remote scan calls by type and result",
		},
		[]string{"type", "result"}, // result: "safe", "unsafe", "error", "cached"
	)

	ScanLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ephemera_remote_scan_latency_seconds",
			Help:    "Remote scan latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"type"},
	)

	PatternHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_pattern_hits_total",
			Help: "Local denylist matches by token",
		},
		[]string{"token"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemera_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ephemera_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
