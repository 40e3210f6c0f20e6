// ABOUTME: Prometheus collectors for relay sessions, presence, messages and HTTP traffic
// ABOUTME: Registered on the default registry at package init via promauto

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmrelay_connections_active",
			Help: "Currently open websocket sessions",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmrelay_users_online",
			Help: "Distinct users with at least one open session",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_auth_failures_total",
			Help: "Rejected connection or request credentials",
		},
		[]string{"reason"}, // missing, invalid, expired, error
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmrelay_messages_sent_total",
			Help: "Messages persisted by the router",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_events_dropped_total",
			Help: "Outbound events dropped because a subscriber buffer was full",
		},
		[]string{"event"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dmrelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)
)
