package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Сессии
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_sessions",
			Help: "Currently open WebSocket sessions",
		},
		[]string{"mode"},
	)

	HandshakeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_handshake_failures_total",
			Help: "Rejected WebSocket handshakes",
		},
		[]string{"reason"},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_sessions_closed_total",
			Help: "Closed WebSocket sessions",
		},
		[]string{"reason"},
	)

	UnknownEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_unknown_events_total",
			Help: "Inbound client events with an unknown or malformed type",
		},
	)

	// Сообщения и рассылка
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Persisted chat messages",
		},
		[]string{"chat_type"},
	)

	FanoutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_failures_total",
			Help: "Failed publishes to the channel layer",
		},
		[]string{"event"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
