// README: Prometheus collectors for HTTP traffic and walk lifecycle activity.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wander"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Location samples by outcome"},
		[]string{"result"},
	)
	SessionsFinalized = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sessions_finalized_total", Help: "Sessions moved to payment pending"})
	Settlements       = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "settlements_total", Help: "Settlement records by status"},
		[]string{"status"},
	)
	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_delivered_total", Help: "Push deliveries by outcome"},
		[]string{"status"},
	)
	WalkersNotified = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "walkers_notified_total", Help: "Walkers notified about nearby requests"})
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "live_connections", Help: "Open live session sockets"})
)
