// Package server exposes Prometheus instrumentation for the relay.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "WebSocket connections currently registered in a room.",
	})

	framesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_relayed_total",
		Help: "Frames handed to the broadcast engine, by frame type.",
	}, []string{"type"})

	broadcastEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcast_evictions_total",
		Help: "Recipients evicted from a room after a failed delivery.",
	})

	moderationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_moderation_failures_total",
		Help: "Chat messages relayed with the unavailable verdict because the classifier failed.",
	})

	moderationFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_moderation_flagged_total",
		Help: "Chat messages whose verdict exceeded the flag threshold.",
	})
)

// MetricsHandler exposes the Prometheus registry for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
