package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmitted counts lifecycle events written to a live connection.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_emitted_total",
		Help: "Lifecycle events delivered to a live connection, by event name.",
	}, []string{"event"})

	// EventsDropped counts events addressed to users with no live
	// connection. Drops are expected, not errors.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_dropped_total",
		Help: "Lifecycle events dropped because the target was offline.",
	}, []string{"event"})

	// Connections tracks live websocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections",
		Help: "Currently registered realtime connections.",
	})
)
