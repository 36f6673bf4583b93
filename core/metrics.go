package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection and event-flow metrics, exported on the /metrics endpoint.
var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_ws_connections",
		Help: "Number of authenticated websocket connections",
	})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_events_received_total",
		Help: "Inbound protocol events by type",
	}, []string{"type"})

	eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_events_sent_total",
		Help: "Outbound protocol events by type",
	}, []string{"type"})
)
