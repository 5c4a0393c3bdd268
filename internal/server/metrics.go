package server

import "github.com/prometheus/client_golang/prometheus"

var (
	relayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	relayRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_rooms",
			Help: "Current number of rooms with at least one member.",
		},
	)
	relayEventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_events_delivered_total",
			Help: "Total events delivered to clients.",
		},
	)
	relayUploads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_uploads_total",
			Help: "Total files accepted by the upload endpoint.",
		},
	)
)

func init() {
	prometheus.MustRegister(relayConnections, relayRooms, relayEventsDelivered, relayUploads)
}

func incConnections() {
	relayConnections.Inc()
}

func decConnections() {
	relayConnections.Dec()
}

func setRooms(count int) {
	relayRooms.Set(float64(count))
}

func addDelivered(count int) {
	relayEventsDelivered.Add(float64(count))
}

func incUploads() {
	relayUploads.Inc()
}
