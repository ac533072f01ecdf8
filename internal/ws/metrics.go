package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Current number of websocket connections registered in a room.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_rooms",
			Help: "Current number of room registry entries.",
		},
	)
	messagesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_messages_published_total",
			Help: "Total room broadcasts that reached at least one subscriber.",
		},
	)
	messagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_messages_delivered_total",
			Help: "Total room broadcasts written to a client connection.",
		},
	)
	messagesLagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_messages_lagged_total",
			Help: "Total room broadcasts skipped by subscribers that fell behind.",
		},
	)
	kicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_kicks_total",
			Help: "Total connections closed by a kick.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, messagesPublished, messagesDelivered, messagesLagged, kicks)
}
