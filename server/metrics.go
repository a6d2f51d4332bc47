package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mess_connected_clients",
		Help: "Open client connections, authenticated or not.",
	})

	onlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mess_online_users",
		Help: "Users currently logged in.",
	})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mess_commands_total",
		Help: "Dispatched commands by command code.",
	}, []string{"cmd"})

	messagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mess_messages_delivered_total",
		Help: "Messages forwarded to online recipients, by delivery kind.",
	}, []string{"kind"})

	presenceFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mess_presence_fanout_size",
		Help:    "Online friends notified per presence change.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)
