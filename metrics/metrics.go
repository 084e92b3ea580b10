package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_connections_total",
			Help: "Total accepted TCP connections",
		},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_connections_active",
			Help: "Currently open connections",
		},
	)

	RegistrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_registrations_total",
			Help: "Total successful registrations",
		},
	)

	LoginsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_logins_total",
			Help: "Total successful logins",
		},
	)

	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_messages_delivered_total",
			Help: "Messages delivered to live connections",
		},
		[]string{"kind"}, // "direct" or "group"
	)

	MessagesQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_messages_queued_total",
			Help: "Direct messages persisted for offline receivers",
		},
	)

	MessagesDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_messages_drained_total",
			Help: "Offline messages delivered at login",
		},
	)
)
