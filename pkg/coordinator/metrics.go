package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "csremote"
	subsystem = "broker"

	channelChat   = "chat"
	channelSignal = "signaling"
)

var (
	socketsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "sockets_connected",
		Help: "Attached websockets by channel.",
	}, []string{"channel"})

	chatBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "chat_broadcasts_total",
		Help: "Accepted chat messages broadcast to a session.",
	})

	chatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "chat_evictions_total",
		Help: "Chat subscribers dropped after a failed send.",
	})

	chatRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "chat_rejected_total",
		Help: "Inbound chat frames not broadcast, by reason.",
	}, []string{"reason"})

	signalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "signals_total",
		Help: "Signaling frames by relay outcome.",
	}, []string{"outcome"})

	codesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "codes_issued_total",
		Help: "Access codes issued.",
	})

	codesRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "codes_redeemed_total",
		Help: "Access codes redeemed into a session.",
	})
)
