package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handledRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decen_dht",
		Name:      "handled_requests_total",
		Help:      "Inbound requests handled, by message type.",
	}, []string{"type"})

	outboundRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decen_dht",
		Name:      "outbound_requests_total",
		Help:      "Outbound requests sent, by message type and result.",
	}, []string{"type", "result"})

	activeHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "decen_dht",
		Name:      "active_handlers",
		Help:      "Connections currently being handled.",
	})
)

const (
	resultOK      = "ok"
	resultRemote  = "remote_error"
	resultFailure = "failure"
)
