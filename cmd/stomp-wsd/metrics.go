package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// daemonMetrics mirrors stomp-tcpd's series under a "wsd" subsystem so
// both daemons can be scraped from the same Prometheus target list
// without a name collision.
type daemonMetrics struct {
	connectedSessions prometheus.Gauge
	framesIn          prometheus.Counter
	framesDelivered   prometheus.Counter
	subscribeTotal    prometheus.Counter
	unsubscribeTotal  prometheus.Counter
}

func newDaemonMetrics(reg prometheus.Registerer) *daemonMetrics {
	factory := promauto.With(reg)
	return &daemonMetrics{
		connectedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stomp",
			Subsystem: "wsd",
			Name:      "connected_sessions",
			Help:      "Number of currently connected STOMP-over-WebSocket sessions.",
		}),
		framesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "wsd",
			Name:      "frames_in_total",
			Help:      "Total STOMP frames received from clients.",
		}),
		framesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "wsd",
			Name:      "frames_delivered_total",
			Help:      "Total MESSAGE frames fanned out to subscribers.",
		}),
		subscribeTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "wsd",
			Name:      "subscribe_total",
			Help:      "Total SUBSCRIBE frames processed.",
		}),
		unsubscribeTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "wsd",
			Name:      "unsubscribe_total",
			Help:      "Total UNSUBSCRIBE frames processed.",
		}),
	}
}
