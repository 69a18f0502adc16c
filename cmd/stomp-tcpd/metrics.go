package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// daemonMetrics are the Prometheus series stomp-tcpd exposes on
// Config.MetricsAddr. They describe the engine's traffic from the
// outside; the engine packages themselves never import prometheus.
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
			Subsystem: "tcpd",
			Name:      "connected_sessions",
			Help:      "Number of currently connected STOMP sessions.",
		}),
		framesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "tcpd",
			Name:      "frames_in_total",
			Help:      "Total STOMP frames received from clients.",
		}),
		framesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "tcpd",
			Name:      "frames_delivered_total",
			Help:      "Total MESSAGE frames fanned out to subscribers.",
		}),
		subscribeTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "tcpd",
			Name:      "subscribe_total",
			Help:      "Total SUBSCRIBE frames processed.",
		}),
		unsubscribeTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Subsystem: "tcpd",
			Name:      "unsubscribe_total",
			Help:      "Total UNSUBSCRIBE frames processed.",
		}),
	}
}
