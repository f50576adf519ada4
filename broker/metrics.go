package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coordinator's prometheus instrumentation. A nil
// *Metrics (the Config default) disables instrumentation; NewMetrics
// always returns a usable value registered against reg (pass
// prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer for the global registry).
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	ConnectFailures    *prometheus.CounterVec
	PublishesTotal     *prometheus.CounterVec
	BytesReceived      prometheus.Counter
	BytesSent          prometheus.Counter
	SubscriptionsTotal prometheus.Gauge
	RetainedTotal      prometheus.Gauge
}

// NewMetrics registers the coordinator's collectors against reg. A nil reg
// leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "connections_total",
			Help:      "Total connections accepted by the coordinator.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "connections_active",
			Help:      "Connections currently being served.",
		}),
		ConnectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "connect_failures_total",
			Help:      "CONNECT attempts rejected, labeled by reason.",
		}, []string{"reason"}),
		PublishesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "PUBLISH packets processed, labeled by qos.",
		}, []string{"qos"}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "bytes_received_total",
			Help:      "Payload bytes received across all publishes.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes fanned out across all deliveries.",
		}),
		SubscriptionsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "subscriptions_active",
			Help:      "Active subscriptions across all sessions.",
		}),
		RetainedTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqttframe",
			Subsystem: "broker",
			Name:      "retained_messages",
			Help:      "Retained messages currently stored.",
		}),
	}
}
