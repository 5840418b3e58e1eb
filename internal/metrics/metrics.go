// Package metrics holds the Prometheus instrumentation for the router core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidegate/tidegate/pkg/monitoring"
)

// Metrics holds every Prometheus metric the router core publishes.
type Metrics struct {
	ActiveQueues     *prometheus.GaugeVec
	TimelineRefcount *prometheus.GaugeVec
	BusCommands      *prometheus.CounterVec
	BusParseErrors   *prometheus.CounterVec
	BusReconnects    prometheus.Counter
	EventsDelivered  *prometheus.CounterVec
	PollLatency      *prometheus.HistogramVec
}

// New builds and registers the router's metrics under collector's service
// namespace.
func New(collector *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		ActiveQueues: collector.NewGauge(
			"active_client_queues",
			"Number of registered client queues",
			nil,
		),
		TimelineRefcount: collector.NewGauge(
			"timeline_refcount",
			"Current refcount for a subscribed timeline",
			[]string{"stream", "reach", "content"},
		),
		BusCommands: collector.NewCounter(
			"bus_commands_total",
			"SUBSCRIBE/UNSUBSCRIBE commands sent to the upstream bus",
			[]string{"op"},
		),
		BusParseErrors: collector.NewCounter(
			"bus_parse_errors_total",
			"Malformed frames dropped while decoding the bus stream",
			nil,
		),
		BusReconnects: collector.NewCounter(
			"bus_reconnects_total",
			"Times the bus connection was rebuilt after a failure streak",
			nil,
		).WithLabelValues(),
		EventsDelivered: collector.NewCounter(
			"events_delivered_total",
			"Events appended to a client queue",
			[]string{"stream"},
		),
		PollLatency: collector.NewHistogram(
			"poll_duration_seconds",
			"Time spent inside a single Router.Poll call",
			nil,
			nil,
		),
	}
}
