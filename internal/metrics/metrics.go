package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for sketchrelay.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ActiveConnections  prometheus.Gauge
	MessagesTotal      *prometheus.CounterVec
	BroadcastsTotal    *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	ActiveRooms        prometheus.Gauge
	RetainedOperations prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sketchrelay_connections_total",
			Help: "Total WebSocket connections handled",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sketchrelay_active_connections",
			Help: "Current active WebSocket connections",
		}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sketchrelay_messages_total",
			Help: "Total inbound messages by kind",
		}, []string{"kind"}),
		BroadcastsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sketchrelay_broadcast_sends_total",
			Help: "Total broadcast delivery attempts by result",
		}, []string{"result"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sketchrelay_errors_total",
			Help: "Total errors by type",
		}, []string{"type"}),
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sketchrelay_active_rooms",
			Help: "Rooms with at least one connected member",
		}),
		RetainedOperations: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sketchrelay_retained_operations",
			Help: "Drawing operations retained across all room histories",
		}),
	}
}
