// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "realtime_gateway"

// Send outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// ActiveConnections is the number of live WebSocket connections on this instance.
	ActiveConnections prometheus.Gauge

	// ConnectionsTotal counts accepted connections.
	ConnectionsTotal prometheus.Counter

	// BroadcastsTotal counts broadcast calls.
	// Labels: scope (channel|workspace|user), event
	BroadcastsTotal *prometheus.CounterVec

	// SendsTotal counts per-connection sends.
	// Labels: event, outcome (delivered|failed)
	SendsTotal *prometheus.CounterVec

	// BroadcastDuration measures fan-out latency in seconds.
	// Labels: scope
	BroadcastDuration *prometheus.HistogramVec

	// PresenceTransitions counts emitted presence changes.
	// Labels: status
	PresenceTransitions *prometheus.CounterVec

	// RelayMessages counts relay traffic between instances.
	// Labels: direction (published|received|dropped)
	RelayMessages *prometheus.CounterVec

	// CommandsTotal counts notification commands from the CRUD layer.
	// Labels: source (http|kafka), outcome (accepted|rejected)
	CommandsTotal *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of live WebSocket connections.",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections.",
		}),
		BroadcastsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total broadcast calls by scope and event.",
		}, []string{"scope", "event"}),
		SendsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Per-connection sends by event and outcome.",
		}, []string{"event", "outcome"}),
		BroadcastDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan out one broadcast.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"scope"}),
		PresenceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_transitions_total",
			Help:      "Presence changes emitted by status.",
		}, []string{"status"}),
		RelayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Relay messages between gateway instances.",
		}, []string{"direction"}),
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Notification commands received from the CRUD layer.",
		}, []string{"source", "outcome"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// ObserveBroadcast records one finished broadcast.
func (m *Metrics) ObserveBroadcast(scope, event string, delivered, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(scope, event).Inc()
	m.SendsTotal.WithLabelValues(event, OutcomeDelivered).Add(float64(delivered))
	m.SendsTotal.WithLabelValues(event, OutcomeFailed).Add(float64(failed))
	m.BroadcastDuration.WithLabelValues(scope).Observe(elapsed.Seconds())
}

func (m *Metrics) PresenceChanged(status string) {
	if m == nil {
		return
	}
	m.PresenceTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Relay(direction string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) Command(source, outcome string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(source, outcome).Inc()
}
