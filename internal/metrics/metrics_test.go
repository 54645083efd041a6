package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBroadcast(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBroadcast("channel", "MessageReceived", 3, 1, 2*time.Millisecond)
	m.ObserveBroadcast("channel", "MessageReceived", 2, 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("channel", "MessageReceived")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SendsTotal.WithLabelValues("MessageReceived", OutcomeDelivered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendsTotal.WithLabelValues("MessageReceived", OutcomeFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BroadcastDuration))
}

func TestConnections(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	expected := `
		# HELP realtime_gateway_active_connections Number of live WebSocket connections.
		# TYPE realtime_gateway_active_connections gauge
		realtime_gateway_active_connections 1
	`
	assert.NoError(t, testutil.CollectAndCompare(m.ActiveConnections, strings.NewReader(expected)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.ObserveBroadcast("user", "Pong", 1, 0, 0)
		m.PresenceChanged("online")
		m.Relay("published")
		m.Command("http", "accepted")
	})
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
