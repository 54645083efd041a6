package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teamhub/realtime-gateway/internal/broadcast"
	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/pkg/pubsub"
)

// memoryBus is an in-process pubsub.PubSub shared by several relays.
type memoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan *pubsub.Event
	failFirst int
	attempts  int
}

func newMemoryBus() *memoryBus {
	return &memoryBus{subs: make(map[string][]chan *pubsub.Event)}
}

func (b *memoryBus) Publish(_ context.Context, channel string, ev *pubsub.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		var copied pubsub.Event
		if err := json.Unmarshal(data, &copied); err != nil {
			return err
		}
		ch <- &copied
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, channel string) (<-chan *pubsub.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.attempts <= b.failFirst {
		return nil, errors.New("connection refused")
	}
	ch := make(chan *pubsub.Event, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *memoryBus) Unsubscribe(context.Context, string) error { return nil }
func (b *memoryBus) Close() error                              { return nil }

func (b *memoryBus) subscribed(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) DeliverLocal(ctx context.Context, group string, ev domain.Event) (broadcast.Report, error) {
	args := m.Called(ctx, group, ev)
	return args.Get(0).(broadcast.Report), args.Error(1)
}

func startRelay(t *testing.T, r *Relay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
}

func TestRelayDeliversToOtherInstances(t *testing.T) {
	bus := newMemoryBus()

	remote := &mockDeliverer{}
	received := make(chan domain.Event, 1)
	remote.On("DeliverLocal", mock.Anything, "channel:c1", mock.Anything).
		Run(func(args mock.Arguments) { received <- args.Get(2).(domain.Event) }).
		Return(broadcast.Report{}, nil)

	origin := &mockDeliverer{}

	a := New(bus, origin, nil, Config{InstanceID: "gw-a"})
	b := New(bus, remote, nil, Config{InstanceID: "gw-b"})
	startRelay(t, a)
	startRelay(t, b)
	require.Eventually(t, func() bool { return bus.subscribed(pubsub.ChannelRelay) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Publish(context.Background(), "channel:c1", &domain.MessageDeleted{MessageID: "m1", ChannelID: "c1"}))

	select {
	case ev := <-received:
		assert.Equal(t, &domain.MessageDeleted{MessageID: "m1", ChannelID: "c1"}, ev)
	case <-time.After(time.Second):
		t.Fatal("event was not relayed")
	}
	origin.AssertNotCalled(t, "DeliverLocal", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayDropsUnknownEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	local := &mockDeliverer{}
	r := New(newMemoryBus(), local, m, Config{InstanceID: "gw-a"})

	r.handle(context.Background(), &pubsub.Event{Type: "Bogus", Group: "channel:c1", Origin: "gw-b"})
	r.handle(context.Background(), nil)

	local.AssertNotCalled(t, "DeliverLocal", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayMessages.WithLabelValues(directionDropped)))
}

func TestRelayResubscribesAfterFailure(t *testing.T) {
	bus := newMemoryBus()
	bus.failFirst = 2
	local := &mockDeliverer{}
	r := New(bus, local, nil, Config{InstanceID: "gw-a", RetryInterval: 10 * time.Millisecond})
	startRelay(t, r)

	assert.Eventually(t, func() bool { return bus.subscribed(pubsub.ChannelRelay) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRelayPublishCountsMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := New(newMemoryBus(), &mockDeliverer{}, m, Config{Channel: "custom:relay", InstanceID: "gw-a"})

	require.NoError(t, r.Publish(context.Background(), "user:u1", &domain.UserMessage{Kind: "mention"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayMessages.WithLabelValues(directionPublished)))
}
