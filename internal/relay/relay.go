// Package relay bridges notifications between gateway instances over the event bus.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/teamhub/realtime-gateway/internal/broadcast"
	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/pkg/log"
	"github.com/teamhub/realtime-gateway/pkg/pubsub"
)

const (
	directionPublished = "published"
	directionReceived  = "received"
	directionDropped   = "dropped"
)

// LocalDeliverer broadcasts a relayed event to this instance's connections only.
type LocalDeliverer interface {
	DeliverLocal(ctx context.Context, group string, ev domain.Event) (broadcast.Report, error)
}

type Config struct {
	Channel    string
	InstanceID string
	// RetryInterval is the wait before resubscribing after the subscription ended.
	RetryInterval time.Duration
}

type Relay struct {
	bus     pubsub.PubSub
	local   LocalDeliverer
	metrics *metrics.Metrics
	config  Config
	doneCh  chan struct{}
}

// New creates a relay. m may be nil.
func New(bus pubsub.PubSub, local LocalDeliverer, m *metrics.Metrics, cfg Config) *Relay {
	if cfg.Channel == "" {
		cfg.Channel = pubsub.ChannelRelay
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &Relay{
		bus:     bus,
		local:   local,
		metrics: m,
		config:  cfg,
		doneCh:  make(chan struct{}),
	}
}

// Publish sends ev to the other instances.
func (r *Relay) Publish(ctx context.Context, group string, ev domain.Event) error {
	msg, err := pubsub.NewEvent(ev.EventName(), group, r.config.InstanceID, ev)
	if err != nil {
		return fmt.Errorf("relay %s: %w", ev.EventName(), err)
	}
	if err := r.bus.Publish(ctx, r.config.Channel, msg); err != nil {
		return fmt.Errorf("relay %s to %s: %w", ev.EventName(), group, err)
	}
	r.metrics.Relay(directionPublished)
	return nil
}

// Done returns a channel that is closed when Run exits.
func (r *Relay) Done() <-chan struct{} { return r.doneCh }

// Run delivers events published by other instances until ctx is done.
// It resubscribes when the subscription fails or ends.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.doneCh)
	l := log.L().With().Str("channel", r.config.Channel).Logger()

	for {
		err := r.runSubscription(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.Warn().Err(err).Dur("retry_in", r.config.RetryInterval).Msg("relay subscription error, reconnecting")
		} else {
			l.Warn().Dur("retry_in", r.config.RetryInterval).Msg("relay subscription closed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.config.RetryInterval):
		}
	}
}

func (r *Relay) runSubscription(ctx context.Context) error {
	events, err := r.bus.Subscribe(ctx, r.config.Channel)
	if err != nil {
		return err
	}
	defer r.bus.Unsubscribe(context.WithoutCancel(ctx), r.config.Channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg *pubsub.Event) {
	if msg == nil || msg.Origin == r.config.InstanceID {
		return
	}
	l := log.L()

	ev, err := domain.DecodeEvent(msg.Type, msg.Payload)
	if err != nil {
		r.metrics.Relay(directionDropped)
		l.Warn().Err(err).Str(log.FieldGroup, msg.Group).Str("origin", msg.Origin).Msg("relay: invalid event")
		return
	}
	r.metrics.Relay(directionReceived)

	if _, err := r.local.DeliverLocal(ctx, msg.Group, ev); err != nil {
		l.Error().Err(err).Str(log.FieldGroup, msg.Group).Str(log.FieldEvent, msg.Type).Msg("relay: local delivery failed")
	}
}
