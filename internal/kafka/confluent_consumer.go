package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/teamhub/realtime-gateway/internal/metrics"
	"github.com/teamhub/realtime-gateway/pkg/log"
)

const commandSource = "kafka"

// ConfluentConsumer implements RealtimeEventConsumer using confluent-kafka-go.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  RealtimeEventHandler
	metrics  *metrics.Metrics
	started  bool
	doneCh   chan struct{}
}

// NewConfluentConsumer creates a new Kafka consumer for realtime events.
func NewConfluentConsumer(brokers, topic, groupID string, handler RealtimeEventHandler, m *metrics.Metrics) (*ConfluentConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    topic,
		handler:  handler,
		metrics:  m,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins consuming messages from Kafka.
func (cc *ConfluentConsumer) Start(ctx context.Context) error {
	if err := cc.consumer.Subscribe(cc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", cc.topic, err)
	}

	l := log.L()
	l.Info().Str("topic", cc.topic).Msg("kafka consumer started")

	cc.started = true
	go cc.consumeLoop(ctx)

	return nil
}

func (cc *ConfluentConsumer) consumeLoop(ctx context.Context) {
	defer close(cc.doneCh)
	l := log.L().With().Str("topic", cc.topic).Logger()

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("kafka consumer shutting down")
			return
		default:
			msg, err := cc.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				var kerr kafka.Error
				if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				l.Error().Err(err).Msg("kafka consumer error")
				continue
			}

			handleValue(ctx, cc.handler, cc.metrics, msg.Value)
		}
	}
}

// handleValue decodes one message value and passes it to the handler. Malformed
// messages are logged and skipped.
func handleValue(ctx context.Context, handler RealtimeEventHandler, m *metrics.Metrics, value []byte) {
	l := log.L()

	var event RealtimeEvent
	if err := json.Unmarshal(value, &event); err != nil {
		m.Command(commandSource, "rejected")
		l.Warn().Err(err).Msg("failed to unmarshal realtime event")
		return
	}
	if _, err := event.Validate(); err != nil {
		m.Command(commandSource, "rejected")
		l.Warn().Err(err).Str("scope", event.Scope).Str(log.FieldEvent, event.Type).Msg("invalid realtime event")
		return
	}

	l.Debug().
		Str("scope", event.Scope).
		Str("target_id", event.TargetID).
		Str(log.FieldEvent, event.Type).
		Msg("received realtime event")

	if err := handler.HandleRealtimeEvent(ctx, &event); err != nil {
		m.Command(commandSource, "rejected")
		l.Error().Err(err).Str(log.FieldEvent, event.Type).Msg("failed to handle realtime event")
		return
	}
	m.Command(commandSource, "accepted")
}

// Close stops the consumer and releases resources. The context passed to Start must
// be canceled first.
func (cc *ConfluentConsumer) Close() error {
	if cc.started {
		<-cc.doneCh
	}
	if err := cc.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	return nil
}
