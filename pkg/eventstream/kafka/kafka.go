// Package kafka provides a Kafka-backed eventstream publisher.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/prismgate/relay/pkg/eventstream"
)

// Publisher publishes stream events to a Kafka topic. Events for the same
// session hash to the same partition so per-session ordering is preserved.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// PublishStream marshals the event and writes it keyed by session id.
func (p *Publisher) PublishStream(ctx context.Context, event *eventstream.StreamCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilStreamEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling stream event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.RequestMeta.SessionID),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing stream event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
