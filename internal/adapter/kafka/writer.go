package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/mesh-weather-relay/internal/domain"
)

// Writer produces relay events to a Kafka topic.
// It implements domain.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the relay event topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes a single relay event. The write is
// synchronous so the event is durable before the process exits.
func (w *Writer) Publish(ctx context.Context, event domain.RelayEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish relay event to %s: %w", w.writer.Topic, err)
	}
	w.logger.Debug("relay event published", "topic", w.writer.Topic, "id", event.ID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a RelayEvent into a Kafka message.
func serializeToMessage(event domain.RelayEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize relay event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.ID),
		Value: data,
		Time:  event.SentAt,
		Headers: []kafkago.Header{
			{Key: "mode", Value: []byte(event.Mode)},
			{Key: "sent_at", Value: []byte(event.SentAt.Format(time.RFC3339))},
		},
	}, nil
}
