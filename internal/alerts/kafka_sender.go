package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/mr-karan/safetyvision/pkg/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes alerts to a Kafka topic keyed by alert id.
type KafkaSender struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaSender builds a writer for brokers and topic.
func NewKafkaSender(brokers []string, topic string, logger *slog.Logger) (*KafkaSender, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
	return newKafkaSender(w, logger), nil
}

func newKafkaSender(w messageWriter, logger *slog.Logger) *KafkaSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSender{writer: w, logger: logger.With("component", "alert_kafka_sender")}
}

func (s *KafkaSender) Channel() models.ChannelType { return models.ChannelKafka }

func (s *KafkaSender) Send(ctx context.Context, notification AlertNotification) error {
	alert := notification.Alert
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal kafka payload: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.ID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "recipient", Value: []byte(notification.RecipientID)},
			{Key: "severity", Value: []byte(alert.Severity.String())},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
