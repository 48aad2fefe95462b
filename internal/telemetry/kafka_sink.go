package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink publishes rate-limit events to a Kafka topic so an external
// collector can aggregate them across instances.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaSink creates a sink writing to the given brokers and topic.
func NewKafkaSink(brokers []string, topic, clientID string, logger *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}

	return &KafkaSink{writer: writer, logger: logger}
}

// RecordRateLimit publishes the event keyed by source. Publish failures are
// logged and dropped; telemetry must never fail a fetch.
func (s *KafkaSink) RecordRateLimit(ctx context.Context, event RateLimitEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal rate-limit event", zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.Source),
		Value: value,
		Time:  event.Timestamp,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("Failed to publish rate-limit event",
			zap.String("source", event.Source),
			zap.String("endpoint", event.Endpoint),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
