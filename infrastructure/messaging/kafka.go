package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
)

// KafkaPublisher writes events to one topic per event type, keyed by system ID
type KafkaPublisher struct {
	writer *kafka.Writer
	prefix string
	logger *logging.Logger
}

// NewKafkaPublisher creates a Kafka publisher. Topics are "<prefix><event type>".
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		AllowAutoTopicCreation: true,
	}

	logger.Info("Kafka publisher initialized",
		logging.Strings("brokers", cfg.Brokers),
		logging.String("topic_prefix", cfg.TopicPrefix))

	return &KafkaPublisher{writer: writer, prefix: cfg.TopicPrefix, logger: logger}, nil
}

// Topic returns the topic an event type is written to
func (p *KafkaPublisher) Topic(eventType string) string {
	return p.prefix + eventType
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.Topic(event.Type),
		Key:   []byte(event.SystemID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s to kafka: %w", event.Type, err)
	}

	p.logger.Debug("Event published to kafka", logging.String("topic", msg.Topic), logging.String("event_id", event.ID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
