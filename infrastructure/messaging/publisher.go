package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
)

// Event types published by the engine
const (
	EventDriftDetected   = "drift.detected"
	EventPostureAssessed = "posture.assessed"
	EventRiskComputed    = "risk.computed"
)

// Event is the envelope for every published message
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SystemID   string          `json:"system_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent builds an event with a JSON payload
func NewEvent(eventType, systemID string, occurredAt time.Time, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return &Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		SystemID:   systemID,
		OccurredAt: occurredAt,
		Source:     "risk-posture-engine",
		Payload:    data,
	}, nil
}

// Publisher delivers engine events to a broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NewPublisher builds the publisher selected by cfg.Driver
func NewPublisher(cfg config.MessagingConfig, collector *metrics.Collector, logger *logging.Logger) (Publisher, error) {
	logger = logger.WithComponent("publisher")

	var (
		p   Publisher
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return NopPublisher{}, nil
	case "kafka":
		p, err = NewKafkaPublisher(cfg.Kafka, logger)
	case "nats":
		p, err = NewNATSPublisher(cfg.NATS, logger)
	default:
		return nil, fmt.Errorf("unknown messaging driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return &instrumented{next: p, collector: collector, logger: logger}, nil
}

type instrumented struct {
	next      Publisher
	collector *metrics.Collector
	logger    *logging.Logger
}

func (i *instrumented) Publish(ctx context.Context, event *Event) error {
	err := i.next.Publish(ctx, event)
	if i.collector != nil {
		i.collector.RecordEventPublished(event.Type, err)
	}
	if err != nil {
		i.logger.Warn("Failed to publish event",
			logging.String("event_type", event.Type),
			logging.String("system_id", event.SystemID),
			logging.Error(err))
	}
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }
func (NopPublisher) Close() error                          { return nil }

// MemoryPublisher keeps published events in memory
type MemoryPublisher struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryPublisher creates an empty memory publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Events returns the events of the given type, or all of them when eventType is empty
func (m *MemoryPublisher) Events(eventType string) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
