package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, *Event) error { return f.err }
func (f failingPublisher) Close() error                          { return nil }

func TestNewEvent(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	event, err := NewEvent(EventRiskComputed, "sys-1", at, map[string]float64{"overall_risk": 61.5})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "risk-posture-engine", event.Source)

	var payload map[string]float64
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, 61.5, payload["overall_risk"])
}

func TestNewPublisher_Drivers(t *testing.T) {
	p, err := NewPublisher(config.MessagingConfig{Driver: "none"}, nil, logging.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)

	_, err = NewPublisher(config.MessagingConfig{Driver: "carrier-pigeon"}, nil, logging.NewNop())
	assert.Error(t, err)

	_, err = NewPublisher(config.MessagingConfig{Driver: "kafka"}, nil, logging.NewNop())
	assert.Error(t, err, "kafka without brokers")
}

func TestKafkaPublisher_TopicNaming(t *testing.T) {
	p, err := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, TopicPrefix: "risk-posture."}, logging.NewNop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "risk-posture.drift.detected", p.Topic(EventDriftDetected))
}

func TestInstrumentedPublisher_RecordsAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	collector := metrics.NewCollector("test")

	p := &instrumented{
		next:      failingPublisher{err: errors.New("broker down")},
		collector: collector,
		logger:    logging.FromZap(zap.New(core), "test"),
	}

	event, err := NewEvent(EventPostureAssessed, "sys-1", time.Now(), struct{}{})
	require.NoError(t, err)

	assert.Error(t, p.Publish(context.Background(), event))
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish event").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.EventsPublished.WithLabelValues(EventPostureAssessed, "error")))
}

func TestMemoryPublisher(t *testing.T) {
	p := NewMemoryPublisher()
	ctx := context.Background()

	a, _ := NewEvent(EventDriftDetected, "a", time.Now(), nil)
	b, _ := NewEvent(EventRiskComputed, "b", time.Now(), nil)
	require.NoError(t, p.Publish(ctx, a))
	require.NoError(t, p.Publish(ctx, b))

	assert.Len(t, p.Events(""), 2)
	assert.Len(t, p.Events(EventRiskComputed), 1)
}
