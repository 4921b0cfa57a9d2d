package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud", ServiceName: "test"})
	require.Error(t, err)
}

func TestNewLogger_Valid(t *testing.T) {
	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: "stderr", ServiceName: "risk-posture-engine"})
	require.NoError(t, err)
	assert.NotNil(t, logger.Logger)
}

func TestWithContext_ExtractsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core), "test")

	ctx := ContextWithSystem(context.Background(), "sys-1")
	ctx = ContextWithActor(ctx, "analyst-7")
	ctx = ContextWithCorrelationID(ctx, "run-42")

	logger.WithContext(ctx).Info("drift detection started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "sys-1", fields["system_id"])
	assert.Equal(t, "analyst-7", fields["actor_id"])
	assert.Equal(t, "run-42", fields["correlation_id"])
}

func TestWithContext_EmptyReturnsSameLogger(t *testing.T) {
	logger := NewNop()
	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestLogAudit(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core), "test")

	logger.LogAudit("analyst-7", "drift.acknowledge", "drift/d-1", true)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "audit", fields["event_type"])
	assert.Equal(t, "drift.acknowledge", fields["action"])
	assert.Equal(t, true, fields["success"])
}
