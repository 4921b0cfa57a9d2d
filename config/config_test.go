package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "service:\n  environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "risk-posture-engine", cfg.Service.Name)
	assert.Equal(t, "test", cfg.Service.Environment)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.DriftInterval)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.PostureInterval)
	assert.Equal(t, 5, cfg.Scheduler.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Cache.PostureTTL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.RiskTTL)
	assert.Equal(t, "upsert", cfg.Drift.PersistenceMode)
	assert.Equal(t, "none", cfg.Messaging.Driver)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("RISK_POSTURE_SCHEDULER_BATCH_SIZE", "7")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")

	cfg, err := LoadConfig(writeConfig(t, "drift:\n  persistence_mode: append\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scheduler.BatchSize)
	assert.Equal(t, "s3cret", cfg.Database.PostgreSQL.Password)
	assert.Equal(t, "append", cfg.Drift.PersistenceMode)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"batch too large", "scheduler:\n  batch_size: 11\n"},
		{"batch zero", "scheduler:\n  batch_size: 0\n"},
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"http collector without url", "collector:\n  source: http\n"},
		{"bad persistence mode", "drift:\n  persistence_mode: merge\n"},
		{"unknown messaging", "messaging:\n  driver: amqp\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestGetDSN(t *testing.T) {
	c := PostgreSQLConfig{Host: "db", Port: 5432, Username: "u", Password: "p", Database: "risk", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=risk sslmode=disable", c.GetDSN())
}
