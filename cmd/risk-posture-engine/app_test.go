package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isectech/risk-posture-engine/config"
	httpdelivery "github.com/isectech/risk-posture-engine/delivery/http"
	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/database"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/usecase"
)

// gatedSnapshots holds every snapshot until release is closed
type gatedSnapshots struct {
	*service.StaticSnapshots
	release chan struct{}
}

func (g *gatedSnapshots) Snapshot(ctx context.Context, systemID string) (*entity.ConfigurationSnapshot, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.StaticSnapshots.Snapshot(ctx, systemID)
}

func readiness(t *testing.T, handler http.Handler) (int, httpdelivery.HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var resp httpdelivery.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestInitHealth_BootstrapDoesNotGateReadiness(t *testing.T) {
	logger := logging.FromZap(zaptest.NewLogger(t), "test")
	inventory := database.NewMemoryInventory()
	inventory.PutSystem(&entity.System{ID: "pay-01", Criticality: entity.CriticalityHigh})

	snapshots := &gatedSnapshots{StaticSnapshots: service.NewStaticSnapshots(time.Now), release: make(chan struct{})}
	snapshots.Set("pay-01", entity.ConfigurationState{})

	deps := usecase.Dependencies{
		Inventory: inventory,
		Baselines: database.NewMemoryBaselineRepository(),
		Drifts:    database.NewMemoryDriftRepository(),
		Postures:  database.NewMemoryPostureRepository(),
		Snapshots: snapshots,
		Collector: metrics.NewCollector("test"),
		Logger:    logger,
	}
	drift, err := usecase.NewDriftDetectionUseCase(deps, nil, usecase.PersistUpsert)
	require.NoError(t, err)
	posture, err := usecase.NewPostureAssessmentUseCase(deps, usecase.CacheSettings{TTL: time.Minute}, time.Hour)
	require.NoError(t, err)
	scheduler, err := usecase.NewAssessmentScheduler(config.SchedulerConfig{
		DriftInterval:      time.Hour,
		PostureInterval:    time.Hour,
		BootstrapBaselines: true,
	}, deps, drift, posture, nil)
	require.NoError(t, err)

	app := &Application{
		config:    &config.Config{Service: config.ServiceConfig{Name: "risk-posture-engine", Version: "test"}},
		logger:    logger,
		scheduler: scheduler,
	}
	app.initHealth()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health/ready", app.health.Readiness)

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
	}()

	code, resp := readiness(t, router)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "in_progress", resp.Info["baseline_bootstrap"])
	assert.NotContains(t, resp.Checks, "baseline_bootstrap")

	close(snapshots.release)
	require.Eventually(t, scheduler.Bootstrapped, 2*time.Second, 5*time.Millisecond)

	code, resp = readiness(t, router)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "complete", resp.Info["baseline_bootstrap"])
}
