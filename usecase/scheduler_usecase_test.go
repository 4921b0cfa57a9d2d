package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
)

func (f *fixture) scheduler(t *testing.T, cfg config.SchedulerConfig, opts ...SchedulerOption) *AssessmentScheduler {
	t.Helper()
	posture := f.postureUseCase(t)
	s, err := NewAssessmentScheduler(cfg, f.deps(), f.driftUseCase(t, PersistUpsert), posture, f.riskUseCase(t, posture), opts...)
	require.NoError(t, err)
	return s
}

func TestNewAssessmentScheduler_BatchSize(t *testing.T) {
	f := newFixture(t)
	posture := f.postureUseCase(t)
	drift := f.driftUseCase(t, PersistUpsert)

	s, err := NewAssessmentScheduler(config.SchedulerConfig{}, f.deps(), drift, posture, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, s.cfg.BatchSize)
	assert.Equal(t, defaultDriftInterval, s.cfg.DriftInterval)
	assert.Equal(t, defaultAssessmentInterval, s.cfg.PostureInterval)

	for _, size := range []int{-1, 11} {
		_, err := NewAssessmentScheduler(config.SchedulerConfig{BatchSize: size}, f.deps(), drift, posture, nil)
		assert.Error(t, err, "batch size %d", size)
	}

	_, err = NewAssessmentScheduler(config.SchedulerConfig{}, f.deps(), nil, posture, nil)
	assert.Error(t, err)
}

func TestRunPosturePass_OnlyDueSystems(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.addSystem(id, entity.CriticalityHigh)
	}
	s := f.scheduler(t, config.SchedulerConfig{BatchSize: 2})
	ctx := context.Background()

	summary, err := s.RunPosturePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassSummary{Task: taskPosture, Selected: 3, Succeeded: 3}, *summary)
	assert.Len(t, f.publisher.Events(messaging.EventPostureAssessed), 3)
	// cvss, drift and composite per system
	assert.Len(t, f.publisher.Events(messaging.EventRiskComputed), 9)

	summary, err = s.RunPosturePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Selected)

	f.clock.Advance(30 * time.Minute)
	due, err := s.DueForPosture(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, due)

	summary, err = s.RunPosturePass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Len(t, f.publisher.Events(messaging.EventPostureAssessed), 6)
	assert.Equal(t, 6.0, testutil.ToFloat64(f.collector.SchedulerSystemsProcessed.WithLabelValues(taskPosture, "success")))
}

func TestRunDriftPass_CountsFailures(t *testing.T) {
	f := newFixture(t)
	f.addSystem("with-snapshot", entity.CriticalityHigh)
	f.addSystem("no-snapshot", entity.CriticalityHigh)
	f.snapshots.Set("with-snapshot", baseState())
	s := f.scheduler(t, config.SchedulerConfig{BatchSize: 1})
	ctx := context.Background()

	summary, err := s.RunDriftPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassSummary{Task: taskDrift, Selected: 2, Succeeded: 1, Failed: 1}, *summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.SchedulerSystemsProcessed.WithLabelValues(taskDrift, "error")))

	// first pass captured the baseline, second pass compares against it
	f.snapshots.Set("with-snapshot", withPrivilegedUser(baseState(), "intruder"))
	summary, err = s.RunDriftPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	drifts, err := f.drifts.ListUnresolved(ctx, "with-snapshot")
	require.NoError(t, err)
	assert.NotEmpty(t, drifts)
}

func TestRunDriftPass_StopsBetweenBatchesOnCancel(t *testing.T) {
	f := newFixture(t)
	f.addSystem("a", entity.CriticalityLow)
	s := f.scheduler(t, config.SchedulerConfig{BatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := s.RunDriftPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, summary.Succeeded+summary.Failed)
}

func TestBootstrap_SeedsThenLazyCapture(t *testing.T) {
	f := newFixture(t)
	f.addSystem("seeded", entity.CriticalityHigh)
	f.addSystem("live", entity.CriticalityHigh)
	f.addSystem("dark", entity.CriticalityHigh)
	f.snapshots.Set("seeded", withPrivilegedUser(baseState(), "ops"))
	f.snapshots.Set("live", baseState())

	seeds := []BaselineSeed{{SystemID: "seeded", Configuration: baseState()}}
	s := f.scheduler(t, config.SchedulerConfig{BootstrapBaselines: true}, WithBaselineSeeds(seeds))
	ctx := context.Background()
	assert.False(t, s.Bootstrapped())

	require.NoError(t, s.Bootstrap(ctx))
	assert.True(t, s.Bootstrapped())

	seeded, err := f.baselines.Get(ctx, "seeded")
	require.NoError(t, err)
	assert.Equal(t, entity.BaselineSourceBulk, seeded.Source)
	assert.Equal(t, "bulk-import", seeded.CapturedBy)

	live, err := f.baselines.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, entity.BaselineSourceLazy, live.Source)

	_, err = f.baselines.Get(ctx, "dark")
	assert.Error(t, err, "no snapshot, no baseline")

	// the seeded baseline is the reference, so the extra account is drift
	report, err := s.drift.DetectDrift(ctx, "seeded", nil)
	require.NoError(t, err)
	assert.False(t, report.BaselineCreated)
	assert.NotEmpty(t, report.Drifts)
}

func TestAssessmentScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	f.addSystem("a", entity.CriticalityModerate)
	f.snapshots.Set("a", baseState())

	s := f.scheduler(t, config.SchedulerConfig{
		DriftInterval:      10 * time.Millisecond,
		PostureInterval:    10 * time.Millisecond,
		BatchSize:          2,
		BootstrapBaselines: true,
	})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "double start")

	assert.Eventually(t, s.Bootstrapped, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.collector.SchedulerRuns.WithLabelValues(taskDrift, "success")) >= 1 &&
			testutil.ToFloat64(f.collector.SchedulerRuns.WithLabelValues(taskPosture, "success")) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))

	_, err := f.baselines.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Len(t, f.publisher.Events(messaging.EventPostureAssessed), 1, "manual clock keeps the system not due")
}

// slowSnapshots delays every snapshot and counts calls
type slowSnapshots struct {
	*service.StaticSnapshots
	delay   time.Duration
	calls   atomic.Int32
	started chan struct{}
	once    sync.Once
}

func (s *slowSnapshots) Snapshot(ctx context.Context, systemID string) (*entity.ConfigurationSnapshot, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.started) })
	time.Sleep(s.delay)
	return s.StaticSnapshots.Snapshot(ctx, systemID)
}

func TestAssessmentScheduler_StopDrainsOnlyInFlightBatch(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("sys-%02d", i)
		f.addSystem(id, entity.CriticalityModerate)
		f.snapshots.Set(id, baseState())
	}

	slow := &slowSnapshots{StaticSnapshots: f.snapshots, delay: 100 * time.Millisecond, started: make(chan struct{})}
	deps := f.deps()
	deps.Snapshots = slow
	drift, err := NewDriftDetectionUseCase(deps, nil, PersistUpsert)
	require.NoError(t, err)
	posture, err := NewPostureAssessmentUseCase(deps, CacheSettings{TTL: 15 * time.Minute}, 30*time.Minute)
	require.NoError(t, err)

	s, err := NewAssessmentScheduler(config.SchedulerConfig{
		DriftInterval:   10 * time.Millisecond,
		PostureInterval: time.Hour,
		BatchSize:       5,
	}, deps, drift, posture, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("drift pass never started")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))

	assert.Equal(t, int32(5), slow.calls.Load())
	assert.Equal(t, 5.0, testutil.ToFloat64(f.collector.SchedulerSystemsProcessed.WithLabelValues(taskDrift, "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.collector.SchedulerSystemsProcessed.WithLabelValues(taskDrift, "error")))
}
