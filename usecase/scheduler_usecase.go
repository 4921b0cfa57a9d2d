package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/scheduler"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
)

const (
	defaultDriftInterval = 15 * time.Minute
	defaultBatchSize     = 5
	maxBatchSize         = 10

	taskDrift   = "drift"
	taskPosture = "posture"
)

// PassSummary reports one scheduler pass
type PassSummary struct {
	Task      string `json:"task"`
	Selected  int    `json:"selected"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Stopped   bool   `json:"stopped,omitempty"`
}

// AssessmentScheduler runs drift detection and posture assessment periodically
type AssessmentScheduler struct {
	cfg       config.SchedulerConfig
	inventory repository.InventoryRepository
	drift     *DriftDetectionUseCase
	posture   *PostureAssessmentUseCase
	risk      *RiskScoringUseCase
	seeds     []BaselineSeed
	collector *metrics.Collector
	clock     common.Clock
	logger    *logging.Logger

	mu              sync.Mutex
	tasks           []*scheduler.PeriodicTask
	bootstrapCancel context.CancelFunc
	bootstrapWG     sync.WaitGroup
	bootstrapped    atomic.Bool
}

// SchedulerOption configures an AssessmentScheduler
type SchedulerOption func(*AssessmentScheduler)

// WithBaselineSeeds imports seeds during startup bootstrap
func WithBaselineSeeds(seeds []BaselineSeed) SchedulerOption {
	return func(s *AssessmentScheduler) { s.seeds = seeds }
}

// NewAssessmentScheduler validates the schedule and wires the use cases
func NewAssessmentScheduler(cfg config.SchedulerConfig, deps Dependencies, drift *DriftDetectionUseCase, posture *PostureAssessmentUseCase, risk *RiskScoringUseCase, opts ...SchedulerOption) (*AssessmentScheduler, error) {
	deps = deps.withDefaults()
	if deps.Inventory == nil || drift == nil || posture == nil {
		return nil, fmt.Errorf("scheduler requires inventory, drift detector and posture assessor")
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > maxBatchSize {
		return nil, fmt.Errorf("scheduler batch size must be between 1 and %d, got %d", maxBatchSize, cfg.BatchSize)
	}
	if cfg.DriftInterval <= 0 {
		cfg.DriftInterval = defaultDriftInterval
	}
	if cfg.PostureInterval <= 0 {
		cfg.PostureInterval = defaultAssessmentInterval
	}

	s := &AssessmentScheduler{
		cfg:       cfg,
		inventory: deps.Inventory,
		drift:     drift,
		posture:   posture,
		risk:      risk,
		collector: deps.Collector,
		clock:     deps.Clock,
		logger:    deps.Logger.WithComponent("assessment_scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the baseline bootstrap in the background and both periodic tasks
func (s *AssessmentScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) > 0 {
		return fmt.Errorf("assessment scheduler already started")
	}

	if s.cfg.BootstrapBaselines || len(s.seeds) > 0 {
		bctx, cancel := context.WithCancel(ctx)
		s.bootstrapCancel = cancel
		s.bootstrapWG.Add(1)
		go func() {
			defer s.bootstrapWG.Done()
			if err := s.Bootstrap(bctx); err != nil {
				s.logger.WithError(err).Error("Baseline bootstrap failed")
			}
		}()
	} else {
		s.bootstrapped.Store(true)
	}

	driftTask, err := scheduler.NewPeriodicTask(taskDrift, s.cfg.DriftInterval, func(ctx context.Context) error {
		_, err := s.RunDriftPass(ctx)
		return err
	}, s.logger, scheduler.WithCollector(s.collector))
	if err != nil {
		return err
	}
	postureTask, err := scheduler.NewPeriodicTask(taskPosture, s.cfg.PostureInterval, func(ctx context.Context) error {
		_, err := s.RunPosturePass(ctx)
		return err
	}, s.logger, scheduler.WithCollector(s.collector))
	if err != nil {
		return err
	}

	for _, task := range []*scheduler.PeriodicTask{driftTask, postureTask} {
		if err := task.Start(ctx); err != nil {
			return err
		}
		s.tasks = append(s.tasks, task)
	}

	s.logger.Info("Assessment scheduler started",
		logging.Duration("drift_interval", s.cfg.DriftInterval),
		logging.Duration("posture_interval", s.cfg.PostureInterval),
		logging.Int("batch_size", s.cfg.BatchSize))
	return nil
}

// Stop stops both tasks, letting in-flight batches finish, and cancels the bootstrap
func (s *AssessmentScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	cancel := s.bootstrapCancel
	s.bootstrapCancel = nil
	s.mu.Unlock()

	var firstErr error
	for _, task := range tasks {
		if err := task.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if cancel != nil {
		cancel()
	}
	s.bootstrapWG.Wait()

	s.logger.Info("Assessment scheduler stopped")
	return firstErr
}

// Bootstrapped reports whether the startup baseline bootstrap has finished
func (s *AssessmentScheduler) Bootstrapped() bool {
	return s.bootstrapped.Load()
}

// Bootstrap imports seeded baselines, then captures one for every system still without
func (s *AssessmentScheduler) Bootstrap(ctx context.Context) error {
	defer s.bootstrapped.Store(true)

	if len(s.seeds) > 0 {
		if _, err := s.drift.ImportBaselines(ctx, s.seeds, false); err != nil {
			return fmt.Errorf("failed to import baseline seeds: %w", err)
		}
	}
	if !s.cfg.BootstrapBaselines {
		return nil
	}

	systems, err := s.inventory.ListSystems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list systems: %w", err)
	}

	created := 0
	for _, system := range systems {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := s.drift.EnsureBaseline(ctx, system.ID)
		if err != nil {
			s.logger.Warn("Baseline capture failed", logging.String("system_id", system.ID), logging.Error(err))
			continue
		}
		if ok {
			created++
		}
	}

	s.logger.Info("Baseline bootstrap completed", logging.Int("systems", len(systems)), logging.Int("captured", created))
	return nil
}

// RunDriftPass runs drift detection on every system
func (s *AssessmentScheduler) RunDriftPass(ctx context.Context) (*PassSummary, error) {
	systems, err := s.inventory.ListSystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list systems: %w", err)
	}

	ids := make([]string, 0, len(systems))
	for _, system := range systems {
		ids = append(ids, system.ID)
	}

	return s.processBatches(ctx, taskDrift, ids, func(ctx context.Context, systemID string) error {
		_, err := s.drift.DetectDrift(ctx, systemID, nil)
		return err
	})
}

// RunPosturePass reassesses systems whose posture is missing or due, then
// refreshes their system_composite risk score.
func (s *AssessmentScheduler) RunPosturePass(ctx context.Context) (*PassSummary, error) {
	due, err := s.DueForPosture(ctx)
	if err != nil {
		return nil, err
	}

	return s.processBatches(ctx, taskPosture, due, func(ctx context.Context, systemID string) error {
		_, err := s.posture.AssessPosture(ctx, systemID, entity.AssessOptions{ForceRefresh: true, IncludeRecommendations: true})
		if err != nil {
			return err
		}
		if s.risk != nil {
			s.risk.InvalidateSystem(ctx, systemID)
			if _, err := s.risk.ComputeRisk(ctx, systemID, service.ModelSystemComposite, entity.RiskOptions{}); err != nil {
				s.logger.Warn("Risk warm-up failed", logging.String("system_id", systemID), logging.Error(err))
			}
		}
		return nil
	})
}

// DueForPosture lists systems with no posture row or a NextAssessment not after now
func (s *AssessmentScheduler) DueForPosture(ctx context.Context) ([]string, error) {
	systems, err := s.inventory.ListSystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list systems: %w", err)
	}
	rows, err := s.posture.ListPostures(ctx)
	if err != nil {
		return nil, err
	}

	bySystem := make(map[string]*entity.PostureAssessment, len(rows))
	for _, row := range rows {
		bySystem[row.SystemID] = row
	}

	now := s.clock.Now()
	var due []string
	for _, system := range systems {
		if bySystem[system.ID].Due(now) {
			due = append(due, system.ID)
		}
	}
	return due, nil
}

// processBatches handles ids batch by batch, each batch concurrently. Per-system
// failures are logged and counted; they never abort the pass. When the running
// task is asked to stop, the batch in flight completes and the rest is skipped.
func (s *AssessmentScheduler) processBatches(ctx context.Context, task string, ids []string, fn func(context.Context, string) error) (*PassSummary, error) {
	timer := metrics.NewTimer()
	summary := &PassSummary{Task: task, Selected: len(ids)}
	var succeeded, failed atomic.Int64

	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if scheduler.StopRequested(ctx) {
			summary.Stopped = true
			s.logger.Info("Scheduler pass stopped between batches",
				logging.String("task", task),
				logging.Int("processed", start),
				logging.Int("remaining", len(ids)-start))
			break
		}
		end := start + s.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				err := fn(ctx, id)
				s.collector.RecordSystemProcessed(task, err)
				if err != nil {
					failed.Add(1)
					s.logger.Warn("Scheduled assessment failed",
						logging.String("task", task),
						logging.String("system_id", id),
						logging.Error(err))
					return
				}
				succeeded.Add(1)
			}(id)
		}
		wg.Wait()

		summary.Succeeded = int(succeeded.Load())
		summary.Failed = int(failed.Load())
	}

	s.logger.LogPerformance("scheduler_pass", timer.Duration(),
		logging.String("task", task),
		logging.Int("selected", summary.Selected),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Bool("stopped", summary.Stopped))
	return summary, nil
}
