package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// PersistenceMode controls how drift findings are written
type PersistenceMode string

const (
	// PersistUpsert folds re-detections into the unresolved row with the same key
	PersistUpsert PersistenceMode = "upsert"
	// PersistAppend inserts a new row for every finding of every pass
	PersistAppend PersistenceMode = "append"
)

const maxRedetectAttempts = 3

// ParsePersistenceMode validates a configured mode; empty means upsert
func ParsePersistenceMode(s string) (PersistenceMode, error) {
	switch PersistenceMode(s) {
	case "", PersistUpsert:
		return PersistUpsert, nil
	case PersistAppend:
		return PersistAppend, nil
	}
	return "", fmt.Errorf("unknown drift persistence mode: %q", s)
}

// BaselineSeed is a baseline supplied in bulk rather than captured from a snapshot
type BaselineSeed struct {
	SystemID      string
	CapturedBy    string
	Configuration entity.ConfigurationState
}

// ImportSummary reports the outcome of a bulk baseline import
type ImportSummary struct {
	Created  []string `json:"created"`
	Replaced []string `json:"replaced"`
	Skipped  []string `json:"skipped"`
}

// DriftDetectionUseCase compares current configuration with stored baselines
// and keeps the drift audit trail.
type DriftDetectionUseCase struct {
	inventory repository.InventoryRepository
	baselines repository.BaselineRepository
	drifts    repository.DriftRepository
	snapshots service.SnapshotProvider
	detectors *service.DetectorRegistry
	mode      PersistenceMode
	publisher messaging.Publisher
	collector *metrics.Collector
	clock     common.Clock
	logger    *logging.Logger
}

// NewDriftDetectionUseCase creates a drift detection use case. A nil registry
// means the built-in detectors.
func NewDriftDetectionUseCase(deps Dependencies, detectors *service.DetectorRegistry, mode PersistenceMode) (*DriftDetectionUseCase, error) {
	deps = deps.withDefaults()
	if deps.Inventory == nil || deps.Baselines == nil || deps.Drifts == nil || deps.Snapshots == nil {
		return nil, fmt.Errorf("drift detection requires inventory, baseline, drift and snapshot sources")
	}
	if detectors == nil {
		detectors = service.NewDetectorRegistry()
	}
	if mode == "" {
		mode = PersistUpsert
	}

	return &DriftDetectionUseCase{
		inventory: deps.Inventory,
		baselines: deps.Baselines,
		drifts:    deps.Drifts,
		snapshots: deps.Snapshots,
		detectors: detectors,
		mode:      mode,
		publisher: deps.Publisher,
		collector: deps.Collector,
		clock:     deps.Clock,
		logger:    deps.Logger.WithComponent("drift_detector"),
	}, nil
}

// DetectDrift runs the requested detectors (all when methods is empty) against
// the system's baseline. A system without a baseline gets one captured from the
// current snapshot and reports no drift.
func (uc *DriftDetectionUseCase) DetectDrift(ctx context.Context, systemID string, methods []string) (report *entity.DriftReport, err error) {
	start := time.Now()
	logger := uc.logger.WithSystem(systemID).WithContext(ctx)
	defer func() {
		uc.collector.RecordAssessment("drift", err, time.Since(start))
	}()

	types, err := uc.detectors.Resolve(methods)
	if err != nil {
		return nil, common.ErrInvalidInput("methods", err.Error())
	}

	if _, err := uc.inventory.GetSystem(ctx, systemID); err != nil {
		return nil, storeError("get system", err)
	}

	snapshot, err := uc.snapshot(ctx, systemID)
	if err != nil {
		return nil, err
	}
	now := uc.clock.Now()

	report = &entity.DriftReport{
		SystemID:         systemID,
		Drifts:           []*entity.Drift{},
		DetectionMethods: types,
		Coverage:         make(map[entity.DriftType]entity.CoverageStatus, len(types)),
		DetectedAt:       now,
	}

	baseline, err := uc.baselines.Get(ctx, systemID)
	switch {
	case common.IsNotFound(err):
		created, err := uc.createBaseline(ctx, systemID, snapshot.Configuration, entity.BaselineSourceLazy, "system", now)
		if err != nil {
			return nil, err
		}
		if created != nil {
			logger.Info("Baseline captured on first detection", logging.String("checksum", created.Checksum))
			report.BaselineCreated = true
			uc.publishReport(ctx, report)
			return report, nil
		}
		// another pass created it first
		if baseline, err = uc.baselines.Get(ctx, systemID); err != nil {
			return nil, storeError("get baseline", err)
		}
	case err != nil:
		return nil, storeError("get baseline", err)
	}

	result := uc.detectors.Run(types, &baseline.Configuration, &snapshot.Configuration)
	report.Coverage = result.Coverage
	for driftType, failure := range result.Failures {
		uc.collector.RecordDetectorFailure(string(driftType))
		logger.Warn("Drift detector failed", logging.String("drift_type", string(driftType)), logging.Error(failure))
	}

	for _, finding := range result.Drifts {
		stored, redetected, err := uc.persist(ctx, systemID, finding, now)
		if err != nil {
			return nil, err
		}
		if redetected {
			report.Redetected++
		} else {
			report.NewFindings++
		}
		uc.collector.RecordDriftFinding(string(stored.DriftType), string(stored.Severity))
		report.Drifts = append(report.Drifts, stored)
	}

	logger.Info("Drift detection completed",
		logging.Int("findings", len(report.Drifts)),
		logging.Int("new_findings", report.NewFindings),
		logging.Int("redetected", report.Redetected),
		logging.Int("failed_detectors", len(result.Failures)),
		logging.Duration("duration", time.Since(start)))

	uc.publishReport(ctx, report)
	return report, nil
}

func (uc *DriftDetectionUseCase) snapshot(ctx context.Context, systemID string) (*entity.ConfigurationSnapshot, error) {
	snapshot, err := uc.snapshots.Snapshot(ctx, systemID)
	switch {
	case errors.Is(err, service.ErrSnapshotUnavailable):
		return nil, common.ErrNotFound("configuration snapshot", systemID)
	case err != nil:
		if common.GetAppError(err) != nil {
			return nil, err
		}
		return nil, common.ErrExternalService("snapshot-provider", err)
	}
	return snapshot, nil
}

func (uc *DriftDetectionUseCase) persist(ctx context.Context, systemID string, finding *entity.Drift, now time.Time) (*entity.Drift, bool, error) {
	finding.SystemID = systemID

	if uc.mode == PersistUpsert {
		for attempt := 0; attempt < maxRedetectAttempts; attempt++ {
			existing, err := uc.drifts.FindUnresolved(ctx, finding.Key())
			if err != nil {
				return nil, false, storeError("find unresolved drift", err)
			}
			if existing == nil {
				break
			}
			existing.Redetect(finding, now)
			err = uc.drifts.UpdateDetection(ctx, existing)
			if err == nil {
				return existing, true, nil
			}
			if !common.HasErrorCode(err, common.ErrCodeInvalidState) {
				return nil, false, storeError("update drift", err)
			}
			// resolved since it was read; look again
			uc.logger.Debug("Drift resolved during redetection",
				logging.String("drift_id", existing.ID), logging.Int("attempt", attempt+1))
		}
	}

	finding.Open(systemID, now)
	if err := uc.drifts.Insert(ctx, finding); err != nil {
		return nil, false, storeError("insert drift", err)
	}
	return finding, false, nil
}

type driftDetectedPayload struct {
	NewFindings     int                                        `json:"new_findings"`
	Redetected      int                                        `json:"redetected"`
	DriftIDs        []string                                   `json:"drift_ids"`
	Coverage        map[entity.DriftType]entity.CoverageStatus `json:"coverage"`
	BaselineCreated bool                                       `json:"baseline_created"`
}

func (uc *DriftDetectionUseCase) publishReport(ctx context.Context, report *entity.DriftReport) {
	ids := make([]string, 0, len(report.Drifts))
	for _, d := range report.Drifts {
		ids = append(ids, d.ID)
	}
	publish(ctx, uc.publisher, uc.logger, messaging.EventDriftDetected, report.SystemID, report.DetectedAt, driftDetectedPayload{
		NewFindings:     report.NewFindings,
		Redetected:      report.Redetected,
		DriftIDs:        ids,
		Coverage:        report.Coverage,
		BaselineCreated: report.BaselineCreated,
	})
}

// createBaseline stores a first baseline. It returns nil without error when a
// baseline already exists.
func (uc *DriftDetectionUseCase) createBaseline(ctx context.Context, systemID string, state entity.ConfigurationState, source entity.BaselineSource, actorID string, now time.Time) (*entity.ConfigurationBaseline, error) {
	baseline, err := newBaseline(systemID, state, source, actorID, now)
	if err != nil {
		return nil, err
	}
	if err := uc.baselines.Create(ctx, baseline); err != nil {
		if common.HasErrorCode(err, common.ErrCodeInvalidState) {
			return nil, nil
		}
		return nil, storeError("create baseline", err)
	}
	return baseline, nil
}

func newBaseline(systemID string, state entity.ConfigurationState, source entity.BaselineSource, actorID string, now time.Time) (*entity.ConfigurationBaseline, error) {
	checksum, err := state.Checksum()
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "failed to checksum configuration")
	}
	return &entity.ConfigurationBaseline{
		ID:            uuid.New().String(),
		SystemID:      systemID,
		Configuration: state,
		Checksum:      checksum,
		CapturedAt:    now,
		CapturedBy:    actorID,
		Source:        source,
	}, nil
}

// EnsureBaseline captures a baseline for a system that has none
func (uc *DriftDetectionUseCase) EnsureBaseline(ctx context.Context, systemID string) (bool, error) {
	_, err := uc.baselines.Get(ctx, systemID)
	if err == nil {
		return false, nil
	}
	if !common.IsNotFound(err) {
		return false, storeError("get baseline", err)
	}

	snapshot, err := uc.snapshot(ctx, systemID)
	if err != nil {
		return false, err
	}
	created, err := uc.createBaseline(ctx, systemID, snapshot.Configuration, entity.BaselineSourceLazy, "system", uc.clock.Now())
	if err != nil {
		return false, err
	}
	return created != nil, nil
}

// ImportBaselines stores bulk baselines. Without replace, systems that already
// have a baseline are skipped.
func (uc *DriftDetectionUseCase) ImportBaselines(ctx context.Context, seeds []BaselineSeed, replace bool) (*ImportSummary, error) {
	summary := &ImportSummary{Created: []string{}, Replaced: []string{}, Skipped: []string{}}
	now := uc.clock.Now()

	for _, seed := range seeds {
		if seed.SystemID == "" {
			return summary, common.ErrInvalidInput("system_id", "required")
		}
		actor := seed.CapturedBy
		if actor == "" {
			actor = "bulk-import"
		}

		if replace {
			baseline, err := newBaseline(seed.SystemID, seed.Configuration, entity.BaselineSourceBulk, actor, now)
			if err != nil {
				return summary, err
			}
			if err := uc.baselines.Replace(ctx, baseline); err != nil {
				return summary, storeError("replace baseline", err)
			}
			summary.Replaced = append(summary.Replaced, seed.SystemID)
			continue
		}

		created, err := uc.createBaseline(ctx, seed.SystemID, seed.Configuration, entity.BaselineSourceBulk, actor, now)
		if err != nil {
			return summary, err
		}
		if created == nil {
			summary.Skipped = append(summary.Skipped, seed.SystemID)
			continue
		}
		summary.Created = append(summary.Created, seed.SystemID)
	}

	uc.logger.Info("Baselines imported",
		logging.Int("created", len(summary.Created)),
		logging.Int("replaced", len(summary.Replaced)),
		logging.Int("skipped", len(summary.Skipped)))
	return summary, nil
}

// Rebaseline replaces the system's baseline with its current configuration
func (uc *DriftDetectionUseCase) Rebaseline(ctx context.Context, systemID, actorID string) (*entity.ConfigurationBaseline, error) {
	if actorID == "" {
		return nil, common.ErrInvalidInput("actor_id", "required")
	}
	if _, err := uc.inventory.GetSystem(ctx, systemID); err != nil {
		return nil, storeError("get system", err)
	}

	snapshot, err := uc.snapshot(ctx, systemID)
	if err != nil {
		return nil, err
	}

	baseline, err := newBaseline(systemID, snapshot.Configuration, entity.BaselineSourceRebaseline, actorID, uc.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := uc.baselines.Replace(ctx, baseline); err != nil {
		uc.logger.LogAudit(actorID, "rebaseline", systemID, false, logging.Error(err))
		return nil, storeError("replace baseline", err)
	}

	uc.logger.LogAudit(actorID, "rebaseline", systemID, true,
		logging.Int("version", baseline.Version),
		logging.String("checksum", baseline.Checksum))
	return baseline, nil
}

// AcknowledgeDrift moves an open finding to acknowledged
func (uc *DriftDetectionUseCase) AcknowledgeDrift(ctx context.Context, driftID, actorID, notes string) (*entity.Drift, error) {
	return uc.transition(ctx, driftID, actorID, "acknowledge_drift", func(d *entity.Drift, now time.Time) error {
		return d.Acknowledge(actorID, notes, now)
	})
}

// ResolveDrift moves an open or acknowledged finding to resolved
func (uc *DriftDetectionUseCase) ResolveDrift(ctx context.Context, driftID, actorID, notes string) (*entity.Drift, error) {
	return uc.transition(ctx, driftID, actorID, "resolve_drift", func(d *entity.Drift, now time.Time) error {
		return d.Resolve(actorID, notes, now)
	})
}

func (uc *DriftDetectionUseCase) transition(ctx context.Context, driftID, actorID, action string, apply func(*entity.Drift, time.Time) error) (*entity.Drift, error) {
	if driftID == "" {
		return nil, common.ErrInvalidInput("drift_id", "required")
	}
	if actorID == "" {
		return nil, common.ErrInvalidInput("actor_id", "required")
	}

	drift, err := uc.drifts.Get(ctx, driftID)
	if err != nil {
		return nil, storeError("get drift", err)
	}
	from := drift.Status

	if err := apply(drift, uc.clock.Now()); err != nil {
		uc.logger.LogAudit(actorID, action, driftID, false, logging.Error(err))
		var illegal *entity.ErrIllegalTransition
		if errors.As(err, &illegal) {
			return nil, common.ErrInvalidState(string(illegal.From), string(illegal.To)).WithContext("drift_id", driftID)
		}
		return nil, common.WrapError(err, common.ErrCodeInternal, "failed to apply drift transition")
	}

	if err := uc.drifts.UpdateStatus(ctx, drift, from); err != nil {
		if appErr := common.GetAppError(err); appErr != nil && appErr.Code == common.ErrCodeInvalidState {
			uc.logger.LogAudit(actorID, action, driftID, false, logging.Error(err))
			return nil, appErr.WithContext("drift_id", driftID)
		}
		return nil, storeError("update drift", err)
	}

	uc.logger.LogAudit(actorID, action, driftID, true,
		logging.String("system_id", drift.SystemID),
		logging.String("status", string(drift.Status)))
	return drift, nil
}

// GetDrift returns one drift finding
func (uc *DriftDetectionUseCase) GetDrift(ctx context.Context, driftID string) (*entity.Drift, error) {
	drift, err := uc.drifts.Get(ctx, driftID)
	if err != nil {
		return nil, storeError("get drift", err)
	}
	return drift, nil
}

// ListDrifts returns a system's findings, newest first
func (uc *DriftDetectionUseCase) ListDrifts(ctx context.Context, systemID string, filter entity.DriftFilter) ([]*entity.Drift, error) {
	if _, err := uc.inventory.GetSystem(ctx, systemID); err != nil {
		return nil, storeError("get system", err)
	}
	drifts, err := uc.drifts.List(ctx, systemID, filter)
	if err != nil {
		return nil, storeError("list drifts", err)
	}
	return drifts, nil
}

// GetBaseline returns the live baseline of a system
func (uc *DriftDetectionUseCase) GetBaseline(ctx context.Context, systemID string) (*entity.ConfigurationBaseline, error) {
	baseline, err := uc.baselines.Get(ctx, systemID)
	if err != nil {
		return nil, storeError("get baseline", err)
	}
	return baseline, nil
}
