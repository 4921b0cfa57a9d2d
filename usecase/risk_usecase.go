package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/cache"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// RiskScoringUseCase evaluates risk models per system and caches the results
type RiskScoringUseCase struct {
	inventory      repository.InventoryRepository
	drifts         repository.DriftRepository
	posture        *PostureAssessmentUseCase
	exploitability service.ExploitabilityService
	intel          service.ThreatIntelService
	models         *service.RiskModelRegistry
	cache          *cache.TTLCache[*entity.RiskScore]
	publisher      messaging.Publisher
	collector      *metrics.Collector
	clock          common.Clock
	logger         *logging.Logger
}

// NewRiskScoringUseCase creates the risk engine. settings.TTL is the model TTL
// used when models is nil.
func NewRiskScoringUseCase(deps Dependencies, posture *PostureAssessmentUseCase, models *service.RiskModelRegistry, settings CacheSettings) (*RiskScoringUseCase, error) {
	deps = deps.withDefaults()
	if deps.Inventory == nil || deps.Drifts == nil || posture == nil {
		return nil, fmt.Errorf("risk scoring requires inventory, drift store and posture assessor")
	}
	if models == nil {
		models = service.NewRiskModelRegistry(settings.TTL)
	}
	if settings.MaxEntries <= 0 {
		settings.MaxEntries = defaultCacheEntries
	}

	logger := deps.Logger.WithComponent("risk_engine")
	opts := []cache.Option[*entity.RiskScore]{
		cache.WithMetrics[*entity.RiskScore](deps.Collector),
		cache.WithLogger[*entity.RiskScore](logger),
	}
	if settings.Tier != nil {
		opts = append(opts, cache.WithTier[*entity.RiskScore](settings.Tier, settings.Codec))
	}
	riskCache, err := cache.NewTTLCache[*entity.RiskScore]("risk", settings.MaxEntries, deps.Clock, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk cache: %w", err)
	}

	return &RiskScoringUseCase{
		inventory:      deps.Inventory,
		drifts:         deps.Drifts,
		posture:        posture,
		exploitability: deps.Exploitability,
		intel:          deps.ThreatIntel,
		models:         models,
		cache:          riskCache,
		publisher:      deps.Publisher,
		collector:      deps.Collector,
		clock:          deps.Clock,
		logger:         logger,
	}, nil
}

// ListModels describes the registered risk models
func (uc *RiskScoringUseCase) ListModels() []entity.RiskModelInfo {
	return uc.models.List()
}

// ComputeRisk returns the named model's score for a system. Concurrent callers
// for the same system and model share one computation.
func (uc *RiskScoringUseCase) ComputeRisk(ctx context.Context, systemID, modelName string, opts entity.RiskOptions) (*entity.RiskScore, error) {
	model, ok := uc.models.Get(modelName)
	if !ok {
		return nil, common.ErrNotFound("risk model", modelName)
	}

	system, err := uc.inventory.GetSystem(ctx, systemID)
	if err != nil {
		return nil, storeError("get system", err)
	}

	return uc.score(ctx, system, model, opts.ForceRefresh)
}

func riskCacheKey(systemID, model string) string {
	return systemID + ":" + model
}

func (uc *RiskScoringUseCase) score(ctx context.Context, system *entity.System, model *service.RiskModel, force bool) (*entity.RiskScore, error) {
	score, _, err := uc.cache.GetOrCompute(ctx, riskCacheKey(system.ID, model.Name), model.TTL, force,
		func(ctx context.Context) (*entity.RiskScore, error) {
			return uc.evaluate(ctx, system, model)
		})
	return score, err
}

func (uc *RiskScoringUseCase) evaluate(ctx context.Context, system *entity.System, model *service.RiskModel) (score *entity.RiskScore, err error) {
	start := time.Now()
	logger := uc.logger.WithSystem(system.ID).WithFields(logging.String("model", model.Name))
	defer func() {
		uc.collector.RecordAssessment("risk", err, time.Since(start))
	}()

	now := uc.clock.Now()
	inputs := &service.RiskInputs{
		System:       system,
		Dependencies: make(map[string]*entity.RiskScore, len(model.Dependencies)),
		Now:          now,
	}

	// dependencies come from the same cache, so a fresh composite reuses cached parts
	for _, name := range model.Dependencies {
		dep, ok := uc.models.Get(name)
		if !ok {
			return nil, common.ErrInternal(fmt.Sprintf("model %s depends on unknown model %s", model.Name, name))
		}
		depScore, err := uc.score(ctx, system, dep, false)
		if err != nil {
			return nil, err
		}
		inputs.Dependencies[name] = depScore
	}

	if err := uc.loadInputs(ctx, model.Requires, inputs); err != nil {
		return nil, err
	}

	eval, err := model.Evaluate(inputs)
	if err != nil {
		logger.Error("Risk model evaluation failed", logging.Error(err))
		return nil, common.WrapError(err, common.ErrCodeInternal, "risk model evaluation failed")
	}

	score = &entity.RiskScore{
		SystemID:        system.ID,
		ModelName:       model.Name,
		ModelVersion:    model.Version,
		OverallRisk:     eval.Overall,
		RiskLevel:       entity.ClassifyRisk(eval.Overall),
		Components:      eval.Components,
		RiskFactors:     nonEmpty(eval.RiskFactors),
		Recommendations: nonEmpty(eval.Recommendations),
		ComputedAt:      now,
		ExpiresAt:       now.Add(model.TTL),
	}

	uc.collector.RecordRiskScore(system.ID, model.Name, score.OverallRisk)
	logger.Info("Risk computed",
		logging.Float64("overall_risk", score.OverallRisk),
		logging.String("risk_level", string(score.RiskLevel)),
		logging.Duration("duration", time.Since(start)))

	publish(ctx, uc.publisher, uc.logger, messaging.EventRiskComputed, system.ID, now, riskComputedPayload{
		Model:       model.Name,
		Version:     model.Version,
		OverallRisk: score.OverallRisk,
		RiskLevel:   score.RiskLevel,
		ExpiresAt:   score.ExpiresAt,
	})
	return score, nil
}

type riskComputedPayload struct {
	Model       string           `json:"model"`
	Version     string           `json:"version"`
	OverallRisk float64          `json:"overall_risk"`
	RiskLevel   entity.RiskLevel `json:"risk_level"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// loadInputs fetches the facts named by req concurrently. Each loader fills its own fields.
func (uc *RiskScoringUseCase) loadInputs(ctx context.Context, req service.Requirement, in *service.RiskInputs) error {
	g, gctx := errgroup.WithContext(ctx)
	systemID := in.System.ID

	if req&service.NeedsVulnerabilities != 0 {
		g.Go(func() error {
			return uc.loadVulnerabilities(gctx, in)
		})
	}
	if req&service.NeedsDrifts != 0 {
		g.Go(func() error {
			drifts, err := uc.drifts.ListUnresolved(gctx, systemID)
			if err != nil {
				return storeError("list unresolved drifts", err)
			}
			in.Drifts = drifts
			return nil
		})
	}
	if req&service.NeedsPosture != 0 {
		g.Go(func() error {
			result, err := uc.posture.AssessPosture(gctx, systemID, entity.AssessOptions{})
			if err != nil {
				return err
			}
			in.Posture = result.Assessment
			return nil
		})
	}
	if req&service.NeedsEnterprise != 0 {
		g.Go(func() error {
			correlation, err := uc.inventory.GetCorrelation(gctx, systemID)
			if err != nil {
				return storeError("get correlation", err)
			}
			in.Correlation = correlation
			return nil
		})
		g.Go(func() error {
			landscape, err := uc.intel.Landscape(gctx, in.System)
			if err != nil {
				return common.ErrExternalService("threat-intel", err)
			}
			in.Landscape = landscape
			return nil
		})
		g.Go(func() error {
			controls, err := uc.inventory.ListControls(gctx, systemID)
			if err != nil {
				return storeError("list controls", err)
			}
			in.Controls = controls
			return nil
		})
		g.Go(func() error {
			continuity, err := uc.inventory.GetContinuityStatus(gctx, systemID)
			if err != nil {
				return storeError("get continuity status", err)
			}
			in.Continuity = continuity
			return nil
		})
	}

	return g.Wait()
}

func (uc *RiskScoringUseCase) loadVulnerabilities(ctx context.Context, in *service.RiskInputs) error {
	systemID := in.System.ID

	assets, err := uc.inventory.ListAssets(ctx, systemID)
	if err != nil {
		return storeError("list assets", err)
	}
	vulns, err := uc.inventory.ListVulnerabilities(ctx, systemID)
	if err != nil {
		return storeError("list vulnerabilities", err)
	}

	var mu sync.Mutex
	exploitability := make(map[string]float64, len(vulns))
	threat := make(map[string]float64, len(vulns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, v := range vulns {
		if !v.IsOpen() {
			continue
		}
		v := v
		g.Go(func() error {
			e, err := uc.exploitability.Exploitability(gctx, v)
			if err != nil {
				return common.ErrExternalService("exploitability", err)
			}
			t, err := uc.intel.ThreatContext(gctx, v)
			if err != nil {
				return common.ErrExternalService("threat-intel", err)
			}
			mu.Lock()
			exploitability[v.ID] = e
			threat[v.ID] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	in.Assets = assets
	in.Vulnerabilities = vulns
	in.Exploitability = exploitability
	in.ThreatContext = threat
	return nil
}

// InvalidateSystem drops every cached score of a system
func (uc *RiskScoringUseCase) InvalidateSystem(ctx context.Context, systemID string) {
	for _, info := range uc.models.List() {
		uc.cache.Delete(ctx, riskCacheKey(systemID, info.Name))
	}
}

func nonEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
