package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/cache"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
)

const (
	defaultPostureTTL         = 15 * time.Minute
	defaultAssessmentInterval = 30 * time.Minute
	defaultCacheEntries       = 10000
)

// CacheSettings configures a use case's result cache
type CacheSettings struct {
	TTL        time.Duration
	MaxEntries int
	// Tier is an optional shared tier behind the in-process cache
	Tier  cache.Tier
	Codec *cache.Codec
}

// PostureAssessmentUseCase computes, persists and caches posture scores
type PostureAssessmentUseCase struct {
	inventory repository.InventoryRepository
	drifts    repository.DriftRepository
	postures  repository.PostureRepository
	intel     service.ThreatIntelService
	cache     *cache.TTLCache[*entity.PostureAssessment]
	cacheTTL  time.Duration
	interval  time.Duration
	publisher messaging.Publisher
	collector *metrics.Collector
	clock     common.Clock
	logger    *logging.Logger
}

// NewPostureAssessmentUseCase creates the posture assessor. interval is the
// scheduler's posture interval and sets NextAssessment.
func NewPostureAssessmentUseCase(deps Dependencies, settings CacheSettings, interval time.Duration) (*PostureAssessmentUseCase, error) {
	deps = deps.withDefaults()
	if deps.Inventory == nil || deps.Drifts == nil || deps.Postures == nil {
		return nil, fmt.Errorf("posture assessment requires inventory, drift and posture stores")
	}
	if settings.TTL <= 0 {
		settings.TTL = defaultPostureTTL
	}
	if settings.MaxEntries <= 0 {
		settings.MaxEntries = defaultCacheEntries
	}
	if interval <= 0 {
		interval = defaultAssessmentInterval
	}

	logger := deps.Logger.WithComponent("posture_assessor")
	opts := []cache.Option[*entity.PostureAssessment]{
		cache.WithMetrics[*entity.PostureAssessment](deps.Collector),
		cache.WithLogger[*entity.PostureAssessment](logger),
	}
	if settings.Tier != nil {
		opts = append(opts, cache.WithTier[*entity.PostureAssessment](settings.Tier, settings.Codec))
	}
	postureCache, err := cache.NewTTLCache[*entity.PostureAssessment]("posture", settings.MaxEntries, deps.Clock, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create posture cache: %w", err)
	}

	return &PostureAssessmentUseCase{
		inventory: deps.Inventory,
		drifts:    deps.Drifts,
		postures:  deps.Postures,
		intel:     deps.ThreatIntel,
		cache:     postureCache,
		cacheTTL:  settings.TTL,
		interval:  interval,
		publisher: deps.Publisher,
		collector: deps.Collector,
		clock:     deps.Clock,
		logger:    logger,
	}, nil
}

// AssessPosture returns the system's posture, from cache unless ForceRefresh is set
func (uc *PostureAssessmentUseCase) AssessPosture(ctx context.Context, systemID string, opts entity.AssessOptions) (*entity.PostureResult, error) {
	system, err := uc.inventory.GetSystem(ctx, systemID)
	if err != nil {
		return nil, storeError("get system", err)
	}

	assessment, cached, err := uc.cache.GetOrCompute(ctx, systemID, uc.cacheTTL, opts.ForceRefresh,
		func(ctx context.Context) (*entity.PostureAssessment, error) {
			return uc.assess(ctx, system)
		})
	if err != nil {
		return nil, err
	}

	out := *assessment
	if !opts.IncludeRecommendations {
		out.Recommendations = nil
	}
	return &entity.PostureResult{Assessment: &out, FromCache: cached}, nil
}

type subAssessment struct {
	component entity.PostureComponent
	run       func(ctx context.Context) (service.SubScore, error)
}

func (uc *PostureAssessmentUseCase) subAssessments(system *entity.System, now time.Time) []subAssessment {
	return []subAssessment{
		{entity.ComponentVulnerability, func(ctx context.Context) (service.SubScore, error) {
			vulns, err := uc.inventory.ListVulnerabilities(ctx, system.ID)
			if err != nil {
				return service.SubScore{}, err
			}
			return service.VulnerabilityScore(vulns, now), nil
		}},
		{entity.ComponentConfiguration, func(ctx context.Context) (service.SubScore, error) {
			drifts, err := uc.drifts.ListUnresolved(ctx, system.ID)
			if err != nil {
				return service.SubScore{}, err
			}
			return service.ConfigurationScore(drifts), nil
		}},
		{entity.ComponentPatch, func(ctx context.Context) (service.SubScore, error) {
			status, err := uc.inventory.GetPatchStatus(ctx, system.ID)
			if err != nil {
				return service.SubScore{}, err
			}
			return service.PatchScore(status, now), nil
		}},
		{entity.ComponentCompliance, func(ctx context.Context) (service.SubScore, error) {
			controls, err := uc.inventory.ListControls(ctx, system.ID)
			if err != nil {
				return service.SubScore{}, err
			}
			return service.ComplianceScore(controls), nil
		}},
		{entity.ComponentControlEffectiveness, func(ctx context.Context) (service.SubScore, error) {
			controls, err := uc.inventory.ListControls(ctx, system.ID)
			if err != nil {
				return service.SubScore{}, err
			}
			return service.ControlEffectivenessScore(controls), nil
		}},
		{entity.ComponentThreatExposure, func(ctx context.Context) (service.SubScore, error) {
			base, err := uc.intel.BaseExposure(ctx, system)
			if err != nil {
				return service.SubScore{}, fmt.Errorf("threat intel: %w", err)
			}
			assets, err := uc.inventory.ListAssets(ctx, system.ID)
			if err != nil {
				return service.SubScore{}, err
			}
			return service.ThreatExposureScore(base, assets), nil
		}},
		{entity.ComponentBusinessImpact, func(ctx context.Context) (service.SubScore, error) {
			assets, err := uc.inventory.ListAssets(ctx, system.ID)
			if err != nil {
				return service.SubScore{}, err
			}
			return service.BusinessImpactScore(system, assets), nil
		}},
	}
}

func runSubAssessment(ctx context.Context, sub subAssessment) (score service.SubScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s assessment panicked: %v", sub.component, r)
		}
	}()
	return sub.run(ctx)
}

func (uc *PostureAssessmentUseCase) assess(ctx context.Context, system *entity.System) (assessment *entity.PostureAssessment, err error) {
	start := time.Now()
	logger := uc.logger.WithSystem(system.ID).WithContext(ctx)
	defer func() {
		uc.collector.RecordAssessment("posture", err, time.Since(start))
	}()

	now := uc.clock.Now()
	subs := uc.subAssessments(system, now)

	// each goroutine writes only its own slot
	results := make([]service.SubScore, len(subs))
	failures := make([]error, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub subAssessment) {
			defer wg.Done()
			results[i], failures[i] = runSubAssessment(ctx, sub)
		}(i, sub)
	}
	wg.Wait()

	assessment = &entity.PostureAssessment{
		ID:             uuid.New().String(),
		SystemID:       system.ID,
		RiskFactors:    []string{},
		LastAssessment: now,
		NextAssessment: now.Add(uc.interval),
	}

	var signals service.Signals
	for i, sub := range subs {
		if failures[i] != nil {
			logger.Warn("Posture sub-assessment failed; neutral score applied",
				logging.String("component", string(sub.component)),
				logging.Error(failures[i]))
			assessment.ComponentScores.Set(sub.component, service.NeutralScore)
			assessment.Errors = append(assessment.Errors, entity.AssessmentError{
				Component: sub.component,
				Message:   failures[i].Error(),
			})
			continue
		}
		r := results[i]
		assessment.ComponentScores.Set(sub.component, r.Score)
		assessment.RiskFactors = append(assessment.RiskFactors, r.RiskFactors...)
		assessment.Notes = append(assessment.Notes, r.Notes...)
		signals.Merge(r.Signals)
	}

	assessment.OverallScore = assessment.ComponentScores.Weighted()
	assessment.PostureStatus = entity.ClassifyPosture(assessment.OverallScore)
	assessment.Recommendations = service.Recommend(assessment.ComponentScores, signals)

	if err := uc.postures.Upsert(ctx, assessment); err != nil {
		logger.Error("Failed to persist posture assessment", logging.Error(err))
		return nil, common.ErrStoreUnavailable("upsert posture assessment", err)
	}

	uc.collector.RecordPostureScore(system.ID, assessment.OverallScore)
	logger.Info("Posture assessed",
		logging.Float64("overall_score", assessment.OverallScore),
		logging.String("posture_status", string(assessment.PostureStatus)),
		logging.Int("failed_components", len(assessment.Errors)),
		logging.Duration("duration", time.Since(start)))

	publish(ctx, uc.publisher, uc.logger, messaging.EventPostureAssessed, system.ID, now, postureAssessedPayload{
		OverallScore:    assessment.OverallScore,
		PostureStatus:   assessment.PostureStatus,
		ComponentScores: assessment.ComponentScores,
		NextAssessment:  assessment.NextAssessment,
	})
	return assessment, nil
}

type postureAssessedPayload struct {
	OverallScore    float64                `json:"overall_score"`
	PostureStatus   entity.PostureStatus   `json:"posture_status"`
	ComponentScores entity.ComponentScores `json:"component_scores"`
	NextAssessment  time.Time              `json:"next_assessment"`
}

// GetPosture returns the persisted posture row of a system
func (uc *PostureAssessmentUseCase) GetPosture(ctx context.Context, systemID string) (*entity.PostureAssessment, error) {
	assessment, err := uc.postures.Get(ctx, systemID)
	if err != nil {
		return nil, storeError("get posture assessment", err)
	}
	return assessment, nil
}

// ListPostures returns every persisted posture row
func (uc *PostureAssessmentUseCase) ListPostures(ctx context.Context) ([]*entity.PostureAssessment, error) {
	rows, err := uc.postures.List(ctx)
	if err != nil {
		return nil, storeError("list posture assessments", err)
	}
	return rows, nil
}
