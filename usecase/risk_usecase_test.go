package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

type countingExploitability struct {
	calls int32
	delay time.Duration
}

func (c *countingExploitability) Exploitability(ctx context.Context, v *entity.Vulnerability) (float64, error) {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(c.delay)
	return service.StaticExploitability{}.Exploitability(ctx, v)
}

func TestComputeRisk_CVSSWorkedExample(t *testing.T) {
	f := newFixture(t)
	f.addSystem("pay-01", entity.CriticalityModerate)
	f.inventory.PutAssets("pay-01", &entity.Asset{ID: "web", SystemID: "pay-01", Criticality: entity.CriticalityCritical})
	f.inventory.PutVulnerabilities("pay-01", &entity.Vulnerability{
		ID: "v1", SystemID: "pay-01", AssetID: "web", CVE: "CVE-2024-0001",
		CVSSScore: 9.8, FirstSeen: fixtureNow.AddDate(0, 0, -100),
		Status: entity.VulnerabilityOpen, KnownExploited: true,
	})

	uc := f.riskUseCase(t, f.postureUseCase(t))
	score, err := uc.ComputeRisk(context.Background(), "pay-01", service.ModelCVSSVulnerability, entity.RiskOptions{})
	require.NoError(t, err)

	// 0.4*98 + 0.2*95 + 0.2*100 + 0.1*90 + 0.1*100
	assert.InDelta(t, 97.2, score.OverallRisk, 0.001)
	assert.Equal(t, entity.RiskLevelCritical, score.RiskLevel)
	assert.Equal(t, "1.0", score.ModelVersion)
	assert.Equal(t, fixtureNow.Add(30*time.Minute), score.ExpiresAt)
	assert.Len(t, score.Components, 5)
	assert.Equal(t, 0.4, score.Components["cvss"].Weight)
}

func TestComputeRisk_ZeroDataComposite(t *testing.T) {
	f := newFixture(t)
	f.addSystem("bare", entity.CriticalityModerate)
	uc := f.riskUseCase(t, f.postureUseCase(t))
	ctx := context.Background()

	composite, err := uc.ComputeRisk(ctx, "bare", service.ModelSystemComposite, entity.RiskOptions{})
	require.NoError(t, err)
	// patch risk 50*0.15 + business impact 50*0.10
	assert.InDelta(t, 12.5, composite.OverallRisk, 0.001)
	assert.Equal(t, entity.RiskLevelLow, composite.RiskLevel)

	enterprise, err := uc.ComputeRisk(ctx, "bare", service.ModelEnterpriseAggregate, entity.RiskOptions{})
	require.NoError(t, err)
	// 0.4*12.5 + 0.1*50 compliance gaps + 0.1*50 continuity
	assert.InDelta(t, 15.0, enterprise.OverallRisk, 0.001)

	// cvss, drift and composite once each, then enterprise
	assert.Len(t, f.publisher.Events(messaging.EventRiskComputed), 4)
	assert.Len(t, f.publisher.Events(messaging.EventPostureAssessed), 1)
}

func TestComputeRisk_EnterpriseBoundedUnderExtremeInputs(t *testing.T) {
	f := newFixture(t)
	f.addSystem("core", entity.CriticalityCritical)
	f.addSystem("edge", entity.CriticalityCritical)

	var coreVulns, edgeVulns []*entity.Vulnerability
	for i := 0; i < 60; i++ {
		cve := fmt.Sprintf("CVE-2024-%04d", i)
		coreVulns = append(coreVulns, &entity.Vulnerability{ID: "c" + cve, SystemID: "core", CVE: cve, CVSSScore: 10, FirstSeen: fixtureNow.AddDate(-1, 0, 0), Status: entity.VulnerabilityOpen, KnownExploited: true})
		edgeVulns = append(edgeVulns, &entity.Vulnerability{ID: "e" + cve, SystemID: "edge", CVE: cve, CVSSScore: 10, Status: entity.VulnerabilityOpen})
	}
	f.inventory.PutVulnerabilities("core", coreVulns...)
	f.inventory.PutVulnerabilities("edge", edgeVulns...)
	f.inventory.PutAssets("core", &entity.Asset{ID: "a", SystemID: "core", PublicFacing: true, UnencryptedConnections: 20, WeakAuthMechanisms: 20})
	f.inventory.PutControls("core", &entity.Control{ID: "c1", SystemID: "core", ImplementationStatus: entity.ControlNotImplemented})
	f.inventory.PutContinuityStatus(&entity.ContinuityStatus{SystemID: "core", RTOTargetHours: 4, RTOActualHours: 48, RPOTargetHours: 1, RPOActualHours: 24})

	deps := f.deps()
	deps.ThreatIntel = &service.StaticThreatIntel{
		Base:          100,
		Landscapes:    map[string]service.ThreatLandscape{"finance": {ActiveCampaigns: 50, EmergingThreats: 50}},
		SectorTargets: map[string]bool{"finance": true},
	}
	posture, err := NewPostureAssessmentUseCase(deps, CacheSettings{}, 0)
	require.NoError(t, err)
	uc, err := NewRiskScoringUseCase(deps, posture, nil, CacheSettings{})
	require.NoError(t, err)

	score, err := uc.ComputeRisk(context.Background(), "core", service.ModelEnterpriseAggregate, entity.RiskOptions{})
	require.NoError(t, err)

	assert.LessOrEqual(t, score.OverallRisk, 100.0)
	assert.GreaterOrEqual(t, score.OverallRisk, 0.0)
	assert.Equal(t, entity.RiskLevelCritical, score.RiskLevel)
	for name, c := range score.Components {
		assert.LessOrEqual(t, c.Score, 100.0, name)
	}
	assert.Equal(t, 100.0, score.Components["cross_system_correlation"].Score)
	assert.Equal(t, 100.0, score.Components["business_continuity"].Score)
}

func TestComputeRisk_ConcurrentCallersShareOneComputation(t *testing.T) {
	f := newFixture(t)
	f.addSystem("sys-1", entity.CriticalityHigh)
	f.inventory.PutVulnerabilities("sys-1", &entity.Vulnerability{ID: "v1", SystemID: "sys-1", CVSSScore: 8.1, Status: entity.VulnerabilityOpen})

	exploitability := &countingExploitability{delay: 20 * time.Millisecond}
	deps := f.deps()
	deps.Exploitability = exploitability
	posture, err := NewPostureAssessmentUseCase(deps, CacheSettings{}, 0)
	require.NoError(t, err)
	uc, err := NewRiskScoringUseCase(deps, posture, nil, CacheSettings{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	scores := make([]*entity.RiskScore, 10)
	for i := range scores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := uc.ComputeRisk(context.Background(), "sys-1", service.ModelCVSSVulnerability, entity.RiskOptions{})
			assert.NoError(t, err)
			scores[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&exploitability.calls))
	for _, s := range scores {
		require.NotNil(t, s)
		assert.Equal(t, scores[0].OverallRisk, s.OverallRisk)
	}
}

func TestComputeRisk_ExpiredEntriesAreRecomputed(t *testing.T) {
	f := newFixture(t)
	f.addSystem("sys-1", entity.CriticalityHigh)
	uc := f.riskUseCase(t, f.postureUseCase(t))
	ctx := context.Background()

	first, err := uc.ComputeRisk(ctx, "sys-1", service.ModelConfigurationDrift, entity.RiskOptions{})
	require.NoError(t, err)

	f.clock.Advance(29 * time.Minute)
	cached, err := uc.ComputeRisk(ctx, "sys-1", service.ModelConfigurationDrift, entity.RiskOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAt, cached.ComputedAt)

	forced, err := uc.ComputeRisk(ctx, "sys-1", service.ModelConfigurationDrift, entity.RiskOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, fixtureNow.Add(29*time.Minute), forced.ComputedAt)

	f.clock.Advance(31 * time.Minute)
	expired, err := uc.ComputeRisk(ctx, "sys-1", service.ModelConfigurationDrift, entity.RiskOptions{})
	require.NoError(t, err)
	assert.Equal(t, fixtureNow.Add(60*time.Minute), expired.ComputedAt)
}

func TestComputeRisk_NotFound(t *testing.T) {
	f := newFixture(t)
	f.addSystem("sys-1", entity.CriticalityHigh)
	uc := f.riskUseCase(t, f.postureUseCase(t))

	_, err := uc.ComputeRisk(context.Background(), "sys-1", "quantum_model", entity.RiskOptions{})
	assert.True(t, common.IsNotFound(err))

	_, err = uc.ComputeRisk(context.Background(), "ghost", service.ModelCVSSVulnerability, entity.RiskOptions{})
	assert.True(t, common.IsNotFound(err))
}

func TestListModels(t *testing.T) {
	f := newFixture(t)
	uc := f.riskUseCase(t, f.postureUseCase(t))

	models := uc.ListModels()
	require.Len(t, models, 4)
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
		total := 0.0
		for _, w := range m.Weights {
			total += w
		}
		assert.InDelta(t, 1.0, total, 1e-9, m.Name)
	}
	assert.Equal(t, []string{
		service.ModelConfigurationDrift,
		service.ModelCVSSVulnerability,
		service.ModelEnterpriseAggregate,
		service.ModelSystemComposite,
	}, names)
}
