package service

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
)

func TestRiskModelRegistry(t *testing.T) {
	registry := NewRiskModelRegistry(0)

	models := registry.List()
	require.Len(t, models, 4)
	assert.Equal(t, ModelConfigurationDrift, models[0].Name)
	assert.Equal(t, ModelSystemComposite, models[3].Name)

	for _, info := range models {
		total := 0.0
		for _, w := range info.Weights {
			total += w
		}
		assert.InDelta(t, 1.0, total, 1e-9, info.Name)
		assert.Equal(t, DefaultRiskTTL, info.TTL)
	}

	_, ok := registry.Get("monte_carlo")
	assert.False(t, ok)
}

func TestCVSSVulnerabilityModel_NoVulnerabilities(t *testing.T) {
	model := CVSSVulnerabilityModel(time.Minute)
	eval, err := model.Evaluate(&RiskInputs{System: &entity.System{Criticality: entity.CriticalityHigh}, Now: now})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Overall)
	assert.Len(t, eval.Components, 5)
}

func TestCVSSVulnerabilityModel_SingleVulnerability(t *testing.T) {
	model := CVSSVulnerabilityModel(time.Minute)
	in := &RiskInputs{
		System: &entity.System{Criticality: entity.CriticalityModerate},
		Assets: []*entity.Asset{{ID: "web-1", Criticality: entity.CriticalityCritical}},
		Vulnerabilities: []*entity.Vulnerability{{
			ID:        "v1",
			AssetID:   "web-1",
			CVSSScore: 9.8,
			Status:    entity.VulnerabilityOpen,
			FirstSeen: now.Add(-100 * 24 * time.Hour),
		}},
		Exploitability: map[string]float64{"v1": 95},
		ThreatContext:  map[string]float64{"v1": 90},
		Now:            now,
	}

	eval, err := model.Evaluate(in)
	require.NoError(t, err)
	// 0.4*98 + 0.2*95 + 0.2*100 + 0.1*90 + 0.1*100
	assert.InDelta(t, 97.2, eval.Overall, 0.01)
	assert.Equal(t, 100.0, eval.Components["patch_urgency"].Score)
	assert.NotEmpty(t, eval.RiskFactors)
}

func TestCVSSVulnerabilityModel_Amplification(t *testing.T) {
	model := CVSSVulnerabilityModel(time.Minute)

	var list []*entity.Vulnerability
	for i := 0; i < 21; i++ {
		list = append(list, &entity.Vulnerability{
			ID:        string(rune('A' + i)),
			CVSSScore: 5.0,
			Status:    entity.VulnerabilityOpen,
			FirstSeen: now,
		})
	}
	in := &RiskInputs{System: &entity.System{Criticality: entity.CriticalityLow}, Vulnerabilities: list, Now: now}

	eval, err := model.Evaluate(in)
	require.NoError(t, err)
	// per vuln: 0.4*50 + 0.2*0 + 0.2*25 + 0.1*0 + 0.1*25 = 27.5; x1.1 for count > 20
	assert.InDelta(t, 30.25, eval.Overall, 0.01)
}

func TestPatchUrgency(t *testing.T) {
	assert.Equal(t, 100.0, PatchUrgency(now.Add(-91*24*time.Hour), now))
	assert.Equal(t, 75.0, PatchUrgency(now.Add(-31*24*time.Hour), now))
	assert.Equal(t, 50.0, PatchUrgency(now.Add(-8*24*time.Hour), now))
	assert.Equal(t, 25.0, PatchUrgency(now.Add(-2*24*time.Hour), now))
}

func TestConfigurationDriftModel(t *testing.T) {
	model := ConfigurationDriftModel(time.Minute)
	sys := &entity.System{Criticality: entity.CriticalityHigh}

	eval, err := model.Evaluate(&RiskInputs{System: sys, Now: now})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.Overall)

	in := &RiskInputs{
		System: sys,
		Drifts: []*entity.Drift{
			{DriftType: entity.DriftTypeUserAccounts, Severity: entity.SeverityCritical, Status: entity.DriftStatusOpen, DetectedAt: now},
			{DriftType: entity.DriftTypeUserAccounts, Severity: entity.SeverityCritical, Status: entity.DriftStatusResolved, DetectedAt: now},
		},
		Now: now,
	}
	eval, err = model.Evaluate(in)
	require.NoError(t, err)
	// 0.3*100 + 0.25*90 + 0.2*75 + 0.15*100 + 0.1*30
	assert.InDelta(t, 85.5, eval.Overall, 0.01)
}

func compositeInputs(vulnRisk, configRisk float64, posture entity.ComponentScores) *RiskInputs {
	return &RiskInputs{
		System:  &entity.System{Criticality: entity.CriticalityHigh},
		Posture: &entity.PostureAssessment{ComponentScores: posture},
		Dependencies: map[string]*entity.RiskScore{
			ModelCVSSVulnerability:  {OverallRisk: vulnRisk},
			ModelConfigurationDrift: {OverallRisk: configRisk},
		},
		Now: now,
	}
}

func TestSystemCompositeModel(t *testing.T) {
	model := SystemCompositeModel(time.Minute)

	eval, err := model.Evaluate(compositeInputs(40, 20, entity.ComponentScores{Patch: 70, ThreatExposure: 50, BusinessImpact: 80}))
	require.NoError(t, err)
	// 0.35*40 + 0.25*20 + 0.15*30 + 0.15*50 + 0.1*80
	assert.InDelta(t, 39.0, eval.Overall, 0.01)
	assert.Equal(t, 30.0, eval.Components["patch_risk"].Score)

	_, err = model.Evaluate(&RiskInputs{Now: now})
	assert.Error(t, err)
}

func TestEnterpriseAggregateModel_Bounded(t *testing.T) {
	model := EnterpriseAggregateModel(time.Minute)

	in := &RiskInputs{
		System:       &entity.System{Criticality: entity.CriticalityCritical},
		Dependencies: map[string]*entity.RiskScore{ModelSystemComposite: {OverallRisk: 100}},
		Correlation:  &repository.CorrelationFacts{SharedVulnerabilities: 1000, CorrelatedSystems: 1000},
		Landscape:    &ThreatLandscape{ActiveCampaigns: 500, EmergingThreats: 500, SectorTargeted: true},
		Controls:     []*entity.Control{{ImplementationStatus: entity.ControlNotImplemented}},
		Continuity:   &entity.ContinuityStatus{RTOTargetHours: 1, RTOActualHours: 100, RPOTargetHours: 1, RPOActualHours: 100},
		Now:          now,
	}

	eval, err := model.Evaluate(in)
	require.NoError(t, err)
	assert.Equal(t, 100.0, eval.Overall)
	for name, c := range eval.Components {
		assert.LessOrEqual(t, c.Score, 100.0, name)
	}
}

func TestEnterpriseAggregate_NeverExceeds100Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)
	model := EnterpriseAggregateModel(time.Minute)

	properties.Property("enterprise score stays within [0,100]", prop.ForAll(
		func(systemRisk float64, shared, correlated, campaigns, emerging int, targeted bool) bool {
			in := &RiskInputs{
				System:       &entity.System{},
				Dependencies: map[string]*entity.RiskScore{ModelSystemComposite: {OverallRisk: systemRisk}},
				Correlation:  &repository.CorrelationFacts{SharedVulnerabilities: shared, CorrelatedSystems: correlated},
				Landscape:    &ThreatLandscape{ActiveCampaigns: campaigns, EmergingThreats: emerging, SectorTargeted: targeted},
				Continuity:   &entity.ContinuityStatus{RTOTargetHours: 1, RTOActualHours: 2},
				Now:          now,
			}
			eval, err := model.Evaluate(in)
			return err == nil && eval.Overall >= 0 && eval.Overall <= 100
		},
		gen.Float64Range(0, 1000),
		gen.IntRange(0, 100000),
		gen.IntRange(0, 100000),
		gen.IntRange(0, 100000),
		gen.IntRange(0, 100000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestEnterpriseSubFormulas(t *testing.T) {
	assert.Equal(t, 35.0, CorrelationScore(&repository.CorrelationFacts{SharedVulnerabilities: 3, CorrelatedSystems: 1}))
	assert.Equal(t, 0.0, CorrelationScore(nil))
	assert.Equal(t, 55.0, LandscapeScore(&ThreatLandscape{ActiveCampaigns: 1, EmergingThreats: 4, SectorTargeted: true}))
	assert.Equal(t, NeutralScore, ComplianceGapScore(nil))
	assert.Equal(t, 50.0, ComplianceGapScore([]*entity.Control{
		{ImplementationStatus: entity.ControlImplemented},
		{ImplementationStatus: entity.ControlPartiallyImplemented},
	}))
	assert.Equal(t, 50.0, ContinuityScore(&entity.ContinuityStatus{RTOTargetHours: 4, RTOActualHours: 6, RPOTargetHours: 1, RPOActualHours: 1}))
	assert.Equal(t, NeutralScore, ContinuityScore(nil))
}
