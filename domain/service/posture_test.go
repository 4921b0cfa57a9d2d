package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/risk-posture-engine/domain/entity"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func vulns(severities ...entity.Severity) []*entity.Vulnerability {
	out := make([]*entity.Vulnerability, 0, len(severities))
	for i, s := range severities {
		out = append(out, &entity.Vulnerability{
			ID:        string(rune('a' + i)),
			Severity:  s,
			Status:    entity.VulnerabilityOpen,
			FirstSeen: now.Add(-24 * time.Hour),
		})
	}
	return out
}

func TestVulnerabilityScore_WorkedExample(t *testing.T) {
	v := vulns(entity.SeverityCritical, entity.SeverityCritical, entity.SeverityHigh, entity.SeverityHigh, entity.SeverityHigh)

	got := VulnerabilityScore(v, now)
	assert.Equal(t, 30.0, got.Score)
	assert.Equal(t, 2, got.Signals.CriticalVulnerabilities)
	assert.Len(t, got.RiskFactors, 1)
}

func TestVulnerabilityScore_IgnoresResolvedAndClamps(t *testing.T) {
	v := vulns(entity.SeverityCritical, entity.SeverityCritical, entity.SeverityCritical,
		entity.SeverityCritical, entity.SeverityCritical, entity.SeverityCritical)
	assert.Equal(t, 0.0, VulnerabilityScore(v, now).Score)

	for _, x := range v {
		x.Status = entity.VulnerabilityResolved
	}
	assert.Equal(t, 100.0, VulnerabilityScore(v, now).Score)
}

func TestVulnerabilityScore_StaleFactor(t *testing.T) {
	v := vulns(entity.SeverityLow)
	v[0].FirstSeen = now.Add(-120 * 24 * time.Hour)

	got := VulnerabilityScore(v, now)
	assert.Equal(t, 99.0, got.Score)
	require.Len(t, got.RiskFactors, 1)
	assert.Contains(t, got.RiskFactors[0], "older than 90 days")
}

func TestConfigurationScore_WorkedExample(t *testing.T) {
	drifts := []*entity.Drift{
		{Severity: entity.SeverityCritical, Status: entity.DriftStatusOpen},
		{Severity: entity.SeverityHigh, Status: entity.DriftStatusOpen},
		{Severity: entity.SeverityHigh, Status: entity.DriftStatusAcknowledged},
		{Severity: entity.SeverityMedium, Status: entity.DriftStatusOpen},
		{Severity: entity.SeverityLow, Status: entity.DriftStatusOpen},
		{Severity: entity.SeverityCritical, Status: entity.DriftStatusResolved},
	}

	got := ConfigurationScore(drifts)
	assert.Equal(t, 20.0, got.Score)
	assert.Equal(t, 5, got.Signals.UnresolvedDrifts)
	assert.Equal(t, 1, got.Signals.CriticalDrifts)
}

func TestPatchScore(t *testing.T) {
	recent := now.Add(-5 * 24 * time.Hour)
	old := now.Add(-45 * 24 * time.Hour)

	tests := []struct {
		name   string
		status *entity.PatchStatus
		want   float64
	}{
		{"no record", nil, 50},
		{"fully patched", &entity.PatchStatus{CompliancePercent: 100, LastPatchedAt: &recent}, 100},
		{"pending critical", &entity.PatchStatus{CompliancePercent: 90, CriticalPending: 2, LastPatchedAt: &recent}, 60},
		{"stale", &entity.PatchStatus{CompliancePercent: 90, LastPatchedAt: &old}, 70},
		{"never patched", &entity.PatchStatus{CompliancePercent: 10, CriticalPending: 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PatchScore(tt.status, now).Score)
		})
	}

	assert.NotEmpty(t, PatchScore(nil, now).Notes)
}

func TestComplianceAndEffectiveness(t *testing.T) {
	controls := []*entity.Control{
		{ImplementationStatus: entity.ControlImplemented, Assessed: true, EffectivenessScore: 90},
		{ImplementationStatus: entity.ControlImplemented, Assessed: true, EffectivenessScore: 60},
		{ImplementationStatus: entity.ControlPartiallyImplemented, Assessed: false},
		{ImplementationStatus: entity.ControlPlanned, Assessed: false},
	}

	// 0.7 * (2 + 0.5)/4*100 + 0.3 * 2/4*100 = 43.75 + 15
	assert.Equal(t, 58.75, ComplianceScore(controls).Score)
	// 0.6 * 50 + 0.4 * 50
	assert.Equal(t, 50.0, ControlEffectivenessScore(controls).Score)

	assert.Equal(t, NeutralScore, ComplianceScore(nil).Score)
	assert.Equal(t, NeutralScore, ControlEffectivenessScore(nil).Score)
}

func TestThreatExposureScore(t *testing.T) {
	assets := []*entity.Asset{
		{PublicFacing: true, UnencryptedConnections: 1},
		{WeakAuthMechanisms: 1, ExposureScore: 850},
	}

	got := ThreatExposureScore(100, assets)
	assert.Equal(t, 55.0, got.Score)
	assert.Len(t, got.RiskFactors, 4)

	assert.Equal(t, 100.0, ThreatExposureScore(100, nil).Score)
	assert.Equal(t, 0.0, ThreatExposureScore(20, assets).Score)
}

func TestBusinessImpactScore(t *testing.T) {
	sys := &entity.System{Criticality: entity.CriticalityHigh}
	assert.Equal(t, 75.0, BusinessImpactScore(sys, nil).Score)
	assert.Equal(t, 85.0, BusinessImpactScore(sys, []*entity.Asset{{PublicFacing: true}, {PublicFacing: true}}).Score)

	sys.Criticality = entity.CriticalityCritical
	assert.Equal(t, 100.0, BusinessImpactScore(sys, []*entity.Asset{{PublicFacing: true}}).Score)
}

func TestZeroDataScenario(t *testing.T) {
	sys := &entity.System{Criticality: entity.CriticalityModerate}

	scores := entity.ComponentScores{
		Vulnerability:        VulnerabilityScore(nil, now).Score,
		Configuration:        ConfigurationScore(nil).Score,
		Patch:                PatchScore(nil, now).Score,
		Compliance:           ComplianceScore(nil).Score,
		ControlEffectiveness: ControlEffectivenessScore(nil).Score,
		ThreatExposure:       ThreatExposureScore(100, nil).Score,
		BusinessImpact:       BusinessImpactScore(sys, nil).Score,
	}

	assert.Equal(t, 100.0, scores.Vulnerability)
	assert.Equal(t, 100.0, scores.Configuration)
	// 25 + 20 + 7.5 + 7.5 + 7.5 + 10
	assert.Equal(t, 77.5, scores.Weighted())
	assert.Equal(t, entity.PostureFair, entity.ClassifyPosture(scores.Weighted()))
}

func TestRecommend(t *testing.T) {
	scores := entity.ComponentScores{Vulnerability: 60, Configuration: 100, Patch: 100, Compliance: 100, ControlEffectiveness: 100, ThreatExposure: 100}
	recs := Recommend(scores, Signals{CriticalVulnerabilities: 1, WeakAuthMechanisms: 2})

	require.Len(t, recs, 2)
	assert.Equal(t, entity.PriorityCritical, recs[0].Priority)
	assert.Equal(t, "Patch critical vulnerabilities within 24 hours", recs[0].Title)
	assert.Equal(t, entity.PriorityHigh, recs[1].Priority)

	assert.Empty(t, Recommend(entity.ComponentScores{
		Vulnerability: 100, Configuration: 100, Patch: 100, Compliance: 100, ControlEffectiveness: 100, ThreatExposure: 100,
	}, Signals{}))
}
