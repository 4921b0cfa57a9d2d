package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/shared/common"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryInventory_NotFoundAndOptionalRecords(t *testing.T) {
	inv := NewMemoryInventory()
	ctx := context.Background()

	_, err := inv.GetSystem(ctx, "missing")
	assert.True(t, common.IsNotFound(err))

	inv.PutSystem(&entity.System{ID: "sys-1", Criticality: entity.CriticalityHigh})
	sys, err := inv.GetSystem(ctx, "sys-1")
	require.NoError(t, err)
	assert.Equal(t, entity.CriticalityHigh, sys.Criticality)

	patch, err := inv.GetPatchStatus(ctx, "sys-1")
	require.NoError(t, err)
	assert.Nil(t, patch)

	cont, err := inv.GetContinuityStatus(ctx, "sys-1")
	require.NoError(t, err)
	assert.Nil(t, cont)
}

func TestMemoryInventory_Correlation(t *testing.T) {
	inv := NewMemoryInventory()
	ctx := context.Background()

	inv.PutVulnerabilities("a",
		&entity.Vulnerability{ID: "1", CVE: "CVE-1", Status: entity.VulnerabilityOpen},
		&entity.Vulnerability{ID: "2", CVE: "CVE-2", Status: entity.VulnerabilityOpen},
		&entity.Vulnerability{ID: "3", CVE: "CVE-3", Status: entity.VulnerabilityResolved},
	)
	inv.PutVulnerabilities("b",
		&entity.Vulnerability{ID: "4", CVE: "CVE-1", Status: entity.VulnerabilityOpen},
		&entity.Vulnerability{ID: "5", CVE: "CVE-3", Status: entity.VulnerabilityOpen},
	)
	inv.PutVulnerabilities("c",
		&entity.Vulnerability{ID: "6", CVE: "CVE-2", Status: entity.VulnerabilityOpen},
		&entity.Vulnerability{ID: "7", CVE: "CVE-1", Status: entity.VulnerabilityResolved},
	)

	facts, err := inv.GetCorrelation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, facts.SharedVulnerabilities)
	assert.Equal(t, 2, facts.CorrelatedSystems)
}

func TestMemoryBaselineRepository(t *testing.T) {
	repo := NewMemoryBaselineRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "sys-1")
	assert.True(t, common.IsNotFound(err))

	b := &entity.ConfigurationBaseline{ID: "b1", SystemID: "sys-1", Checksum: "aaa", Source: entity.BaselineSourceLazy}
	require.NoError(t, repo.Create(ctx, b))
	assert.Equal(t, 1, b.Version)

	err = repo.Create(ctx, &entity.ConfigurationBaseline{ID: "b2", SystemID: "sys-1"})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidState))

	replacement := &entity.ConfigurationBaseline{ID: "b3", SystemID: "sys-1", Checksum: "bbb", Source: entity.BaselineSourceRebaseline}
	require.NoError(t, repo.Replace(ctx, replacement))
	assert.Equal(t, 2, replacement.Version)

	got, err := repo.Get(ctx, "sys-1")
	require.NoError(t, err)
	assert.Equal(t, "bbb", got.Checksum)
	assert.Equal(t, 2, got.Version)

	ids, err := repo.ListSystemIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sys-1"}, ids)
}

func TestMemoryDriftRepository_UnresolvedLookup(t *testing.T) {
	repo := NewMemoryDriftRepository()
	ctx := context.Background()

	d := &entity.Drift{DriftType: entity.DriftTypeUserAccounts, Subject: "account:eve", Severity: entity.SeverityCritical}
	d.Open("sys-1", now)
	require.NoError(t, repo.Insert(ctx, d))

	found, err := repo.FindUnresolved(ctx, d.Key())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, d.ID, found.ID)

	require.NoError(t, found.Resolve("alice", "removed", now))
	require.NoError(t, repo.UpdateStatus(ctx, found, entity.DriftStatusOpen))

	found, err = repo.FindUnresolved(ctx, d.Key())
	require.NoError(t, err)
	assert.Nil(t, found)

	unresolved, err := repo.ListUnresolved(ctx, "sys-1")
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	resolved, err := repo.List(ctx, "sys-1", entity.DriftFilter{Status: entity.DriftStatusResolved})
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	_, err = repo.Get(ctx, "nope")
	assert.True(t, common.IsNotFound(err))
	assert.True(t, common.IsNotFound(repo.UpdateStatus(ctx, &entity.Drift{ID: "nope"}, entity.DriftStatusOpen)))
	assert.True(t, common.IsNotFound(repo.UpdateDetection(ctx, &entity.Drift{ID: "nope"})))
}

func TestMemoryDriftRepository_StatusWritesAreConditional(t *testing.T) {
	repo := NewMemoryDriftRepository()
	ctx := context.Background()

	d := &entity.Drift{DriftType: entity.DriftTypeFirewallRules, Subject: "rule:fw-9", Severity: entity.SeverityHigh}
	d.Open("sys-1", now)
	require.NoError(t, repo.Insert(ctx, d))

	// two readers of the same open row
	acker, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	resolver, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)

	require.NoError(t, resolver.Resolve("bob", "fixed", now))
	require.NoError(t, repo.UpdateStatus(ctx, resolver, entity.DriftStatusOpen))

	require.NoError(t, acker.Acknowledge("alice", "", now))
	err = repo.UpdateStatus(ctx, acker, entity.DriftStatusOpen)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidState))

	stored, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DriftStatusResolved, stored.Status)
	assert.Equal(t, "bob", stored.ResolvedBy)
	assert.Empty(t, stored.AcknowledgedBy)
}

func TestMemoryDriftRepository_UpdateDetectionKeepsTriage(t *testing.T) {
	repo := NewMemoryDriftRepository()
	ctx := context.Background()

	d := &entity.Drift{DriftType: entity.DriftTypeUserAccounts, Subject: "account:eve", Severity: entity.SeverityHigh}
	d.Open("sys-1", now)
	require.NoError(t, repo.Insert(ctx, d))

	stale, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)

	acked, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NoError(t, acked.Acknowledge("alice", "ticket", now))
	require.NoError(t, repo.UpdateStatus(ctx, acked, entity.DriftStatusOpen))

	stale.Redetect(&entity.Drift{Severity: entity.SeverityCritical, Title: "escalated"}, now.Add(time.Hour))
	require.NoError(t, repo.UpdateDetection(ctx, stale))
	assert.Equal(t, entity.DriftStatusAcknowledged, stale.Status)
	assert.Equal(t, "alice", stale.AcknowledgedBy)
	assert.Equal(t, entity.SeverityCritical, stale.Severity)
	assert.Equal(t, 2, stale.Revision)

	require.NoError(t, acked.Resolve("bob", "", now))
	require.NoError(t, repo.UpdateStatus(ctx, acked, entity.DriftStatusAcknowledged))

	err = repo.UpdateDetection(ctx, stale)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidState))
	stored, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DriftStatusResolved, stored.Status)
	assert.Equal(t, 2, stored.Revision)
}

func TestMemoryDriftRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryDriftRepository()
	ctx := context.Background()

	d := &entity.Drift{DriftType: entity.DriftTypeSystemSettings, Subject: "system_settings.timezone", RemediationSteps: []string{"revert"}}
	d.Open("sys-1", now)
	require.NoError(t, repo.Insert(ctx, d))

	got, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	got.Status = entity.DriftStatusResolved
	got.RemediationSteps[0] = "changed"

	again, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DriftStatusOpen, again.Status)
	assert.Equal(t, "revert", again.RemediationSteps[0])
}

func TestMemoryPostureRepository_OneRowPerSystem(t *testing.T) {
	repo := NewMemoryPostureRepository()
	ctx := context.Background()

	first := &entity.PostureAssessment{ID: "p1", SystemID: "sys-1", OverallScore: 60}
	require.NoError(t, repo.Upsert(ctx, first))

	second := &entity.PostureAssessment{ID: "p2", SystemID: "sys-1", OverallScore: 80}
	require.NoError(t, repo.Upsert(ctx, second))
	assert.Equal(t, "p1", second.ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 80.0, all[0].OverallScore)

	_, err = repo.Get(ctx, "sys-2")
	assert.True(t, common.IsNotFound(err))
}
