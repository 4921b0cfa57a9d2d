package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/risk-posture-engine/domain/entity"
)

const inventoryYAML = `
systems:
  - system:
      id: pay-01
      name: Payments
      criticality: critical
      industry: finance
    assets:
      - id: web
        public_facing: true
        criticality: critical
    vulnerabilities:
      - id: v1
        asset_id: web
        cve: CVE-2024-0001
        cvss_score: 9.8
        first_seen: 2024-02-20T00:00:00Z
        known_exploited: true
    controls:
      - id: c1
        control_id: AC-2
        implementation_status: implemented
    patch_status:
      compliance_percent: 90
      critical_pending: 1
    continuity:
      rto_target_hours: 4
      rto_actual_hours: 6
  - system:
      id: hr-01
`

func TestLoadInventoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(inventoryYAML), 0o600))

	inv, err := LoadInventoryFile(path)
	require.NoError(t, err)
	ctx := context.Background()

	systems, err := inv.ListSystems(ctx)
	require.NoError(t, err)
	require.Len(t, systems, 2)

	hr, err := inv.GetSystem(ctx, "hr-01")
	require.NoError(t, err)
	assert.Equal(t, entity.CriticalityModerate, hr.Criticality)

	vulns, err := inv.ListVulnerabilities(ctx, "pay-01")
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "pay-01", vulns[0].SystemID)
	assert.Equal(t, entity.VulnerabilityOpen, vulns[0].Status)
	assert.Equal(t, 2024, vulns[0].FirstSeen.Year())
	assert.True(t, vulns[0].KnownExploited)

	assets, err := inv.ListAssets(ctx, "pay-01")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "pay-01", assets[0].SystemID)

	patch, err := inv.GetPatchStatus(ctx, "pay-01")
	require.NoError(t, err)
	require.NotNil(t, patch)
	assert.Equal(t, 1, patch.CriticalPending)

	continuity, err := inv.GetContinuityStatus(ctx, "pay-01")
	require.NoError(t, err)
	require.NotNil(t, continuity)
	assert.True(t, continuity.RTOMissed())
}

func TestLoadInventoryFile_Errors(t *testing.T) {
	_, err := LoadInventoryFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("systems:\n  - system:\n      name: no-id\n"), 0o600))
	_, err = LoadInventoryFile(path)
	assert.ErrorContains(t, err, "id is required")
}
