package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrift_Transitions(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("open to acknowledged to resolved", func(t *testing.T) {
		d := &Drift{}
		d.Open("sys-1", now)

		require.NoError(t, d.Acknowledge("analyst", "looking", now))
		assert.Equal(t, DriftStatusAcknowledged, d.Status)
		assert.Equal(t, "analyst", d.AcknowledgedBy)

		require.NoError(t, d.Resolve("analyst", "fixed", now.Add(time.Hour)))
		assert.Equal(t, DriftStatusResolved, d.Status)
		require.NotNil(t, d.ResolvedAt)
	})

	t.Run("open to resolved", func(t *testing.T) {
		d := &Drift{}
		d.Open("sys-1", now)
		require.NoError(t, d.Resolve("analyst", "", now))
	})

	t.Run("backward transitions rejected", func(t *testing.T) {
		d := &Drift{}
		d.Open("sys-1", now)
		require.NoError(t, d.Resolve("analyst", "", now))

		err := d.Acknowledge("analyst", "", now)
		var illegal *ErrIllegalTransition
		require.ErrorAs(t, err, &illegal)
		assert.Equal(t, DriftStatusResolved, illegal.From)

		assert.Error(t, d.Resolve("analyst", "", now))
		assert.Equal(t, DriftStatusResolved, d.Status)
	})

	t.Run("double acknowledge rejected", func(t *testing.T) {
		d := &Drift{}
		d.Open("sys-1", now)
		require.NoError(t, d.Acknowledge("a", "", now))
		assert.Error(t, d.Acknowledge("b", "", now))
		assert.Equal(t, "a", d.AcknowledgedBy)
	})

	assert.False(t, DriftStatusResolved.CanTransitionTo(DriftStatusOpen))
	assert.False(t, DriftStatusAcknowledged.CanTransitionTo(DriftStatusOpen))
}

func TestDrift_RedetectKeepsIdentity(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	existing := &Drift{DriftType: DriftTypeFirewallRules, Subject: "fw-1", CurrentValue: "10.0.0.0/8"}
	existing.Open("sys-1", now)
	require.NoError(t, existing.Acknowledge("analyst", "", now))
	id := existing.ID

	fresh := &Drift{DriftType: DriftTypeFirewallRules, Subject: "fw-1", CurrentValue: "0.0.0.0/0", Severity: SeverityCritical}
	existing.Redetect(fresh, now.Add(15*time.Minute))

	assert.Equal(t, id, existing.ID)
	assert.Equal(t, DriftStatusAcknowledged, existing.Status)
	assert.Equal(t, 2, existing.Revision)
	assert.Equal(t, now, existing.DetectedAt)
	assert.Equal(t, now.Add(15*time.Minute), existing.LastDetectedAt)
	assert.Equal(t, "0.0.0.0/0", existing.CurrentValue)
	assert.Equal(t, SeverityCritical, existing.Severity)
}

func TestParseDriftType(t *testing.T) {
	dt, err := ParseDriftType("user_accounts")
	require.NoError(t, err)
	assert.Equal(t, DriftTypeUserAccounts, dt)

	_, err = ParseDriftType("kernel_modules")
	assert.Error(t, err)
}

func TestConfigurationChecksum_OrderIndependent(t *testing.T) {
	a := ConfigurationState{
		FirewallRules: []FirewallRule{{ID: "b", Source: "any"}, {ID: "a", Source: "10.0.0.0/8"}},
		NetworkSettings: NetworkSettings{
			DNSServers: []string{"8.8.8.8", "1.1.1.1"},
		},
	}
	b := ConfigurationState{
		FirewallRules: []FirewallRule{{ID: "a", Source: "10.0.0.0/8"}, {ID: "b", Source: "any"}},
		NetworkSettings: NetworkSettings{
			DNSServers: []string{"1.1.1.1", "8.8.8.8"},
		},
	}

	sumA, err := a.Checksum()
	require.NoError(t, err)
	sumB, err := b.Checksum()
	require.NoError(t, err)
	assert.Equal(t, sumA, sumB)
	assert.Len(t, sumA, 64)

	b.SystemSettings.Timezone = "UTC"
	sumC, err := b.Checksum()
	require.NoError(t, err)
	assert.NotEqual(t, sumA, sumC)

	// canonicalisation must not reorder the caller's slices
	assert.Equal(t, "b", a.FirewallRules[0].ID)
}
