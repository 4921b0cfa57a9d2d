package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/infrastructure/database"
	"github.com/isectech/risk-posture-engine/infrastructure/messaging"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
)

var fixtureNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock     *common.ManualClock
	inventory *database.MemoryInventory
	baselines *database.MemoryBaselineRepository
	drifts    *database.MemoryDriftRepository
	postures  *database.MemoryPostureRepository
	snapshots *service.StaticSnapshots
	publisher *messaging.MemoryPublisher
	collector *metrics.Collector
	logger    *logging.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := common.NewManualClock(fixtureNow)
	f := &fixture{
		clock:     clock,
		inventory: database.NewMemoryInventory(),
		baselines: database.NewMemoryBaselineRepository(),
		drifts:    database.NewMemoryDriftRepository(),
		postures:  database.NewMemoryPostureRepository(),
		snapshots: service.NewStaticSnapshots(clock.Now),
		publisher: messaging.NewMemoryPublisher(),
		collector: metrics.NewCollector("test"),
		logger:    logging.FromZap(zaptest.NewLogger(t), "test"),
	}
	return f
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Inventory: f.inventory,
		Baselines: f.baselines,
		Drifts:    f.drifts,
		Postures:  f.postures,
		Snapshots: f.snapshots,
		Publisher: f.publisher,
		Collector: f.collector,
		Clock:     f.clock,
		Logger:    f.logger,
	}
}

func (f *fixture) addSystem(id string, criticality entity.Criticality) *entity.System {
	s := &entity.System{ID: id, Name: id, Environment: "production", Criticality: criticality, Industry: "finance"}
	f.inventory.PutSystem(s)
	return s
}

func (f *fixture) driftUseCase(t *testing.T, mode PersistenceMode) *DriftDetectionUseCase {
	t.Helper()
	uc, err := NewDriftDetectionUseCase(f.deps(), nil, mode)
	require.NoError(t, err)
	return uc
}

func (f *fixture) postureUseCase(t *testing.T) *PostureAssessmentUseCase {
	t.Helper()
	uc, err := NewPostureAssessmentUseCase(f.deps(), CacheSettings{TTL: 15 * time.Minute}, 30*time.Minute)
	require.NoError(t, err)
	return uc
}

func (f *fixture) riskUseCase(t *testing.T, posture *PostureAssessmentUseCase) *RiskScoringUseCase {
	t.Helper()
	uc, err := NewRiskScoringUseCase(f.deps(), posture, nil, CacheSettings{TTL: 30 * time.Minute})
	require.NoError(t, err)
	return uc
}

func baseState() entity.ConfigurationState {
	return entity.ConfigurationState{
		SecurityPolicy: entity.SecurityPolicy{
			PasswordPolicy: entity.PasswordPolicy{MinLength: 14, Complexity: true, MaxAgeDays: 90},
			AuditPolicy:    entity.AuditPolicy{PrivilegeUse: true, LogonEvents: true},
		},
		FirewallRules: []entity.FirewallRule{
			{ID: "fw-1", Name: "ssh", Source: "10.0.0.0/8", Destination: "any", Port: "22", Protocol: "tcp", Action: "allow"},
		},
		UserAccounts: []entity.UserAccount{
			{Username: "admin", Privileged: true, Enabled: true},
			{Username: "svc-backup", Enabled: true},
		},
		InstalledSoftware: []entity.SoftwarePackage{
			{Name: "openssl", Version: "3.0.13", Vendor: "OpenSSL"},
		},
		SystemSettings:  entity.SystemSettings{Timezone: "UTC", LogLevel: "info"},
		NetworkSettings: entity.NetworkSettings{DNSServers: []string{"10.0.0.2", "10.0.0.3"}},
	}
}

func withPrivilegedUser(state entity.ConfigurationState, username string) entity.ConfigurationState {
	state.UserAccounts = append(append([]entity.UserAccount(nil), state.UserAccounts...),
		entity.UserAccount{Username: username, Privileged: true, Enabled: true})
	return state
}

var errStoreDown = errors.New("connection refused")

// failingInventory fails selected reads
type failingInventory struct {
	*database.MemoryInventory
	failControls bool
}

func (f *failingInventory) ListControls(ctx context.Context, systemID string) ([]*entity.Control, error) {
	if f.failControls {
		return nil, errStoreDown
	}
	return f.MemoryInventory.ListControls(ctx, systemID)
}

// toggledPostureRepository fails upserts while fail is set
type toggledPostureRepository struct {
	*database.MemoryPostureRepository
	fail bool
}

func (r *toggledPostureRepository) Upsert(ctx context.Context, a *entity.PostureAssessment) error {
	if r.fail {
		return errStoreDown
	}
	return r.MemoryPostureRepository.Upsert(ctx, a)
}
