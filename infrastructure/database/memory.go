package database

import (
	"context"
	"sort"
	"sync"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// MemoryInventory is an in-process InventoryRepository. Seed it with the Put methods.
type MemoryInventory struct {
	mu              sync.RWMutex
	systems         map[string]*entity.System
	assets          map[string][]*entity.Asset
	vulnerabilities map[string][]*entity.Vulnerability
	controls        map[string][]*entity.Control
	patches         map[string]*entity.PatchStatus
	continuity      map[string]*entity.ContinuityStatus
}

// NewMemoryInventory creates an empty inventory
func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{
		systems:         make(map[string]*entity.System),
		assets:          make(map[string][]*entity.Asset),
		vulnerabilities: make(map[string][]*entity.Vulnerability),
		controls:        make(map[string][]*entity.Control),
		patches:         make(map[string]*entity.PatchStatus),
		continuity:      make(map[string]*entity.ContinuityStatus),
	}
}

// PutSystem adds or replaces a system
func (m *MemoryInventory) PutSystem(s *entity.System) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.systems[s.ID] = &cp
}

// PutAssets replaces the assets of a system
func (m *MemoryInventory) PutAssets(systemID string, assets ...*entity.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[systemID] = assets
}

// PutVulnerabilities replaces the vulnerabilities of a system
func (m *MemoryInventory) PutVulnerabilities(systemID string, vulns ...*entity.Vulnerability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vulnerabilities[systemID] = vulns
}

// PutControls replaces the controls of a system
func (m *MemoryInventory) PutControls(systemID string, controls ...*entity.Control) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls[systemID] = controls
}

// PutPatchStatus sets the patch status of a system
func (m *MemoryInventory) PutPatchStatus(status *entity.PatchStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches[status.SystemID] = status
}

// PutContinuityStatus sets the continuity status of a system
func (m *MemoryInventory) PutContinuityStatus(status *entity.ContinuityStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.continuity[status.SystemID] = status
}

func (m *MemoryInventory) GetSystem(_ context.Context, systemID string) (*entity.System, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.systems[systemID]
	if !ok {
		return nil, common.ErrNotFound("system", systemID)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryInventory) ListSystems(_ context.Context) ([]*entity.System, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entity.System, 0, len(m.systems))
	for _, s := range m.systems {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryInventory) ListAssets(_ context.Context, systemID string) ([]*entity.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*entity.Asset(nil), m.assets[systemID]...), nil
}

func (m *MemoryInventory) ListVulnerabilities(_ context.Context, systemID string) ([]*entity.Vulnerability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*entity.Vulnerability(nil), m.vulnerabilities[systemID]...), nil
}

func (m *MemoryInventory) ListControls(_ context.Context, systemID string) ([]*entity.Control, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*entity.Control(nil), m.controls[systemID]...), nil
}

func (m *MemoryInventory) GetPatchStatus(_ context.Context, systemID string) (*entity.PatchStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patches[systemID], nil
}

func (m *MemoryInventory) GetContinuityStatus(_ context.Context, systemID string) (*entity.ContinuityStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.continuity[systemID], nil
}

// GetCorrelation counts CVEs of systemID's open vulnerabilities that are also open elsewhere
func (m *MemoryInventory) GetCorrelation(_ context.Context, systemID string) (*repository.CorrelationFacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	own := make(map[string]bool)
	for _, v := range m.vulnerabilities[systemID] {
		if v.IsOpen() && v.CVE != "" {
			own[v.CVE] = true
		}
	}

	shared := make(map[string]bool)
	systems := make(map[string]bool)
	for sid, list := range m.vulnerabilities {
		if sid == systemID {
			continue
		}
		for _, v := range list {
			if v.IsOpen() && own[v.CVE] {
				shared[v.CVE] = true
				systems[sid] = true
			}
		}
	}

	return &repository.CorrelationFacts{SharedVulnerabilities: len(shared), CorrelatedSystems: len(systems)}, nil
}

// MemoryBaselineRepository is an in-process BaselineRepository
type MemoryBaselineRepository struct {
	mu        sync.RWMutex
	baselines map[string]*entity.ConfigurationBaseline
}

// NewMemoryBaselineRepository creates an empty baseline store
func NewMemoryBaselineRepository() *MemoryBaselineRepository {
	return &MemoryBaselineRepository{baselines: make(map[string]*entity.ConfigurationBaseline)}
}

func (r *MemoryBaselineRepository) Get(_ context.Context, systemID string) (*entity.ConfigurationBaseline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.baselines[systemID]
	if !ok {
		return nil, common.ErrNotFound("baseline", systemID)
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryBaselineRepository) Create(_ context.Context, baseline *entity.ConfigurationBaseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.baselines[baseline.SystemID]; ok {
		return common.ErrInvalidState("baseline exists", "create baseline")
	}
	if baseline.Version == 0 {
		baseline.Version = 1
	}
	cp := *baseline
	r.baselines[baseline.SystemID] = &cp
	return nil
}

func (r *MemoryBaselineRepository) Replace(_ context.Context, baseline *entity.ConfigurationBaseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	version := 1
	if prev, ok := r.baselines[baseline.SystemID]; ok {
		version = prev.Version + 1
	}
	baseline.Version = version
	cp := *baseline
	r.baselines[baseline.SystemID] = &cp
	return nil
}

func (r *MemoryBaselineRepository) ListSystemIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.baselines))
	for id := range r.baselines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryDriftRepository is an in-process DriftRepository
type MemoryDriftRepository struct {
	mu     sync.RWMutex
	drifts map[string]*entity.Drift
	order  []string
}

// NewMemoryDriftRepository creates an empty drift store
func NewMemoryDriftRepository() *MemoryDriftRepository {
	return &MemoryDriftRepository{drifts: make(map[string]*entity.Drift)}
}

func copyDrift(d *entity.Drift) *entity.Drift {
	cp := *d
	cp.RemediationSteps = append([]string(nil), d.RemediationSteps...)
	return &cp
}

func (r *MemoryDriftRepository) Insert(_ context.Context, drift *entity.Drift) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drifts[drift.ID]; ok {
		return common.ErrInvalidState("drift exists", "insert drift")
	}
	r.drifts[drift.ID] = copyDrift(drift)
	r.order = append(r.order, drift.ID)
	return nil
}

func (r *MemoryDriftRepository) UpdateDetection(_ context.Context, drift *entity.Drift) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.drifts[drift.ID]
	if !ok {
		return common.ErrNotFound("drift", drift.ID)
	}
	if !stored.Status.Unresolved() {
		return common.ErrInvalidState(string(stored.Status), "redetect")
	}
	stored.Severity = drift.Severity
	stored.Title = drift.Title
	stored.Description = drift.Description
	stored.CurrentValue = drift.CurrentValue
	stored.ExpectedValue = drift.ExpectedValue
	stored.PreviousValue = drift.PreviousValue
	stored.ImpactAssessment = drift.ImpactAssessment
	stored.BusinessImpact = drift.BusinessImpact
	stored.RemediationSteps = append([]string(nil), drift.RemediationSteps...)
	stored.Revision++
	stored.LastDetectedAt = drift.LastDetectedAt
	*drift = *copyDrift(stored)
	return nil
}

func (r *MemoryDriftRepository) UpdateStatus(_ context.Context, drift *entity.Drift, from entity.DriftStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.drifts[drift.ID]
	if !ok {
		return common.ErrNotFound("drift", drift.ID)
	}
	if stored.Status != from {
		return common.ErrInvalidState(string(stored.Status), string(drift.Status))
	}
	stored.Status = drift.Status
	stored.AcknowledgedAt = drift.AcknowledgedAt
	stored.AcknowledgedBy = drift.AcknowledgedBy
	stored.AcknowledgeNotes = drift.AcknowledgeNotes
	stored.ResolvedAt = drift.ResolvedAt
	stored.ResolvedBy = drift.ResolvedBy
	stored.ResolveNotes = drift.ResolveNotes
	*drift = *copyDrift(stored)
	return nil
}

func (r *MemoryDriftRepository) Get(_ context.Context, driftID string) (*entity.Drift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drifts[driftID]
	if !ok {
		return nil, common.ErrNotFound("drift", driftID)
	}
	return copyDrift(d), nil
}

func (r *MemoryDriftRepository) FindUnresolved(_ context.Context, key entity.DriftKey) (*entity.Drift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		d := r.drifts[id]
		if d.Key() == key && d.Status.Unresolved() {
			return copyDrift(d), nil
		}
	}
	return nil, nil
}

// List returns matching drifts, newest first
func (r *MemoryDriftRepository) List(_ context.Context, systemID string, filter entity.DriftFilter) ([]*entity.Drift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Drift
	for i := len(r.order) - 1; i >= 0; i-- {
		d := r.drifts[r.order[i]]
		if d.SystemID == systemID && filter.Matches(d) {
			out = append(out, copyDrift(d))
		}
	}
	return out, nil
}

func (r *MemoryDriftRepository) ListUnresolved(_ context.Context, systemID string) ([]*entity.Drift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Drift
	for _, id := range r.order {
		d := r.drifts[id]
		if d.SystemID == systemID && d.Status.Unresolved() {
			out = append(out, copyDrift(d))
		}
	}
	return out, nil
}

// Count returns the number of stored rows
func (r *MemoryDriftRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// MemoryPostureRepository is an in-process PostureRepository
type MemoryPostureRepository struct {
	mu   sync.RWMutex
	rows map[string]*entity.PostureAssessment
}

// NewMemoryPostureRepository creates an empty posture store
func NewMemoryPostureRepository() *MemoryPostureRepository {
	return &MemoryPostureRepository{rows: make(map[string]*entity.PostureAssessment)}
}

// Upsert keeps one row per system; the first row's ID survives later upserts
func (r *MemoryPostureRepository) Upsert(_ context.Context, assessment *entity.PostureAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.rows[assessment.SystemID]; ok {
		assessment.ID = prev.ID
	}
	cp := *assessment
	r.rows[assessment.SystemID] = &cp
	return nil
}

func (r *MemoryPostureRepository) Get(_ context.Context, systemID string) (*entity.PostureAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[systemID]
	if !ok {
		return nil, common.ErrNotFound("posture assessment", systemID)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPostureRepository) List(_ context.Context) ([]*entity.PostureAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.PostureAssessment, 0, len(r.rows))
	for _, p := range r.rows {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SystemID < out[j].SystemID })
	return out, nil
}

var (
	_ repository.InventoryRepository = (*MemoryInventory)(nil)
	_ repository.BaselineRepository  = (*MemoryBaselineRepository)(nil)
	_ repository.DriftRepository     = (*MemoryDriftRepository)(nil)
	_ repository.PostureRepository   = (*MemoryPostureRepository)(nil)
)
