package repository

import (
	"context"

	"github.com/isectech/risk-posture-engine/domain/entity"
)

// CorrelationFacts summarise how a system's exposure overlaps with other systems
type CorrelationFacts struct {
	// SharedVulnerabilities counts CVEs on the system that also appear elsewhere
	SharedVulnerabilities int `json:"shared_vulnerabilities" db:"shared_vulnerabilities"`
	// CorrelatedSystems counts other systems sharing at least one CVE
	CorrelatedSystems int `json:"correlated_systems" db:"correlated_systems"`
}

// InventoryRepository reads upstream inventory. The engine never writes through it.
// Lookups of a single missing system return a NOT_FOUND AppError; absent optional
// records (patch, continuity) return nil without error.
type InventoryRepository interface {
	GetSystem(ctx context.Context, systemID string) (*entity.System, error)
	ListSystems(ctx context.Context) ([]*entity.System, error)
	ListAssets(ctx context.Context, systemID string) ([]*entity.Asset, error)
	ListVulnerabilities(ctx context.Context, systemID string) ([]*entity.Vulnerability, error)
	ListControls(ctx context.Context, systemID string) ([]*entity.Control, error)
	GetPatchStatus(ctx context.Context, systemID string) (*entity.PatchStatus, error)
	GetContinuityStatus(ctx context.Context, systemID string) (*entity.ContinuityStatus, error)
	GetCorrelation(ctx context.Context, systemID string) (*CorrelationFacts, error)
}

// BaselineRepository stores at most one live baseline per system
type BaselineRepository interface {
	// Get returns the live baseline or a NOT_FOUND AppError
	Get(ctx context.Context, systemID string) (*entity.ConfigurationBaseline, error)
	// Create stores a first baseline and fails with INVALID_STATE if one exists
	Create(ctx context.Context, baseline *entity.ConfigurationBaseline) error
	// Replace swaps the live baseline, bumping its version
	Replace(ctx context.Context, baseline *entity.ConfigurationBaseline) error
	// ListSystemIDs returns every system that has a baseline
	ListSystemIDs(ctx context.Context) ([]string, error)
}

// DriftRepository is the append-mostly audit trail of drift findings.
// Rows are never deleted.
type DriftRepository interface {
	Insert(ctx context.Context, drift *entity.Drift) error
	// UpdateDetection refreshes the detection fields of an unresolved row and
	// reloads drift from storage. It never writes status or triage fields and
	// returns InvalidState when the row has been resolved.
	UpdateDetection(ctx context.Context, drift *entity.Drift) error
	// UpdateStatus writes drift's status and triage fields only while the
	// stored status equals from; otherwise it returns InvalidState.
	UpdateStatus(ctx context.Context, drift *entity.Drift, from entity.DriftStatus) error
	Get(ctx context.Context, driftID string) (*entity.Drift, error)
	// FindUnresolved returns the open or acknowledged row for key, or nil
	FindUnresolved(ctx context.Context, key entity.DriftKey) (*entity.Drift, error)
	List(ctx context.Context, systemID string, filter entity.DriftFilter) ([]*entity.Drift, error)
	// ListUnresolved returns open and acknowledged rows for a system
	ListUnresolved(ctx context.Context, systemID string) ([]*entity.Drift, error)
}

// PostureRepository keeps one posture row per system
type PostureRepository interface {
	Upsert(ctx context.Context, assessment *entity.PostureAssessment) error
	Get(ctx context.Context, systemID string) (*entity.PostureAssessment, error)
	List(ctx context.Context) ([]*entity.PostureAssessment, error)
}
