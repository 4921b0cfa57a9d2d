package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// PostgreSQLInventoryRepository reads upstream inventory tables
type PostgreSQLInventoryRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgreSQLInventoryRepository creates a read-only inventory repository
func NewPostgreSQLInventoryRepository(db *sqlx.DB, logger *logging.Logger) *PostgreSQLInventoryRepository {
	return &PostgreSQLInventoryRepository{db: db, logger: logger.WithComponent("inventory_repository")}
}

func (r *PostgreSQLInventoryRepository) GetSystem(ctx context.Context, systemID string) (*entity.System, error) {
	var s entity.System
	err := r.db.GetContext(ctx, &s, `SELECT id, name, environment, criticality, industry FROM systems WHERE id = $1`, systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound("system", systemID)
	}
	if err != nil {
		r.logger.Error("Failed to get system", logging.String("system_id", systemID), logging.Error(err))
		return nil, errors.Wrap(err, "failed to get system")
	}
	return &s, nil
}

func (r *PostgreSQLInventoryRepository) ListSystems(ctx context.Context) ([]*entity.System, error) {
	var out []*entity.System
	if err := r.db.SelectContext(ctx, &out, `SELECT id, name, environment, criticality, industry FROM systems ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "failed to list systems")
	}
	return out, nil
}

func (r *PostgreSQLInventoryRepository) ListAssets(ctx context.Context, systemID string) ([]*entity.Asset, error) {
	query := `
		SELECT id, system_id, name, public_facing, criticality, exposure_score,
			   unencrypted_connections, weak_auth_mechanisms
		FROM assets WHERE system_id = $1 ORDER BY id`

	var out []*entity.Asset
	if err := r.db.SelectContext(ctx, &out, query, systemID); err != nil {
		return nil, errors.Wrap(err, "failed to list assets")
	}
	return out, nil
}

func (r *PostgreSQLInventoryRepository) ListVulnerabilities(ctx context.Context, systemID string) ([]*entity.Vulnerability, error) {
	query := `
		SELECT id, system_id, asset_id, cve, severity, cvss_score, first_seen, status,
			   patch_available, known_exploited
		FROM vulnerabilities WHERE system_id = $1 ORDER BY first_seen`

	var out []*entity.Vulnerability
	if err := r.db.SelectContext(ctx, &out, query, systemID); err != nil {
		return nil, errors.Wrap(err, "failed to list vulnerabilities")
	}
	return out, nil
}

func (r *PostgreSQLInventoryRepository) ListControls(ctx context.Context, systemID string) ([]*entity.Control, error) {
	query := `
		SELECT id, system_id, control_id, implementation_status, assessed, effectiveness_score
		FROM security_controls WHERE system_id = $1 ORDER BY control_id`

	var out []*entity.Control
	if err := r.db.SelectContext(ctx, &out, query, systemID); err != nil {
		return nil, errors.Wrap(err, "failed to list controls")
	}
	return out, nil
}

func (r *PostgreSQLInventoryRepository) GetPatchStatus(ctx context.Context, systemID string) (*entity.PatchStatus, error) {
	var p entity.PatchStatus
	err := r.db.GetContext(ctx, &p, `
		SELECT system_id, compliance_percent, critical_pending, last_patched_at
		FROM patch_status WHERE system_id = $1`, systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get patch status")
	}
	return &p, nil
}

func (r *PostgreSQLInventoryRepository) GetContinuityStatus(ctx context.Context, systemID string) (*entity.ContinuityStatus, error) {
	var c entity.ContinuityStatus
	err := r.db.GetContext(ctx, &c, `
		SELECT system_id, rto_target_hours, rto_actual_hours, rpo_target_hours, rpo_actual_hours
		FROM continuity_status WHERE system_id = $1`, systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get continuity status")
	}
	return &c, nil
}

// GetCorrelation counts open CVEs on the system that are also open on other systems
func (r *PostgreSQLInventoryRepository) GetCorrelation(ctx context.Context, systemID string) (*repository.CorrelationFacts, error) {
	query := `
		SELECT COUNT(DISTINCT other.cve)       AS shared_vulnerabilities,
			   COUNT(DISTINCT other.system_id) AS correlated_systems
		FROM vulnerabilities own
		JOIN vulnerabilities other
		  ON other.cve = own.cve AND other.system_id <> own.system_id AND other.status = 'open'
		WHERE own.system_id = $1 AND own.status = 'open' AND own.cve <> ''`

	var facts repository.CorrelationFacts
	if err := r.db.GetContext(ctx, &facts, query, systemID); err != nil {
		return nil, errors.Wrap(err, "failed to compute vulnerability correlation")
	}
	return &facts, nil
}

var _ repository.InventoryRepository = (*PostgreSQLInventoryRepository)(nil)
