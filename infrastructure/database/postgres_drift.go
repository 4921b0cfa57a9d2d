package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

const driftColumns = `id, system_id, drift_type, subject, severity, title, description,
	current_value, expected_value, previous_value, detection_method, impact_assessment,
	business_impact, remediation_steps, status, revision, detected_at, last_detected_at,
	acknowledged_at, acknowledged_by, acknowledge_notes, resolved_at, resolved_by, resolve_notes`

// PostgreSQLDriftRepository stores drift findings. Rows are never deleted.
type PostgreSQLDriftRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgreSQLDriftRepository creates a drift repository
func NewPostgreSQLDriftRepository(db *sqlx.DB, logger *logging.Logger) *PostgreSQLDriftRepository {
	return &PostgreSQLDriftRepository{db: db, logger: logger.WithComponent("drift_repository")}
}

func (r *PostgreSQLDriftRepository) Insert(ctx context.Context, d *entity.Drift) error {
	query := `
		INSERT INTO configuration_drifts (` + driftColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.SystemID, d.DriftType, d.Subject, d.Severity, d.Title, d.Description,
		d.CurrentValue, d.ExpectedValue, d.PreviousValue, d.DetectionMethod, d.ImpactAssessment,
		d.BusinessImpact, pq.Array(nonNil(d.RemediationSteps)), d.Status, d.Revision, d.DetectedAt, d.LastDetectedAt,
		d.AcknowledgedAt, d.AcknowledgedBy, d.AcknowledgeNotes, d.ResolvedAt, d.ResolvedBy, d.ResolveNotes,
	)
	if err != nil {
		r.logger.Error("Failed to insert drift", logging.String("drift_id", d.ID), logging.Error(err))
		return errors.Wrap(err, "failed to insert drift")
	}
	return nil
}

// UpdateDetection refreshes the detection fields of an unresolved row and
// reloads d from the stored row. Status and triage columns are not written.
func (r *PostgreSQLDriftRepository) UpdateDetection(ctx context.Context, d *entity.Drift) error {
	query := `
		UPDATE configuration_drifts SET
			severity = $2, title = $3, description = $4, current_value = $5, expected_value = $6,
			previous_value = $7, impact_assessment = $8, business_impact = $9, remediation_steps = $10,
			revision = revision + 1, last_detected_at = $11
		WHERE id = $1 AND status IN ('open', 'acknowledged')
		RETURNING ` + driftColumns

	var row driftRow
	err := r.db.GetContext(ctx, &row, query,
		d.ID, d.Severity, d.Title, d.Description, d.CurrentValue, d.ExpectedValue,
		d.PreviousValue, d.ImpactAssessment, d.BusinessImpact, pq.Array(nonNil(d.RemediationSteps)),
		d.LastDetectedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrInvalidState(string(entity.DriftStatusResolved), "redetect")
	}
	if err != nil {
		r.logger.Error("Failed to update drift detection", logging.String("drift_id", d.ID), logging.Error(err))
		return errors.Wrap(err, "failed to update drift detection")
	}
	*d = *row.toEntity()
	return nil
}

// UpdateStatus writes a status transition only while the stored status is
// still from. The whole row is reloaded into d.
func (r *PostgreSQLDriftRepository) UpdateStatus(ctx context.Context, d *entity.Drift, from entity.DriftStatus) error {
	query := `
		UPDATE configuration_drifts SET
			status = $3,
			acknowledged_at = $4, acknowledged_by = $5, acknowledge_notes = $6,
			resolved_at = $7, resolved_by = $8, resolve_notes = $9
		WHERE id = $1 AND status = $2
		RETURNING ` + driftColumns

	var row driftRow
	err := r.db.GetContext(ctx, &row, query,
		d.ID, from, d.Status,
		d.AcknowledgedAt, d.AcknowledgedBy, d.AcknowledgeNotes,
		d.ResolvedAt, d.ResolvedBy, d.ResolveNotes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, d.ID)
		if getErr != nil {
			return getErr
		}
		return common.ErrInvalidState(string(current.Status), string(d.Status))
	}
	if err != nil {
		r.logger.Error("Failed to update drift status", logging.String("drift_id", d.ID), logging.Error(err))
		return errors.Wrap(err, "failed to update drift status")
	}
	*d = *row.toEntity()
	return nil
}

func (r *PostgreSQLDriftRepository) Get(ctx context.Context, driftID string) (*entity.Drift, error) {
	var row driftRow
	err := r.db.GetContext(ctx, &row, `SELECT `+driftColumns+` FROM configuration_drifts WHERE id = $1`, driftID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound("drift", driftID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get drift")
	}
	return row.toEntity(), nil
}

func (r *PostgreSQLDriftRepository) FindUnresolved(ctx context.Context, key entity.DriftKey) (*entity.Drift, error) {
	rows, err := r.query(ctx, `
		SELECT `+driftColumns+` FROM configuration_drifts
		WHERE system_id = $1 AND drift_type = $2 AND subject = $3 AND status IN ('open', 'acknowledged')
		ORDER BY detected_at LIMIT 1`,
		key.SystemID, key.DriftType, key.Subject)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *PostgreSQLDriftRepository) List(ctx context.Context, systemID string, filter entity.DriftFilter) ([]*entity.Drift, error) {
	conditions := []string{"system_id = $1"}
	args := []interface{}{systemID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.DriftType != "" {
		args = append(args, filter.DriftType)
		conditions = append(conditions, fmt.Sprintf("drift_type = $%d", len(args)))
	}

	query := `SELECT ` + driftColumns + ` FROM configuration_drifts WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY detected_at DESC`
	return r.query(ctx, query, args...)
}

func (r *PostgreSQLDriftRepository) ListUnresolved(ctx context.Context, systemID string) ([]*entity.Drift, error) {
	return r.query(ctx, `
		SELECT `+driftColumns+` FROM configuration_drifts
		WHERE system_id = $1 AND status IN ('open', 'acknowledged')
		ORDER BY detected_at`, systemID)
}

func (r *PostgreSQLDriftRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Drift, error) {
	var rows []driftRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query drifts")
	}
	out := make([]*entity.Drift, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// driftRow overrides the remediation steps with a scannable array
type driftRow struct {
	entity.Drift
	RemediationSteps pq.StringArray `db:"remediation_steps"`
}

func (row driftRow) toEntity() *entity.Drift {
	d := row.Drift
	d.RemediationSteps = []string(row.RemediationSteps)
	return &d
}

var _ repository.DriftRepository = (*PostgreSQLDriftRepository)(nil)
