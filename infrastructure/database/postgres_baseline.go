package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint failure
const uniqueViolation = "23505"

// PostgreSQLBaselineRepository stores configuration baselines
type PostgreSQLBaselineRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgreSQLBaselineRepository creates a baseline repository
func NewPostgreSQLBaselineRepository(db *sqlx.DB, logger *logging.Logger) *PostgreSQLBaselineRepository {
	return &PostgreSQLBaselineRepository{db: db, logger: logger.WithComponent("baseline_repository")}
}

type baselineRow struct {
	ID            string    `db:"id"`
	SystemID      string    `db:"system_id"`
	Configuration []byte    `db:"configuration"`
	Checksum      string    `db:"checksum"`
	CapturedAt    time.Time `db:"captured_at"`
	CapturedBy    string    `db:"captured_by"`
	Source        string    `db:"source"`
	Version       int       `db:"version"`
}

func (row baselineRow) toEntity() (*entity.ConfigurationBaseline, error) {
	b := &entity.ConfigurationBaseline{
		ID:         row.ID,
		SystemID:   row.SystemID,
		Checksum:   row.Checksum,
		CapturedAt: row.CapturedAt,
		CapturedBy: row.CapturedBy,
		Source:     entity.BaselineSource(row.Source),
		Version:    row.Version,
	}
	if err := json.Unmarshal(row.Configuration, &b.Configuration); err != nil {
		return nil, errors.Wrap(err, "failed to decode baseline configuration")
	}
	return b, nil
}

func (r *PostgreSQLBaselineRepository) Get(ctx context.Context, systemID string) (*entity.ConfigurationBaseline, error) {
	var row baselineRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, system_id, configuration, checksum, captured_at, captured_by, source, version
		FROM configuration_baselines WHERE system_id = $1`, systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound("baseline", systemID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get baseline")
	}
	return row.toEntity()
}

func (r *PostgreSQLBaselineRepository) Create(ctx context.Context, baseline *entity.ConfigurationBaseline) error {
	config, err := json.Marshal(baseline.Configuration)
	if err != nil {
		return errors.Wrap(err, "failed to encode baseline configuration")
	}
	if baseline.Version == 0 {
		baseline.Version = 1
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO configuration_baselines (id, system_id, configuration, checksum, captured_at, captured_by, source, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		baseline.ID, baseline.SystemID, string(config), baseline.Checksum, baseline.CapturedAt,
		baseline.CapturedBy, baseline.Source, baseline.Version,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return common.ErrInvalidState("baseline exists", "create baseline")
	}
	if err != nil {
		r.logger.Error("Failed to create baseline", logging.String("system_id", baseline.SystemID), logging.Error(err))
		return errors.Wrap(err, "failed to create baseline")
	}

	r.logger.Debug("Baseline created", logging.String("system_id", baseline.SystemID), logging.String("checksum", baseline.Checksum))
	return nil
}

// Replace upserts the live baseline and bumps its version
func (r *PostgreSQLBaselineRepository) Replace(ctx context.Context, baseline *entity.ConfigurationBaseline) error {
	config, err := json.Marshal(baseline.Configuration)
	if err != nil {
		return errors.Wrap(err, "failed to encode baseline configuration")
	}

	var version int
	err = r.db.GetContext(ctx, &version, `
		INSERT INTO configuration_baselines (id, system_id, configuration, checksum, captured_at, captured_by, source, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (system_id) DO UPDATE SET
			id = EXCLUDED.id,
			configuration = EXCLUDED.configuration,
			checksum = EXCLUDED.checksum,
			captured_at = EXCLUDED.captured_at,
			captured_by = EXCLUDED.captured_by,
			source = EXCLUDED.source,
			version = configuration_baselines.version + 1
		RETURNING version`,
		baseline.ID, baseline.SystemID, string(config), baseline.Checksum, baseline.CapturedAt,
		baseline.CapturedBy, baseline.Source,
	)
	if err != nil {
		r.logger.Error("Failed to replace baseline", logging.String("system_id", baseline.SystemID), logging.Error(err))
		return errors.Wrap(err, "failed to replace baseline")
	}

	baseline.Version = version
	return nil
}

func (r *PostgreSQLBaselineRepository) ListSystemIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT system_id FROM configuration_baselines ORDER BY system_id`); err != nil {
		return nil, errors.Wrap(err, "failed to list baselines")
	}
	return ids, nil
}

var _ repository.BaselineRepository = (*PostgreSQLBaselineRepository)(nil)
