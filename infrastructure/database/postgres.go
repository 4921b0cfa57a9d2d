package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/isectech/risk-posture-engine/config"
	"github.com/isectech/risk-posture-engine/pkg/logging"
)

// Connect opens a pooled PostgreSQL connection and verifies it
func Connect(ctx context.Context, cfg config.PostgreSQLConfig, logger *logging.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetDSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logger.Info("PostgreSQL connected",
		logging.String("host", cfg.Host),
		logging.Int("port", cfg.Port),
		logging.String("database", cfg.Database),
		logging.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return db, nil
}

// Migrate creates the engine's tables. Inventory tables are created only if absent;
// they are owned and populated upstream.
func Migrate(ctx context.Context, db *sqlx.DB, logger *logging.Logger) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to apply schema statement %d", i)
		}
	}
	logger.Info("Schema migration complete", logging.Int("statements", len(schema)))
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS systems (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		environment  TEXT NOT NULL DEFAULT '',
		criticality  TEXT NOT NULL DEFAULT 'moderate',
		industry     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id                      TEXT PRIMARY KEY,
		system_id               TEXT NOT NULL REFERENCES systems(id),
		name                    TEXT NOT NULL DEFAULT '',
		public_facing           BOOLEAN NOT NULL DEFAULT FALSE,
		criticality             TEXT NOT NULL DEFAULT '',
		exposure_score          DOUBLE PRECISION NOT NULL DEFAULT 0,
		unencrypted_connections INTEGER NOT NULL DEFAULT 0,
		weak_auth_mechanisms    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS vulnerabilities (
		id              TEXT PRIMARY KEY,
		system_id       TEXT NOT NULL REFERENCES systems(id),
		asset_id        TEXT NOT NULL DEFAULT '',
		cve             TEXT NOT NULL DEFAULT '',
		severity        TEXT NOT NULL DEFAULT '',
		cvss_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
		first_seen      TIMESTAMPTZ NOT NULL,
		status          TEXT NOT NULL DEFAULT 'open',
		patch_available BOOLEAN NOT NULL DEFAULT FALSE,
		known_exploited BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_cve ON vulnerabilities(cve) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS security_controls (
		id                    TEXT PRIMARY KEY,
		system_id             TEXT NOT NULL REFERENCES systems(id),
		control_id            TEXT NOT NULL,
		implementation_status TEXT NOT NULL,
		assessed              BOOLEAN NOT NULL DEFAULT FALSE,
		effectiveness_score   DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS patch_status (
		system_id          TEXT PRIMARY KEY REFERENCES systems(id),
		compliance_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		critical_pending   INTEGER NOT NULL DEFAULT 0,
		last_patched_at    TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS continuity_status (
		system_id        TEXT PRIMARY KEY REFERENCES systems(id),
		rto_target_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		rto_actual_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		rpo_target_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
		rpo_actual_hours DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS configuration_baselines (
		id            TEXT PRIMARY KEY,
		system_id     TEXT NOT NULL UNIQUE,
		configuration JSONB NOT NULL,
		checksum      TEXT NOT NULL,
		captured_at   TIMESTAMPTZ NOT NULL,
		captured_by   TEXT NOT NULL DEFAULT '',
		source        TEXT NOT NULL,
		version       INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS configuration_drifts (
		id                TEXT PRIMARY KEY,
		system_id         TEXT NOT NULL,
		drift_type        TEXT NOT NULL,
		subject           TEXT NOT NULL,
		severity          TEXT NOT NULL,
		title             TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		current_value     TEXT NOT NULL DEFAULT '',
		expected_value    TEXT NOT NULL DEFAULT '',
		previous_value    TEXT NOT NULL DEFAULT '',
		detection_method  TEXT NOT NULL DEFAULT '',
		impact_assessment TEXT NOT NULL DEFAULT '',
		business_impact   TEXT NOT NULL DEFAULT '',
		remediation_steps TEXT[] NOT NULL DEFAULT '{}',
		status            TEXT NOT NULL,
		revision          INTEGER NOT NULL DEFAULT 1,
		detected_at       TIMESTAMPTZ NOT NULL,
		last_detected_at  TIMESTAMPTZ NOT NULL,
		acknowledged_at   TIMESTAMPTZ,
		acknowledged_by   TEXT NOT NULL DEFAULT '',
		acknowledge_notes TEXT NOT NULL DEFAULT '',
		resolved_at       TIMESTAMPTZ,
		resolved_by       TEXT NOT NULL DEFAULT '',
		resolve_notes     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drifts_system ON configuration_drifts(system_id, detected_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_drifts_unresolved ON configuration_drifts(system_id, drift_type, subject)
		WHERE status IN ('open', 'acknowledged')`,
	`CREATE TABLE IF NOT EXISTS posture_assessments (
		id                          TEXT PRIMARY KEY,
		system_id                   TEXT NOT NULL UNIQUE,
		overall_score               DOUBLE PRECISION NOT NULL,
		posture_status              TEXT NOT NULL,
		vulnerability_score         DOUBLE PRECISION NOT NULL,
		configuration_score         DOUBLE PRECISION NOT NULL,
		patch_score                 DOUBLE PRECISION NOT NULL,
		compliance_score            DOUBLE PRECISION NOT NULL,
		control_effectiveness_score DOUBLE PRECISION NOT NULL,
		threat_exposure_score       DOUBLE PRECISION NOT NULL,
		business_impact_score       DOUBLE PRECISION NOT NULL,
		risk_factors                TEXT[] NOT NULL DEFAULT '{}',
		notes                       TEXT[] NOT NULL DEFAULT '{}',
		recommendations             JSONB NOT NULL DEFAULT '[]',
		errors                      JSONB NOT NULL DEFAULT '[]',
		last_assessment             TIMESTAMPTZ NOT NULL,
		next_assessment             TIMESTAMPTZ NOT NULL
	)`,
}

// Health pings the database
func Health(ctx context.Context, db *sqlx.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	return nil
}
