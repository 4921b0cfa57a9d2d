package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/shared/common"
)

const postureColumns = `id, system_id, overall_score, posture_status,
	vulnerability_score, configuration_score, patch_score, compliance_score,
	control_effectiveness_score, threat_exposure_score, business_impact_score,
	risk_factors, notes, recommendations, errors, last_assessment, next_assessment`

// PostgreSQLPostureRepository keeps one posture row per system
type PostgreSQLPostureRepository struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewPostgreSQLPostureRepository creates a posture repository
func NewPostgreSQLPostureRepository(db *sqlx.DB, logger *logging.Logger) *PostgreSQLPostureRepository {
	return &PostgreSQLPostureRepository{db: db, logger: logger.WithComponent("posture_repository")}
}

// Upsert writes the assessment; on conflict the existing row ID is kept and returned
func (r *PostgreSQLPostureRepository) Upsert(ctx context.Context, p *entity.PostureAssessment) error {
	recommendations, err := json.Marshal(p.Recommendations)
	if err != nil {
		return errors.Wrap(err, "failed to encode recommendations")
	}
	assessmentErrors, err := json.Marshal(p.Errors)
	if err != nil {
		return errors.Wrap(err, "failed to encode assessment errors")
	}

	query := `
		INSERT INTO posture_assessments (` + postureColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (system_id) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			posture_status = EXCLUDED.posture_status,
			vulnerability_score = EXCLUDED.vulnerability_score,
			configuration_score = EXCLUDED.configuration_score,
			patch_score = EXCLUDED.patch_score,
			compliance_score = EXCLUDED.compliance_score,
			control_effectiveness_score = EXCLUDED.control_effectiveness_score,
			threat_exposure_score = EXCLUDED.threat_exposure_score,
			business_impact_score = EXCLUDED.business_impact_score,
			risk_factors = EXCLUDED.risk_factors,
			notes = EXCLUDED.notes,
			recommendations = EXCLUDED.recommendations,
			errors = EXCLUDED.errors,
			last_assessment = EXCLUDED.last_assessment,
			next_assessment = EXCLUDED.next_assessment
		RETURNING id`

	s := p.ComponentScores
	var id string
	err = r.db.GetContext(ctx, &id, query,
		p.ID, p.SystemID, p.OverallScore, p.PostureStatus,
		s.Vulnerability, s.Configuration, s.Patch, s.Compliance,
		s.ControlEffectiveness, s.ThreatExposure, s.BusinessImpact,
		pq.Array(nonNil(p.RiskFactors)), pq.Array(nonNil(p.Notes)), string(recommendations), string(assessmentErrors),
		p.LastAssessment, p.NextAssessment,
	)
	if err != nil {
		r.logger.Error("Failed to upsert posture", logging.String("system_id", p.SystemID), logging.Error(err))
		return errors.Wrap(err, "failed to upsert posture assessment")
	}

	p.ID = id
	return nil
}

func (r *PostgreSQLPostureRepository) Get(ctx context.Context, systemID string) (*entity.PostureAssessment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postureColumns+` FROM posture_assessments WHERE system_id = $1`, systemID)
	p, err := scanPosture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound("posture assessment", systemID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get posture assessment")
	}
	return p, nil
}

func (r *PostgreSQLPostureRepository) List(ctx context.Context) ([]*entity.PostureAssessment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+postureColumns+` FROM posture_assessments ORDER BY system_id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list posture assessments")
	}
	defer rows.Close()

	var out []*entity.PostureAssessment
	for rows.Next() {
		p, err := scanPosture(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan posture assessment")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosture(s scanner) (*entity.PostureAssessment, error) {
	var p entity.PostureAssessment
	var riskFactors, notes pq.StringArray
	var recommendations, assessmentErrors []byte
	c := &p.ComponentScores

	err := s.Scan(
		&p.ID, &p.SystemID, &p.OverallScore, &p.PostureStatus,
		&c.Vulnerability, &c.Configuration, &c.Patch, &c.Compliance,
		&c.ControlEffectiveness, &c.ThreatExposure, &c.BusinessImpact,
		&riskFactors, &notes, &recommendations, &assessmentErrors,
		&p.LastAssessment, &p.NextAssessment,
	)
	if err != nil {
		return nil, err
	}

	p.RiskFactors = []string(riskFactors)
	p.Notes = []string(notes)
	if err := json.Unmarshal(recommendations, &p.Recommendations); err != nil {
		return nil, errors.Wrap(err, "failed to decode recommendations")
	}
	if err := json.Unmarshal(assessmentErrors, &p.Errors); err != nil {
		return nil, errors.Wrap(err, "failed to decode assessment errors")
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ repository.PostureRepository = (*PostgreSQLPostureRepository)(nil)
