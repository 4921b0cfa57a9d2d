package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DriftType is the configuration category a drift finding belongs to
type DriftType string

const (
	DriftTypeSecurityPolicy       DriftType = "security_policy"
	DriftTypeFirewallRules        DriftType = "firewall_rules"
	DriftTypeUserAccounts         DriftType = "user_accounts"
	DriftTypeServiceConfiguration DriftType = "service_configuration"
	DriftTypeRegistrySettings     DriftType = "registry_settings"
	DriftTypeInstalledSoftware    DriftType = "installed_software"
	DriftTypeSystemSettings       DriftType = "system_settings"
	DriftTypeNetworkConfiguration DriftType = "network_configuration"
	DriftTypePatchLevel           DriftType = "patch_level"
	DriftTypeSTIGCompliance       DriftType = "stig_compliance"
	DriftTypeCISBenchmark         DriftType = "cis_benchmark"
)

// AllDriftTypes lists every drift category in detection order
var AllDriftTypes = []DriftType{
	DriftTypeSecurityPolicy,
	DriftTypeFirewallRules,
	DriftTypeUserAccounts,
	DriftTypeServiceConfiguration,
	DriftTypeRegistrySettings,
	DriftTypeInstalledSoftware,
	DriftTypeSystemSettings,
	DriftTypeNetworkConfiguration,
	DriftTypePatchLevel,
	DriftTypeSTIGCompliance,
	DriftTypeCISBenchmark,
}

// ParseDriftType validates a drift type name
func ParseDriftType(s string) (DriftType, error) {
	for _, t := range AllDriftTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown drift type: %q", s)
}

// DriftStatus is the lifecycle state of a drift finding
type DriftStatus string

const (
	DriftStatusOpen         DriftStatus = "open"
	DriftStatusAcknowledged DriftStatus = "acknowledged"
	DriftStatusResolved     DriftStatus = "resolved"
)

// Unresolved reports whether a finding still counts as live drift
func (s DriftStatus) Unresolved() bool {
	return s == DriftStatusOpen || s == DriftStatusAcknowledged
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Status only moves forward: open -> acknowledged -> resolved, or open -> resolved.
func (s DriftStatus) CanTransitionTo(next DriftStatus) bool {
	switch s {
	case DriftStatusOpen:
		return next == DriftStatusAcknowledged || next == DriftStatusResolved
	case DriftStatusAcknowledged:
		return next == DriftStatusResolved
	default:
		return false
	}
}

// ErrIllegalTransition is returned for a backward or repeated status change
type ErrIllegalTransition struct {
	From DriftStatus
	To   DriftStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal drift status transition from %s to %s", e.From, e.To)
}

// Drift is a detected deviation between baseline and current configuration
type Drift struct {
	ID               string      `json:"id" db:"id"`
	SystemID         string      `json:"system_id" db:"system_id"`
	DriftType        DriftType   `json:"drift_type" db:"drift_type"`
	Subject          string      `json:"subject" db:"subject"`
	Severity         Severity    `json:"severity" db:"severity"`
	Title            string      `json:"title" db:"title"`
	Description      string      `json:"description" db:"description"`
	CurrentValue     string      `json:"current_value" db:"current_value"`
	ExpectedValue    string      `json:"expected_value" db:"expected_value"`
	PreviousValue    string      `json:"previous_value" db:"previous_value"`
	DetectionMethod  string      `json:"detection_method" db:"detection_method"`
	ImpactAssessment string      `json:"impact_assessment" db:"impact_assessment"`
	BusinessImpact   string      `json:"business_impact" db:"business_impact"`
	RemediationSteps []string    `json:"remediation_steps" db:"-"`
	Status           DriftStatus `json:"status" db:"status"`
	Revision         int         `json:"revision" db:"revision"`
	DetectedAt       time.Time   `json:"detected_at" db:"detected_at"`
	LastDetectedAt   time.Time   `json:"last_detected_at" db:"last_detected_at"`
	AcknowledgedAt   *time.Time  `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy   string      `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgeNotes string      `json:"acknowledge_notes,omitempty" db:"acknowledge_notes"`
	ResolvedAt       *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy       string      `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolveNotes     string      `json:"resolve_notes,omitempty" db:"resolve_notes"`
}

// DriftKey identifies the same underlying condition across detection passes
type DriftKey struct {
	SystemID  string
	DriftType DriftType
	Subject   string
}

// Key returns the identity key used to match re-detections
func (d *Drift) Key() DriftKey {
	return DriftKey{SystemID: d.SystemID, DriftType: d.DriftType, Subject: d.Subject}
}

// Open stamps a newly detected finding for insertion
func (d *Drift) Open(systemID string, now time.Time) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.SystemID = systemID
	d.Status = DriftStatusOpen
	d.Revision = 1
	d.DetectedAt = now
	d.LastDetectedAt = now
}

// Redetect folds a fresh finding into an existing unresolved one. Identity,
// status and acknowledgement are kept.
func (d *Drift) Redetect(fresh *Drift, now time.Time) {
	d.Severity = fresh.Severity
	d.Title = fresh.Title
	d.Description = fresh.Description
	d.CurrentValue = fresh.CurrentValue
	d.ExpectedValue = fresh.ExpectedValue
	d.PreviousValue = fresh.PreviousValue
	d.ImpactAssessment = fresh.ImpactAssessment
	d.BusinessImpact = fresh.BusinessImpact
	d.RemediationSteps = fresh.RemediationSteps
	d.Revision++
	d.LastDetectedAt = now
}

// Acknowledge moves an open finding to acknowledged
func (d *Drift) Acknowledge(actorID, notes string, now time.Time) error {
	if !d.Status.CanTransitionTo(DriftStatusAcknowledged) {
		return &ErrIllegalTransition{From: d.Status, To: DriftStatusAcknowledged}
	}
	d.Status = DriftStatusAcknowledged
	d.AcknowledgedAt = &now
	d.AcknowledgedBy = actorID
	d.AcknowledgeNotes = notes
	return nil
}

// Resolve moves an open or acknowledged finding to resolved
func (d *Drift) Resolve(actorID, notes string, now time.Time) error {
	if !d.Status.CanTransitionTo(DriftStatusResolved) {
		return &ErrIllegalTransition{From: d.Status, To: DriftStatusResolved}
	}
	d.Status = DriftStatusResolved
	d.ResolvedAt = &now
	d.ResolvedBy = actorID
	d.ResolveNotes = notes
	return nil
}

// CoverageStatus tells callers whether a category was actually checked
type CoverageStatus string

const (
	CoverageChecked        CoverageStatus = "checked"
	CoverageNotImplemented CoverageStatus = "not_implemented"
	CoverageFailed         CoverageStatus = "failed"
)

// DriftReport is the result of one detection pass
type DriftReport struct {
	SystemID         string                       `json:"system_id"`
	Drifts           []*Drift                     `json:"drifts"`
	DetectionMethods []DriftType                  `json:"detection_methods"`
	Coverage         map[DriftType]CoverageStatus `json:"coverage"`
	BaselineCreated  bool                         `json:"baseline_created"`
	NewFindings      int                          `json:"new_findings"`
	Redetected       int                          `json:"redetected"`
	DetectedAt       time.Time                    `json:"detected_at"`
}

// DriftFilter narrows a drift listing; zero values match everything
type DriftFilter struct {
	Status    DriftStatus `json:"status,omitempty" form:"status"`
	Severity  Severity    `json:"severity,omitempty" form:"severity"`
	DriftType DriftType   `json:"drift_type,omitempty" form:"type"`
}

// Matches reports whether d passes the filter
func (f DriftFilter) Matches(d *Drift) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Severity != "" && d.Severity != f.Severity {
		return false
	}
	if f.DriftType != "" && d.DriftType != f.DriftType {
		return false
	}
	return true
}
