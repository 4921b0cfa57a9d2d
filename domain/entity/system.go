package entity

import (
	"time"
)

// Criticality represents the business criticality of a system or asset
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityModerate Criticality = "moderate"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Score maps criticality onto the 0-100 scale used by the scoring models
func (c Criticality) Score() float64 {
	switch c {
	case CriticalityCritical:
		return 100
	case CriticalityHigh:
		return 75
	case CriticalityModerate:
		return 50
	case CriticalityLow:
		return 25
	default:
		return 50
	}
}

// System is a managed system as known by the upstream inventory
type System struct {
	ID          string      `json:"id" db:"id" yaml:"id"`
	Name        string      `json:"name" db:"name" yaml:"name"`
	Environment string      `json:"environment" db:"environment" yaml:"environment"`
	Criticality Criticality `json:"criticality" db:"criticality" yaml:"criticality"`
	Industry    string      `json:"industry" db:"industry" yaml:"industry"`
}

// Asset is a component of a system that can be exposed to threats
type Asset struct {
	ID                     string      `json:"id" db:"id" yaml:"id"`
	SystemID               string      `json:"system_id" db:"system_id" yaml:"system_id"`
	Name                   string      `json:"name" db:"name" yaml:"name"`
	PublicFacing           bool        `json:"public_facing" db:"public_facing" yaml:"public_facing"`
	Criticality            Criticality `json:"criticality" db:"criticality" yaml:"criticality"`
	ExposureScore          float64     `json:"exposure_score" db:"exposure_score" yaml:"exposure_score"`
	UnencryptedConnections int         `json:"unencrypted_connections" db:"unencrypted_connections" yaml:"unencrypted_connections"`
	WeakAuthMechanisms     int         `json:"weak_auth_mechanisms" db:"weak_auth_mechanisms" yaml:"weak_auth_mechanisms"`
}

// HighExposure reports whether the asset's 0-1000 exposure score marks it as high risk
func (a Asset) HighExposure() bool {
	return a.ExposureScore > 700
}

// Severity is shared by vulnerabilities and drift findings
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight maps severity onto the 0-100 scale
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 25
	default:
		return 0
	}
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SeverityFromCVSS derives a severity bucket from a CVSS base score
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// VulnerabilityStatus is the remediation state of a vulnerability
type VulnerabilityStatus string

const (
	VulnerabilityOpen     VulnerabilityStatus = "open"
	VulnerabilityResolved VulnerabilityStatus = "resolved"
)

// Vulnerability is an upstream vulnerability finding on a system
type Vulnerability struct {
	ID             string              `json:"id" db:"id" yaml:"id"`
	SystemID       string              `json:"system_id" db:"system_id" yaml:"system_id"`
	AssetID        string              `json:"asset_id" db:"asset_id" yaml:"asset_id"`
	CVE            string              `json:"cve" db:"cve" yaml:"cve"`
	Severity       Severity            `json:"severity" db:"severity" yaml:"severity"`
	CVSSScore      float64             `json:"cvss_score" db:"cvss_score" yaml:"cvss_score"`
	FirstSeen      time.Time           `json:"first_seen" db:"first_seen" yaml:"first_seen"`
	Status         VulnerabilityStatus `json:"status" db:"status" yaml:"status"`
	PatchAvailable bool                `json:"patch_available" db:"patch_available" yaml:"patch_available"`
	KnownExploited bool                `json:"known_exploited" db:"known_exploited" yaml:"known_exploited"`
}

// EffectiveSeverity returns the recorded severity or derives one from CVSS
func (v Vulnerability) EffectiveSeverity() Severity {
	if v.Severity.Valid() {
		return v.Severity
	}
	return SeverityFromCVSS(v.CVSSScore)
}

// IsOpen reports whether the vulnerability still counts against the system
func (v Vulnerability) IsOpen() bool {
	return v.Status != VulnerabilityResolved
}

// ImplementationStatus is the implementation state of a security control
type ImplementationStatus string

const (
	ControlImplemented          ImplementationStatus = "implemented"
	ControlPartiallyImplemented ImplementationStatus = "partially_implemented"
	ControlPlanned              ImplementationStatus = "planned"
	ControlNotImplemented       ImplementationStatus = "not_implemented"
)

// Control is a security control assigned to a system
type Control struct {
	ID                   string               `json:"id" db:"id" yaml:"id"`
	SystemID             string               `json:"system_id" db:"system_id" yaml:"system_id"`
	ControlID            string               `json:"control_id" db:"control_id" yaml:"control_id"`
	ImplementationStatus ImplementationStatus `json:"implementation_status" db:"implementation_status" yaml:"implementation_status"`
	Assessed             bool                 `json:"assessed" db:"assessed" yaml:"assessed"`
	EffectivenessScore   float64              `json:"effectiveness_score" db:"effectiveness_score" yaml:"effectiveness_score"`
}

// PatchStatus summarises patch compliance for a system
type PatchStatus struct {
	SystemID          string     `json:"system_id" db:"system_id" yaml:"system_id"`
	CompliancePercent float64    `json:"compliance_percent" db:"compliance_percent" yaml:"compliance_percent"`
	CriticalPending   int        `json:"critical_pending" db:"critical_pending" yaml:"critical_pending"`
	LastPatchedAt     *time.Time `json:"last_patched_at,omitempty" db:"last_patched_at" yaml:"last_patched_at"`
}

// ContinuityStatus holds recovery objectives and the last measured recovery for a system
type ContinuityStatus struct {
	SystemID       string  `json:"system_id" db:"system_id" yaml:"system_id"`
	RTOTargetHours float64 `json:"rto_target_hours" db:"rto_target_hours" yaml:"rto_target_hours"`
	RTOActualHours float64 `json:"rto_actual_hours" db:"rto_actual_hours" yaml:"rto_actual_hours"`
	RPOTargetHours float64 `json:"rpo_target_hours" db:"rpo_target_hours" yaml:"rpo_target_hours"`
	RPOActualHours float64 `json:"rpo_actual_hours" db:"rpo_actual_hours" yaml:"rpo_actual_hours"`
}

// RTOMissed reports whether the measured recovery time exceeded its target
func (c ContinuityStatus) RTOMissed() bool {
	return c.RTOTargetHours > 0 && c.RTOActualHours > c.RTOTargetHours
}

// RPOMissed reports whether the measured recovery point exceeded its target
func (c ContinuityStatus) RPOMissed() bool {
	return c.RPOTargetHours > 0 && c.RPOActualHours > c.RPOTargetHours
}
