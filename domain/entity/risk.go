package entity

import (
	"time"
)

// RiskLevel classifies a risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// ClassifyRisk maps a risk score to its level
func ClassifyRisk(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 40:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Rank orders levels from lowest (0) to highest (3)
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelCritical:
		return 3
	case RiskLevelHigh:
		return 2
	case RiskLevelMedium:
		return 1
	default:
		return 0
	}
}

// RiskComponent is one weighted input of a risk model
type RiskComponent struct {
	Score        float64 `json:"score" msgpack:"score"`
	Weight       float64 `json:"weight" msgpack:"weight"`
	Contribution float64 `json:"contribution" msgpack:"contribution"`
}

// RiskScore is the output of one risk model for one system
type RiskScore struct {
	SystemID        string                   `json:"system_id" msgpack:"system_id"`
	ModelName       string                   `json:"model_name" msgpack:"model_name"`
	ModelVersion    string                   `json:"model_version" msgpack:"model_version"`
	OverallRisk     float64                  `json:"overall_risk" msgpack:"overall_risk"`
	RiskLevel       RiskLevel                `json:"risk_level" msgpack:"risk_level"`
	Components      map[string]RiskComponent `json:"components" msgpack:"components"`
	RiskFactors     []string                 `json:"risk_factors" msgpack:"risk_factors"`
	Recommendations []string                 `json:"recommendations" msgpack:"recommendations"`
	ComputedAt      time.Time                `json:"computed_at" msgpack:"computed_at"`
	ExpiresAt       time.Time                `json:"expires_at" msgpack:"expires_at"`
}

// RiskOptions controls a risk computation call
type RiskOptions struct {
	ForceRefresh bool
}

// RiskModelInfo describes a registered risk model
type RiskModelInfo struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Description  string             `json:"description"`
	Weights      map[string]float64 `json:"weights"`
	TTL          time.Duration      `json:"ttl"`
	Dependencies []string           `json:"dependencies,omitempty"`
}
