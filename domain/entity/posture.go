package entity

import (
	"time"
)

// PostureStatus classifies an overall posture score
type PostureStatus string

const (
	PostureExcellent PostureStatus = "excellent"
	PostureGood      PostureStatus = "good"
	PostureFair      PostureStatus = "fair"
	PosturePoor      PostureStatus = "poor"
	PostureCritical  PostureStatus = "critical"
)

// ClassifyPosture maps a posture score to its status
func ClassifyPosture(score float64) PostureStatus {
	switch {
	case score >= 90:
		return PostureExcellent
	case score >= 80:
		return PostureGood
	case score >= 70:
		return PostureFair
	case score >= 50:
		return PosturePoor
	default:
		return PostureCritical
	}
}

// Rank orders statuses from worst (0) to best (4)
func (s PostureStatus) Rank() int {
	switch s {
	case PostureExcellent:
		return 4
	case PostureGood:
		return 3
	case PostureFair:
		return 2
	case PosturePoor:
		return 1
	default:
		return 0
	}
}

// PostureComponent names a posture sub-assessment
type PostureComponent string

const (
	ComponentVulnerability        PostureComponent = "vulnerability"
	ComponentConfiguration        PostureComponent = "configuration"
	ComponentPatch                PostureComponent = "patch"
	ComponentCompliance           PostureComponent = "compliance"
	ComponentControlEffectiveness PostureComponent = "control_effectiveness"
	ComponentThreatExposure       PostureComponent = "threat_exposure"
	ComponentBusinessImpact       PostureComponent = "business_impact"
)

// PostureWeights are the weights of the components that form the overall score.
// Business impact is reported but not weighted.
var PostureWeights = map[PostureComponent]float64{
	ComponentVulnerability:        0.25,
	ComponentConfiguration:        0.20,
	ComponentPatch:                0.15,
	ComponentCompliance:           0.15,
	ComponentControlEffectiveness: 0.15,
	ComponentThreatExposure:       0.10,
}

// WeightedComponents lists the weighted components in a fixed order
var WeightedComponents = []PostureComponent{
	ComponentVulnerability,
	ComponentConfiguration,
	ComponentPatch,
	ComponentCompliance,
	ComponentControlEffectiveness,
	ComponentThreatExposure,
}

// ComponentScores holds the per-component posture scores of one run
type ComponentScores struct {
	Vulnerability        float64 `json:"vulnerability" db:"vulnerability_score"`
	Configuration        float64 `json:"configuration" db:"configuration_score"`
	Patch                float64 `json:"patch" db:"patch_score"`
	Compliance           float64 `json:"compliance" db:"compliance_score"`
	ControlEffectiveness float64 `json:"control_effectiveness" db:"control_effectiveness_score"`
	ThreatExposure       float64 `json:"threat_exposure" db:"threat_exposure_score"`
	BusinessImpact       float64 `json:"business_impact" db:"business_impact_score"`
}

// Get returns the score of a named component
func (c ComponentScores) Get(component PostureComponent) float64 {
	switch component {
	case ComponentVulnerability:
		return c.Vulnerability
	case ComponentConfiguration:
		return c.Configuration
	case ComponentPatch:
		return c.Patch
	case ComponentCompliance:
		return c.Compliance
	case ComponentControlEffectiveness:
		return c.ControlEffectiveness
	case ComponentThreatExposure:
		return c.ThreatExposure
	case ComponentBusinessImpact:
		return c.BusinessImpact
	}
	return 0
}

// Set assigns the score of a named component
func (c *ComponentScores) Set(component PostureComponent, score float64) {
	switch component {
	case ComponentVulnerability:
		c.Vulnerability = score
	case ComponentConfiguration:
		c.Configuration = score
	case ComponentPatch:
		c.Patch = score
	case ComponentCompliance:
		c.Compliance = score
	case ComponentControlEffectiveness:
		c.ControlEffectiveness = score
	case ComponentThreatExposure:
		c.ThreatExposure = score
	case ComponentBusinessImpact:
		c.BusinessImpact = score
	}
}

// Weighted returns the weighted overall score, clamped and rounded
func (c ComponentScores) Weighted() float64 {
	total := 0.0
	for _, component := range WeightedComponents {
		total += c.Get(component) * PostureWeights[component]
	}
	return ClampScore(total)
}

// Priority ranks recommendations
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities from most (0) to least (3) urgent
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Recommendation is an actionable remediation suggestion
type Recommendation struct {
	Priority    Priority `json:"priority"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
	Timeline    string   `json:"timeline,omitempty"`
}

// AssessmentError records a sub-assessment that fell back to the neutral score
type AssessmentError struct {
	Component PostureComponent `json:"component"`
	Message   string           `json:"message"`
}

// PostureAssessment is the persisted posture of one system; one row per system
type PostureAssessment struct {
	ID              string            `json:"id" db:"id"`
	SystemID        string            `json:"system_id" db:"system_id"`
	OverallScore    float64           `json:"overall_score" db:"overall_score"`
	PostureStatus   PostureStatus     `json:"posture_status" db:"posture_status"`
	ComponentScores ComponentScores   `json:"component_scores" db:"-"`
	RiskFactors     []string          `json:"risk_factors" db:"-"`
	Recommendations []Recommendation  `json:"recommendations,omitempty" db:"-"`
	Notes           []string          `json:"notes,omitempty" db:"-"`
	Errors          []AssessmentError `json:"errors,omitempty" db:"-"`
	LastAssessment  time.Time         `json:"last_assessment" db:"last_assessment"`
	NextAssessment  time.Time         `json:"next_assessment" db:"next_assessment"`
}

// Due reports whether the system should be reassessed at now
func (p *PostureAssessment) Due(now time.Time) bool {
	return p == nil || !p.NextAssessment.After(now)
}

// AssessOptions controls a posture assessment call
type AssessOptions struct {
	ForceRefresh           bool
	IncludeRecommendations bool
}

// PostureResult wraps an assessment with how it was obtained
type PostureResult struct {
	Assessment *PostureAssessment `json:"assessment"`
	FromCache  bool               `json:"from_cache"`
}
