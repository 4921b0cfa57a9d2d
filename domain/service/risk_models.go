package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/repository"
)

// Built-in risk model names
const (
	ModelCVSSVulnerability   = "cvss_vulnerability"
	ModelConfigurationDrift  = "configuration_drift"
	ModelSystemComposite     = "system_composite"
	ModelEnterpriseAggregate = "enterprise_aggregate"
)

// DefaultRiskTTL is how long a computed risk score may be served from cache
const DefaultRiskTTL = 30 * time.Minute

// Requirement flags tell the caller which facts a model reads
type Requirement uint8

const (
	NeedsVulnerabilities Requirement = 1 << iota
	NeedsDrifts
	NeedsPosture
	NeedsEnterprise
)

// RiskInputs carries every fact a model may read. Only the fields named by the
// model's requirements are populated.
type RiskInputs struct {
	System          *entity.System
	Assets          []*entity.Asset
	Vulnerabilities []*entity.Vulnerability
	Exploitability  map[string]float64
	ThreatContext   map[string]float64
	Drifts          []*entity.Drift
	Posture         *entity.PostureAssessment
	Correlation     *repository.CorrelationFacts
	Landscape       *ThreatLandscape
	Controls        []*entity.Control
	Continuity      *entity.ContinuityStatus
	Dependencies    map[string]*entity.RiskScore
	Now             time.Time
}

// RiskEvaluation is the raw output of a model before it is stamped into a RiskScore
type RiskEvaluation struct {
	Overall         float64
	Components      map[string]entity.RiskComponent
	RiskFactors     []string
	Recommendations []string
}

// RiskModel is a named, versioned weight vector with its evaluation function
type RiskModel struct {
	Name         string
	Version      string
	Description  string
	Weights      map[string]float64
	TTL          time.Duration
	Dependencies []string
	Requires     Requirement
	Evaluate     func(in *RiskInputs) (*RiskEvaluation, error)
}

// Info describes the model for listings
func (m *RiskModel) Info() entity.RiskModelInfo {
	weights := make(map[string]float64, len(m.Weights))
	for k, v := range m.Weights {
		weights[k] = v
	}
	return entity.RiskModelInfo{
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		Weights:      weights,
		TTL:          m.TTL,
		Dependencies: append([]string(nil), m.Dependencies...),
	}
}

// RiskModelRegistry holds the risk models by name
type RiskModelRegistry struct {
	models map[string]*RiskModel
}

// NewRiskModelRegistry registers the built-in models with the given TTL
func NewRiskModelRegistry(ttl time.Duration) *RiskModelRegistry {
	if ttl <= 0 {
		ttl = DefaultRiskTTL
	}
	r := &RiskModelRegistry{models: make(map[string]*RiskModel)}
	r.Register(CVSSVulnerabilityModel(ttl))
	r.Register(ConfigurationDriftModel(ttl))
	r.Register(SystemCompositeModel(ttl))
	r.Register(EnterpriseAggregateModel(ttl))
	return r
}

// Register adds or replaces a model
func (r *RiskModelRegistry) Register(m *RiskModel) {
	r.models[m.Name] = m
}

// Get returns the named model
func (r *RiskModelRegistry) Get(name string) (*RiskModel, bool) {
	m, ok := r.models[name]
	return m, ok
}

// List returns model descriptions sorted by name
func (r *RiskModelRegistry) List() []entity.RiskModelInfo {
	out := make([]entity.RiskModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func weighted(weights map[string]float64, scores map[string]float64) (float64, map[string]entity.RiskComponent) {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0.0
	components := make(map[string]entity.RiskComponent, len(weights))
	for _, name := range names {
		score := entity.ClampScore(scores[name])
		contribution := score * weights[name]
		total += contribution
		components[name] = entity.RiskComponent{
			Score:        score,
			Weight:       weights[name],
			Contribution: entity.RoundScore(contribution),
		}
	}
	return total, components
}

func amplifier(count, lowThreshold, highThreshold int) float64 {
	switch {
	case count > highThreshold:
		return 0.15
	case count > lowThreshold:
		return 0.10
	default:
		return 0
	}
}

// PatchUrgency scores how overdue a fix is by vulnerability age
func PatchUrgency(firstSeen, now time.Time) float64 {
	if firstSeen.IsZero() {
		return 25
	}
	age := daysBetween(firstSeen, now)
	switch {
	case age > 90:
		return 100
	case age > 30:
		return 75
	case age > 7:
		return 50
	default:
		return 25
	}
}

// CVSSVulnerabilityModel blends CVSS, exploitability, asset criticality, threat
// context and patch urgency per open vulnerability.
func CVSSVulnerabilityModel(ttl time.Duration) *RiskModel {
	weights := map[string]float64{
		"cvss":              0.4,
		"exploitability":    0.2,
		"asset_criticality": 0.2,
		"threat_context":    0.1,
		"patch_urgency":     0.1,
	}
	return &RiskModel{
		Name:        ModelCVSSVulnerability,
		Version:     "1.0",
		Description: "Vulnerability risk from CVSS, exploitability, asset criticality, threat context and patch urgency",
		Weights:     weights,
		TTL:         ttl,
		Requires:    NeedsVulnerabilities,
		Evaluate: func(in *RiskInputs) (*RiskEvaluation, error) {
			assetCriticality := make(map[string]float64, len(in.Assets))
			for _, a := range in.Assets {
				assetCriticality[a.ID] = a.Criticality.Score()
			}

			var open []*entity.Vulnerability
			for _, v := range in.Vulnerabilities {
				if v.IsOpen() {
					open = append(open, v)
				}
			}

			if len(open) == 0 {
				_, components := weighted(weights, nil)
				return &RiskEvaluation{Overall: 0, Components: components}, nil
			}

			sums := make(map[string]float64, len(weights))
			total, highRisk := 0.0, 0
			for _, v := range open {
				crit, ok := assetCriticality[v.AssetID]
				if !ok {
					crit = in.System.Criticality.Score()
				}
				factors := map[string]float64{
					"cvss":              math.Min(100, v.CVSSScore*10),
					"exploitability":    in.Exploitability[v.ID],
					"asset_criticality": crit,
					"threat_context":    in.ThreatContext[v.ID],
					"patch_urgency":     PatchUrgency(v.FirstSeen, in.Now),
				}
				risk, _ := weighted(weights, factors)
				if risk >= 70 {
					highRisk++
				}
				total += risk
				for k, f := range factors {
					sums[k] += f
				}
			}

			n := float64(len(open))
			means := make(map[string]float64, len(sums))
			for k, s := range sums {
				means[k] = s / n
			}
			_, components := weighted(weights, means)

			multiplier := 1 + amplifier(len(open), 20, 50) + amplifier(highRisk, 5, 10)
			eval := &RiskEvaluation{
				Overall:    entity.ClampScore(total / n * multiplier),
				Components: components,
			}
			if highRisk > 0 {
				eval.RiskFactors = append(eval.RiskFactors, fmt.Sprintf("%d high-risk vulnerabilities", highRisk))
				eval.Recommendations = append(eval.Recommendations, "Prioritize remediation of high-risk vulnerabilities")
			}
			if multiplier > 1 {
				eval.RiskFactors = append(eval.RiskFactors, fmt.Sprintf("Vulnerability volume amplifies risk by %.2fx", multiplier))
			}
			return eval, nil
		},
	}
}

var driftSecurityImpact = map[entity.DriftType]float64{
	entity.DriftTypeUserAccounts:         90,
	entity.DriftTypeFirewallRules:        85,
	entity.DriftTypeSecurityPolicy:       80,
	entity.DriftTypeNetworkConfiguration: 70,
	entity.DriftTypeInstalledSoftware:    60,
	entity.DriftTypeSystemSettings:       40,
}

var driftRemediationComplexity = map[entity.DriftType]float64{
	entity.DriftTypeInstalledSoftware:    60,
	entity.DriftTypeSecurityPolicy:       50,
	entity.DriftTypeNetworkConfiguration: 50,
	entity.DriftTypeFirewallRules:        40,
	entity.DriftTypeUserAccounts:         30,
	entity.DriftTypeSystemSettings:       30,
}

func lookupOr(table map[entity.DriftType]float64, t entity.DriftType, def float64) float64 {
	if v, ok := table[t]; ok {
		return v
	}
	return def
}

// DetectionRecency scores how recently a drift was first detected
func DetectionRecency(detectedAt, now time.Time) float64 {
	age := now.Sub(detectedAt)
	switch {
	case age <= 24*time.Hour:
		return 100
	case age <= 7*24*time.Hour:
		return 75
	case age <= 30*24*time.Hour:
		return 50
	default:
		return 25
	}
}

// ConfigurationDriftModel blends severity, security impact, business impact,
// recency and remediation complexity per unresolved drift.
func ConfigurationDriftModel(ttl time.Duration) *RiskModel {
	weights := map[string]float64{
		"severity":               0.30,
		"security_impact":        0.25,
		"business_impact":        0.20,
		"detection_recency":      0.15,
		"remediation_complexity": 0.10,
	}
	return &RiskModel{
		Name:        ModelConfigurationDrift,
		Version:     "1.0",
		Description: "Configuration risk from unresolved drift findings",
		Weights:     weights,
		TTL:         ttl,
		Requires:    NeedsDrifts,
		Evaluate: func(in *RiskInputs) (*RiskEvaluation, error) {
			var unresolved []*entity.Drift
			for _, d := range in.Drifts {
				if d.Status.Unresolved() {
					unresolved = append(unresolved, d)
				}
			}

			if len(unresolved) == 0 {
				_, components := weighted(weights, nil)
				return &RiskEvaluation{Overall: 0, Components: components}, nil
			}

			business := in.System.Criticality.Score()
			sums := make(map[string]float64, len(weights))
			total, critical := 0.0, 0
			for _, d := range unresolved {
				if d.Severity == entity.SeverityCritical {
					critical++
				}
				factors := map[string]float64{
					"severity":               d.Severity.Weight(),
					"security_impact":        lookupOr(driftSecurityImpact, d.DriftType, 50),
					"business_impact":        business,
					"detection_recency":      DetectionRecency(d.DetectedAt, in.Now),
					"remediation_complexity": lookupOr(driftRemediationComplexity, d.DriftType, 50),
				}
				risk, _ := weighted(weights, factors)
				total += risk
				for k, f := range factors {
					sums[k] += f
				}
			}

			n := float64(len(unresolved))
			means := make(map[string]float64, len(sums))
			for k, s := range sums {
				means[k] = s / n
			}
			_, components := weighted(weights, means)

			multiplier := 1 + amplifier(len(unresolved), 10, 25) + amplifier(critical, 2, 5)
			eval := &RiskEvaluation{
				Overall:    entity.ClampScore(total / n * multiplier),
				Components: components,
			}
			if critical > 0 {
				eval.RiskFactors = append(eval.RiskFactors, fmt.Sprintf("%d critical configuration drifts", critical))
				eval.Recommendations = append(eval.Recommendations, "Revert critical configuration drift or re-baseline approved changes")
			}
			if multiplier > 1 {
				eval.RiskFactors = append(eval.RiskFactors, fmt.Sprintf("Drift volume amplifies risk by %.2fx", multiplier))
			}
			return eval, nil
		},
	}
}

func dependencyScore(in *RiskInputs, name string) (float64, error) {
	dep, ok := in.Dependencies[name]
	if !ok || dep == nil {
		return 0, fmt.Errorf("missing dependency %s", name)
	}
	return dep.OverallRisk, nil
}

// SystemCompositeModel combines the vulnerability and drift models with posture
// patch, threat and business impact scores.
func SystemCompositeModel(ttl time.Duration) *RiskModel {
	weights := map[string]float64{
		"vulnerability_risk": 0.35,
		"configuration_risk": 0.25,
		"patch_risk":         0.15,
		"threat_exposure":    0.15,
		"business_impact":    0.10,
	}
	return &RiskModel{
		Name:         ModelSystemComposite,
		Version:      "1.0",
		Description:  "System risk from vulnerability, configuration, patch, threat exposure and business impact",
		Weights:      weights,
		TTL:          ttl,
		Dependencies: []string{ModelCVSSVulnerability, ModelConfigurationDrift},
		Requires:     NeedsPosture,
		Evaluate: func(in *RiskInputs) (*RiskEvaluation, error) {
			vulnRisk, err := dependencyScore(in, ModelCVSSVulnerability)
			if err != nil {
				return nil, err
			}
			configRisk, err := dependencyScore(in, ModelConfigurationDrift)
			if err != nil {
				return nil, err
			}
			if in.Posture == nil {
				return nil, fmt.Errorf("posture assessment required")
			}
			p := in.Posture.ComponentScores

			total, components := weighted(weights, map[string]float64{
				"vulnerability_risk": vulnRisk,
				"configuration_risk": configRisk,
				"patch_risk":         100 - p.Patch,
				"threat_exposure":    100 - p.ThreatExposure,
				"business_impact":    p.BusinessImpact,
			})

			eval := &RiskEvaluation{Overall: entity.ClampScore(total), Components: components}
			for _, dep := range []string{ModelCVSSVulnerability, ModelConfigurationDrift} {
				eval.RiskFactors = append(eval.RiskFactors, in.Dependencies[dep].RiskFactors...)
				eval.Recommendations = append(eval.Recommendations, in.Dependencies[dep].Recommendations...)
			}
			eval.RiskFactors = append(eval.RiskFactors, in.Posture.RiskFactors...)
			if 100-p.Patch >= 60 {
				eval.Recommendations = append(eval.Recommendations, "Bring patch compliance above 70%")
			}
			return eval, nil
		},
	}
}

// CorrelationScore is 10 per shared vulnerability plus 5 per correlated system, capped at 100
func CorrelationScore(c *repository.CorrelationFacts) float64 {
	if c == nil {
		return 0
	}
	return math.Min(100, float64(10*c.SharedVulnerabilities+5*c.CorrelatedSystems))
}

// LandscapeScore is 15 per active campaign, 5 per emerging threat and 20 when
// the sector is targeted, capped at 100.
func LandscapeScore(l *ThreatLandscape) float64 {
	if l == nil {
		return 0
	}
	score := float64(15*l.ActiveCampaigns + 5*l.EmergingThreats)
	if l.SectorTargeted {
		score += 20
	}
	return math.Min(100, score)
}

// ComplianceGapScore is the share of controls not implemented; 50 with no controls
func ComplianceGapScore(controls []*entity.Control) float64 {
	c := countControls(controls)
	if c.total == 0 {
		return NeutralScore
	}
	return math.Min(100, float64(c.total-c.implemented)/float64(c.total)*100)
}

// ContinuityScore is 50 per missed recovery objective; 50 when none are recorded
func ContinuityScore(c *entity.ContinuityStatus) float64 {
	if c == nil {
		return NeutralScore
	}
	score := 0.0
	if c.RTOMissed() {
		score += 50
	}
	if c.RPOMissed() {
		score += 50
	}
	return math.Min(100, score)
}

// EnterpriseAggregateModel combines system risk with cross-system correlation,
// threat landscape, compliance gaps and business continuity.
func EnterpriseAggregateModel(ttl time.Duration) *RiskModel {
	weights := map[string]float64{
		"system_risk":              0.40,
		"cross_system_correlation": 0.20,
		"threat_landscape":         0.20,
		"compliance_gaps":          0.10,
		"business_continuity":      0.10,
	}
	return &RiskModel{
		Name:         ModelEnterpriseAggregate,
		Version:      "1.0",
		Description:  "Enterprise risk from system risk, correlation, threat landscape, compliance gaps and continuity",
		Weights:      weights,
		TTL:          ttl,
		Dependencies: []string{ModelSystemComposite},
		Requires:     NeedsEnterprise,
		Evaluate: func(in *RiskInputs) (*RiskEvaluation, error) {
			systemRisk, err := dependencyScore(in, ModelSystemComposite)
			if err != nil {
				return nil, err
			}

			scores := map[string]float64{
				"system_risk":              systemRisk,
				"cross_system_correlation": CorrelationScore(in.Correlation),
				"threat_landscape":         LandscapeScore(in.Landscape),
				"compliance_gaps":          ComplianceGapScore(in.Controls),
				"business_continuity":      ContinuityScore(in.Continuity),
			}
			total, components := weighted(weights, scores)

			eval := &RiskEvaluation{Overall: entity.ClampScore(total), Components: components}
			if scores["cross_system_correlation"] >= 50 {
				eval.RiskFactors = append(eval.RiskFactors, "Vulnerabilities shared across many systems")
				eval.Recommendations = append(eval.Recommendations, "Coordinate remediation of shared vulnerabilities across systems")
			}
			if scores["threat_landscape"] >= 50 {
				eval.RiskFactors = append(eval.RiskFactors, "Elevated threat activity against this sector")
			}
			if scores["business_continuity"] >= 50 {
				eval.RiskFactors = append(eval.RiskFactors, "Recovery objectives missed or unverified")
				eval.Recommendations = append(eval.Recommendations, "Test and document recovery against RTO/RPO targets")
			}
			if scores["compliance_gaps"] >= 50 {
				eval.Recommendations = append(eval.Recommendations, "Close compliance control gaps")
			}
			return eval, nil
		},
	}
}
