package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/isectech/risk-posture-engine/domain/entity"
)

// NeutralScore is used when a sub-assessment has no data or fails
const NeutralScore = 50.0

// Signals are the counts behind the sub-scores that drive recommendations.
// Each sub-assessment fills only its own fields.
type Signals struct {
	CriticalVulnerabilities int
	HighVulnerabilities     int
	StaleVulnerabilities    int
	CriticalDrifts          int
	HighDrifts              int
	UnresolvedDrifts        int
	CriticalPatchesPending  int
	PatchStale              bool
	UnimplementedControls   int
	IneffectiveControls     int
	PublicFacingAssets      int
	UnencryptedConnections  int
	WeakAuthMechanisms      int
}

// Merge adds the counts of o into s
func (s *Signals) Merge(o Signals) {
	s.CriticalVulnerabilities += o.CriticalVulnerabilities
	s.HighVulnerabilities += o.HighVulnerabilities
	s.StaleVulnerabilities += o.StaleVulnerabilities
	s.CriticalDrifts += o.CriticalDrifts
	s.HighDrifts += o.HighDrifts
	s.UnresolvedDrifts += o.UnresolvedDrifts
	s.CriticalPatchesPending += o.CriticalPatchesPending
	s.PatchStale = s.PatchStale || o.PatchStale
	s.UnimplementedControls += o.UnimplementedControls
	s.IneffectiveControls += o.IneffectiveControls
	s.PublicFacingAssets += o.PublicFacingAssets
	s.UnencryptedConnections += o.UnencryptedConnections
	s.WeakAuthMechanisms += o.WeakAuthMechanisms
}

// SubScore is the result of one posture sub-assessment
type SubScore struct {
	Score       float64
	RiskFactors []string
	Notes       []string
	Signals     Signals
}

func daysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}

// VulnerabilityScore deducts 20/10/5/1 per open critical/high/medium/low vulnerability
func VulnerabilityScore(vulns []*entity.Vulnerability, now time.Time) SubScore {
	var critical, high, medium, low int
	var oldest time.Time

	for _, v := range vulns {
		if !v.IsOpen() {
			continue
		}
		switch v.EffectiveSeverity() {
		case entity.SeverityCritical:
			critical++
		case entity.SeverityHigh:
			high++
		case entity.SeverityMedium:
			medium++
		case entity.SeverityLow:
			low++
		}
		if !v.FirstSeen.IsZero() && (oldest.IsZero() || v.FirstSeen.Before(oldest)) {
			oldest = v.FirstSeen
		}
	}

	out := SubScore{
		Score: entity.ClampScore(100 - float64(20*critical+10*high+5*medium+low)),
		Signals: Signals{
			CriticalVulnerabilities: critical,
			HighVulnerabilities:     high,
		},
	}

	if critical > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d critical vulnerabilities open", critical))
	}
	if high > 5 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d high severity vulnerabilities open", high))
	}
	if !oldest.IsZero() {
		if age := daysBetween(oldest, now); age > 90 {
			out.Signals.StaleVulnerabilities = 1
			out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("Unresolved vulnerabilities older than 90 days (oldest %d days)", age))
		}
	}

	return out
}

// ConfigurationScore deducts 25 per critical, 15 per high and 5 per unresolved drift
func ConfigurationScore(drifts []*entity.Drift) SubScore {
	var critical, high, unresolved int
	for _, d := range drifts {
		if !d.Status.Unresolved() {
			continue
		}
		unresolved++
		switch d.Severity {
		case entity.SeverityCritical:
			critical++
		case entity.SeverityHigh:
			high++
		}
	}

	out := SubScore{
		Score: entity.ClampScore(100 - float64(25*critical+15*high+5*unresolved)),
		Signals: Signals{
			CriticalDrifts:   critical,
			HighDrifts:       high,
			UnresolvedDrifts: unresolved,
		},
	}

	if critical > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d critical configuration drifts unresolved", critical))
	}
	if unresolved > 10 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d unresolved configuration drifts", unresolved))
	}

	return out
}

// PatchScore is compliance percent minus 15 per pending critical patch, minus
// 20 more when nothing was patched in the last 30 days.
func PatchScore(status *entity.PatchStatus, now time.Time) SubScore {
	if status == nil {
		return SubScore{Score: NeutralScore, Notes: []string{"No patch status recorded; neutral score applied"}}
	}

	score := status.CompliancePercent - 15*float64(status.CriticalPending)
	stale := status.LastPatchedAt == nil || daysBetween(*status.LastPatchedAt, now) > 30
	if stale {
		score -= 20
	}

	out := SubScore{
		Score: entity.ClampScore(score),
		Signals: Signals{
			CriticalPatchesPending: status.CriticalPending,
			PatchStale:             stale,
		},
	}
	if status.CriticalPending > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d critical patches pending", status.CriticalPending))
	}
	if stale {
		out.RiskFactors = append(out.RiskFactors, "No patches applied in the last 30 days")
	}
	return out
}

type controlCounts struct {
	total, implemented, partial, assessed, effective int
}

func countControls(controls []*entity.Control) controlCounts {
	var c controlCounts
	for _, ctl := range controls {
		c.total++
		switch ctl.ImplementationStatus {
		case entity.ControlImplemented:
			c.implemented++
			if ctl.EffectivenessScore >= 80 {
				c.effective++
			}
		case entity.ControlPartiallyImplemented:
			c.partial++
		}
		if ctl.Assessed {
			c.assessed++
		}
	}
	return c
}

// ComplianceScore weights implementation 70% and assessment coverage 30%
func ComplianceScore(controls []*entity.Control) SubScore {
	c := countControls(controls)
	if c.total == 0 {
		return SubScore{Score: NeutralScore, Notes: []string{"No controls recorded; neutral compliance score applied"}}
	}

	total := float64(c.total)
	implementation := (float64(c.implemented) + 0.5*float64(c.partial)) / total * 100
	assessment := float64(c.assessed) / total * 100

	out := SubScore{
		Score:   entity.ClampScore(0.7*implementation + 0.3*assessment),
		Signals: Signals{UnimplementedControls: c.total - c.implemented},
	}
	if gap := c.total - c.implemented - c.partial; gap > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d of %d controls not implemented", gap, c.total))
	}
	return out
}

// ControlEffectivenessScore weights implementation rate 60% and the share of
// implemented controls scoring at least 80 effectiveness 40%.
func ControlEffectivenessScore(controls []*entity.Control) SubScore {
	c := countControls(controls)
	if c.total == 0 {
		return SubScore{Score: NeutralScore, Notes: []string{"No controls recorded; neutral effectiveness score applied"}}
	}

	implementationRate := float64(c.implemented) / float64(c.total) * 100
	effectivenessRate := 0.0
	if c.implemented > 0 {
		effectivenessRate = float64(c.effective) / float64(c.implemented) * 100
	}

	out := SubScore{
		Score:   entity.ClampScore(0.6*implementationRate + 0.4*effectivenessRate),
		Signals: Signals{IneffectiveControls: c.implemented - c.effective},
	}
	if c.implemented > 0 && effectivenessRate < 50 {
		out.RiskFactors = append(out.RiskFactors, "Fewer than half of implemented controls are effective")
	}
	return out
}

// ThreatExposureScore deducts 10 per public-facing asset, 15 per unencrypted
// connection and 20 per weak authentication mechanism from base.
func ThreatExposureScore(base float64, assets []*entity.Asset) SubScore {
	var public, unencrypted, weakAuth, highExposure int
	for _, a := range assets {
		if a.PublicFacing {
			public++
		}
		if a.HighExposure() {
			highExposure++
		}
		unencrypted += a.UnencryptedConnections
		weakAuth += a.WeakAuthMechanisms
	}

	out := SubScore{
		Score: entity.ClampScore(base - float64(10*public+15*unencrypted+20*weakAuth)),
		Signals: Signals{
			PublicFacingAssets:     public,
			UnencryptedConnections: unencrypted,
			WeakAuthMechanisms:     weakAuth,
		},
	}
	if public > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d public-facing assets", public))
	}
	if unencrypted > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d unencrypted connections", unencrypted))
	}
	if weakAuth > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d weak authentication mechanisms", weakAuth))
	}
	if highExposure > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d assets with high exposure scores", highExposure))
	}
	return out
}

// BusinessImpactScore is the system criticality score, plus 10 when any asset is public-facing
func BusinessImpactScore(system *entity.System, assets []*entity.Asset) SubScore {
	score := system.Criticality.Score()
	for _, a := range assets {
		if a.PublicFacing {
			score += 10
			break
		}
	}
	return SubScore{Score: entity.ClampScore(score)}
}

// Recommend derives recommendations from fixed threshold rules, most urgent first
func Recommend(scores entity.ComponentScores, s Signals) []entity.Recommendation {
	var recs []entity.Recommendation

	if s.CriticalVulnerabilities > 0 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityCritical,
			Category:    string(entity.ComponentVulnerability),
			Title:       "Patch critical vulnerabilities within 24 hours",
			Description: fmt.Sprintf("%d critical vulnerabilities are open on this system", s.CriticalVulnerabilities),
			Actions:     []string{"Apply vendor patches or mitigations", "Verify remediation with a rescan"},
			Timeline:    "24 hours",
		})
	}
	if s.HighVulnerabilities > 5 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityHigh,
			Category:    string(entity.ComponentVulnerability),
			Title:       "Remediate high severity vulnerabilities",
			Description: fmt.Sprintf("%d high severity vulnerabilities exceed the tolerated backlog", s.HighVulnerabilities),
			Timeline:    "7 days",
		})
	}
	if s.StaleVulnerabilities > 0 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityMedium,
			Category:    string(entity.ComponentVulnerability),
			Title:       "Review vulnerabilities open longer than 90 days",
			Description: "Long-lived vulnerabilities need remediation or a documented risk acceptance",
			Timeline:    "30 days",
		})
	}
	if s.CriticalDrifts > 0 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityCritical,
			Category:    string(entity.ComponentConfiguration),
			Title:       "Revert critical configuration drift",
			Description: fmt.Sprintf("%d critical deviations from the approved baseline are unresolved", s.CriticalDrifts),
			Actions:     []string{"Review drift findings", "Restore baseline configuration or re-baseline if approved"},
			Timeline:    "24 hours",
		})
	}
	if scores.Configuration < 70 && s.UnresolvedDrifts > 0 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityHigh,
			Category:    string(entity.ComponentConfiguration),
			Title:       "Restore configuration baseline compliance",
			Description: fmt.Sprintf("%d unresolved drift findings reduce the configuration score", s.UnresolvedDrifts),
			Timeline:    "7 days",
		})
	}
	if s.CriticalPatchesPending > 0 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityHigh,
			Category:    string(entity.ComponentPatch),
			Title:       "Apply pending critical patches",
			Description: fmt.Sprintf("%d critical patches are pending", s.CriticalPatchesPending),
			Timeline:    "72 hours",
		})
	}
	if scores.Patch < 70 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityMedium,
			Category:    string(entity.ComponentPatch),
			Title:       "Improve patch management cadence",
			Description: "Patch compliance is below the 70% target",
			Timeline:    "30 days",
		})
	}
	if scores.Compliance < 70 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityMedium,
			Category:    string(entity.ComponentCompliance),
			Title:       "Close control implementation gaps",
			Description: fmt.Sprintf("%d controls are not fully implemented", s.UnimplementedControls),
			Timeline:    "90 days",
		})
	}
	if scores.ControlEffectiveness < 70 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityMedium,
			Category:    string(entity.ComponentControlEffectiveness),
			Title:       "Improve control effectiveness testing",
			Description: fmt.Sprintf("%d implemented controls score below 80 effectiveness", s.IneffectiveControls),
			Timeline:    "90 days",
		})
	}
	if s.WeakAuthMechanisms > 0 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityHigh,
			Category:    string(entity.ComponentThreatExposure),
			Title:       "Replace weak authentication mechanisms",
			Description: fmt.Sprintf("%d weak authentication mechanisms are in use", s.WeakAuthMechanisms),
			Actions:     []string{"Enforce MFA", "Disable legacy authentication protocols"},
			Timeline:    "14 days",
		})
	}
	if s.UnencryptedConnections > 0 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityHigh,
			Category:    string(entity.ComponentThreatExposure),
			Title:       "Encrypt network connections",
			Description: fmt.Sprintf("%d connections transmit data without encryption", s.UnencryptedConnections),
			Timeline:    "30 days",
		})
	}
	if scores.ThreatExposure < 50 {
		recs = append(recs, entity.Recommendation{
			Priority:    entity.PriorityMedium,
			Category:    string(entity.ComponentThreatExposure),
			Title:       "Reduce external attack surface",
			Description: fmt.Sprintf("%d assets are reachable from the internet", s.PublicFacingAssets),
			Timeline:    "30 days",
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() < recs[j].Priority.Rank()
	})
	return recs
}
