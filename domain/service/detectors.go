package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/isectech/risk-posture-engine/domain/entity"
)

const detectionMethod = "baseline_comparison"

// DetectorFunc compares a baseline with the current configuration
type DetectorFunc func(baseline, current *entity.ConfigurationState) ([]*entity.Drift, error)

// Detector is a registered drift category
type Detector struct {
	Type entity.DriftType
	// Detect is nil for categories that are not implemented yet
	Detect DetectorFunc
}

// Implemented reports whether the detector actually checks anything
func (d Detector) Implemented() bool {
	return d.Detect != nil
}

// DetectionResult is the outcome of running a set of detectors
type DetectionResult struct {
	Drifts   []*entity.Drift
	Coverage map[entity.DriftType]entity.CoverageStatus
	Failures map[entity.DriftType]error
}

// DetectorRegistry holds the detector for each drift category
type DetectorRegistry struct {
	detectors map[entity.DriftType]Detector
	order     []entity.DriftType
}

// NewDetectorRegistry returns a registry with every built-in category. Categories
// without rules are registered as not implemented.
func NewDetectorRegistry() *DetectorRegistry {
	r := &DetectorRegistry{detectors: make(map[entity.DriftType]Detector)}

	r.Register(Detector{Type: entity.DriftTypeSecurityPolicy, Detect: DetectSecurityPolicyDrift})
	r.Register(Detector{Type: entity.DriftTypeFirewallRules, Detect: DetectFirewallDrift})
	r.Register(Detector{Type: entity.DriftTypeUserAccounts, Detect: DetectUserAccountDrift})
	r.Register(Detector{Type: entity.DriftTypeServiceConfiguration})
	r.Register(Detector{Type: entity.DriftTypeRegistrySettings})
	r.Register(Detector{Type: entity.DriftTypeInstalledSoftware, Detect: DetectSoftwareDrift})
	r.Register(Detector{Type: entity.DriftTypeSystemSettings, Detect: DetectSystemSettingsDrift})
	r.Register(Detector{Type: entity.DriftTypeNetworkConfiguration, Detect: DetectNetworkDrift})
	r.Register(Detector{Type: entity.DriftTypePatchLevel})
	r.Register(Detector{Type: entity.DriftTypeSTIGCompliance})
	r.Register(Detector{Type: entity.DriftTypeCISBenchmark})

	return r
}

// Register adds or replaces the detector for a category
func (r *DetectorRegistry) Register(d Detector) {
	if _, exists := r.detectors[d.Type]; !exists {
		r.order = append(r.order, d.Type)
	}
	r.detectors[d.Type] = d
}

// Types returns the registered categories in registration order
func (r *DetectorRegistry) Types() []entity.DriftType {
	return append([]entity.DriftType(nil), r.order...)
}

// Resolve validates requested method names; empty means every registered category
func (r *DetectorRegistry) Resolve(methods []string) ([]entity.DriftType, error) {
	if len(methods) == 0 {
		return r.Types(), nil
	}

	seen := make(map[entity.DriftType]bool, len(methods))
	types := make([]entity.DriftType, 0, len(methods))
	for _, m := range methods {
		t := entity.DriftType(m)
		if _, ok := r.detectors[t]; !ok {
			return nil, fmt.Errorf("unknown detection method: %q", m)
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types, nil
}

// Run executes the requested detectors. A detector that errors or panics is
// reported as failed and contributes no findings; the others still run.
func (r *DetectorRegistry) Run(types []entity.DriftType, baseline, current *entity.ConfigurationState) *DetectionResult {
	result := &DetectionResult{
		Coverage: make(map[entity.DriftType]entity.CoverageStatus, len(types)),
		Failures: make(map[entity.DriftType]error),
	}

	for _, t := range types {
		d, ok := r.detectors[t]
		if !ok || !d.Implemented() {
			result.Coverage[t] = entity.CoverageNotImplemented
			continue
		}

		drifts, err := safeDetect(d, baseline, current)
		if err != nil {
			result.Coverage[t] = entity.CoverageFailed
			result.Failures[t] = err
			continue
		}

		result.Coverage[t] = entity.CoverageChecked
		result.Drifts = append(result.Drifts, drifts...)
	}

	return result
}

func safeDetect(d Detector, baseline, current *entity.ConfigurationState) (drifts []*entity.Drift, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			drifts = nil
			err = fmt.Errorf("detector %s panicked: %v", d.Type, rec)
		}
	}()
	drifts, err = d.Detect(baseline, current)
	if err != nil {
		return nil, fmt.Errorf("detector %s failed: %w", d.Type, err)
	}
	for _, drift := range drifts {
		drift.DriftType = d.Type
	}
	return drifts, nil
}

type finding struct {
	subject     string
	severity    entity.Severity
	title       string
	description string
	current     string
	expected    string
	previous    string
	impact      string
	business    string
	remediation []string
}

func (f finding) drift(t entity.DriftType) *entity.Drift {
	return &entity.Drift{
		DriftType:        t,
		Subject:          f.subject,
		Severity:         f.severity,
		Title:            f.title,
		Description:      f.description,
		CurrentValue:     f.current,
		ExpectedValue:    f.expected,
		PreviousValue:    f.previous,
		DetectionMethod:  detectionMethod,
		ImpactAssessment: f.impact,
		BusinessImpact:   f.business,
		RemediationSteps: f.remediation,
	}
}

// DetectSecurityPolicyDrift checks password and audit policy
func DetectSecurityPolicyDrift(baseline, current *entity.ConfigurationState) ([]*entity.Drift, error) {
	var drifts []*entity.Drift
	bp, cp := baseline.SecurityPolicy.PasswordPolicy, current.SecurityPolicy.PasswordPolicy

	if cp.MinLength < bp.MinLength {
		drifts = append(drifts, finding{
			subject:     "password_policy.min_length",
			severity:    entity.SeverityHigh,
			title:       "Password minimum length reduced",
			description: fmt.Sprintf("Minimum password length decreased from %d to %d characters", bp.MinLength, cp.MinLength),
			current:     fmt.Sprint(cp.MinLength),
			expected:    fmt.Sprint(bp.MinLength),
			previous:    fmt.Sprint(bp.MinLength),
			impact:      "Shorter passwords are easier to brute force and weaken account protection.",
			business:    "Increased likelihood of credential compromise and unauthorized access.",
			remediation: []string{
				fmt.Sprintf("Restore the minimum password length to at least %d characters", bp.MinLength),
				"Review the change record for the password policy",
				"Force a password reset for accounts changed under the weaker policy",
			},
		}.drift(entity.DriftTypeSecurityPolicy))
	}

	if cp.Complexity != bp.Complexity {
		severity := entity.SeverityMedium
		impact := "Password complexity requirements changed from the approved baseline."
		if bp.Complexity && !cp.Complexity {
			severity = entity.SeverityHigh
			impact = "Disabling complexity allows dictionary-based passwords and weakens authentication."
		}
		drifts = append(drifts, finding{
			subject:     "password_policy.complexity",
			severity:    severity,
			title:       "Password complexity requirement changed",
			description: fmt.Sprintf("Password complexity changed from %t to %t", bp.Complexity, cp.Complexity),
			current:     fmt.Sprint(cp.Complexity),
			expected:    fmt.Sprint(bp.Complexity),
			previous:    fmt.Sprint(bp.Complexity),
			impact:      impact,
			business:    "Authentication strength no longer matches the approved security policy.",
			remediation: []string{
				fmt.Sprintf("Set password complexity to %t as defined in the baseline", bp.Complexity),
				"Confirm the policy change was authorized",
			},
		}.drift(entity.DriftTypeSecurityPolicy))
	}

	ba, ca := baseline.SecurityPolicy.AuditPolicy, current.SecurityPolicy.AuditPolicy
	if ca.PrivilegeUse != ba.PrivilegeUse {
		drifts = append(drifts, finding{
			subject:     "audit_policy.privilege_use",
			severity:    entity.SeverityMedium,
			title:       "Privilege use auditing changed",
			description: fmt.Sprintf("Privilege use auditing changed from %t to %t", ba.PrivilegeUse, ca.PrivilegeUse),
			current:     fmt.Sprint(ca.PrivilegeUse),
			expected:    fmt.Sprint(ba.PrivilegeUse),
			previous:    fmt.Sprint(ba.PrivilegeUse),
			impact:      "Changes to privilege auditing affect the ability to detect misuse of elevated rights.",
			business:    "Reduced audit evidence for compliance and incident investigation.",
			remediation: []string{
				fmt.Sprintf("Restore privilege use auditing to %t", ba.PrivilegeUse),
				"Verify audit logs are being forwarded to the SIEM",
			},
		}.drift(entity.DriftTypeSecurityPolicy))
	}

	return drifts, nil
}

// IsUnrestrictedSource reports whether a firewall source allows any address
func IsUnrestrictedSource(source string) bool {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "0.0.0.0/0", "::/0", "any", "*":
		return true
	}
	return false
}

// DetectFirewallDrift compares firewall rules keyed by rule ID
func DetectFirewallDrift(baseline, current *entity.ConfigurationState) ([]*entity.Drift, error) {
	var drifts []*entity.Drift

	base := make(map[string]entity.FirewallRule, len(baseline.FirewallRules))
	for _, r := range baseline.FirewallRules {
		base[r.ID] = r
	}
	cur := make(map[string]entity.FirewallRule, len(current.FirewallRules))
	for _, r := range current.FirewallRules {
		cur[r.ID] = r
	}

	for _, rule := range current.FirewallRules {
		old, existed := base[rule.ID]
		if !existed {
			severity := entity.SeverityMedium
			impact := "A firewall rule not present in the baseline changes the network attack surface."
			if IsUnrestrictedSource(rule.Source) {
				severity = entity.SeverityHigh
				impact = "A new rule accepts traffic from any source address and exposes the system to the internet."
			}
			drifts = append(drifts, finding{
				subject:     "firewall_rule:" + rule.ID,
				severity:    severity,
				title:       fmt.Sprintf("New firewall rule %q", ruleLabel(rule)),
				description: fmt.Sprintf("Rule %s allows %s from %s to %s port %s", rule.ID, rule.Protocol, rule.Source, rule.Destination, rule.Port),
				current:     describeRule(rule),
				expected:    "absent",
				impact:      impact,
				business:    "Unreviewed network access paths may allow lateral movement or data exfiltration.",
				remediation: []string{
					"Confirm the rule was approved through change management",
					"Remove the rule or restrict its source to required networks",
					"Add the rule to the baseline if it is authorized",
				},
			}.drift(entity.DriftTypeFirewallRules))
			continue
		}

		if old.Source != rule.Source {
			severity := entity.SeverityMedium
			impact := "The set of hosts allowed through this rule has changed."
			if IsUnrestrictedSource(rule.Source) {
				severity = entity.SeverityCritical
				impact = "The rule now accepts traffic from any source address."
			}
			drifts = append(drifts, finding{
				subject:     "firewall_rule:" + rule.ID,
				severity:    severity,
				title:       fmt.Sprintf("Firewall rule %q source modified", ruleLabel(rule)),
				description: fmt.Sprintf("Source of rule %s changed from %s to %s", rule.ID, old.Source, rule.Source),
				current:     rule.Source,
				expected:    old.Source,
				previous:    old.Source,
				impact:      impact,
				business:    "Broadened access increases exposure of the services behind this rule.",
				remediation: []string{
					fmt.Sprintf("Restore the rule source to %s", old.Source),
					"Review connection logs for traffic admitted since the change",
				},
			}.drift(entity.DriftTypeFirewallRules))
		}
	}

	for _, rule := range baseline.FirewallRules {
		if _, ok := cur[rule.ID]; ok {
			continue
		}
		drifts = append(drifts, finding{
			subject:     "firewall_rule:" + rule.ID,
			severity:    entity.SeverityMedium,
			title:       fmt.Sprintf("Firewall rule %q removed", ruleLabel(rule)),
			description: fmt.Sprintf("Baseline rule %s is no longer present", rule.ID),
			current:     "absent",
			expected:    describeRule(rule),
			previous:    describeRule(rule),
			impact:      "Removing a baseline rule may disable a required block or break service access.",
			business:    "Possible loss of network segmentation or service availability.",
			remediation: []string{
				"Determine whether the removal was authorized",
				"Restore the rule from the baseline if it is still required",
			},
		}.drift(entity.DriftTypeFirewallRules))
	}

	return drifts, nil
}

func ruleLabel(r entity.FirewallRule) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func describeRule(r entity.FirewallRule) string {
	return fmt.Sprintf("%s %s %s->%s:%s", r.Action, r.Protocol, r.Source, r.Destination, r.Port)
}

// DetectUserAccountDrift compares accounts keyed by username
func DetectUserAccountDrift(baseline, current *entity.ConfigurationState) ([]*entity.Drift, error) {
	var drifts []*entity.Drift

	base := make(map[string]bool, len(baseline.UserAccounts))
	for _, a := range baseline.UserAccounts {
		base[a.Username] = true
	}
	cur := make(map[string]bool, len(current.UserAccounts))
	for _, a := range current.UserAccounts {
		cur[a.Username] = true
	}

	for _, acct := range current.UserAccounts {
		if base[acct.Username] {
			continue
		}
		severity := entity.SeverityMedium
		impact := "An account not present in the baseline can be used to access the system."
		remediation := []string{
			"Verify the account owner and the provisioning request",
			"Disable the account if it is not authorized",
		}
		if acct.Privileged {
			severity = entity.SeverityCritical
			impact = "A new privileged account grants administrative control and may indicate compromise."
			remediation = []string{
				"Disable the privileged account immediately pending review",
				"Investigate how and by whom the account was created",
				"Review activity performed by the account",
			}
		}
		drifts = append(drifts, finding{
			subject:     "account:" + acct.Username,
			severity:    severity,
			title:       fmt.Sprintf("New user account %q", acct.Username),
			description: fmt.Sprintf("Account %s (privileged=%t) is not in the baseline", acct.Username, acct.Privileged),
			current:     fmt.Sprintf("present privileged=%t", acct.Privileged),
			expected:    "absent",
			impact:      impact,
			business:    "Unauthorized access could lead to data loss or service disruption.",
			remediation: remediation,
		}.drift(entity.DriftTypeUserAccounts))
	}

	for _, acct := range baseline.UserAccounts {
		if cur[acct.Username] {
			continue
		}
		drifts = append(drifts, finding{
			subject:     "account:" + acct.Username,
			severity:    entity.SeverityLow,
			title:       fmt.Sprintf("User account %q removed", acct.Username),
			description: fmt.Sprintf("Baseline account %s is no longer present", acct.Username),
			current:     "absent",
			expected:    "present",
			previous:    "present",
			impact:      "A removed account may break services or jobs that depend on it.",
			business:    "Limited; confirm dependent processes still run.",
			remediation: []string{
				"Confirm the account removal was part of an approved deprovisioning",
				"Update the baseline if the removal is intended",
			},
		}.drift(entity.DriftTypeUserAccounts))
	}

	return drifts, nil
}

func unknownVendor(vendor string) bool {
	v := strings.ToLower(strings.TrimSpace(vendor))
	return v == "" || v == "unknown"
}

// DetectSoftwareDrift compares installed packages keyed by name
func DetectSoftwareDrift(baseline, current *entity.ConfigurationState) ([]*entity.Drift, error) {
	var drifts []*entity.Drift

	base := make(map[string]entity.SoftwarePackage, len(baseline.InstalledSoftware))
	for _, p := range baseline.InstalledSoftware {
		base[p.Name] = p
	}

	for _, pkg := range current.InstalledSoftware {
		old, existed := base[pkg.Name]
		if !existed {
			severity := entity.SeverityMedium
			impact := "Software outside the baseline expands the attack surface and may be unpatched."
			if unknownVendor(pkg.Vendor) {
				severity = entity.SeverityHigh
				impact = "Software from an unidentified vendor may be malicious or unsupported."
			}
			drifts = append(drifts, finding{
				subject:     "package:" + pkg.Name,
				severity:    severity,
				title:       fmt.Sprintf("Unapproved software %q installed", pkg.Name),
				description: fmt.Sprintf("Package %s %s from vendor %q is not in the baseline", pkg.Name, pkg.Version, pkg.Vendor),
				current:     pkg.Version,
				expected:    "absent",
				impact:      impact,
				business:    "Unlicensed or untrusted software creates legal and security exposure.",
				remediation: []string{
					"Identify who installed the package and why",
					"Uninstall the package if it is not approved",
					"Scan the system for indicators of compromise",
				},
			}.drift(entity.DriftTypeInstalledSoftware))
			continue
		}

		if old.Version != pkg.Version {
			drifts = append(drifts, finding{
				subject:     "package:" + pkg.Name,
				severity:    entity.SeverityLow,
				title:       fmt.Sprintf("Software %q version changed", pkg.Name),
				description: fmt.Sprintf("Package %s changed from %s to %s", pkg.Name, old.Version, pkg.Version),
				current:     pkg.Version,
				expected:    old.Version,
				previous:    old.Version,
				impact:      "Version changes may introduce new vulnerabilities or behavior changes.",
				business:    "Low; verify compatibility with dependent applications.",
				remediation: []string{
					"Confirm the upgrade was applied through patch management",
					"Update the baseline to the new version once validated",
				},
			}.drift(entity.DriftTypeInstalledSoftware))
		}
	}

	return drifts, nil
}

// IsMaxVerbosity reports whether a log level is the most verbose setting
func IsMaxVerbosity(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace", "verbose", "all":
		return true
	}
	return false
}

// DetectSystemSettingsDrift checks timezone and log level
func DetectSystemSettingsDrift(baseline, current *entity.ConfigurationState) ([]*entity.Drift, error) {
	var drifts []*entity.Drift
	bs, cs := baseline.SystemSettings, current.SystemSettings

	if bs.Timezone != cs.Timezone {
		drifts = append(drifts, finding{
			subject:     "system_settings.timezone",
			severity:    entity.SeverityMedium,
			title:       "System timezone changed",
			description: fmt.Sprintf("Timezone changed from %s to %s", bs.Timezone, cs.Timezone),
			current:     cs.Timezone,
			expected:    bs.Timezone,
			previous:    bs.Timezone,
			impact:      "Timezone changes break log correlation across systems.",
			business:    "Incident timelines and audit evidence become unreliable.",
			remediation: []string{
				fmt.Sprintf("Restore the timezone to %s", bs.Timezone),
				"Verify time synchronization settings",
			},
		}.drift(entity.DriftTypeSystemSettings))
	}

	if bs.LogLevel != cs.LogLevel {
		severity := entity.SeverityLow
		impact := "Logging verbosity differs from the baseline."
		if IsMaxVerbosity(cs.LogLevel) {
			severity = entity.SeverityMedium
			impact = "Maximum verbosity logging can expose sensitive data in logs and exhaust storage."
		}
		drifts = append(drifts, finding{
			subject:     "system_settings.log_level",
			severity:    severity,
			title:       "Log level changed",
			description: fmt.Sprintf("Log level changed from %s to %s", bs.LogLevel, cs.LogLevel),
			current:     cs.LogLevel,
			expected:    bs.LogLevel,
			previous:    bs.LogLevel,
			impact:      impact,
			business:    "Audit coverage or log storage costs deviate from the approved configuration.",
			remediation: []string{
				fmt.Sprintf("Restore the log level to %s", bs.LogLevel),
			},
		}.drift(entity.DriftTypeSystemSettings))
	}

	return drifts, nil
}

// DetectNetworkDrift compares DNS servers as sets
func DetectNetworkDrift(baseline, current *entity.ConfigurationState) ([]*entity.Drift, error) {
	base := stringSet(baseline.NetworkSettings.DNSServers)
	cur := stringSet(current.NetworkSettings.DNSServers)
	if equalSets(base, cur) {
		return nil, nil
	}

	expected := strings.Join(setKeys(base), ",")
	actual := strings.Join(setKeys(cur), ",")

	return []*entity.Drift{finding{
		subject:     "network_settings.dns_servers",
		severity:    entity.SeverityMedium,
		title:       "DNS servers changed",
		description: fmt.Sprintf("DNS servers changed from [%s] to [%s]", expected, actual),
		current:     actual,
		expected:    expected,
		previous:    expected,
		impact:      "Untrusted DNS servers can redirect traffic to attacker-controlled hosts.",
		business:    "Risk of credential theft and service interception.",
		remediation: []string{
			fmt.Sprintf("Restore DNS servers to %s", expected),
			"Check DHCP and network configuration for unauthorized changes",
		},
	}.drift(entity.DriftTypeNetworkConfiguration)}, nil
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func equalSets(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func setKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
