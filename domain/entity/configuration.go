package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PasswordPolicy describes the password rules enforced on a system
type PasswordPolicy struct {
	MinLength  int  `json:"min_length" yaml:"min_length" msgpack:"min_length"`
	Complexity bool `json:"complexity" yaml:"complexity" msgpack:"complexity"`
	MaxAgeDays int  `json:"max_age_days" yaml:"max_age_days" msgpack:"max_age_days"`
}

// AuditPolicy describes which events are audited
type AuditPolicy struct {
	PrivilegeUse bool `json:"privilege_use" yaml:"privilege_use" msgpack:"privilege_use"`
	LogonEvents  bool `json:"logon_events" yaml:"logon_events" msgpack:"logon_events"`
}

// SecurityPolicy groups password and audit policy
type SecurityPolicy struct {
	PasswordPolicy PasswordPolicy `json:"password_policy" yaml:"password_policy" msgpack:"password_policy"`
	AuditPolicy    AuditPolicy    `json:"audit_policy" yaml:"audit_policy" msgpack:"audit_policy"`
}

// FirewallRule is a single host or network firewall rule
type FirewallRule struct {
	ID          string `json:"id" yaml:"id" msgpack:"id"`
	Name        string `json:"name" yaml:"name" msgpack:"name"`
	Source      string `json:"source" yaml:"source" msgpack:"source"`
	Destination string `json:"destination" yaml:"destination" msgpack:"destination"`
	Port        string `json:"port" yaml:"port" msgpack:"port"`
	Protocol    string `json:"protocol" yaml:"protocol" msgpack:"protocol"`
	Action      string `json:"action" yaml:"action" msgpack:"action"`
}

// UserAccount is a local or directory account present on a system
type UserAccount struct {
	Username   string   `json:"username" yaml:"username" msgpack:"username"`
	Privileged bool     `json:"privileged" yaml:"privileged" msgpack:"privileged"`
	Enabled    bool     `json:"enabled" yaml:"enabled" msgpack:"enabled"`
	Groups     []string `json:"groups,omitempty" yaml:"groups" msgpack:"groups"`
}

// SoftwarePackage is an installed package
type SoftwarePackage struct {
	Name    string `json:"name" yaml:"name" msgpack:"name"`
	Version string `json:"version" yaml:"version" msgpack:"version"`
	Vendor  string `json:"vendor" yaml:"vendor" msgpack:"vendor"`
}

// SystemSettings holds host-level settings tracked for drift
type SystemSettings struct {
	Timezone string `json:"timezone" yaml:"timezone" msgpack:"timezone"`
	LogLevel string `json:"log_level" yaml:"log_level" msgpack:"log_level"`
}

// NetworkSettings holds name resolution and time sync settings
type NetworkSettings struct {
	DNSServers []string `json:"dns_servers" yaml:"dns_servers" msgpack:"dns_servers"`
	NTPServers []string `json:"ntp_servers,omitempty" yaml:"ntp_servers" msgpack:"ntp_servers"`
	Domain     string   `json:"domain,omitempty" yaml:"domain" msgpack:"domain"`
}

// ConfigurationState is the configuration of a system at one point in time
type ConfigurationState struct {
	SecurityPolicy    SecurityPolicy    `json:"security_policy" yaml:"security_policy" msgpack:"security_policy"`
	FirewallRules     []FirewallRule    `json:"firewall_rules" yaml:"firewall_rules" msgpack:"firewall_rules"`
	UserAccounts      []UserAccount     `json:"user_accounts" yaml:"user_accounts" msgpack:"user_accounts"`
	InstalledSoftware []SoftwarePackage `json:"installed_software" yaml:"installed_software" msgpack:"installed_software"`
	SystemSettings    SystemSettings    `json:"system_settings" yaml:"system_settings" msgpack:"system_settings"`
	NetworkSettings   NetworkSettings   `json:"network_settings" yaml:"network_settings" msgpack:"network_settings"`
}

// Canonical returns a copy with every list sorted by its identity key so that
// equal configurations serialize identically.
func (c ConfigurationState) Canonical() ConfigurationState {
	out := c

	out.FirewallRules = append([]FirewallRule(nil), c.FirewallRules...)
	sort.Slice(out.FirewallRules, func(i, j int) bool { return out.FirewallRules[i].ID < out.FirewallRules[j].ID })

	out.UserAccounts = make([]UserAccount, len(c.UserAccounts))
	for i, a := range c.UserAccounts {
		a.Groups = sortedCopy(a.Groups)
		out.UserAccounts[i] = a
	}
	sort.Slice(out.UserAccounts, func(i, j int) bool { return out.UserAccounts[i].Username < out.UserAccounts[j].Username })

	out.InstalledSoftware = append([]SoftwarePackage(nil), c.InstalledSoftware...)
	sort.Slice(out.InstalledSoftware, func(i, j int) bool { return out.InstalledSoftware[i].Name < out.InstalledSoftware[j].Name })

	out.NetworkSettings.DNSServers = sortedCopy(c.NetworkSettings.DNSServers)
	out.NetworkSettings.NTPServers = sortedCopy(c.NetworkSettings.NTPServers)

	return out
}

// Checksum returns the hex sha256 of the canonical JSON form
func (c ConfigurationState) Checksum() (string, error) {
	data, err := json.Marshal(c.Canonical())
	if err != nil {
		return "", fmt.Errorf("failed to marshal configuration: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func sortedCopy(in []string) []string {
	if in == nil {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// BaselineSource records how a baseline came to exist
type BaselineSource string

const (
	BaselineSourceLazy       BaselineSource = "lazy"
	BaselineSourceBulk       BaselineSource = "bulk"
	BaselineSourceRebaseline BaselineSource = "rebaseline"
)

// ConfigurationBaseline is the reference configuration a system is expected to match
type ConfigurationBaseline struct {
	ID            string             `json:"id" db:"id"`
	SystemID      string             `json:"system_id" db:"system_id"`
	Configuration ConfigurationState `json:"configuration" db:"-"`
	Checksum      string             `json:"checksum" db:"checksum"`
	CapturedAt    time.Time          `json:"captured_at" db:"captured_at"`
	CapturedBy    string             `json:"captured_by,omitempty" db:"captured_by"`
	Source        BaselineSource     `json:"source" db:"source"`
	Version       int                `json:"version" db:"version"`
}

// ConfigurationSnapshot is the current configuration of a system; never persisted
type ConfigurationSnapshot struct {
	SystemID      string             `json:"system_id"`
	Configuration ConfigurationState `json:"configuration"`
	Checksum      string             `json:"checksum"`
	CollectedAt   time.Time          `json:"collected_at"`
}

// NewSnapshot builds a snapshot and fills its checksum
func NewSnapshot(systemID string, state ConfigurationState, collectedAt time.Time) (*ConfigurationSnapshot, error) {
	sum, err := state.Checksum()
	if err != nil {
		return nil, err
	}
	return &ConfigurationSnapshot{
		SystemID:      systemID,
		Configuration: state,
		Checksum:      sum,
		CollectedAt:   collectedAt,
	}, nil
}
