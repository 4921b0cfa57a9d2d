package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/isectech/risk-posture-engine/domain/entity"
)

// SnapshotProvider fetches the current configuration of a system
type SnapshotProvider interface {
	Snapshot(ctx context.Context, systemID string) (*entity.ConfigurationSnapshot, error)
}

// ExploitabilityService scores how exploitable a vulnerability is, 0-100
type ExploitabilityService interface {
	Exploitability(ctx context.Context, vuln *entity.Vulnerability) (float64, error)
}

// ThreatLandscape is the external threat picture relevant to one system
type ThreatLandscape struct {
	ActiveCampaigns int  `json:"active_campaigns" yaml:"active_campaigns"`
	EmergingThreats int  `json:"emerging_threats" yaml:"emerging_threats"`
	SectorTargeted  bool `json:"sector_targeted" yaml:"sector_targeted"`
}

// ThreatIntelService supplies threat context for scoring
type ThreatIntelService interface {
	// ThreatContext scores active threat interest in a vulnerability, 0-100
	ThreatContext(ctx context.Context, vuln *entity.Vulnerability) (float64, error)
	// BaseExposure is the starting threat-exposure score for a system, normally 100
	BaseExposure(ctx context.Context, system *entity.System) (float64, error)
	Landscape(ctx context.Context, system *entity.System) (*ThreatLandscape, error)
}

// StaticExploitability derives exploitability from the vulnerability record alone
type StaticExploitability struct{}

// Exploitability returns 95 for known-exploited vulnerabilities, otherwise 80% of
// the normalized CVSS score, reduced by a quarter when no patch exists yet.
func (StaticExploitability) Exploitability(_ context.Context, vuln *entity.Vulnerability) (float64, error) {
	if vuln.KnownExploited {
		return 95, nil
	}
	score := vuln.CVSSScore * 10 * 0.8
	if !vuln.PatchAvailable {
		score *= 0.75
	}
	return entity.ClampScore(score), nil
}

// StaticThreatIntel is the threat-intel source used when no feed is configured
type StaticThreatIntel struct {
	Base          float64
	Landscapes    map[string]ThreatLandscape
	SectorTargets map[string]bool
}

// NewStaticThreatIntel returns a source with base exposure 100 and a quiet landscape
func NewStaticThreatIntel() *StaticThreatIntel {
	return &StaticThreatIntel{Base: 100}
}

// ThreatContext scores 40 by default, 90 for known-exploited issues and 65 for critical ones
func (s *StaticThreatIntel) ThreatContext(_ context.Context, vuln *entity.Vulnerability) (float64, error) {
	switch {
	case vuln.KnownExploited:
		return 90, nil
	case vuln.EffectiveSeverity() == entity.SeverityCritical:
		return 65, nil
	default:
		return 40, nil
	}
}

// BaseExposure returns the configured base
func (s *StaticThreatIntel) BaseExposure(_ context.Context, _ *entity.System) (float64, error) {
	return s.Base, nil
}

// Landscape returns the configured landscape for the system's industry
func (s *StaticThreatIntel) Landscape(_ context.Context, system *entity.System) (*ThreatLandscape, error) {
	l := ThreatLandscape{}
	if s.Landscapes != nil {
		l = s.Landscapes[system.Industry]
	}
	if s.SectorTargets[system.Industry] {
		l.SectorTargeted = true
	}
	return &l, nil
}

// ErrSnapshotUnavailable is returned when a provider has nothing for a system
var ErrSnapshotUnavailable = errors.New("no configuration snapshot available")

// StaticSnapshots serves snapshots from memory
type StaticSnapshots struct {
	mu     sync.RWMutex
	states map[string]entity.ConfigurationState
	now    func() time.Time
}

// NewStaticSnapshots creates an empty in-memory snapshot provider
func NewStaticSnapshots(now func() time.Time) *StaticSnapshots {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StaticSnapshots{states: make(map[string]entity.ConfigurationState), now: now}
}

// Set registers the current state of a system
func (s *StaticSnapshots) Set(systemID string, state entity.ConfigurationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[systemID] = state
}

// Snapshot returns the registered state for systemID
func (s *StaticSnapshots) Snapshot(_ context.Context, systemID string) (*entity.ConfigurationSnapshot, error) {
	s.mu.RLock()
	state, ok := s.states[systemID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSnapshotUnavailable
	}
	return entity.NewSnapshot(systemID, state, s.now())
}
