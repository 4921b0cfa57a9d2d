package external

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/domain/service"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// FileSnapshotProvider reads <dir>/<systemID>.yaml as the current configuration.
// Files are read on every call so an external agent can rewrite them in place.
type FileSnapshotProvider struct {
	dir   string
	clock common.Clock
}

// NewFileSnapshotProvider creates a provider over dir
func NewFileSnapshotProvider(dir string, clock common.Clock) (*FileSnapshotProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot directory %s is not a directory", dir)
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &FileSnapshotProvider{dir: dir, clock: clock}, nil
}

func (p *FileSnapshotProvider) Snapshot(_ context.Context, systemID string) (*entity.ConfigurationSnapshot, error) {
	if systemID == "" || strings.ContainsAny(systemID, `/\`) || systemID == "." || systemID == ".." {
		return nil, common.ErrInvalidInput("system_id", "not usable as a file name")
	}

	data, err := os.ReadFile(filepath.Join(p.dir, systemID+".yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, service.ErrSnapshotUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", systemID, err)
	}

	var state entity.ConfigurationState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot for %s: %w", systemID, err)
	}
	return entity.NewSnapshot(systemID, state, p.clock.Now())
}

// BaselineDocument is one entry of a bulk baseline file
type BaselineDocument struct {
	SystemID      string                    `yaml:"system_id"`
	CapturedBy    string                    `yaml:"captured_by"`
	Configuration entity.ConfigurationState `yaml:"configuration"`
}

// BaselineFile is the bulk baseline import format
type BaselineFile struct {
	Baselines []BaselineDocument `yaml:"baselines"`
}

// LoadBaselineFile parses a bulk baseline YAML file. Duplicate or empty system IDs are rejected.
func LoadBaselineFile(path string) (*BaselineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var file BaselineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse baseline file: %w", err)
	}

	seen := make(map[string]bool, len(file.Baselines))
	for i, doc := range file.Baselines {
		if doc.SystemID == "" {
			return nil, fmt.Errorf("baseline %d: system_id is required", i)
		}
		if seen[doc.SystemID] {
			return nil, fmt.Errorf("baseline %d: duplicate system_id %s", i, doc.SystemID)
		}
		seen[doc.SystemID] = true
	}
	return &file, nil
}

var _ service.SnapshotProvider = (*FileSnapshotProvider)(nil)
