package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/risk-posture-engine/domain/entity"
	"github.com/isectech/risk-posture-engine/usecase"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	inventory := `
systems:
  - system:
      id: pay-01
      criticality: high
    vulnerabilities:
      - id: v1
        cvss_score: 9.1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inventory.yaml"), []byte(inventory), 0o600))

	baselines := `
baselines:
  - system_id: pay-01
    configuration:
      user_accounts:
        - username: admin
          privileged: true
          enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "baselines.yaml"), []byte(baselines), 0o600))

	cfg := `
logging:
  level: error
  output: stderr
http:
  enabled: false
database:
  driver: memory
  inventory_file: ` + filepath.Join(dir, "inventory.yaml") + `
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAssessCommand(t *testing.T) {
	dir := writeTestConfig(t)

	out, err := execute(t, "--config", filepath.Join(dir, "config.yaml"), "assess", "pay-01")
	require.NoError(t, err)

	var result entity.PostureResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Assessment)
	assert.Equal(t, "pay-01", result.Assessment.SystemID)
	assert.Less(t, result.Assessment.ComponentScores.Vulnerability, 100.0)
}

func TestRiskCommand_UnknownModel(t *testing.T) {
	dir := writeTestConfig(t)

	_, err := execute(t, "--config", filepath.Join(dir, "config.yaml"), "risk", "pay-01", "--model", "monte_carlo")
	assert.Error(t, err)
}

func TestBaselineImportCommand(t *testing.T) {
	dir := writeTestConfig(t)

	out, err := execute(t, "--config", filepath.Join(dir, "config.yaml"), "baseline", "import", filepath.Join(dir, "baselines.yaml"))
	require.NoError(t, err)

	var summary usecase.ImportSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, []string{"pay-01"}, summary.Created)
}

func TestDriftAckRequiresActor(t *testing.T) {
	dir := writeTestConfig(t)

	_, err := execute(t, "--config", filepath.Join(dir, "config.yaml"), "drift", "ack", "some-id")
	assert.ErrorContains(t, err, "actor")
}
