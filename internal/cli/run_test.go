package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenarioDir = "../harness/testdata/scenarios"
	goldenDir   = "../harness/testdata/golden"
)

const failingScenario = `name: wrong_expectation
description: "a debit the scenario expects to fail succeeds"
clock: 100
ledger:
  mints: [{ address: usdc, decimals: 6 }]
  token_accounts:
    - { address: alice_usdc, owner: alice, mint: usdc, amount: 10 }
    - { address: bob_usdc, owner: bob, mint: usdc, amount: 0 }
  lamports:
    - { address: alice, amount: 100000000 }
steps:
  - op: init_delegate
    args: { payer: alice, holder: alice, token_account: alice_usdc }
  - op: init_pre_authorization
    args:
      payer: alice
      holder: alice
      token_account: alice_usdc
      debit_authority: bob
      activation: 100
      one_time: { amount_authorized: 5, expiry_unix_timestamp: 200 }
  - op: debit
    args: { debit_authority: bob, token_account: alice_usdc, destination: bob_usdc, amount: 2 }
    expect: CannotDebitMoreThanAvailable
`

func executeRun(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestRunCommandMissingArgs(t *testing.T) {
	_, err := executeRun(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRunCommandNonExistentPath(t *testing.T) {
	_, err := executeRun(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestRunCommandUpdateRequiresGolden(t *testing.T) {
	_, err := executeRun(t, "text", scenarioDir, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommandEmptyDir(t *testing.T) {
	buf, err := executeRun(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestRunCommandBundledScenarios(t *testing.T) {
	buf, err := executeRun(t, "json", scenarioDir, "--golden", goldenDir)
	require.NoError(t, err, buf.String())

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 6, resp.Data.Total)
	assert.Equal(t, 6, resp.Data.Passed)
	for _, s := range resp.Data.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
}

func TestRunCommandFilter(t *testing.T) {
	buf, err := executeRun(t, "text", scenarioDir, "--filter", "recurring_*")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "✓ recurring_reset")
	assert.Contains(t, out, "✓ recurring_cumulative")
	assert.Contains(t, out, "✓ recurring_num_cycles")
	assert.NotContains(t, out, "one_time_exhaust")
	assert.Contains(t, out, "3 passed, 0 failed, 3 total")
}

func TestRunCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(failingScenario), 0o644))

	buf, err := executeRun(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := buf.String()
	assert.Contains(t, out, "✗ wrong_expectation")
	assert.Contains(t, out, "expected CannotDebitMoreThanAvailable, got ok")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestRunCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	buf, err := executeRun(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestRunCommandGoldenUpdateAndCompare(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")
	scenario := filepath.Join(scenarioDir, "one_time_exhaust.yaml")

	_, err := executeRun(t, "text", scenario, "--golden", golden, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(golden, "one_time_exhaust.golden"))
	require.NoError(t, err)
	bundled, err := os.ReadFile(filepath.Join(goldenDir, "one_time_exhaust.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(bundled), string(written))

	require.NoError(t, os.WriteFile(filepath.Join(golden, "one_time_exhaust.golden"), []byte("{}\n"), 0o644))
	buf, err := executeRun(t, "text", scenario, "--golden", golden)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "trace does not match")
}
