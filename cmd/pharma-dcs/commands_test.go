package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateConfig_BuiltInPlant(t *testing.T) {
	out, err := execute(t, "validate-config")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK: pharmavax-line-1, 2 units, 1 recipes")
}

func TestValidateConfig_FileErrors(t *testing.T) {
	_, err := execute(t, "validate-config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("controller:\n  scan:\n    period: -1s\n"), 0o600))
	_, err = execute(t, "validate-config", "--config", path)
	assert.Error(t, err)
}

func TestVerifyAudit_RejectsUnknownSource(t *testing.T) {
	_, err := execute(t, "verify-audit", "--source", "tape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}

func TestVerifyAudit_DatabaseDisabled(t *testing.T) {
	_, err := execute(t, "verify-audit", "--source", "database")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, report(&out, audit.VerifyReport{Checked: 2, Valid: 2}))
	assert.Equal(t, "checked 2 entries, 2 valid\n", out.String())

	out.Reset()
	err := report(&out, audit.VerifyReport{Checked: 2, Valid: 1, InvalidIDs: []string{"e-2"}})
	require.Error(t, err)
	assert.Contains(t, out.String(), "INVALID e-2")
}
