package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/logging"
)

func TestLogsCmd_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amankb.log")
	lines := []string{
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"reconcile_started"}`,
		`{"time":"2026-01-02T10:00:01Z","level":"WARN","msg":"note_failed","note_id":"n1"}`,
		`{"time":"2026-01-02T10:00:02Z","level":"INFO","msg":"reconcile_completed"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	out, err := runCmd(t, "logs", "--file", path, "-n", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "reconcile_started")
	assert.Contains(t, out, "note_failed note_id=n1")
	assert.Contains(t, out, "reconcile_completed")

	out, err = runCmd(t, "logs", "--file", path, "--level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "note_failed")
	assert.NotContains(t, out, "reconcile_completed")
}

func TestLogsCmd_DataDirLog(t *testing.T) {
	p := newTestProject(t)
	path := logging.LogPathIn(p.dataDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"level":"INFO","msg":"serve_started"}`+"\n"), 0o644))

	out, err := p.run(t, "logs")

	require.NoError(t, err)
	assert.Contains(t, out, "serve_started")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	_, err := runCmd(t, "logs", "--file", filepath.Join(t.TempDir(), "none.log"))
	assert.Error(t, err)
}

func TestLogsCmd_InvalidFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amankb.log")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	_, err := runCmd(t, "logs", "--file", path, "--filter", "(")
	assert.Error(t, err)
}
