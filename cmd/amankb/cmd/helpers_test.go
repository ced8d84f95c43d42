package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amankb/internal/chunk"
)

// testProject is an isolated project directory with its own data
// directory, user config home and static provider configuration.
type testProject struct {
	dir     string
	dataDir string
}

func newTestProject(t *testing.T) *testProject {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	for _, k := range []string{
		"AMANKB_PROVIDER", "AMANKB_EMBEDDING_MODEL", "AMANKB_ENDPOINT",
		"AMANKB_API_KEY_REF", "AMANKB_CHUNK_SIZE",
	} {
		t.Setenv(k, "")
	}

	p := &testProject{dir: t.TempDir(), dataDir: t.TempDir()}
	t.Setenv("AMANKB_DATA_DIR", p.dataDir)

	cfg := `version: 1
provider:
  provider: static
  embedding_model: static-hash-v1
  dimensions: 64
indexing:
  chunk_size: 200
  workers: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(p.dir, ".amankb.yaml"), []byte(cfg), 0o644))
	return p
}

// run executes the CLI in the project and returns stdout and the error.
func (p *testProject) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCmd(t, append([]string{"--dir", p.dir}, args...)...)
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(bytes.NewReader(nil))
	cmd.SetArgs(args)
	err := cmd.Execute()
	_ = stopLogging(nil, nil)
	return out.String(), err
}

// writeNotes writes notes as a JSON notes file and returns its path.
func (p *testProject) writeNotes(t *testing.T, notes ...chunk.Note) string {
	t.Helper()
	data, err := json.Marshal(notes)
	require.NoError(t, err)
	path := filepath.Join(p.dir, "notes.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func note(title, body string, day int) chunk.Note {
	return chunk.Note{
		Title:     title,
		Body:      body,
		CreatedAt: time.Date(2026, 1, day, 9, 0, 0, 0, time.UTC),
	}
}
