package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

func TestRootCmd_RegistersCommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"index", "describe", "search", "collections", "check", "serve", "config", "secret", "logs", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_Help(t *testing.T) {
	out, err := runCmd(t, "--help")

	require.NoError(t, err)
	assert.Contains(t, out, "amankb")
	assert.Contains(t, out, "index")
	assert.Contains(t, out, "search")
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := runCmd(t, "--version")

	require.NoError(t, err)
	assert.Contains(t, out, "amankb version")
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	_, err := runCmd(t, "frobnicate")
	assert.Error(t, err)
}

func TestPrintError_CLIFormat(t *testing.T) {
	debugMode = false
	var buf bytes.Buffer
	err := amerrors.New(amerrors.ErrCodeConfigDrift, "configuration changed", nil).
		WithSuggestion("rebuild with --force")

	printError(&buf, err)

	out := buf.String()
	assert.Contains(t, out, "Error: configuration changed")
	assert.Contains(t, out, "Hint: rebuild with --force")
	assert.Contains(t, out, "ERR_104")
}

func TestPrintError_PlainError(t *testing.T) {
	debugMode = false
	var buf bytes.Buffer

	printError(&buf, errors.New("boom"))

	assert.Contains(t, buf.String(), "Error: boom")
}
