package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProcedure = `
name: ALL-01
description: In-band registration
category: Registration
steps:
  discovery:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
`

const invalidProcedure = `
name: BAD-01
description: References a step that does not exist
category: Registration
steps:
  discovery:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
    actions:
      - type: enable-listeners
        parameters:
          listeners: [no-such-step]
`

func writeProcedure(t *testing.T, dir, name, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommandAcceptsValidProcedures(t *testing.T) {
	dir := t.TempDir()
	writeProcedure(t, dir, "all01.yaml", validProcedure)

	out, err := runCommand(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 test procedure(s) valid")
}

func TestValidateCommandVerboseListsProcedures(t *testing.T) {
	dir := t.TempDir()
	writeProcedure(t, dir, "all01.yaml", validProcedure)

	out, err := runCommand(t, "--verbose", "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ALL-01: 1 step(s) [Registration]")
}

func TestValidateCommandRejectsBadReferences(t *testing.T) {
	dir := t.TempDir()
	writeProcedure(t, dir, "bad01.yaml", invalidProcedure)

	out, err := runCommand(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no-such-step")
}

func TestValidateCommandMissingDirectory(t *testing.T) {
	_, err := runCommand(t, "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestServeCommandRejectsBadUpstream(t *testing.T) {
	dir := t.TempDir()
	writeProcedure(t, dir, "all01.yaml", validProcedure)

	_, err := runCommand(t, "serve", "--db", filepath.Join(t.TempDir(), "state.db"),
		"--upstream", "not-a-url", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
