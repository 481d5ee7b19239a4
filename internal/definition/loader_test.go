package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProcedure = `
name: ALL-01
description: In-band registration of a single device
category: Registration
preconditions:
  actions:
    - type: set-poll-rate
      parameters:
        rate_seconds: 30
  checks:
    - type: connectionpoint-contents
steps:
  discovery:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
    actions:
      - type: enable-listeners
        parameters:
          listeners: [registration]
  registration:
    event:
      type: POST-request-received
      parameters:
        endpoint: /edev
        serve_request_first: true
    actions:
      - type: register-end-device
      - type: remove-listeners
        parameters:
          listeners: [registration]
  settle:
    event:
      type: wait
      parameters:
        duration_seconds: 20
criteria:
  checks:
    - type: all-steps-complete
`

func TestParsePreservesStepOrder(t *testing.T) {
	proc, err := Parse([]byte(sampleProcedure))
	require.NoError(t, err)

	require.Len(t, proc.Steps, 3)
	assert.Equal(t, "discovery", proc.Steps[0].Name)
	assert.Equal(t, "registration", proc.Steps[1].Name)
	assert.Equal(t, "settle", proc.Steps[2].Name)

	assert.Equal(t, "ALL-01", proc.Name)
	assert.Equal(t, "Registration", proc.Category)
	require.NotNil(t, proc.Preconditions)
	require.Len(t, proc.Preconditions.Actions, 1)
	require.NotNil(t, proc.Criteria)
}

func TestParseDecodesEventParameters(t *testing.T) {
	proc, err := Parse([]byte(sampleProcedure))
	require.NoError(t, err)

	endpoint, err := proc.Steps[0].Event.EndpointParameter()
	require.NoError(t, err)
	assert.Equal(t, "/dcap", endpoint)

	method, ok := proc.Steps[1].Event.IsRequestEvent()
	require.True(t, ok)
	assert.Equal(t, "POST", method)

	_, ok = proc.Steps[2].Event.IsRequestEvent()
	assert.False(t, ok)

	first, ok := proc.Steps[1].Event.Parameters["serve_request_first"]
	require.True(t, ok)
	assert.Equal(t, true, first.Const)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing steps",
			doc:     "name: X\ndescription: d\ncategory: c\n",
			wantErr: "schema validation",
		},
		{
			name: "unknown top-level field",
			doc: sampleProcedure + `
priority: 12
`,
			wantErr: "schema validation",
		},
		{
			name: "bad event type",
			doc: `
name: X
description: d
category: c
steps:
  s:
    event:
      type: get-request-received
`,
			wantErr: "schema validation",
		},
		{
			name: "undefined listener reference",
			doc: `
name: X
description: d
category: c
steps:
  s:
    event:
      type: wait
      parameters: {duration_seconds: 5}
    actions:
      - type: enable-listeners
        parameters:
          listeners: [missing]
`,
			wantErr: `undefined step "missing"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseNormalizesStepNames(t *testing.T) {
	// Decomposed "e\u0301" in the document must come out as composed "\u00e9".
	doc := "name: X\ndescription: d\ncategory: c\nsteps:\n" +
		"  \"verifie\u0301\":\n" +
		"    event:\n      type: wait\n      parameters: {duration_seconds: 5}\n"
	proc, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "verifi\u00e9", proc.Steps[0].Name)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "all-01.yaml"), []byte(sampleProcedure), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	procs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	require.Contains(t, procs, "ALL-01")

	// A second file reusing the name must be rejected.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.yaml"), []byte(sampleProcedure), 0o644))
	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "duplicate procedure name")
}

func TestStepByName(t *testing.T) {
	proc, err := Parse([]byte(sampleProcedure))
	require.NoError(t, err)

	step, err := proc.StepByName("registration")
	require.NoError(t, err)
	assert.Equal(t, "registration", step.Name)

	_, err = proc.StepByName("absent")
	require.Error(t, err)
}
