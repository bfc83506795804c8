package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one create"
replicas: [a, b]
steps:
  - replica: a
    action: create
    id: x
    size: { w: 1, h: 1 }
assertions:
  - type: converged
`

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "concurrent_moves.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "concurrent_moves", s.Name)
	assert.Equal(t, []string{"a", "b"}, s.Replicas)
	assert.Equal(t, uint64(7), s.Seed)
	assert.Equal(t, 10, s.Orders)
	require.Len(t, s.Steps, 5)
	assert.Equal(t, ActionCreate, s.Steps[0].Action)
	assert.Equal(t, &Dim{W: 10, H: 10}, s.Steps[0].Size)
	assert.Equal(t, "#f00", s.Steps[0].Style["fill"])
	assert.Equal(t, ActionSync, s.Steps[1].Action)
	assert.Equal(t, &Vec{X: 7, Y: 7}, s.Steps[3].Position)
	require.Len(t, s.Assertions, 4)
	assert.Equal(t, AssertElement, s.Assertions[1].Type)
}

func TestLoadScenario_AllFixturesParse(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		_, err := LoadScenario(p)
		assert.NoError(t, err, p)
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Zero(t, s.Orders)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: minimalScenario + "assertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: `
description: d
replicas: [a]
steps: [{replica: a, action: undo}]
assertions: [{type: converged}]
`,
			want: "name is required",
		},
		{
			name: "no replicas",
			yaml: `
name: n
description: d
replicas: []
steps: [{replica: a, action: undo}]
assertions: [{type: converged}]
`,
			want: "replicas list is required",
		},
		{
			name: "duplicate replica",
			yaml: `
name: n
description: d
replicas: [a, a]
steps: [{replica: a, action: undo}]
assertions: [{type: converged}]
`,
			want: `duplicate id "a"`,
		},
		{
			name: "unknown replica",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{replica: z, action: undo}]
assertions: [{type: converged}]
`,
			want: `unknown replica "z"`,
		},
		{
			name: "unknown action",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{replica: a, action: teleport}]
assertions: [{type: converged}]
`,
			want: `unknown action "teleport"`,
		},
		{
			name: "create without size",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{replica: a, action: create, id: x}]
assertions: [{type: converged}]
`,
			want: "size is required for create",
		},
		{
			name: "unknown expect code",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{replica: a, action: undo, expect: OOPS}]
assertions: [{type: converged}]
`,
			want: `unknown expect code "OOPS"`,
		},
		{
			name: "element assertion without expect",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{replica: a, action: undo, expect: NOTHING_TO_UNDO}]
assertions: [{type: element, id: x}]
`,
			want: "expect is required for element",
		},
		{
			name: "unknown assertion",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{replica: a, action: undo, expect: NOTHING_TO_UNDO}]
assertions: [{type: vibes}]
`,
			want: `unknown assertion type "vibes"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
