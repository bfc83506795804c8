package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
)

func TestRun_Fixtures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)

	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			s, err := LoadScenario(p)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.NotEmpty(t, result.Digest)
		})
	}
}

func TestRun_Trace(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, 1, result.Orders)
	assert.Equal(t, []TraceEvent{
		{Seq: 1, Kind: TraceLocal, Replica: "a", Action: ActionCreate, OpIDs: []string{"a-0001"}, Outcome: OutcomeApplied},
		{Seq: 2, Kind: TraceDeliver, Replica: "b", From: "a", OpIDs: []string{"a-0001"}, Outcome: OutcomeApplied},
	}, result.Trace)
	require.Len(t, result.Elements, 1)
	assert.Equal(t, "x", result.Elements[0].ID)
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "out_of_order_delivery.yaml"))
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRun_BufferedDeliveriesAppearInTrace(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: buffered
description: "move delivered before create"
replicas: [a, b]
steps:
  - replica: a
    action: create
    id: x
    size: { w: 1, h: 1 }
  - replica: a
    action: move
    id: x
    position: { x: 4, y: 4 }
assertions:
  - type: converged
  - type: pending
    count: 0
`))
	require.NoError(t, err)

	// Try seeds until one delivers the move first.
	for seed := uint64(0); seed < 64; seed++ {
		s.Seed = seed
		result, err := Run(s)
		require.NoError(t, err)
		require.True(t, result.Pass, "errors: %v", result.Errors)

		if result.Trace[2].Outcome == OutcomeBuffered {
			assert.Equal(t, []string{"a-0002"}, result.Trace[2].OpIDs)
			assert.Equal(t, OutcomeApplied, result.Trace[3].Outcome)
			return
		}
	}
	t.Fatal("no seed delivered the move before the create")
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: "expects the wrong position"
replicas: [a, b]
orders: 2
steps:
  - replica: a
    action: create
    id: x
    size: { w: 1, h: 1 }
assertions:
  - type: element
    id: x
    expect: { x: 99 }
  - type: absent
    id: x
  - type: count
    count: 3
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	// Three assertions, two replicas, two orders.
	assert.Len(t, result.Errors, 12)
	assert.Contains(t, result.Errors[0], "Assertion failed: element (order 0, replica a)")
	assert.Contains(t, result.Errors[0], "x: want 99, got 0")
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expectations
description: "a step that should fail succeeds and one that should succeed fails"
replicas: [a]
steps:
  - replica: a
    action: create
    id: x
    size: { w: 1, h: 1 }
    expect: VALIDATION
  - replica: a
    action: delete
    id: nope
assertions:
  - type: count
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected VALIDATION, step succeeded")
	assert.Contains(t, result.Errors[1], "unexpected error")
}

func TestRun_EngineOptions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: undo-limit
description: "two edits, one undo slot"
replicas: [a, b]
steps:
  - replica: a
    action: create
    id: x
    size: { w: 1, h: 1 }
  - replica: a
    action: move
    id: x
    position: { x: 5, y: 5 }
  - replica: a
    action: undo
  - replica: a
    action: undo
    expect: NOTHING_TO_UNDO
assertions:
  - type: converged
  - type: element
    id: x
    expect: { x: 0, y: 0 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass, "the default undo stack holds both edits")

	result, err = Run(s, WithEngineOptions(engine.WithUndoLimit(1)))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMatchElement(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	el := result.Elements[0]

	assert.Empty(t, matchElement(el, map[string]any{"x": 0, "w": 1, "type": "shape", "version": 1, "style.fill": nil}))
	assert.Equal(t, []string{"bogus: unknown field", "h: want 2, got 1"}, matchElement(el, map[string]any{"h": 2, "bogus": true}))
}
