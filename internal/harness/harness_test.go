package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(scenario.Steps))
		})
	}
}

func TestRun_ReportsExpectationMismatch(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: mismatch
description: "A wrong expectation fails the run without aborting it"
dimension: 2
clock: "2024-01-10T08:00:00"
steps:
  - op: enroll
    identity: { id: 1, roll: R1, embedding: [0, 0] }
  - op: match
    embedding: [0, 0]
    expect: { outcome: no_match }
  - op: record
    id: 1
    at: "2024-01-10T09:00:00"
    expect: { status: recorded }
assertions:
  - type: identities
    ids: [1, 2]
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "steps[1] (match): outcome: expected no_match, got matched")
	assert.Contains(t, result.Errors[1], "assertions[0] (identities)")
	require.Len(t, result.Trace, 3)
	assert.Equal(t, "recorded", result.Trace[2].Result["status"])
}

func TestRun_UnexpectedErrorIsReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: unexpected_error
description: "A failing step without an error expectation fails the run"
dimension: 2
clock: "2024-01-10T08:00:00"
steps:
  - op: record
    id: 7
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "not_found", result.Trace[0].Error)
	assert.Contains(t, result.Errors[0], "unexpected error")
}

func TestRun_RecordWithoutTimeReadsClock(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: clock
description: "Steps without a time use the scenario clock"
dimension: 2
clock: "2024-03-05T23:59:59"
steps:
  - op: enroll
    identity: { id: 1, roll: R1, embedding: [0, 0] }
  - op: record
    id: 1
  - op: record
    id: 1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	// The clock advances a second per reading, so the second record lands
	// on the next day.
	assert.Equal(t, "2024-03-05", result.Trace[1].Result["day"])
	assert.Equal(t, "recorded", result.Trace[1].Result["status"])
	assert.Equal(t, "2024-03-06", result.Trace[2].Result["day"])
	assert.Equal(t, "recorded", result.Trace[2].Result["status"])
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "sync_push.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
