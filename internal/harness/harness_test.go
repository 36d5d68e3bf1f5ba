package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	files, err := Discover(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		s, err := LoadScenario(file)
		require.NoError(t, err)
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "manual_conflict")

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	a, err := MarshalTrace(s.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(s.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: every check here is wrong
steps:
  - register: { entity_type: task, entity_id: t1, change: create, data: { title: a }, expect_error: ENTITY_BLOCKED }
  - sync: { expect: { success: false, succeeded: 3 } }
  - cleanup: { max_age: 0s, expect: 5 }
assertions:
  - type: queue_size
    count: 1
  - type: server_entity
    entity_type: task
    entity_id: t1
    expect: { title: b }
  - type: record_status
    record: rec-9
    status: completed
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "expected ENTITY_BLOCKED error")
	assert.Contains(t, result.Errors[1], "success: expected false, got true")
	assert.Contains(t, result.Errors[1], "succeeded: expected 3, got 1")
	assert.Contains(t, result.Errors[2], "expected 5 records removed, got 1")
	assert.Contains(t, result.Errors[3], "queue_size")
	assert.Contains(t, result.Errors[4], `title = "b"`)
	assert.Contains(t, result.Errors[5], "no such record")
}

func TestRun_NetworkTransitions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: network_transitions
description: limited links still sync in conservative handling; offline does not
steps:
  - network: limited
  - register: { entity_type: task, entity_id: t1, change: create, data: { title: a } }
  - sync: { expect: { success: true, succeeded: 1 } }
  - network: offline
  - register: { entity_type: task, entity_id: t2, change: create, data: { title: b } }
  - sync: { expect: { reason: offline } }
  - network: online
assertions:
  - type: queue_size
    count: 1
  - type: event_count
    event: network
    count: 3
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var statuses []string
	for _, ev := range result.Trace {
		if ev.Kind == KindNetwork {
			statuses = append(statuses, ev.Fields.GetString("status"))
		}
	}
	assert.Equal(t, []string{NetworkLimited, NetworkOffline, NetworkOnline}, statuses)
}

func TestRun_FetchAndServerWins(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: server_wins_fetch
description: the server value wins and is served from the cache
config:
  cache_strategy: cache-only
seed:
  - entity_type: doc
    entity_id: d1
    data: { body: remote }
steps:
  - fetch: { entity_type: doc, entity_id: d1, absent: true }
  - register: { entity_type: doc, entity_id: d1, change: update, data: { body: local } }
  - sync: { expect: { conflicts_detected: 1, conflicts_resolved: 1 } }
  - fetch: { entity_type: doc, entity_id: d1, expect: { body: remote } }
assertions:
  - type: cached_entity
    entity_type: doc
    entity_id: d1
    expect: { body: remote }
    version: 1
  - type: server_entity
    entity_type: doc
    entity_id: d1
    expect: { body: remote }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Kinds(), KindConflictDetected)
}
