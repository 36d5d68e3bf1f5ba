package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	doc := `
name: basic
description: one change
config:
  conflict_resolution_strategy: client-wins
  max_retries: 5
seed:
  - entity_type: task
    entity_id: t1
    data: { title: server }
steps:
  - register: { entity_type: task, entity_id: t1, change: update, data: { title: x }, priority: 2 }
  - advance: 90s
  - cleanup: { max_age: 1h }
  - sync: {}
assertions:
  - type: queue_size
    count: 0
`
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, "client-wins", s.Config.ConflictResolutionStrategy)
	assert.Equal(t, 5, s.Config.MaxRetries)
	require.Len(t, s.Seed, 1)
	assert.Equal(t, "server", s.Seed[0].Data["title"])

	require.Len(t, s.Steps, 4)
	require.NotNil(t, s.Steps[0].Register)
	require.NotNil(t, s.Steps[0].Register.Priority)
	assert.Equal(t, 2, *s.Steps[0].Register.Priority)
	assert.Equal(t, "advance", s.Steps[1].action())
	assert.Equal(t, 90*time.Second, s.Steps[1].Advance)
	assert.Equal(t, time.Hour, s.Steps[2].Cleanup.MaxAge)
	assert.Equal(t, "sync", s.Steps[3].action())

	require.Len(t, s.Assertions, 1)
	assert.Equal(t, 0, *s.Assertions[0].Count)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "description: d\nsteps: [{sync: {}}]",
			want: "name is required",
		},
		{
			name: "missing description",
			doc:  "name: n\nsteps: [{sync: {}}]",
			want: "description is required",
		},
		{
			name: "no steps",
			doc:  "name: n\ndescription: d",
			want: "steps list is required",
		},
		{
			name: "unknown field",
			doc:  "name: n\ndescription: d\nstep: [{sync: {}}]",
			want: "failed to parse YAML",
		},
		{
			name: "two actions in one step",
			doc:  "name: n\ndescription: d\nsteps: [{sync: {}, network: offline}]",
			want: "exactly one action",
		},
		{
			name: "bad change type",
			doc:  "name: n\ndescription: d\nsteps: [{register: {entity_type: a, entity_id: b, change: upsert}}]",
			want: "invalid change type",
		},
		{
			name: "bad network state",
			doc:  "name: n\ndescription: d\nsteps: [{network: flaky}]",
			want: "unknown state",
		},
		{
			name: "bad failure code",
			doc:  "name: n\ndescription: d\nsteps: [{fail_next: [STORAGE]}]",
			want: "unsupported error code",
		},
		{
			name: "bad winner",
			doc:  "name: n\ndescription: d\nsteps: [{resolve: {conflict: c-1, winner: both}}]",
			want: "resolve",
		},
		{
			name: "bad strategy",
			doc:  "name: n\ndescription: d\nconfig: {conflict_resolution_strategy: coin-flip}\nsteps: [{sync: {}}]",
			want: "config",
		},
		{
			name: "unknown assertion",
			doc:  "name: n\ndescription: d\nsteps: [{sync: {}}]\nassertions: [{type: vibes}]",
			want: "unknown assertion type",
		},
		{
			name: "queue_size without count",
			doc:  "name: n\ndescription: d\nsteps: [{sync: {}}]\nassertions: [{type: queue_size}]",
			want: "count is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "manual_conflict.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "manual_conflict", s.Name)
	assert.Equal(t, "manual", s.Config.ConflictResolutionStrategy)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))
	single := filepath.Join(dir, "notes.txt")

	files, err := Discover(dir, single)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		single,
	}, files)

	_, err = Discover(t.TempDir())
	assert.ErrorContains(t, err, "no scenario files")

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
