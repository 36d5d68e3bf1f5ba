package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/remote"
)

// cliEnv runs commands against one database file.
type cliEnv struct {
	t  *testing.T
	db string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("EDGESYNC_LOG_LEVEL", "error")
	return &cliEnv{t: t, db: filepath.Join(t.TempDir(), "edge.db")}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", e.db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// decode unmarshals the data field of a JSON response into v.
func decode(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestRegisterAndPending(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("register", "task", "t1", "--change", "create", "--data", `{"title":"milk"}`, "--format", "json")
	require.NoError(t, err)
	var reg RegisteredView
	decode(t, out, &reg)
	assert.NotEmpty(t, reg.RecordID)

	_, err = env.run("register", "task", "t2", "--change", "create", "--data", `{"title":"eggs"}`, "--priority", "2")
	require.NoError(t, err)

	out, err = env.run("pending", "--format", "json")
	require.NoError(t, err)
	var list []RecordView
	decode(t, out, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "task/t1", list[0].Entity, "oldest first")
	assert.Equal(t, reg.RecordID, list[0].ID)
	assert.Equal(t, map[string]any{"title": "milk"}, list[0].Data)
	assert.Equal(t, "task/t2", list[1].Entity)
	assert.Equal(t, 2, list[1].Priority)

	out, err = env.run("pending")
	require.NoError(t, err)
	assert.Contains(t, out, "task/t1")
	assert.Contains(t, out, "pending")

	out, err = env.run("pending", "--entity-type", "note")
	require.NoError(t, err)
	assert.Contains(t, out, "No records.")
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newCLIEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad change", []string{"register", "task", "t1", "--change", "upsert"}},
		{"bad data", []string{"register", "task", "t1", "--data", "{not json"}},
		{"missing data", []string{"register", "task", "t1", "--change", "create"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestRegister_JSONErrorEnvelope(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("register", "task", "t1", "--change", "create", "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(record.CodeValidation), resp.Error.Code)
}

func TestStatus(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("register", "task", "t1", "--change", "create", "--data", `{"n":1}`)
	require.NoError(t, err)

	out, err := env.run("status", "--format", "json")
	require.NoError(t, err)
	var status struct {
		PendingChanges int `json:"pending_changes"`
		OpenConflicts  int `json:"open_conflicts"`
		NetworkStatus  struct {
			Status string `json:"status"`
		} `json:"network_status"`
	}
	decode(t, out, &status)
	assert.Equal(t, 1, status.PendingChanges)
	assert.Equal(t, 0, status.OpenConflicts)
	assert.Equal(t, "offline", status.NetworkStatus.Status, "no remote configured")

	out, err = env.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending changes: 1")
	assert.Contains(t, out, "Last sync:       never")
}

func TestSync_WithoutRemote(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("register", "task", "t1", "--change", "create", "--data", `{"n":1}`)
	require.NoError(t, err)

	out, err := env.run("sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Sync did not run: offline")

	out, err = env.run("pending", "--format", "json")
	require.NoError(t, err)
	var list []RecordView
	decode(t, out, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].RetryCount, "an offline pass must not burn retries")
}

func newRemote(t *testing.T) *remote.Memory {
	t.Helper()
	mem := remote.NewMemory()
	srv := httptest.NewServer(remote.NewServer(mem, zap.NewNop()).Routes())
	t.Cleanup(srv.Close)
	t.Setenv("EDGESYNC_REMOTE_URL", srv.URL)
	return mem
}

func TestSync_AgainstHTTPRemote(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("register", "task", "t1", "--change", "create", "--data", `{"title":"milk"}`)
	require.NoError(t, err)
	_, err = env.run("register", "task", "t1", "--change", "update", "--data", `{"title":"oat milk"}`)
	require.NoError(t, err)

	mem := newRemote(t)

	out, err := env.run("sync", "--format", "json")
	require.NoError(t, err)
	var res struct {
		Success          bool `json:"success"`
		RecordsProcessed int  `json:"records_processed"`
		RecordsSucceeded int  `json:"records_succeeded"`
	}
	decode(t, out, &res)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RecordsProcessed)
	assert.Equal(t, 2, res.RecordsSucceeded)

	ents := mem.Entities()
	require.Len(t, ents, 1)
	assert.Equal(t, "oat milk", ents[0].Data.GetString("title"))
	assert.Equal(t, int64(2), ents[0].Version)

	out, err = env.run("pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No records.")

	out, err = env.run("pending", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	out, err = env.run("cleanup", "--max-age", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed records: 2")
}

func TestConflictsAndResolve(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("EDGESYNC_CONFLICT_RESOLUTION_STRATEGY", "manual")
	t.Setenv("EDGESYNC_OFFLINE_MODE", "manual")

	mem := newRemote(t)
	mem.Seed("task", "t1", record.Obj(record.O("title", record.String("server"))), "other-device")

	_, err := env.run("register", "task", "t1", "--change", "update", "--data", `{"title":"client"}`, "--base-version", "0")
	require.NoError(t, err)
	_, _ = env.run("sync")

	out, err := env.run("conflicts", "--format", "json")
	require.NoError(t, err)
	var open []ConflictView
	decode(t, out, &open)
	require.Len(t, open, 1)
	assert.Equal(t, "task/t1", open[0].Entity)
	assert.False(t, open[0].Resolved)

	_, err = env.run("register", "task", "t1", "--data", `{"title":"again"}`)
	require.Error(t, err, "entity is blocked while the conflict is open")

	_, err = env.run("resolve", open[0].ID, "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run("resolve", "missing", "server-wins")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = env.run("resolve", open[0].ID, "server-wins")
	require.NoError(t, err)
	assert.Contains(t, out, "server-wins")

	out, err = env.run("conflicts")
	require.NoError(t, err)
	assert.Contains(t, out, "No conflicts.")

	out, err = env.run("conflicts", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "task/t1")
}

func TestScenarioCommand(t *testing.T) {
	env := newCLIEnv(t)
	traces := t.TempDir()

	out, err := env.run("scenario", "../harness/testdata/scenarios", "--trace-dir", traces)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ offline_first")
	assert.Contains(t, out, "3 passed, 0 failed, 3 total")

	data, err := os.ReadFile(filepath.Join(traces, "offline_first.trace"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"scenario":"offline_first"}`)
}

func TestScenarioCommand_Filter(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("scenario", "../harness/testdata/scenarios", "--filter", "manual_*", "--format", "json")
	require.NoError(t, err)
	var report ScenarioReport
	decode(t, out, &report)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "manual_conflict", report.Scenarios[0].Name)
	assert.True(t, report.Scenarios[0].Pass)
}

func TestScenarioCommand_Failure(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()

	failing := `name: wrong_count
description: Asserts a queue size that cannot hold
steps:
  - register: { entity_type: task, entity_id: t1, change: create, data: { n: 1 } }
assertions:
  - type: queue_size
    count: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(failing), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\n"), 0o644))

	out, err := env.run("scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "0 passed, 2 failed, 2 total")

	_, err = env.run("scenario", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
