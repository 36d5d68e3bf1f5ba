package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("", writeFile(t, ".env", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "edgesync.yaml", `
app_name: field-app
database_path: /var/lib/field/sync.db
sync_interval: 45s
max_retries: 5
priority_levels: 5
conflict_resolution_strategy: manual
conflict_strategies:
  Inspection: client-wins
  note: timestamp
offline_mode: aggressive
remote_url: http://localhost:8080
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, writeFile(t, ".env", ""))
	require.NoError(t, err)
	assert.Equal(t, "field-app", cfg.AppName)
	assert.Equal(t, "/var/lib/field/sync.db", cfg.DatabasePath)
	assert.Equal(t, 45*time.Second, cfg.SyncInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "manual", cfg.ConflictResolutionStrategy)
	assert.Equal(t, "aggressive", cfg.OfflineMode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().BatchSize, cfg.BatchSize)

	assert.Equal(t, "client-wins", cfg.StrategyFor("inspection"))
	assert.Equal(t, "client-wins", cfg.StrategyFor("Inspection"))
	assert.Equal(t, "timestamp", cfg.StrategyFor("note"))
	assert.Equal(t, "manual", cfg.StrategyFor("booking"))
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("EDGESYNC_MAX_RETRIES", "7")
	t.Setenv("EDGESYNC_SYNC_INTERVAL", "2m")
	t.Setenv("EDGESYNC_LOG_LEVEL", "warn")

	path := writeFile(t, "edgesync.yaml", "max_retries: 5\n")
	cfg, err := Load(path, writeFile(t, ".env", ""))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	t.Cleanup(func() { os.Unsetenv("EDGESYNC_BATCH_SIZE") })
	t.Setenv("EDGESYNC_APP_NAME", "from-environment")

	env := writeFile(t, ".env", "EDGESYNC_BATCH_SIZE=12\nEDGESYNC_APP_NAME=from-dotenv\n")
	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.BatchSize)
	assert.Equal(t, "from-environment", cfg.AppName)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), writeFile(t, ".env", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "edgesync.yaml", "conflict_resolution_strategy: coin-flip\n")
	_, err := Load(path, writeFile(t, ".env", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConflictResolutionStrategy")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EdgeConfig)
		field  string
	}{
		{"empty app name", func(c *EdgeConfig) { c.AppName = "" }, "AppName"},
		{"zero store version", func(c *EdgeConfig) { c.StoreVersion = 0 }, "StoreVersion"},
		{"sub-second interval", func(c *EdgeConfig) { c.SyncInterval = 10 * time.Millisecond }, "SyncInterval"},
		{"zero retries", func(c *EdgeConfig) { c.MaxRetries = 0 }, "MaxRetries"},
		{"negative queue size", func(c *EdgeConfig) { c.MaxQueueSize = -1 }, "MaxQueueSize"},
		{"no priority levels", func(c *EdgeConfig) { c.PriorityLevels = 0 }, "PriorityLevels"},
		{"zero concurrency", func(c *EdgeConfig) { c.MaxConcurrentRequests = 0 }, "MaxConcurrentRequests"},
		{"unknown cache strategy", func(c *EdgeConfig) { c.CacheStrategy = "lru" }, "CacheStrategy"},
		{"unknown offline mode", func(c *EdgeConfig) { c.OfflineMode = "eager" }, "OfflineMode"},
		{"bad override", func(c *EdgeConfig) { c.ConflictStrategies = map[string]string{"note": "random"} }, "ConflictStrategies"},
		{"bad remote url", func(c *EdgeConfig) { c.RemoteURL = "not a url" }, "RemoteURL"},
		{"bad log level", func(c *EdgeConfig) { c.Log.Level = "verbose" }, "Log.Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
