// Package config loads EdgeConfig from defaults, an optional YAML or
// TOML file, a .env file and EDGESYNC_ environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: EDGESYNC_SYNC_INTERVAL,
// EDGESYNC_LOG_LEVEL and so on.
const EnvPrefix = "EDGESYNC"

// EdgeConfig is the engine configuration. It is built once and passed
// by value.
type EdgeConfig struct {
	AppName      string        `mapstructure:"app_name" json:"app_name" yaml:"app_name" validate:"required"`
	StoreVersion int           `mapstructure:"store_version" json:"store_version" yaml:"store_version" validate:"min=1"`
	DatabasePath string        `mapstructure:"database_path" json:"database_path" yaml:"database_path" validate:"required"`
	SyncInterval time.Duration `mapstructure:"sync_interval" json:"sync_interval" yaml:"sync_interval" validate:"gte=1s"`

	MaxRetries     int `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries" validate:"min=1"`
	MaxQueueSize   int `mapstructure:"max_queue_size" json:"max_queue_size" yaml:"max_queue_size" validate:"min=0"`
	PriorityLevels int `mapstructure:"priority_levels" json:"priority_levels" yaml:"priority_levels" validate:"min=1,max=100"`
	BatchSize      int `mapstructure:"batch_size" json:"batch_size" yaml:"batch_size" validate:"min=1"`

	ConflictResolutionStrategy string `mapstructure:"conflict_resolution_strategy" json:"conflict_resolution_strategy" yaml:"conflict_resolution_strategy" validate:"oneof=client-wins server-wins timestamp manual"`

	// ConflictStrategies overrides the strategy per entity type. Keys
	// are lowercased by the loader.
	ConflictStrategies map[string]string `mapstructure:"conflict_strategies" json:"conflict_strategies,omitempty" yaml:"conflict_strategies,omitempty" validate:"dive,keys,required,endkeys,oneof=client-wins server-wins timestamp manual"`

	MaxConcurrentRequests int    `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests" yaml:"max_concurrent_requests" validate:"min=1"`
	CacheStrategy         string `mapstructure:"cache_strategy" json:"cache_strategy" yaml:"cache_strategy" validate:"oneof=cache-first network-first cache-only"`
	OfflineMode           string `mapstructure:"offline_mode" json:"offline_mode" yaml:"offline_mode" validate:"oneof=aggressive conservative manual"`

	// Retention is how long completed records are kept before cleanup.
	Retention time.Duration `mapstructure:"retention" json:"retention" yaml:"retention" validate:"gte=0"`

	RemoteURL      string        `mapstructure:"remote_url" json:"remote_url,omitempty" yaml:"remote_url,omitempty" validate:"omitempty,url"`
	HealthURL      string        `mapstructure:"health_url" json:"health_url,omitempty" yaml:"health_url,omitempty" validate:"omitempty,url"`
	HealthInterval time.Duration `mapstructure:"health_interval" json:"health_interval" yaml:"health_interval" validate:"gte=1s"`
	LimitedRTT     time.Duration `mapstructure:"limited_rtt" json:"limited_rtt" yaml:"limited_rtt" validate:"gt=0"`

	Log LogConfig `mapstructure:"log" json:"log" yaml:"log"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" yaml:"format" validate:"oneof=json console"`
	File   string `mapstructure:"file" json:"file,omitempty" yaml:"file,omitempty"`
}

// Default returns the built-in configuration.
func Default() EdgeConfig {
	return EdgeConfig{
		AppName:                    "edgesync",
		StoreVersion:               1,
		DatabasePath:               "edgesync.db",
		SyncInterval:               30 * time.Second,
		MaxRetries:                 3,
		MaxQueueSize:               10000,
		PriorityLevels:             3,
		BatchSize:                  50,
		ConflictResolutionStrategy: "server-wins",
		MaxConcurrentRequests:      4,
		CacheStrategy:              "cache-first",
		OfflineMode:                "conservative",
		Retention:                  7 * 24 * time.Hour,
		HealthInterval:             30 * time.Second,
		LimitedRTT:                 2 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

var validate = validator.New()

// Validate checks field ranges and enumerations.
func (c EdgeConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StrategyFor returns the conflict strategy of entityType.
func (c EdgeConfig) StrategyFor(entityType string) string {
	if s, ok := c.ConflictStrategies[strings.ToLower(entityType)]; ok {
		return s
	}
	return c.ConflictResolutionStrategy
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply. envFiles are loaded with
// godotenv before the environment is consulted; with none given, a
// .env file in the working directory is loaded if present. Variables
// already set in the environment win over .env entries.
func Load(path string, envFiles ...string) (EdgeConfig, error) {
	if err := loadEnv(envFiles); err != nil {
		return EdgeConfig{}, err
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return EdgeConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg EdgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return EdgeConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return EdgeConfig{}, err
	}
	return cfg, nil
}

func loadEnv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d EdgeConfig) {
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("store_version", d.StoreVersion)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("sync_interval", d.SyncInterval)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("max_queue_size", d.MaxQueueSize)
	v.SetDefault("priority_levels", d.PriorityLevels)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("conflict_resolution_strategy", d.ConflictResolutionStrategy)
	v.SetDefault("max_concurrent_requests", d.MaxConcurrentRequests)
	v.SetDefault("cache_strategy", d.CacheStrategy)
	v.SetDefault("offline_mode", d.OfflineMode)
	v.SetDefault("retention", d.Retention)
	v.SetDefault("remote_url", d.RemoteURL)
	v.SetDefault("health_url", d.HealthURL)
	v.SetDefault("health_interval", d.HealthInterval)
	v.SetDefault("limited_rtt", d.LimitedRTT)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}
