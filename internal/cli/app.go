package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/config"
	"github.com/roach88/edgesync/internal/engine"
	"github.com/roach88/edgesync/internal/logging"
	"github.com/roach88/edgesync/internal/netmon"
	"github.com/roach88/edgesync/internal/record"
	"github.com/roach88/edgesync/internal/remote"
	"github.com/roach88/edgesync/internal/store"
)

// remoteTimeout bounds one call to the remote authority.
const remoteTimeout = 30 * time.Second

// app is the engine stack a command works with.
type app struct {
	cfg     config.EdgeConfig
	logger  *zap.Logger
	store   *store.Store
	network *netmon.Monitor
	engine  *engine.Engine
}

// loadConfig reads the config file and applies the global flags.
func loadConfig(opts *RootOptions) (config.EdgeConfig, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.EdgeConfig{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg config.EdgeConfig, w io.Writer) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Writer: w,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	return logger, nil
}

// openApp builds the engine from configuration. Without a remote URL the
// network is reported offline, so changes stay queued.
func openApp(ctx context.Context, opts *RootOptions, logs io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, logs)
	if err != nil {
		return nil, err
	}

	st, err := engine.OpenStore(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	network := newMonitor(cfg, logger)
	var r remote.Remote = unconfiguredRemote{}
	if cfg.RemoteURL != "" {
		r = remote.NewHTTPClient(cfg.RemoteURL, &http.Client{Timeout: remoteTimeout})
	} else {
		network.SetPlatformStatus(false, "")
	}

	eng, err := engine.New(cfg, st, r,
		engine.WithNetwork(network),
		engine.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	if err := eng.Start(ctx); err != nil {
		eng.Close()
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return &app{cfg: cfg, logger: logger, store: st, network: network, engine: eng}, nil
}

func newMonitor(cfg config.EdgeConfig, logger *zap.Logger) *netmon.Monitor {
	opts := []netmon.Option{
		netmon.WithInterval(cfg.HealthInterval),
		netmon.WithLimitedRTT(cfg.LimitedRTT),
		netmon.WithLogger(logger.Named("netmon")),
	}
	if cfg.HealthURL != "" {
		opts = append(opts, netmon.WithChecker(netmon.NewHTTPChecker(cfg.HealthURL)))
	}
	return netmon.New(opts...)
}

// Close stops the engine and closes the store.
func (a *app) Close() error {
	err := errors.Join(a.engine.Close(), a.store.Close())
	_ = a.logger.Sync()
	return err
}

// unconfiguredRemote stands in when no remote URL is set.
type unconfiguredRemote struct{}

var errNoRemote = errors.New("no remote_url configured")

func (unconfiguredRemote) Push(context.Context, record.SyncRecord) (remote.PushResult, error) {
	return remote.PushResult{}, record.NetworkError("push", errNoRemote)
}

func (unconfiguredRemote) Fetch(context.Context, string, string) (remote.Entity, error) {
	return remote.Entity{}, record.NetworkError("fetch", errNoRemote)
}

// commandContext returns the command's context, or Background for a
// command executed without one.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
