package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/logging"
)

// retentionSchedule is how often the run command prunes completed records.
const retentionSchedule = "@every 1h"

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Long: `Start the engine with network monitoring, periodic sync and
retention cleanup. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.run(ctx)
		},
	}
}

func (a *app) run(ctx context.Context) error {
	if a.cfg.RemoteURL != "" && a.cfg.HealthURL != "" {
		go a.network.Run(ctx)
	}

	cronLog := logging.CronLogger(a.logger.Named("retention"))
	janitor := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)
	if _, err := janitor.AddFunc(retentionSchedule, func() { a.cleanup(ctx) }); err != nil {
		return WrapExitError(ExitFailure, "failed to schedule cleanup", err)
	}
	janitor.Start()
	defer func() { <-janitor.Stop().Done() }()

	a.engine.StartAutoSync()
	defer a.engine.StopAutoSync()

	res := a.engine.Sync(ctx)
	a.logger.Info("initial sync",
		zap.Bool("success", res.Success),
		zap.String("reason", res.Reason),
		zap.Int("processed", res.RecordsProcessed),
	)

	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

func (a *app) cleanup(ctx context.Context) {
	n, err := a.engine.CleanupCompletedRecords(ctx, a.cfg.Retention)
	if err != nil {
		a.logger.Warn("retention cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Info("retention cleanup", zap.Int("removed", n))
	}
}
