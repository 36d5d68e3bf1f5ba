package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending changes to the remote",
		Long: `Run one sync pass. The network is checked first when health_url is set.

Exit codes:
  0 - Every processed record succeeded
  1 - The pass did not run or a record failed
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			f := rootOpts.formatter(cmd)

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.RemoteURL != "" && a.cfg.HealthURL != "" {
				info := a.network.Check(ctx)
				f.VerboseLog("network %s", info.Status)
			}

			res := a.engine.Sync(ctx)
			if err := f.Success(SyncView{SyncResult: res}); err != nil {
				return err
			}
			switch {
			case res.Reason != "":
				return NewExitError(ExitFailure, fmt.Sprintf("sync did not run: %s", res.Reason))
			case !res.Success:
				return NewExitError(ExitFailure, fmt.Sprintf("sync finished with %d failed records", res.RecordsFailed))
			}
			return nil
		},
	}
}
