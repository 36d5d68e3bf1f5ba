package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, conflict and network status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			f := rootOpts.formatter(cmd)

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.engine.SyncStatus(ctx)
			if err != nil {
				return fail(f, ExitFailure, "failed to read status", err)
			}
			return f.Success(StatusView{Status: status})
		},
	}
}
