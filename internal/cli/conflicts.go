package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/edgesync/internal/record"
)

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts awaiting manual resolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			f := rootOpts.formatter(cmd)

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			cs, err := a.engine.Conflicts(ctx, !all)
			if err != nil {
				return fail(f, ExitFailure, "failed to list conflicts", err)
			}
			list := make(ConflictList, len(cs))
			for i, c := range cs {
				list[i] = newConflictView(c)
			}
			return f.Success(list)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include resolved conflicts")
	return cmd
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id> <client-wins|server-wins>",
		Short: "Settle a manual conflict",
		Long: `Settle a parked conflict. With client-wins the local change is queued
again and overwrites the server value on the next sync; with server-wins
the local change is dropped and the server value is cached.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			f := rootOpts.formatter(cmd)

			winner, err := record.ParseResolution(args[1])
			if err != nil {
				return fail(f, ExitCommandError, "invalid winner", err)
			}

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.engine.ResolveConflict(ctx, args[0], winner)
			if err != nil {
				code := exitCodeFor(err)
				if record.CodeOf(err) == record.CodeNotFound {
					code = ExitCommandError
				}
				return fail(f, code, "failed to resolve conflict", err)
			}
			return f.Success(ConflictList{newConflictView(c)})
		},
	}
}
