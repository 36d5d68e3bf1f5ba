package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/edgesync/internal/engine"
	"github.com/roach88/edgesync/internal/record"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	Change      string
	Data        string
	Priority    int
	BaseVersion int64
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register <entity-type> <entity-id>",
		Short: "Queue a local change",
		Long: `Queue a change to an entity. The change is durable once the command
returns and is pushed by the next sync.

Examples:
  edgesync register task t1 --change create --data '{"title":"buy milk"}'
  edgesync register task t1 --change update --data '{"title":"buy oat milk"}' --priority 2
  edgesync register task t1 --change delete`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Change, "change", "update", "change type (create|update|delete)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "entity data as a JSON object")
	cmd.Flags().IntVar(&opts.Priority, "priority", 1, "priority; higher syncs first")
	cmd.Flags().Int64Var(&opts.BaseVersion, "base-version", -1, "server version the change is based on (default: cached version)")

	return cmd
}

func runRegister(cmd *cobra.Command, opts *RegisterOptions, entityType, entityID string) error {
	ctx := commandContext(cmd.Context())
	f := opts.formatter(cmd)

	change, err := record.ParseChangeType(opts.Change)
	if err != nil {
		return fail(f, ExitCommandError, "invalid --change", err)
	}
	var data record.Object
	if opts.Data != "" {
		if data, err = record.ParseObject([]byte(opts.Data)); err != nil {
			return fail(f, ExitCommandError, "invalid --data", err)
		}
	}

	changeOpts := []engine.ChangeOption{engine.WithPriority(opts.Priority)}
	if opts.BaseVersion >= 0 {
		changeOpts = append(changeOpts, engine.WithBaseVersion(opts.BaseVersion))
	}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.engine.RegisterChange(ctx, entityType, entityID, change, data, changeOpts...)
	if err != nil {
		return fail(f, exitCodeFor(err), "failed to register change", err)
	}
	f.VerboseLog("registered %s for %s", id, record.EntityKey(entityType, entityID))
	return f.Success(RegisteredView{RecordID: id})
}
