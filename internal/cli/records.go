package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/edgesync/internal/record"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	EntityType string
	Status     string
	All        bool
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued sync records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			f := opts.formatter(cmd)

			status, err := record.ParseStatus(opts.Status)
			if err != nil {
				return fail(f, ExitCommandError, "invalid --status", err)
			}
			if opts.All {
				status = ""
			}

			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.engine.PendingSyncRecords(ctx, opts.EntityType, status)
			if err != nil {
				return fail(f, ExitFailure, "failed to list records", err)
			}
			list := make(RecordList, len(recs))
			for i, r := range recs {
				list[i] = newRecordView(r)
			}
			return f.Success(list)
		},
	}

	cmd.Flags().StringVar(&opts.EntityType, "entity-type", "", "only records of this entity type")
	cmd.Flags().StringVar(&opts.Status, "status", string(record.StatusPending), "only records in this status")
	cmd.Flags().BoolVar(&opts.All, "all", false, "records in any status")

	return cmd
}

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	*RootOptions
	MaxAge time.Duration
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old completed records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			f := opts.formatter(cmd)

			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			maxAge := opts.MaxAge
			if !cmd.Flags().Changed("max-age") {
				maxAge = a.cfg.Retention
			}
			n, err := a.engine.CleanupCompletedRecords(ctx, maxAge)
			if err != nil {
				return fail(f, ExitFailure, "cleanup failed", err)
			}
			return f.Success(CountView{Label: "Removed records", Count: n})
		},
	}

	cmd.Flags().DurationVar(&opts.MaxAge, "max-age", 0, "remove completed records older than this (default: retention)")

	return cmd
}
