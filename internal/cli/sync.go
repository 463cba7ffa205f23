package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/taxonomy"
)

type syncStats taxonomy.Stats

func (s syncStats) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Synced %d projects and %d tasks; retired %d projects and %d tasks.\n",
		s.Projects, s.Tasks, s.RetiredProjects, s.RetiredTasks)
	return err
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror projects and tasks from the time-registration system",
		Long: `Mirror the active projects and their tasks from the time-registration
system. Projects and tasks it no longer returns are marked inactive, never
deleted, so rules and entries that point at them stay valid.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				syncer, err := a.syncer()
				if err != nil {
					return err
				}
				stats, err := syncer.Sync(ctx)
				if err != nil {
					return err
				}
				return f.Success(syncStats(stats))
			})
		},
	}
}
