package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
)

// NewEntriesCommand creates the entries command group.
func NewEntriesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Inspect and correct imported entries",
	}

	cmd.AddCommand(newEntriesListCommand(rootOpts))
	cmd.AddCommand(newEntriesShowCommand(rootOpts))
	cmd.AddCommand(newEntriesSummaryCommand(rootOpts))
	cmd.AddCommand(newEntriesIgnoreCommand(rootOpts))
	cmd.AddCommand(newEntriesMapCommand(rootOpts))
	return cmd
}

// EntryListOptions holds flags for the entries list command.
type EntryListOptions struct {
	*RootOptions
	Statuses []string
	Source   string
	Limit    int
	Offset   int
}

func newEntriesListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntryListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest work date first",
		Long: `List entries, newest work date first.

Examples:
  timebridge entries list --status pending
  timebridge entries list --status failed,mapped --source tempo --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				filter, err := entryFilter(ctx, a.store, opts)
				if err != nil {
					return err
				}
				entries, err := a.store.ListEntries(ctx, filter)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []model.Entry{}
				}
				return f.Success(entryList(entries))
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "only entries in these statuses")
	cmd.Flags().StringVar(&opts.Source, "source", "", "only entries of this source (id or name)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of entries (0 for all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "entries to skip")
	return cmd
}

func entryFilter(ctx context.Context, st *store.Store, opts *EntryListOptions) (store.EntryFilter, error) {
	filter := store.EntryFilter{Limit: opts.Limit, Offset: opts.Offset}
	if opts.Limit < 0 || opts.Offset < 0 {
		return filter, &model.ValidationError{Field: "limit", Message: "limit and offset must not be negative"}
	}
	for _, name := range opts.Statuses {
		status, err := model.ParseStatus(name)
		if err != nil {
			return filter, &model.ValidationError{Field: "status", Message: err.Error()}
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if opts.Source != "" {
		src, err := resolveSource(ctx, st, opts.Source)
		if err != nil {
			return filter, err
		}
		filter.SourceID = src.ID
	}
	return filter, nil
}

// entryDetail is one entry with its submission audit.
type entryDetail struct {
	model.Entry
	Submission *model.Submission `json:"submission,omitempty"`
}

func (d entryDetail) RenderText(w io.Writer) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Entry:\t%d (%s %s)\n", d.ID, d.SourceKind, d.ExternalID)
	fmt.Fprintf(tw, "Status:\t%s\n", d.Status)
	fmt.Fprintf(tw, "User:\t%s\n", d.UserIdentifier)
	fmt.Fprintf(tw, "Date:\t%s\n", d.WorkDate)
	fmt.Fprintf(tw, "Hours:\t%.2f\n", d.Hours())
	fmt.Fprintf(tw, "Description:\t%s\n", d.Description)
	if d.IssueKey != nil {
		fmt.Fprintf(tw, "Issue:\t%s\n", *d.IssueKey)
	}
	if d.ProjectKey != nil {
		fmt.Fprintf(tw, "Project key:\t%s\n", *d.ProjectKey)
	}
	if d.Activity != nil {
		fmt.Fprintf(tw, "Activity:\t%s\n", *d.Activity)
	}
	for _, kv := range d.Metadata {
		text, _ := kv.Value.Text()
		fmt.Fprintf(tw, "  %s:\t%s\n", kv.Key, text)
	}
	if d.AssignedProjectID != nil {
		target := fmt.Sprintf("project %d", *d.AssignedProjectID)
		if d.AssignedTaskID != nil {
			target += fmt.Sprintf(", task %d", *d.AssignedTaskID)
		}
		if d.MatchedRuleID != nil {
			target += fmt.Sprintf(" (rule %d)", *d.MatchedRuleID)
		}
		fmt.Fprintf(tw, "Target:\t%s\n", target)
	}
	if s := d.Submission; s != nil {
		fmt.Fprintf(tw, "Submission:\t%s after %d attempt(s) at %s\n",
			s.Status, s.AttemptCount, s.SubmittedAt.UTC().Format("2006-01-02 15:04:05"))
		if s.ConfirmationID != nil {
			fmt.Fprintf(tw, "Confirmation:\t%s\n", *s.ConfirmationID)
		}
		if s.ErrorMessage != nil {
			fmt.Fprintf(tw, "Last error:\t%s\n", *s.ErrorMessage)
		}
	}
	return tw.Flush()
}

func newEntriesShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show one entry with its submission history",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				id, err := parseID("entry", args[0])
				if err != nil {
					return err
				}
				e, err := a.store.GetEntry(ctx, id)
				if err != nil {
					return err
				}
				detail := entryDetail{Entry: e}
				sub, ok, err := a.store.GetSubmission(ctx, id)
				if err != nil {
					return err
				}
				if ok {
					detail.Submission = &sub
				}
				return f.Success(detail)
			})
		},
	}
}

// statusCounts renders entry counts per status in lifecycle order.
type statusCounts map[model.Status]int

func (c statusCounts) RenderText(w io.Writer) error {
	tw := newTable(w)
	total := 0
	for _, st := range model.AllStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", st, c[st])
		total += c[st]
	}
	fmt.Fprintf(tw, "total\t%d\n", total)
	return tw.Flush()
}

func newEntriesSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "summary",
		Short:         "Count entries per status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				counts, err := a.store.CountByStatus(ctx)
				if err != nil {
					return err
				}
				out := statusCounts{}
				for _, st := range model.AllStatuses {
					out[st] = counts[st]
				}
				return f.Success(out)
			})
		},
	}
}

func newEntriesIgnoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ignore <id>...",
		Short: "Mark entries as never to be booked",
		Long: `Mark pending or failed entries as ignored. Ignored entries are never
submitted and cannot be changed afterwards.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				ids := make([]int64, len(args))
				for i, arg := range args {
					id, err := parseID("entry", arg)
					if err != nil {
						return err
					}
					ids[i] = id
				}
				for _, id := range ids {
					if err := a.store.IgnoreEntry(ctx, id); err != nil {
						return err
					}
					f.VerboseLog("Ignored entry %d", id)
				}
				return f.Success(message{
					Text: fmt.Sprintf("Ignored %d entries.", len(ids)),
					Data: map[string]any{"ignored": ids},
				})
			})
		},
	}
}

// EntryMapOptions holds flags for the entries map command.
type EntryMapOptions struct {
	*RootOptions
	Project string
	Task    string
}

func newEntriesMapCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntryMapOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "map <id>",
		Short: "Assign a project and task by hand",
		Long: `Assign a project and task to a pending or failed entry. Project and
task are external ids of the time-registration system.

Example:
  timebridge entries map 42 --project 100 --task 9001`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				id, err := parseID("entry", args[0])
				if err != nil {
					return err
				}
				projectID, taskID, err := resolveTarget(ctx, a.store, opts.Project, opts.Task)
				if err != nil {
					return err
				}
				if err := a.store.MapEntry(ctx, id, projectID, taskID); err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Mapped entry %d to project %s.", id, describeTarget(opts.Project, opts.Task)),
					Data: map[string]any{"entry_id": id, "project_id": projectID, "task_id": taskID},
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "project external id (required)")
	cmd.Flags().StringVar(&opts.Task, "task", "", "task external id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func describeTarget(project, task string) string {
	if task == "" {
		return project
	}
	return project + " task " + task
}
