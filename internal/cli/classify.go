package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ClassifyOptions holds flags for the classify command.
type ClassifyOptions struct {
	*RootOptions
	Preview string
	Apply   string
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Map pending entries with the enabled rules",
		Long: `Evaluate the enabled rules against every pending entry and mark the
entries whose first matching rule names a target as mapped.

--preview RULE lists the pending entries a single rule would match without
changing anything. --apply RULE maps them with that rule only, whether it is
enabled or not. Rules are given by id or name.

Examples:
  timebridge classify
  timebridge classify --preview meetings
  timebridge classify --apply 7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Preview, "preview", "", "list the pending entries RULE matches")
	cmd.Flags().StringVar(&opts.Apply, "apply", "", "map the pending entries RULE matches")
	cmd.MarkFlagsMutuallyExclusive("preview", "apply")
	return cmd
}

func runClassify(opts *ClassifyOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	svc := a.classifier()

	switch {
	case opts.Preview != "":
		rule, err := resolveRule(ctx, a.store, opts.Preview)
		if err != nil {
			return f.Fail(err)
		}
		entries, err := svc.PreviewRule(ctx, rule.ID)
		if err != nil {
			return f.Fail(err)
		}
		f.VerboseLog("Rule %d (%s) matches %d pending entries", rule.ID, rule.Name, len(entries))
		if entries == nil {
			entries = entryList{}
		}
		return f.Success(entryList(entries))

	case opts.Apply != "":
		rule, err := resolveRule(ctx, a.store, opts.Apply)
		if err != nil {
			return f.Fail(err)
		}
		mapped, err := svc.ApplyRule(ctx, rule.ID)
		if err != nil {
			return f.Fail(err)
		}
		return f.Success(message{
			Text: fmt.Sprintf("Rule %q mapped %d entries.", rule.Name, mapped),
			Data: map[string]any{"rule_id": rule.ID, "mapped": mapped},
		})

	default:
		mapped, err := svc.ApplyAllPending(ctx)
		if err != nil {
			return f.Fail(err)
		}
		return f.Success(message{
			Text: fmt.Sprintf("Mapped %d entries.", mapped),
			Data: map[string]any{"mapped": mapped},
		})
	}
}
