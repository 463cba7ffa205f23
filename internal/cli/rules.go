package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/engine"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage mapping rules",
		Long: `Manage the ordered rules that map entries to projects and tasks.

Rules are evaluated in ascending priority; the first enabled rule that
matches an entry decides its target. Rules are given by id or name.`,
	}

	cmd.AddCommand(newRulesListCommand(rootOpts))
	cmd.AddCommand(newRulesAddCommand(rootOpts))
	cmd.AddCommand(newRulesToggleCommand(rootOpts, "enable", true))
	cmd.AddCommand(newRulesToggleCommand(rootOpts, "disable", false))
	cmd.AddCommand(newRulesMoveCommand(rootOpts))
	cmd.AddCommand(newRulesDeleteCommand(rootOpts))
	cmd.AddCommand(newRulesImportCommand(rootOpts))
	return cmd
}

// withApp opens the database and runs fn with a signal-aware context.
// Errors from fn are reported through the formatter.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app, f *OutputFormatter) error) error {
	f := opts.formatter(cmd)

	a, err := openApp(opts)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := fn(ctx, a, f); err != nil {
		if IsReported(err) {
			return err
		}
		return f.Fail(err)
	}
	return nil
}

func newRulesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List rules in evaluation order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				rules, err := a.store.ListRules(ctx)
				if err != nil {
					return err
				}
				rows, err := describeRules(ctx, a.store, rules)
				if err != nil {
					return err
				}
				return f.Success(rows)
			})
		},
	}
}

// RuleAddOptions holds flags for the rules add command.
type RuleAddOptions struct {
	*RootOptions
	Spec     RuleSpec
	Priority int
	Disabled bool
}

func newRulesAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RuleAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a rule",
		Long: `Add a rule. Project and task are the external ids of the
time-registration system and must have been synced.

Fields: useremail, projectkey, issuekey, description, activity or
metadata.<key>. Operators: equals, contains, starts_with, regex.
Without --priority the rule is evaluated after every existing rule.

Example:
  timebridge rules add meetings --field description --operator regex \
    --value '^(standup|retro)' --project 100 --task 9003`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Spec.Name = args[0]
			if cmd.Flags().Changed("priority") {
				opts.Spec.Priority = &opts.Priority
			}
			enabled := !opts.Disabled
			opts.Spec.Enabled = &enabled

			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				if err := checkRuleSpec(opts.Spec); err != nil {
					return err
				}
				rule, err := buildRule(ctx, a.store, opts.Spec)
				if err != nil {
					return err
				}
				created, err := a.store.CreateRule(ctx, rule)
				if err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Created rule %d %q at priority %d.", created.ID, created.Name, created.Priority),
					Data: created,
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Spec.Field, "field", "", "entry field to match (required)")
	cmd.Flags().StringVar(&opts.Spec.Operator, "operator", "", "equals|contains|starts_with|regex (required)")
	cmd.Flags().StringVar(&opts.Spec.Value, "value", "", "value to compare against")
	cmd.Flags().StringVar(&opts.Spec.Project, "project", "", "target project external id (required)")
	cmd.Flags().StringVar(&opts.Spec.Task, "task", "", "target task external id")
	cmd.Flags().StringVar(&opts.Spec.Scope, "scope", "", "only match entries of this source kind (worklog_api|upload)")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "evaluation priority, lower first")
	cmd.Flags().BoolVar(&opts.Disabled, "disabled", false, "create the rule disabled")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("operator")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// buildRule resolves a rule spec against the local taxonomy and checks
// that it can ever match. A spec without a priority sorts last.
func buildRule(ctx context.Context, st *store.Store, spec RuleSpec) (model.Rule, error) {
	op, err := model.ParseOperator(spec.Operator)
	if err != nil {
		return model.Rule{}, &LoadError{Code: ErrCodeRuleOperator, Message: err.Error()}
	}

	projectID, taskID, err := resolveTarget(ctx, st, spec.Project, spec.Task)
	if err != nil {
		return model.Rule{}, &LoadError{Code: ErrCodeRuleTarget, Message: fmt.Sprintf("rule %q: %v", spec.Name, err)}
	}

	rule := model.Rule{
		Name:       spec.Name,
		MatchField: spec.Field,
		Operator:   op,
		MatchValue: spec.Value,
		Enabled:    spec.Enabled == nil || *spec.Enabled,
		ProjectID:  projectID,
		TaskID:     taskID,
	}
	if spec.Scope != "" {
		kind, err := model.ParseSourceKind(spec.Scope)
		if err != nil {
			return model.Rule{}, &LoadError{Code: ErrCodeRuleScope, Message: err.Error()}
		}
		rule.SourceScope = &kind
	}
	if spec.Priority != nil {
		rule.Priority = *spec.Priority
	} else {
		next, err := st.NextRulePriority(ctx)
		if err != nil {
			return model.Rule{}, err
		}
		rule.Priority = next
	}

	if err := engine.ValidateRule(&rule); err != nil {
		return model.Rule{}, fmt.Errorf("rule %q: %w", spec.Name, err)
	}
	return rule, nil
}

func newRulesToggleCommand(rootOpts *RootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:           verb + " <rule>",
		Short:         strings.ToUpper(verb[:1]) + verb[1:] + " a rule",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				rule, err := resolveRule(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				if err := a.store.SetRuleEnabled(ctx, rule.ID, enabled); err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Rule %d %q %sd.", rule.ID, rule.Name, verb),
					Data: map[string]any{"rule_id": rule.ID, "enabled": enabled},
				})
			})
		},
	}
}

func newRulesMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <rule> <up|down>",
		Short: "Move a rule one place earlier or later in evaluation order",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 1 {
				return []string{"up", "down"}, cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				var direction int
				switch strings.ToLower(args[1]) {
				case "up":
					direction = -1
				case "down":
					direction = 1
				default:
					return &model.ValidationError{Field: "direction", Message: fmt.Sprintf("%q must be up or down", args[1])}
				}

				rule, err := resolveRule(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				if err := a.store.MoveRule(ctx, rule.ID, direction); err != nil {
					return err
				}
				rules, err := a.store.ListRules(ctx)
				if err != nil {
					return err
				}
				rows, err := describeRules(ctx, a.store, rules)
				if err != nil {
					return err
				}
				return f.Success(rows)
			})
		},
	}
}

func newRulesDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <rule>",
		Short:         "Delete a rule",
		Long:          `Delete a rule. Entries it mapped keep their project and task.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				rule, err := resolveRule(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				if err := a.store.DeleteRule(ctx, rule.ID); err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Deleted rule %d %q.", rule.ID, rule.Name),
					Data: map[string]any{"rule_id": rule.ID},
				})
			})
		},
	}
}

// ruleImport is the output of rules import.
type ruleImport struct {
	File    string   `json:"file"`
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

func (r ruleImport) RenderText(w io.Writer) error {
	verb := ""
	if r.DryRun {
		verb = " (dry run)"
	}
	fmt.Fprintf(w, "%s: %d created, %d updated%s\n", r.File, len(r.Created), len(r.Updated), verb)
	for _, name := range r.Created {
		fmt.Fprintf(w, "  + %s\n", name)
	}
	for _, name := range r.Updated {
		fmt.Fprintf(w, "  ~ %s\n", name)
	}
	return nil
}

// RuleImportOptions holds flags for the rules import command.
type RuleImportOptions struct {
	*RootOptions
	DryRun bool
}

func newRulesImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RuleImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file.cue|file.yaml>",
		Short: "Create or update rules from a rule file",
		Long: `Create or update rules from a CUE or YAML rule file.

Rules are matched to existing ones by name: a known name is updated in
place, a new name is created. Every rule is checked before any is written,
so a file with errors changes nothing.

CUE:
  rule: "acme-issues": {
    field:    "issueKey"
    operator: "starts_with"
    value:    "ACME-"
    project:  "100"
    task:     "9001"
    priority: 5
  }

YAML:
  rules:
    - name: acme-issues
      field: issueKey
      operator: starts_with
      value: ACME-
      project: "100"
      task: "9001"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "check the file without writing rules")
	return cmd
}

func runRulesImport(opts *RuleImportOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	loaded, loadErrs := LoadRules(path, LoadModeCollectAll)
	if len(loadErrs) > 0 {
		return reportLoadErrors(f, loadErrs)
	}
	f.VerboseLog("Read %d rule(s) from %s (%s)", len(loaded.Rules), path, loaded.Format)

	return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
		existing, err := a.store.ListRules(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]model.Rule, len(existing))
		for _, r := range existing {
			byName[r.Name] = r
		}

		// Resolve everything first so a bad rule writes nothing.
		var (
			rules []model.Rule
			errs  []error
		)
		for _, spec := range loaded.Rules {
			if spec.Priority == nil {
				if old, ok := byName[spec.Name]; ok {
					p := old.Priority
					spec.Priority = &p
				}
			}
			rule, err := buildRule(ctx, a.store, spec)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules = append(rules, rule)
		}
		if len(errs) > 0 {
			return reportLoadErrors(f, errs)
		}

		report := ruleImport{File: path, Created: []string{}, Updated: []string{}, DryRun: opts.DryRun}
		for _, rule := range rules {
			old, exists := byName[rule.Name]
			if exists {
				report.Updated = append(report.Updated, rule.Name)
			} else {
				report.Created = append(report.Created, rule.Name)
			}
			if opts.DryRun {
				continue
			}

			if exists {
				rule.ID = old.ID
				err = a.store.UpdateRule(ctx, rule)
			} else {
				_, err = a.store.CreateRule(ctx, rule)
			}
			if err != nil {
				return err
			}
		}
		return f.Success(report)
	})
}

// reportLoadErrors prints every rule file error and returns a command error.
func reportLoadErrors(f *OutputFormatter, errs []error) error {
	details := make([]string, len(errs))
	for i, err := range errs {
		details[i] = err.Error()
	}

	code, _ := errorCode(errs[0])
	msg := errs[0].Error()
	if len(errs) > 1 {
		msg = fmt.Sprintf("%d errors in rule file", len(errs))
	}
	if err := f.Error(code, msg, details); err != nil {
		return err
	}
	if f.Format != "json" && len(errs) > 1 {
		for _, d := range details {
			fmt.Fprintf(f.Writer, "  %s\n", d)
		}
	}

	exitErr := NewExitError(ExitCommandError, msg)
	exitErr.Reported = true
	return exitErr
}
