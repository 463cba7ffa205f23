package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/model"
)

// NewSourcesCommand creates the sources command group.
func NewSourcesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage time record sources",
	}

	cmd.AddCommand(newSourcesListCommand(rootOpts))
	cmd.AddCommand(newSourcesAddCommand(rootOpts))
	cmd.AddCommand(newSourcesToggleCommand(rootOpts, "enable", true))
	cmd.AddCommand(newSourcesToggleCommand(rootOpts, "disable", false))
	return cmd
}

func newSourcesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List sources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				sources, err := a.store.ListSources(ctx)
				if err != nil {
					return err
				}
				if sources == nil {
					sources = []model.Source{}
				}
				return f.Success(sourceList(sources))
			})
		},
	}
}

// SourceAddOptions holds flags for the sources add command.
type SourceAddOptions struct {
	*RootOptions
	Kind     string
	BaseURL  string
	TokenEnv string
	Schedule string
	Disabled bool
}

func newSourcesAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SourceAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a source",
		Long: `Add a source of time records.

Worklog API sources need a token, read from the environment variable named
by --token-env so that it never appears in shell history. Without
--base-url the configured tempo.base_url is used.

Examples:
  timebridge sources add tempo --kind worklog_api --token-env TEMPO_TOKEN
  timebridge sources add uploads --kind upload`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				src, err := buildSource(args[0], opts, os.LookupEnv)
				if err != nil {
					return err
				}
				created, err := a.store.CreateSource(ctx, src)
				if err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Created %s source %d %q.", created.Kind, created.ID, created.Name),
					Data: created,
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "worklog_api|upload (required)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "worklog API base URL")
	cmd.Flags().StringVar(&opts.TokenEnv, "token-env", "", "environment variable holding the API token")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "poll schedule note for external schedulers")
	cmd.Flags().BoolVar(&opts.Disabled, "disabled", false, "create the source disabled")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

// buildSource turns add flags into a source. Upload sources take no token.
func buildSource(name string, opts *SourceAddOptions, lookupEnv func(string) (string, bool)) (model.Source, error) {
	kind, err := model.ParseSourceKind(opts.Kind)
	if err != nil {
		return model.Source{}, &model.ValidationError{Field: "kind", Message: err.Error()}
	}
	src := model.Source{
		Name:         name,
		Kind:         kind,
		BaseURL:      opts.BaseURL,
		PollSchedule: opts.Schedule,
		Enabled:      !opts.Disabled,
	}

	if opts.TokenEnv != "" {
		if kind != model.SourceWorklogAPI {
			return model.Source{}, &model.ValidationError{Field: "token-env", Message: "only worklog_api sources take a token"}
		}
		token, ok := lookupEnv(opts.TokenEnv)
		if !ok || token == "" {
			return model.Source{}, &model.ValidationError{Field: "token-env", Message: fmt.Sprintf("%s is not set", opts.TokenEnv)}
		}
		src.APIToken = token
	}
	return src, nil
}

func newSourcesToggleCommand(rootOpts *RootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:           verb + " <source>",
		Short:         strings.ToUpper(verb[:1]) + verb[1:] + " a source for imports of all sources",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				src, err := resolveSource(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				if err := a.store.SetSourceEnabled(ctx, src.ID, enabled); err != nil {
					return err
				}
				return f.Success(message{
					Text: fmt.Sprintf("Source %d %q %sd.", src.ID, src.Name, verb),
					Data: map[string]any{"source_id": src.ID, "enabled": enabled},
				})
			})
		},
	}
}
