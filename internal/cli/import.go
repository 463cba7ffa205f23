package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/ingest"
	"github.com/roach88/timebridge/internal/model"
)

// importReport is the output of every import subcommand.
type importReport struct {
	Results []ingest.Result `json:"results"`
}

func (r importReport) RenderText(w io.Writer) error {
	if len(r.Results) == 0 {
		fmt.Fprintln(w, "No enabled worklog sources.")
		return nil
	}
	for _, res := range r.Results {
		fmt.Fprintf(w, "Source %d: %d read, %d imported, %d skipped, %d mapped\n",
			res.SourceID, res.Total, res.Imported, res.Skipped, res.Mapped)
		for _, msg := range res.Errors {
			fmt.Fprintf(w, "  %s\n", msg)
		}
	}
	return nil
}

// ImportOptions holds flags for the import worklogs command.
type ImportOptions struct {
	*RootOptions
	From string
	To   string
}

// NewImportCommand creates the import command group.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import time records",
		Long: `Import time records into the database as pending entries.

Records already imported from the same source are skipped. Every import is
followed by a classification pass over all pending entries.`,
	}

	cmd.AddCommand(newImportFileCommand(rootOpts))
	cmd.AddCommand(newImportWorklogsCommand(rootOpts))
	cmd.AddCommand(newImportYesterdayCommand(rootOpts))
	return cmd
}

func newImportFileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "file <source> <path>",
		Short: "Import a CSV or XLSX upload",
		Long: `Import a CSV or XLSX file into an upload source.

The source is given by id or name. Rows that cannot be read are reported
with their row number and do not stop the import.

Example:
  timebridge import file uploads ./march.csv`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportFile(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runImportFile(opts *RootOptions, sourceRef, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := openApp(opts)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	src, err := resolveSource(ctx, a.store, sourceRef)
	if err != nil {
		return f.Fail(err)
	}

	file, err := os.Open(path)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to open upload", err))
	}
	defer file.Close()

	importer, err := a.importer()
	if err != nil {
		return f.Fail(err)
	}

	f.VerboseLog("Importing %s into source %d (%s)", path, src.ID, src.Name)
	res, err := importer.ImportFile(ctx, src.ID, filepath.Base(path), file)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(importReport{Results: []ingest.Result{res}})
}

func newImportWorklogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worklogs <source>",
		Short: "Fetch worklogs from a worklog API source",
		Long: `Fetch worklogs for a date range from a worklog API source.

Dates are YYYY-MM-DD and inclusive. Both default to yesterday (UTC).

Example:
  timebridge import worklogs tempo --from 2024-03-01 --to 2024-03-31`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportWorklogs(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first work date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last work date (YYYY-MM-DD)")
	return cmd
}

func runImportWorklogs(opts *ImportOptions, sourceRef string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	from, to, err := dateRange(opts.From, opts.To, time.Now())
	if err != nil {
		return f.Fail(err)
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	src, err := resolveSource(ctx, a.store, sourceRef)
	if err != nil {
		return f.Fail(err)
	}
	importer, err := a.importer()
	if err != nil {
		return f.Fail(err)
	}

	f.VerboseLog("Fetching worklogs %s..%s from source %d (%s)", from, to, src.ID, src.Name)
	res, err := importer.ImportWorklogs(ctx, src.ID, from, to)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(importReport{Results: []ingest.Result{res}})
}

// dateRange parses --from/--to. Missing bounds default to the UTC day
// before now; a lone --from runs to the same day.
func dateRange(fromArg, toArg string, now time.Time) (model.Date, model.Date, error) {
	yesterday := model.DateOf(now.UTC()).AddDays(-1)
	from, to := yesterday, yesterday

	var err error
	if fromArg != "" {
		if from, err = model.ParseDate(fromArg); err != nil {
			return from, to, &model.ValidationError{Field: "from", Message: err.Error()}
		}
		to = from
	}
	if toArg != "" {
		if to, err = model.ParseDate(toArg); err != nil {
			return from, to, &model.ValidationError{Field: "to", Message: err.Error()}
		}
	}
	if to.Before(from) {
		return from, to, &model.ValidationError{Field: "to", Message: fmt.Sprintf("%s is before %s", to, from)}
	}
	return from, to, nil
}

func newImportYesterdayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "yesterday",
		Short: "Import yesterday's worklogs from every enabled worklog source",
		Long: `Import the previous UTC day from every enabled worklog API source.

A failing source is reported and does not stop the others.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportYesterday(rootOpts, cmd)
		},
	}
}

func runImportYesterday(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := openApp(opts)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	importer, err := a.importer()
	if err != nil {
		return f.Fail(err)
	}
	results, err := importer.ImportYesterday(ctx)
	if err != nil {
		return f.Fail(err)
	}
	if results == nil {
		results = []ingest.Result{}
	}
	return f.Success(importReport{Results: results})
}
