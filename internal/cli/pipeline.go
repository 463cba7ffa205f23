package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/ingest"
	"github.com/roach88/timebridge/internal/submit"
)

// pipelineReport is the output of one pipeline run.
type pipelineReport struct {
	Imports    []ingest.Result `json:"imports"`
	Mapped     int             `json:"mapped"`
	Submission submit.Summary  `json:"submission"`
}

func (r pipelineReport) RenderText(w io.Writer) error {
	if err := (importReport{Results: r.Imports}).RenderText(w); err != nil {
		return err
	}
	fmt.Fprintf(w, "Mapped %d entries.\n", r.Mapped)
	return submitSummary(r.Submission).RenderText(w)
}

// NewPipelineCommand creates the pipeline command.
func NewPipelineCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Import yesterday, classify and submit in one run",
		Long: `Import yesterday's worklogs from every enabled worklog source, classify
all pending entries and submit everything mapped.

This is a single run meant to be triggered by cron or a CI schedule.

Exit codes:
  0 - All attempted bookings succeeded
  1 - One or more bookings failed
  2 - Command error (missing credentials, database not reachable, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				// Build the booking client first so a missing key fails before
				// anything is imported.
				submitter, err := a.submitter()
				if err != nil {
					return err
				}
				importer, err := a.importer()
				if err != nil {
					return err
				}

				report, err := runPipeline(ctx, importer, a.classifier(), submitter)
				if err != nil {
					return err
				}
				if err := f.Success(report); err != nil {
					return err
				}
				if report.Submission.Failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d booking(s) failed", report.Submission.Failed))
				}
				return nil
			})
		},
	}
}

type (
	yesterdayImporter interface {
		ImportYesterday(ctx context.Context) ([]ingest.Result, error)
	}
	pendingSubmitter interface {
		SubmitAllPending(ctx context.Context) (submit.Summary, error)
	}
)

// runPipeline runs import, classification and submission in order. A
// stage error stops the run; per-record failures do not.
func runPipeline(ctx context.Context, imp yesterdayImporter, cls ingest.Classifier, sub pendingSubmitter) (pipelineReport, error) {
	report := pipelineReport{Imports: []ingest.Result{}}

	results, err := imp.ImportYesterday(ctx)
	if err != nil {
		return report, fmt.Errorf("import: %w", err)
	}
	report.Imports = append(report.Imports, results...)
	for _, res := range results {
		report.Mapped += res.Mapped
	}

	// Imports classify on their own; this pass picks up entries left
	// pending by earlier runs or rules added since.
	mapped, err := cls.ApplyAllPending(ctx)
	if err != nil {
		return report, fmt.Errorf("classify: %w", err)
	}
	report.Mapped += mapped

	summary, err := sub.SubmitAllPending(ctx)
	if err != nil {
		return report, fmt.Errorf("submit: %w", err)
	}
	report.Submission = summary

	slog.Info("pipeline finished",
		"sources", len(report.Imports),
		"mapped", report.Mapped,
		"submitted", summary.Succeeded,
		"failed", summary.Failed)
	return report, nil
}
