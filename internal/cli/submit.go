package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/submit"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Entry string
}

// submitSummary is the output of a batch submission.
type submitSummary submit.Summary

func (s submitSummary) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Submitted %d of %d entries: %d failed, %d skipped.\n",
		s.Succeeded, s.Attempted, s.Failed, s.Skipped)
	return err
}

// entrySubmission is the output of a single-entry submission.
type entrySubmission struct {
	EntryID      int64         `json:"entry_id"`
	Result       submit.Result `json:"result"`
	Confirmation string        `json:"confirmation,omitempty"`
	Attempts     int           `json:"attempts,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (s entrySubmission) RenderText(w io.Writer) error {
	switch s.Result {
	case submit.ResultSubmitted:
		fmt.Fprintf(w, "Entry %d submitted (confirmation %s).\n", s.EntryID, s.Confirmation)
	case submit.ResultFailed:
		fmt.Fprintf(w, "Entry %d failed after %d attempt(s): %s\n", s.EntryID, s.Attempts, s.Error)
	default:
		fmt.Fprintf(w, "Entry %d skipped: no bookable task.\n", s.EntryID)
	}
	return nil
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Book mapped entries in the time-registration system",
		Long: `Book every mapped entry, and retry every failed one, that has a task.

Entries are sent one at a time; one failure does not stop the others.
--entry ID submits (or retries) a single entry.

Exit codes:
  0 - All attempted bookings succeeded
  1 - One or more bookings failed
  2 - Command error (missing credentials, unknown entry, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entry, "entry", "", "submit only the entry with this id")
	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var entryID int64
	if opts.Entry != "" {
		id, err := parseID("entry", opts.Entry)
		if err != nil {
			return f.Fail(err)
		}
		entryID = id
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	submitter, err := a.submitter()
	if err != nil {
		return f.Fail(err)
	}

	if entryID == 0 {
		summary, err := submitter.SubmitAllPending(ctx)
		if err != nil {
			return f.Fail(err)
		}
		if err := f.Success(submitSummary(summary)); err != nil {
			return err
		}
		if summary.Failed > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d booking(s) failed", summary.Failed))
		}
		return nil
	}

	result, err := submitter.Submit(ctx, entryID)
	if err != nil {
		return f.Fail(err)
	}
	out := entrySubmission{EntryID: entryID, Result: result}
	if sub, ok, err := a.store.GetSubmission(ctx, entryID); err != nil {
		return f.Fail(err)
	} else if ok {
		out.Confirmation = model.Deref(sub.ConfirmationID)
		out.Attempts = sub.AttemptCount
		out.Error = model.Deref(sub.ErrorMessage)
	}
	if err := f.Success(out); err != nil {
		return err
	}
	if result == submit.ResultFailed {
		return NewExitError(ExitFailure, fmt.Sprintf("entry %d: booking failed", entryID))
	}
	return nil
}
