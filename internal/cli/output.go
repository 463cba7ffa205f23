package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roach88/timebridge/internal/config"
	connhttp "github.com/roach88/timebridge/internal/connector/http"
	"github.com/roach88/timebridge/internal/engine"
	"github.com/roach88/timebridge/internal/ingest"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
	"github.com/roach88/timebridge/internal/submit"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failure (failed bookings, failed scenarios, rejected transitions)
	ExitCommandError = 2 // Command error (bad arguments, missing config, unknown ids)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error was written through an OutputFormatter.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already shown to the user.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// TextRenderer is implemented by payloads with a human-readable form.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(TextRenderer); ok {
		return r.RenderText(f.Writer)
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err with the code matching its kind and returns it as an
// ExitError that main will not print again.
func (f *OutputFormatter) Fail(err error) error {
	code, exit := errorCode(err)
	if writeErr := f.Error(code, err.Error(), nil); writeErr != nil {
		return writeErr
	}
	exitErr := WrapExitError(exit, code, err)
	exitErr.Reported = true
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// newTable returns a tabwriter for aligned text listings. Callers Flush.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// errorCode maps an error to its CLI error code and exit code.
func errorCode(err error) (string, int) {
	var (
		exitErr    *ExitError
		loadErr    *LoadError
		missing    *config.MissingCredentialError
		cfgErr     *config.ValidationError
		transition *model.TransitionError
		invalid    *model.ValidationError
		httpErr    *connhttp.HTTPError
		ruleErr    *engine.RuleError
	)
	switch {
	case errors.As(err, &loadErr):
		return loadErr.Code, ExitCommandError
	case errors.As(err, &missing), errors.As(err, &cfgErr), errors.Is(err, ingest.ErrMissingCredential):
		return ErrCodeConfig, ExitCommandError
	case errors.Is(err, store.ErrEntryNotFound), errors.Is(err, store.ErrRuleNotFound),
		errors.Is(err, store.ErrSourceNotFound), errors.Is(err, store.ErrProjectNotFound),
		errors.Is(err, store.ErrTaskNotFound), errors.Is(err, store.ErrEmployeeNotFound):
		return ErrCodeNotFound, ExitCommandError
	case errors.As(err, &transition), errors.Is(err, submit.ErrNotSubmittable):
		return ErrCodeInvalidState, ExitFailure
	case errors.Is(err, ingest.ErrSourceKind):
		return ErrCodeSourceKind, ExitCommandError
	case errors.Is(err, ingest.ErrLegacySpreadsheet):
		return ErrCodeUnsupportedFile, ExitCommandError
	case errors.As(err, &ruleErr):
		return MapRuleErrorCode(ruleErr.Code), ExitCommandError
	case errors.As(err, &invalid):
		return ErrCodeInvalidInput, ExitCommandError
	case errors.As(err, &httpErr):
		return ErrCodeRemote, ExitFailure
	case errors.As(err, &exitErr):
		return ErrCodeGeneric, exitErr.Code
	default:
		return ErrCodeGeneric, ExitFailure
	}
}
