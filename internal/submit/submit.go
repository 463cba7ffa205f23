// Package submit books mapped entries in the time-registration system and
// keeps the per-entry submission audit.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	connhttp "github.com/roach88/timebridge/internal/connector/http"
	"github.com/roach88/timebridge/internal/connector/timelog"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
	"github.com/roach88/timebridge/internal/telemetry"
)

// ErrNotSubmittable is returned for an entry that is not Mapped or Failed.
var ErrNotSubmittable = errors.New("entry is not submittable")

// Booker creates bookings in the target system.
type Booker interface {
	CreateTimeRegistration(ctx context.Context, reg timelog.TimeRegistration) error
}

// Result is what one submission call did.
type Result string

const (
	ResultSubmitted Result = "submitted"
	ResultFailed    Result = "failed"

	// ResultSkipped means nothing was sent and nothing was recorded: the
	// entry has no task or its task is unknown locally.
	ResultSkipped Result = "skipped"
)

// Summary counts the outcome of a SubmitAllPending pass.
type Summary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Coordinator submits entries one at a time.
//
// At most one SubmitAllPending pass may run at a time; entries are sent
// sequentially so each booking's outcome is recorded before the next starts.
type Coordinator struct {
	store   *store.Store
	booker  Booker
	ids     IDGenerator
	now     func() time.Time
	metrics *telemetry.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator sets the booking id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = g
	}
}

// WithClock sets the time stamped on submission records.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New returns a Coordinator that books through b.
func New(st *store.Store, b Booker, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   st,
		booker:  b,
		ids:     UUIDv7Generator{},
		now:     time.Now,
		metrics: telemetry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit loads an entry and submits it. It is the single-entry retry path.
func (c *Coordinator) Submit(ctx context.Context, entryID int64) (Result, error) {
	e, err := c.store.GetEntry(ctx, entryID)
	if err != nil {
		return "", err
	}
	return c.SubmitEntry(ctx, e)
}

// SubmitEntry books e and records the outcome.
//
// A rejected or failed booking is not an error: it is recorded as a Failed
// attempt and ResultFailed is returned. Errors are reserved for entries in
// the wrong status and for storage failures.
func (c *Coordinator) SubmitEntry(ctx context.Context, e model.Entry) (Result, error) {
	if e.Status != model.StatusMapped && e.Status != model.StatusFailed {
		return "", fmt.Errorf("entry %d (%s): %w", e.ID, e.Status, ErrNotSubmittable)
	}
	if e.AssignedTaskID == nil {
		slog.Warn("entry has no assigned task, not submitting", "entry_id", e.ID)
		return ResultSkipped, nil
	}

	task, err := c.store.GetTask(ctx, *e.AssignedTaskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		slog.Error("assigned task not found, not submitting", "entry_id", e.ID, "task_id", *e.AssignedTaskID)
		return ResultSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("submit entry %d: %w", e.ID, err)
	}

	if !task.IsActive {
		return c.recordFailure(ctx, e, fmt.Sprintf("task %s is inactive", task.ExternalID), 0)
	}
	targetTaskID, err := strconv.Atoi(task.ExternalID)
	if err != nil {
		return c.recordFailure(ctx, e, fmt.Sprintf("task %s has a non-numeric external id", task.ExternalID), 0)
	}

	reg := timelog.TimeRegistration{
		ID:        c.ids.NewID(),
		TaskID:    targetTaskID,
		GroupType: timelog.GroupTypeProject,
		Date:      e.WorkDate.String(),
		Hours:     e.Hours(),
		Comment:   e.Description,
		Billable:  false,
	}
	mapping, ok, err := c.store.EmployeeMappingFor(ctx, e.UserIdentifier)
	if err != nil {
		return "", fmt.Errorf("submit entry %d: %w", e.ID, err)
	}
	if ok {
		reg.UserID = &mapping.TargetUserID
	}

	slog.Debug("submitting entry",
		"entry_id", e.ID,
		"task", task.ExternalID,
		"date", reg.Date,
		"hours", reg.Hours,
		"request_id", reg.ID.String())

	start := time.Now()
	if err := c.booker.CreateTimeRegistration(ctx, reg); err != nil {
		return c.recordFailure(ctx, e, failureMessage(err), time.Since(start))
	}
	elapsed := time.Since(start)

	if _, err := c.store.RecordOutcome(ctx, model.SucceededOutcome(e.ID, reg.ID.String(), c.now())); err != nil {
		return "", fmt.Errorf("submit entry %d: booked as %s but not recorded: %w", e.ID, reg.ID, err)
	}
	c.metrics.RecordSubmission(ctx, string(ResultSubmitted), elapsed)
	slog.Info("entry submitted", "entry_id", e.ID, "confirmation_id", reg.ID.String())
	return ResultSubmitted, nil
}

func (c *Coordinator) recordFailure(ctx context.Context, e model.Entry, msg string, elapsed time.Duration) (Result, error) {
	sub, err := c.store.RecordOutcome(ctx, model.FailedOutcome(e.ID, msg, c.now()))
	if err != nil {
		return "", fmt.Errorf("submit entry %d: %w", e.ID, err)
	}
	c.metrics.RecordSubmission(ctx, string(ResultFailed), elapsed)
	slog.Warn("submission failed", "entry_id", e.ID, "attempt", sub.AttemptCount, "error", msg)
	return ResultFailed, nil
}

// failureMessage renders a booking error for the audit record: rejections
// as "<status>: <body>", anything else as the error text.
func failureMessage(err error) string {
	if he, ok := connhttp.AsHTTPError(err); ok {
		return fmt.Sprintf("%d: %s", he.StatusCode, he.Message)
	}
	return err.Error()
}

// SubmitAllPending submits every Mapped or Failed entry that has a task.
// A failure on one entry never stops the others; only cancellation of ctx
// ends the pass early.
func (c *Coordinator) SubmitAllPending(ctx context.Context) (Summary, error) {
	entries, err := c.store.SubmittableEntries(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("submit all pending: %w", err)
	}
	slog.Info("submitting entries", "count", len(entries))

	var sum Summary
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Attempted++
		res, err := c.SubmitEntry(ctx, e)
		if err != nil {
			slog.Error("submission error", "entry_id", e.ID, "error", err)
			sum.Failed++
			continue
		}
		switch res {
		case ResultSubmitted:
			sum.Succeeded++
		case ResultFailed:
			sum.Failed++
		default:
			sum.Skipped++
		}
	}

	slog.Info("submission pass complete",
		"attempted", sum.Attempted,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"skipped", sum.Skipped)
	return sum, nil
}
