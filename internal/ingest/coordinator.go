package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/timebridge/internal/connector/tempo"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
	"github.com/roach88/timebridge/internal/telemetry"
)

var (
	// ErrMissingCredential is returned when a worklog source has no API token.
	ErrMissingCredential = errors.New("source has no API token configured")

	// ErrSourceKind is returned when an import does not fit the source kind,
	// such as a file upload into a worklog API source.
	ErrSourceKind = errors.New("operation does not match source kind")
)

// Result reports the counts of one import run.
type Result struct {
	SourceID int64    `json:"source_id"`
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
	Mapped   int      `json:"mapped"`
}

// Classifier maps pending entries after an import.
type Classifier interface {
	ApplyAllPending(ctx context.Context) (int, error)
}

// WorklogFetcher lists worklogs for a date range.
type WorklogFetcher interface {
	Worklogs(ctx context.Context, from, to model.Date) ([]tempo.Worklog, error)
}

// WorklogClientFunc builds a fetcher for a worklog source. The default
// builds a tempo.Client from the source's base URL and token.
type WorklogClientFunc func(src model.Source) (WorklogFetcher, error)

// Coordinator persists normalized batches and triggers classification.
type Coordinator struct {
	store      *store.Store
	classifier Classifier
	normalizer *WorklogNormalizer
	clients    WorklogClientFunc
	now        func() time.Time
	metrics    *telemetry.Metrics
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClassifier runs c after every import.
func WithClassifier(c Classifier) CoordinatorOption {
	return func(co *Coordinator) {
		co.classifier = c
	}
}

// WithWorklogNormalizer sets the normalizer used for worklog imports.
func WithWorklogNormalizer(n *WorklogNormalizer) CoordinatorOption {
	return func(co *Coordinator) {
		co.normalizer = n
	}
}

// WithWorklogClients overrides how worklog sources are contacted.
func WithWorklogClients(f WorklogClientFunc) CoordinatorOption {
	return func(co *Coordinator) {
		co.clients = f
	}
}

// WithClock sets the time source for imported-at and polled-at stamps.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(co *Coordinator) {
		co.now = now
	}
}

// NewCoordinator returns a Coordinator over st.
func NewCoordinator(st *store.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:      st,
		normalizer: NewWorklogNormalizer(),
		clients:    defaultWorklogClient,
		now:        time.Now,
		metrics:    telemetry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultWorklogClient(src model.Source) (WorklogFetcher, error) {
	return tempo.New(tempo.Config{BaseURL: src.BaseURL, Token: src.APIToken})
}

// ImportBatch persists the new candidates of batch as Pending entries.
//
// Candidates whose external id was already imported for the source, or
// repeats within the batch, are skipped. Re-running an unchanged batch
// imports nothing. After the insert the source's last-polled time is
// stamped and pending entries are classified.
func (c *Coordinator) ImportBatch(ctx context.Context, sourceID int64, batch Batch) (Result, error) {
	src, err := c.store.GetSource(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	return c.importBatch(ctx, src, batch, 0)
}

// importBatch does the work of ImportBatch. preSkipped counts candidates a
// caller already dropped as duplicates.
func (c *Coordinator) importBatch(ctx context.Context, src model.Source, batch Batch, preSkipped int) (Result, error) {
	result := Result{
		SourceID: src.ID,
		Total:    len(batch.Candidates) + preSkipped,
		Skipped:  preSkipped,
		Errors:   batch.Errors,
	}

	existing, err := c.store.ExternalIDs(ctx, src.ID)
	if err != nil {
		return Result{}, fmt.Errorf("import source %d: %w", src.ID, err)
	}

	fresh := make([]model.Entry, 0, len(batch.Candidates))
	for _, e := range batch.Candidates {
		if _, dup := existing[e.ExternalID]; dup {
			result.Skipped++
			continue
		}
		existing[e.ExternalID] = struct{}{}
		e.SourceID = src.ID
		e.SourceKind = src.Kind
		fresh = append(fresh, e)
	}

	inserted, conflicts, err := c.store.InsertEntries(ctx, fresh)
	if err != nil {
		return Result{}, fmt.Errorf("import source %d: %w", src.ID, err)
	}
	result.Imported = inserted
	result.Skipped += conflicts

	if err := c.store.TouchSourcePolled(ctx, src.ID, c.now()); err != nil {
		return Result{}, fmt.Errorf("import source %d: %w", src.ID, err)
	}

	c.metrics.RecordImport(ctx, string(src.Kind), result.Imported, result.Skipped, len(result.Errors))

	if c.classifier != nil {
		mapped, err := c.classifier.ApplyAllPending(ctx)
		if err != nil {
			return result, fmt.Errorf("classify after import: %w", err)
		}
		result.Mapped = mapped
	}

	slog.Info("import complete",
		"source_id", src.ID,
		"total", result.Total,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"mapped", result.Mapped)

	return result, nil
}

// ImportFile parses an uploaded file and imports it into an upload source.
// A file that cannot be parsed at all yields a Result with a single error
// and no error return.
func (c *Coordinator) ImportFile(ctx context.Context, sourceID int64, filename string, r io.Reader) (Result, error) {
	src, err := c.store.GetSource(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	if src.Kind != model.SourceUpload {
		return Result{}, fmt.Errorf("import file into source %d (%s): %w", src.ID, src.Kind, ErrSourceKind)
	}

	slog.Info("importing file", "source_id", src.ID, "file", filename)

	batch, err := ParseTabular(src.ID, filename, r, c.now())
	if err != nil {
		slog.Error("file parse failed", "source_id", src.ID, "file", filename, "error", err)
		return Result{SourceID: src.ID, Errors: []string{"File parse failed: " + err.Error()}}, nil
	}
	if len(batch.Candidates) == 0 && len(batch.Errors) > 0 {
		return Result{SourceID: src.ID, Errors: batch.Errors}, nil
	}
	return c.importBatch(ctx, src, batch, 0)
}

// ImportWorklogs fetches worklogs in [from, to] from a worklog source and
// imports them. Already-imported worklogs are dropped before enrichment so
// that known records cost no issue lookups.
func (c *Coordinator) ImportWorklogs(ctx context.Context, sourceID int64, from, to model.Date) (Result, error) {
	src, err := c.store.GetSource(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	if src.Kind != model.SourceWorklogAPI {
		return Result{}, fmt.Errorf("fetch worklogs for source %d (%s): %w", src.ID, src.Kind, ErrSourceKind)
	}
	if !src.HasToken() {
		return Result{}, fmt.Errorf("source %d %q: %w", src.ID, src.Name, ErrMissingCredential)
	}

	client, err := c.clients(src)
	if err != nil {
		return Result{}, fmt.Errorf("source %d: %w", src.ID, err)
	}

	slog.Info("fetching worklogs", "source_id", src.ID, "from", from.String(), "to", to.String())
	worklogs, err := client.Worklogs(ctx, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("source %d: %w", src.ID, err)
	}

	existing, err := c.store.ExternalIDs(ctx, src.ID)
	if err != nil {
		return Result{}, fmt.Errorf("import source %d: %w", src.ID, err)
	}
	var (
		fresh      []tempo.Worklog
		preSkipped int
	)
	for _, w := range worklogs {
		if _, dup := existing[fmt.Sprint(w.TempoWorklogID)]; dup {
			preSkipped++
			continue
		}
		fresh = append(fresh, w)
	}

	batch := c.normalizer.Normalize(ctx, src.ID, fresh, c.now())
	return c.importBatch(ctx, src, batch, preSkipped)
}

// ImportYesterday imports the previous UTC day from every enabled worklog
// source. A failing source is logged and does not stop the others.
func (c *Coordinator) ImportYesterday(ctx context.Context) ([]Result, error) {
	sources, err := c.store.EnabledSources(ctx, model.SourceWorklogAPI)
	if err != nil {
		return nil, fmt.Errorf("import yesterday: %w", err)
	}

	yesterday := model.DateOf(c.now().UTC()).AddDays(-1)
	var results []Result
	for _, src := range sources {
		res, err := c.ImportWorklogs(ctx, src.ID, yesterday, yesterday)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			slog.Error("worklog import failed", "source_id", src.ID, "source", src.Name, "error", err)
			results = append(results, Result{SourceID: src.ID, Errors: []string{err.Error()}})
			continue
		}
		results = append(results, res)
	}
	return results, nil
}
