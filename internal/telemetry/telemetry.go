// Package telemetry holds the pipeline's metric instruments.
//
// Instruments are created from the global otel MeterProvider, which is a
// no-op until the embedding process installs a real one.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/roach88/timebridge"

// Metrics groups the pipeline counters.
type Metrics struct {
	imported     metric.Int64Counter
	skipped      metric.Int64Counter
	parseErrors  metric.Int64Counter
	enrichFailed metric.Int64Counter
	mapped       metric.Int64Counter
	submissions  metric.Int64Counter
	submitTime   metric.Float64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.imported, "timebridge.entries.imported", "Entries persisted by an import", "{entry}"},
		{&m.skipped, "timebridge.entries.skipped", "Candidates skipped as duplicates", "{entry}"},
		{&m.parseErrors, "timebridge.import.errors", "Record-level parse errors", "{error}"},
		{&m.enrichFailed, "timebridge.enrichment.failures", "Issue lookups that failed", "{lookup}"},
		{&m.mapped, "timebridge.entries.mapped", "Entries mapped by classification", "{entry}"},
		{&m.submissions, "timebridge.submissions", "Booking attempts by outcome", "{attempt}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	m.submitTime, err = meter.Float64Histogram("timebridge.submission.duration",
		metric.WithDescription("Booking request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create timebridge.submission.duration: %w", err)
	}
	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns instruments bound to the global MeterProvider.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := New(otel.Meter(instrumentationName))
		if err != nil {
			slog.Warn("metric instruments unavailable", "error", err)
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordImport records the counts of one import run.
func (m *Metrics) RecordImport(ctx context.Context, sourceKind string, imported, skipped, errors int) {
	if m == nil || m.imported == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("source.kind", sourceKind))
	m.imported.Add(ctx, int64(imported), attrs)
	m.skipped.Add(ctx, int64(skipped), attrs)
	m.parseErrors.Add(ctx, int64(errors), attrs)
}

// RecordEnrichmentFailure counts one failed issue lookup.
func (m *Metrics) RecordEnrichmentFailure(ctx context.Context) {
	if m == nil || m.enrichFailed == nil {
		return
	}
	m.enrichFailed.Add(ctx, 1)
}

// RecordMapped counts entries mapped by a classification pass.
func (m *Metrics) RecordMapped(ctx context.Context, n int) {
	if m == nil || m.mapped == nil {
		return
	}
	m.mapped.Add(ctx, int64(n))
}

// RecordSubmission records one booking attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil || m.submissions == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.submissions.Add(ctx, 1, attrs)
	m.submitTime.Record(ctx, elapsed.Seconds(), attrs)
}
