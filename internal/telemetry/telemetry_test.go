package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew(t *testing.T) {
	m, err := New(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordImport(ctx, "upload", 3, 1, 2)
		m.RecordEnrichmentFailure(ctx)
		m.RecordMapped(ctx, 2)
		m.RecordSubmission(ctx, "success", 120*time.Millisecond)
	})
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordImport(context.Background(), "upload", 1, 1, 1)
		m.RecordMapped(context.Background(), 1)
		m.RecordSubmission(context.Background(), "failed", time.Second)
	})
}

func TestDefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}
