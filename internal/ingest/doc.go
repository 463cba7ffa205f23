// Package ingest turns source records into pending entries.
//
// Two normalizers produce a Batch of candidate entries plus record-level
// errors: the worklog normalizer (API records, enriched from the issue
// tracker) and the tabular normalizer (CSV and XLSX uploads). The
// Coordinator persists a Batch idempotently and then runs classification.
package ingest

import "github.com/roach88/timebridge/internal/model"

// Batch is the output of a normalizer.
type Batch struct {
	Candidates []model.Entry

	// Errors are record-level failures; the records they name are not in
	// Candidates.
	Errors []string
}
