package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/timebridge/internal/connector/jira"
	"github.com/roach88/timebridge/internal/connector/tempo"
	"github.com/roach88/timebridge/internal/directory"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/telemetry"
)

// DefaultEnrichConcurrency bounds parallel issue lookups.
const DefaultEnrichConcurrency = 8

// UnknownUser stands in for a worklog without an author.
const UnknownUser = "unknown"

// Metadata keys written by the worklog normalizer.
const (
	MetaBillableSeconds   = "billableSeconds"
	MetaStartTime         = "startTime"
	MetaAttributePrefix   = "attr_"
	MetaAuthorDisplayName = "authorDisplayName"
)

// IssueLookup fetches issue details for enrichment.
type IssueLookup interface {
	Issue(ctx context.Context, issueID int64) (jira.IssueDetails, error)
}

// NameLookup resolves account ids to display names.
type NameLookup interface {
	DisplayName(ctx context.Context, accountID string) (string, error)
}

// Enrichment is the outcome of one issue lookup. Err is non-nil when the
// lookup failed; Details is then zero and the entry is imported without
// project key, issue key or custom fields.
type Enrichment struct {
	Details jira.IssueDetails
	Err     error
}

// OK reports whether the lookup succeeded.
func (e Enrichment) OK() bool {
	return e.Err == nil
}

// WorklogNormalizer turns worklog API records into candidate entries.
type WorklogNormalizer struct {
	issues      IssueLookup
	names       NameLookup
	concurrency int
	metrics     *telemetry.Metrics
}

// WorklogOption configures a WorklogNormalizer.
type WorklogOption func(*WorklogNormalizer)

// WithIssueLookup enables issue enrichment.
func WithIssueLookup(l IssueLookup) WorklogOption {
	return func(n *WorklogNormalizer) {
		n.issues = l
	}
}

// WithNameLookup enables author display-name metadata.
func WithNameLookup(l NameLookup) WorklogOption {
	return func(n *WorklogNormalizer) {
		n.names = l
	}
}

// WithEnrichConcurrency sets the bound on parallel lookups.
func WithEnrichConcurrency(limit int) WorklogOption {
	return func(n *WorklogNormalizer) {
		if limit > 0 {
			n.concurrency = limit
		}
	}
}

// NewWorklogNormalizer returns a normalizer. Without options it performs no
// enrichment.
func NewWorklogNormalizer(opts ...WorklogOption) *WorklogNormalizer {
	n := &WorklogNormalizer{
		concurrency: DefaultEnrichConcurrency,
		metrics:     telemetry.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts worklogs into a Batch. Records with an unparsable date
// or a non-positive duration become errors; enrichment failures are logged
// and never fail a record.
func (n *WorklogNormalizer) Normalize(ctx context.Context, sourceID int64, worklogs []tempo.Worklog, importedAt time.Time) Batch {
	enrichments := n.enrichIssues(ctx, worklogs)
	names := n.resolveAuthors(ctx, worklogs)

	var batch Batch
	for _, w := range worklogs {
		id := strconv.FormatInt(w.TempoWorklogID, 10)

		workDate, err := model.ParseDate(strings.TrimSpace(w.StartDate))
		if err != nil {
			batch.Errors = append(batch.Errors, fmt.Sprintf("Worklog %s: cannot parse date '%s'.", id, w.StartDate))
			continue
		}
		if w.TimeSpentSeconds <= 0 {
			batch.Errors = append(batch.Errors, fmt.Sprintf("Worklog %s: non-positive duration %d.", id, w.TimeSpentSeconds))
			continue
		}

		user := UnknownUser
		if w.Author != nil && w.Author.AccountID != "" {
			user = w.Author.AccountID
		}

		e := model.Entry{
			SourceID:        sourceID,
			SourceKind:      model.SourceWorklogAPI,
			ExternalID:      id,
			UserIdentifier:  user,
			WorkDate:        workDate,
			DurationSeconds: w.TimeSpentSeconds,
			Description:     model.Deref(w.Description),
			ImportedAt:      importedAt,
		}

		e.Metadata.Set(MetaBillableSeconds, model.MetaRaw(strconv.Itoa(w.BillableSeconds)))
		e.Metadata.Set(MetaStartTime, optionalText(w.StartTime))
		if w.Attributes != nil {
			for _, attr := range w.Attributes.Values {
				e.Metadata.Set(MetaAttributePrefix+attr.Key, optionalText(attr.Value))
			}
		}

		if w.Issue != nil && w.Issue.ID > 0 {
			if enr, ok := enrichments[w.Issue.ID]; ok && enr.OK() {
				e.ProjectKey = model.StringPtr(enr.Details.ProjectKey)
				e.IssueKey = model.StringPtr(enr.Details.Key)
				for _, f := range enr.Details.CustomFields {
					e.Metadata.Set(f.Key, f.Value)
				}
			}
		}

		if name, ok := names[user]; ok {
			e.Metadata.SetString(MetaAuthorDisplayName, name)
		}

		batch.Candidates = append(batch.Candidates, e)
	}
	return batch
}

func optionalText(s *string) model.MetaValue {
	if s == nil {
		return model.MetaNull{}
	}
	return model.MetaString(*s)
}

// enrichIssues looks up every distinct referenced issue with bounded
// parallelism. A failed lookup is recorded in its Enrichment and does not
// cancel the others.
func (n *WorklogNormalizer) enrichIssues(ctx context.Context, worklogs []tempo.Worklog) map[int64]Enrichment {
	results := make(map[int64]Enrichment)
	if n.issues == nil {
		return results
	}

	seen := make(map[int64]struct{})
	var ids []int64
	for _, w := range worklogs {
		if w.Issue == nil || w.Issue.ID <= 0 {
			continue
		}
		if _, dup := seen[w.Issue.ID]; dup {
			continue
		}
		seen[w.Issue.ID] = struct{}{}
		ids = append(ids, w.Issue.ID)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(n.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			details, err := n.issues.Issue(ctx, id)
			if err != nil {
				slog.Warn("issue enrichment failed", "issue_id", id, "error", err)
				n.metrics.RecordEnrichmentFailure(ctx)
			}
			mu.Lock()
			results[id] = Enrichment{Details: details, Err: err}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	slog.Debug("enriched issues", "count", len(ids))
	return results
}

// resolveAuthors looks up display names for distinct author account ids.
// Failures leave the name out.
func (n *WorklogNormalizer) resolveAuthors(ctx context.Context, worklogs []tempo.Worklog) map[string]string {
	names := make(map[string]string)
	if n.names == nil {
		return names
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, w := range worklogs {
		if w.Author == nil || !directory.IsAccountID(w.Author.AccountID) {
			continue
		}
		if _, dup := seen[w.Author.AccountID]; dup {
			continue
		}
		seen[w.Author.AccountID] = struct{}{}
		ids = append(ids, w.Author.AccountID)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(n.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			name, err := n.names.DisplayName(ctx, id)
			if err != nil {
				slog.Debug("display name lookup failed", "account_id", id, "error", err)
				return nil
			}
			if name != "" {
				mu.Lock()
				names[id] = name
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return names
}
