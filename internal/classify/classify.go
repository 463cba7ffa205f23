// Package classify assigns pending entries to projects and tasks by
// evaluating the stored mapping rules.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/timebridge/internal/engine"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
	"github.com/roach88/timebridge/internal/telemetry"
)

// Service runs the rule engine over stored entries.
//
// Callers must not run two ApplyAllPending passes at once; the guarded
// UPDATE keeps a concurrent pass from double-mapping an entry, but the
// second pass does wasted work.
type Service struct {
	store   *store.Store
	engine  *engine.Engine
	metrics *telemetry.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithEngine sets the rule engine. Default: engine.New().
func WithEngine(eng *engine.Engine) Option {
	return func(s *Service) {
		s.engine = eng
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New returns a Service over st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st, metrics: telemetry.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = engine.New()
	}
	return s
}

// ApplyAllPending evaluates the enabled rules against every Pending entry
// and marks the matched ones Mapped. It returns how many were mapped.
func (s *Service) ApplyAllPending(ctx context.Context) (int, error) {
	rules, err := s.store.EnabledRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("apply all pending: %w", err)
	}
	prepared := engine.Prepare(rules)
	if len(prepared) == 0 {
		slog.Info("no enabled mapping rules, skipping classification")
		return 0, nil
	}

	entries, err := s.store.EntriesByStatus(ctx, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("apply all pending: %w", err)
	}
	slog.Info("applying mapping rules", "rules", len(prepared), "pending", len(entries))

	var assignments []store.Assignment
	for i := range entries {
		res := s.engine.EvaluatePrepared(prepared, &entries[i])
		if !res.Matched {
			continue
		}
		slog.Debug("entry matched",
			"entry_id", entries[i].ID,
			"rule_id", res.RuleID,
			"rule", res.RuleName)
		assignments = append(assignments, store.Assignment{
			EntryID:   entries[i].ID,
			ProjectID: res.ProjectID,
			TaskID:    res.TaskID,
			RuleID:    res.RuleID,
		})
	}

	mapped, err := s.store.ApplyAssignments(ctx, assignments)
	if err != nil {
		return 0, fmt.Errorf("apply all pending: %w", err)
	}
	s.metrics.RecordMapped(ctx, mapped)

	slog.Info("classification complete", "mapped", mapped, "pending", len(entries))
	return mapped, nil
}

// PreviewRule returns the Pending and Failed entries the rule's predicate
// matches. Priority, the enabled flag and source scope are ignored and
// nothing is written.
func (s *Service) PreviewRule(ctx context.Context, ruleID int64) ([]model.Entry, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.EntriesByStatus(ctx, model.StatusPending, model.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("preview rule %d: %w", ruleID, err)
	}

	var matched []model.Entry
	for i := range entries {
		if s.engine.Matches(&rule, &entries[i]) {
			matched = append(matched, entries[i])
		}
	}
	return matched, nil
}

// ApplyRule maps every Pending entry the rule's predicate matches to the
// rule's target, regardless of priority or enabled flag.
func (s *Service) ApplyRule(ctx context.Context, ruleID int64) (int, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return 0, err
	}
	entries, err := s.store.EntriesByStatus(ctx, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("apply rule %d: %w", ruleID, err)
	}

	var assignments []store.Assignment
	for i := range entries {
		if s.engine.Matches(&rule, &entries[i]) {
			assignments = append(assignments, store.Assignment{
				EntryID:   entries[i].ID,
				ProjectID: rule.ProjectID,
				TaskID:    rule.TaskID,
				RuleID:    rule.ID,
			})
		}
	}

	mapped, err := s.store.ApplyAssignments(ctx, assignments)
	if err != nil {
		return 0, fmt.Errorf("apply rule %d: %w", ruleID, err)
	}
	s.metrics.RecordMapped(ctx, mapped)

	slog.Info("rule applied", "rule_id", ruleID, "mapped", mapped)
	return mapped, nil
}
