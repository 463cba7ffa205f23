package engine

import (
	"sort"
	"time"

	"github.com/roach88/timebridge/internal/model"
)

// DefaultRegexTimeout bounds a single regex evaluation.
const DefaultRegexTimeout = time.Second

// Engine evaluates mapping rules against entries.
//
// Thread-safety: an Engine is safe for concurrent use. The only shared
// state is the compiled-pattern cache, which is mutex-protected.
type Engine struct {
	regexTimeout time.Duration
	patterns     *patternCache
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithRegexTimeout sets the hard limit on one regex evaluation.
//
// Default: 1s (DefaultRegexTimeout). Zero or negative disables the limit.
func WithRegexTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.regexTimeout = d
	}
}

// New creates an Engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{regexTimeout: DefaultRegexTimeout}
	for _, opt := range opts {
		opt(e)
	}
	e.patterns = newPatternCache(e.regexTimeout)
	return e
}

// Result is the outcome of evaluating a rule set against one entry.
type Result struct {
	Matched   bool
	RuleID    int64
	RuleName  string
	ProjectID int64
	TaskID    *int64
}

// Prepare returns the enabled rules of rules ordered by ascending priority.
// Ties keep their input order. The input slice is not modified.
func Prepare(rules []model.Rule) []model.Rule {
	prepared := make([]model.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			prepared = append(prepared, r)
		}
	}
	sort.SliceStable(prepared, func(i, j int) bool {
		return prepared[i].Priority < prepared[j].Priority
	})
	return prepared
}

// Evaluate returns the assignment from the first enabled, in-scope rule
// that matches e, in priority order.
func (eng *Engine) Evaluate(rules []model.Rule, e *model.Entry) Result {
	return eng.EvaluatePrepared(Prepare(rules), e)
}

// EvaluatePrepared is Evaluate over a rule set already returned by Prepare.
// Bulk passes prepare once and evaluate many entries.
func (eng *Engine) EvaluatePrepared(prepared []model.Rule, e *model.Entry) Result {
	for i := range prepared {
		rule := &prepared[i]
		if !rule.AppliesTo(e.SourceKind) {
			continue
		}
		if eng.Matches(rule, e) {
			return Result{
				Matched:   true,
				RuleID:    rule.ID,
				RuleName:  rule.Name,
				ProjectID: rule.ProjectID,
				TaskID:    rule.TaskID,
			}
		}
	}
	return Result{}
}
