package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/timebridge/internal/model"
)

const ruleColumns = `id, name, source_scope, match_field, operator, match_value, priority, enabled, project_id, task_id, created_at`

// CreateRule inserts a rule and returns it with its assigned id.
func (s *Store) CreateRule(ctx context.Context, r model.Rule) (model.Rule, error) {
	if err := r.Validate(); err != nil {
		return model.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}

	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO rules
		(name, source_scope, match_field, operator, match_value, priority, enabled, project_id, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		r.Name,
		scopeArg(r.SourceScope),
		r.MatchField,
		string(r.Operator),
		r.MatchValue,
		r.Priority,
		r.Enabled,
		r.ProjectID,
		r.TaskID,
		r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return model.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return r, nil
}

// UpdateRule overwrites every editable field of an existing rule.
func (s *Store) UpdateRule(ctx context.Context, r model.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE rules
		SET name = ?, source_scope = ?, match_field = ?, operator = ?, match_value = ?,
		    priority = ?, enabled = ?, project_id = ?, task_id = ?
		WHERE id = ?
	`),
		r.Name,
		scopeArg(r.SourceScope),
		r.MatchField,
		string(r.Operator),
		r.MatchValue,
		r.Priority,
		r.Enabled,
		r.ProjectID,
		r.TaskID,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return requireAffected(res, fmt.Errorf("rule %d: %w", r.ID, ErrRuleNotFound))
}

// GetRule returns the rule with the given id, or ErrRuleNotFound.
func (s *Store) GetRule(ctx context.Context, id int64) (model.Rule, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`), id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return model.Rule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	return r, nil
}

// ListRules returns all rules ordered by priority, then id.
func (s *Store) ListRules(ctx context.Context) ([]model.Rule, error) {
	return s.queryRules(ctx, s.db, `SELECT `+ruleColumns+` FROM rules ORDER BY priority, id`)
}

// EnabledRules returns the enabled rules ordered by priority, then id.
func (s *Store) EnabledRules(ctx context.Context) ([]model.Rule, error) {
	return s.queryRules(ctx, s.db, `SELECT `+ruleColumns+` FROM rules WHERE enabled = ? ORDER BY priority, id`, true)
}

// SetRuleEnabled toggles a rule.
func (s *Store) SetRuleEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE rules SET enabled = ? WHERE id = ?`), enabled, id)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	return requireAffected(res, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound))
}

// DeleteRule removes a rule. Entries it classified keep their assignment;
// their matched_rule_id is cleared by the foreign key.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return requireAffected(res, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound))
}

// MoveRule swaps a rule with its neighbour in evaluation order.
// direction < 0 moves it earlier, > 0 later. Moving past either end is a
// no-op. The two rules trade priorities when that yields exactly the new
// order; when ties make it ambiguous every rule is renumbered in steps of
// ten.
func (s *Store) MoveRule(ctx context.Context, id int64, direction int) error {
	if direction == 0 {
		return nil
	}
	step := 1
	if direction < 0 {
		step = -1
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		rules, err := s.queryRules(ctx, tx, `SELECT `+ruleColumns+` FROM rules ORDER BY priority, id`)
		if err != nil {
			return err
		}

		idx := -1
		for i := range rules {
			if rules[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
		}

		swap := idx + step
		if swap < 0 || swap >= len(rules) {
			return nil
		}

		priorities := make(map[int64]int, len(rules))
		for _, r := range rules {
			priorities[r.ID] = r.Priority
		}
		rules[idx], rules[swap] = rules[swap], rules[idx]
		priorities[rules[idx].ID], priorities[rules[swap].ID] = rules[swap].Priority, rules[idx].Priority

		if !strictlyOrdered(rules, priorities) {
			for i, r := range rules {
				priorities[r.ID] = (i + 1) * 10
			}
		}

		update := s.rebind(`UPDATE rules SET priority = ? WHERE id = ?`)
		for _, r := range rules {
			if priorities[r.ID] == r.Priority {
				continue
			}
			if _, err := tx.ExecContext(ctx, update, priorities[r.ID], r.ID); err != nil {
				return fmt.Errorf("move rule: %w", err)
			}
		}
		return nil
	})
}

// strictlyOrdered reports whether sorting rules by (priority, id) under the
// given priorities reproduces their slice order.
func strictlyOrdered(rules []model.Rule, priorities map[int64]int) bool {
	for i := 1; i < len(rules); i++ {
		prev, cur := priorities[rules[i-1].ID], priorities[rules[i].ID]
		if prev > cur || (prev == cur && rules[i-1].ID > rules[i].ID) {
			return false
		}
	}
	return true
}

// NextRulePriority returns a priority that sorts after every existing rule.
func (s *Store) NextRulePriority(ctx context.Context) (int, error) {
	var highest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(priority) FROM rules`).Scan(&highest); err != nil {
		return 0, fmt.Errorf("next rule priority: %w", err)
	}
	if !highest.Valid {
		return 10, nil
	}
	return int(highest.Int64) + 10, nil
}

func (s *Store) queryRules(ctx context.Context, q querier, query string, args ...any) ([]model.Rule, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("query rules: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	return rules, nil
}

func scanRule(row rowScanner) (model.Rule, error) {
	var (
		r        model.Rule
		scope    sql.NullString
		operator string
		taskID   sql.NullInt64
	)
	err := row.Scan(
		&r.ID,
		&r.Name,
		&scope,
		&r.MatchField,
		&operator,
		&r.MatchValue,
		&r.Priority,
		&r.Enabled,
		&r.ProjectID,
		&taskID,
		&r.CreatedAt,
	)
	if err != nil {
		return model.Rule{}, err
	}
	r.Operator = model.Operator(operator)
	r.TaskID = nullInt64(taskID)
	if scope.Valid {
		k := model.SourceKind(scope.String)
		r.SourceScope = &k
	}
	return r, nil
}

func scopeArg(k *model.SourceKind) any {
	if k == nil {
		return nil
	}
	return string(*k)
}
