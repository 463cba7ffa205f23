package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
)

// entryList renders entries as a table.
type entryList []model.Entry

func (l entryList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "No entries.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tDATE\tUSER\tHOURS\tSTATUS\tISSUE\tDESCRIPTION")
	for _, e := range l {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			e.ID, e.WorkDate, e.UserIdentifier, e.Hours(), e.Status, model.Deref(e.IssueKey), truncate(e.Description, 48))
	}
	return tw.Flush()
}

// ruleRow is a rule with its target shown as external ids.
type ruleRow struct {
	model.Rule
	Project string `json:"project"`
	Task    string `json:"task,omitempty"`
}

type ruleList []ruleRow

func (l ruleList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "No rules.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tPRIORITY\tNAME\tMATCH\tTARGET\tSCOPE\tENABLED")
	for _, r := range l {
		scope := "any"
		if r.SourceScope != nil {
			scope = string(*r.SourceScope)
		}
		target := r.Project
		if r.Task != "" {
			target += "/" + r.Task
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s %s %q\t%s\t%s\t%t\n",
			r.ID, r.Priority, r.Name, r.MatchField, r.Operator, r.MatchValue, target, scope, r.Enabled)
	}
	return tw.Flush()
}

// describeRules attaches external project and task ids to rules.
func describeRules(ctx context.Context, st *store.Store, rules []model.Rule) (ruleList, error) {
	projects := make(map[int64]string)
	rows := make(ruleList, 0, len(rules))
	for _, r := range rules {
		row := ruleRow{Rule: r}

		ext, ok := projects[r.ProjectID]
		if !ok {
			p, err := st.GetProject(ctx, r.ProjectID)
			if err != nil {
				return nil, err
			}
			ext = p.ExternalID
			projects[r.ProjectID] = ext
		}
		row.Project = ext

		if r.TaskID != nil {
			t, err := st.GetTask(ctx, *r.TaskID)
			if err != nil {
				return nil, err
			}
			row.Task = t.ExternalID
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type sourceList []model.Source

func (l sourceList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "No sources.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tENABLED\tTOKEN\tLAST POLLED")
	for _, s := range l {
		polled := "never"
		if s.LastPolledAt != nil {
			polled = s.LastPolledAt.UTC().Format("2006-01-02 15:04")
		}
		token := "no"
		if s.HasToken() {
			token = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n", s.ID, s.Name, s.Kind, s.Enabled, token, polled)
	}
	return tw.Flush()
}

type employeeList []model.EmployeeMapping

func (l employeeList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "No employee mappings.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tACCOUNT\tNAME\tUSER ID\tUSER")
	for _, m := range l {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			m.ID, m.AccountID, model.Deref(m.DisplayName), m.TargetUserID, model.Deref(m.TargetUserName))
	}
	return tw.Flush()
}

// message is a one-line confirmation with a JSON payload.
type message struct {
	Text string
	Data any
}

func (m message) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, m.Text)
	return err
}

func (m message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Data)
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
