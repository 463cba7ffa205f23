package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/timebridge/internal/classify"
	connhttp "github.com/roach88/timebridge/internal/connector/http"
	"github.com/roach88/timebridge/internal/connector/jira"
	"github.com/roach88/timebridge/internal/connector/tempo"
	"github.com/roach88/timebridge/internal/connector/timelog"
	"github.com/roach88/timebridge/internal/engine"
	"github.com/roach88/timebridge/internal/ingest"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
	"github.com/roach88/timebridge/internal/submit"
	"github.com/roach88/timebridge/internal/testutil"
)

// Harness holds the services and fakes of one scenario run.
type Harness struct {
	store      *store.Store
	clock      *testutil.Clock
	importer   *ingest.Coordinator
	classifier *classify.Service
	submitter  *submit.Coordinator
	worklogs   *fakeWorklogs
	booker     *fakeBooker

	sources     map[string]int64
	sourceNames map[int64]string
	projects    map[string]int64
	projectKeys map[int64]string
	tasks       map[string]int64 // "<project>/<task>" external ids
	taskKeys    map[int64]string
	rules       map[string]int64
	ruleNames   map[int64]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. An error
// is returned only when the scenario cannot be set up; step failures and
// unmet expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	clock := testutil.NewClock(scenario.now())

	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, clock, scenario)
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		outcome, err := h.execute(ctx, step)
		if err != nil {
			outcome.Error = err.Error()
		}
		switch {
		case err != nil && !step.ExpectError:
			result.AddError(fmt.Sprintf("step %d (%s): %v", i+1, step.Action, err))
		case err == nil && step.ExpectError:
			result.AddError(fmt.Sprintf("step %d (%s): expected an error", i+1, step.Action))
		}
		result.Steps = append(result.Steps, outcome)
	}

	entries, err := h.snapshotEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Entries = entries
	result.Bookings = h.booker.sent()

	for _, msg := range checkExpectations(result, scenario.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, clock *testutil.Clock, scenario *Scenario) *Harness {
	h := &Harness{
		store:       st,
		clock:       clock,
		worklogs:    &fakeWorklogs{},
		booker:      &fakeBooker{reject: scenario.Booking.Reject, unavailable: scenario.Booking.Unavailable},
		sources:     make(map[string]int64),
		sourceNames: make(map[int64]string),
		projects:    make(map[string]int64),
		projectKeys: make(map[int64]string),
		tasks:       make(map[string]int64),
		taskKeys:    make(map[int64]string),
		rules:       make(map[string]int64),
		ruleNames:   make(map[int64]string),
	}

	h.classifier = classify.New(st, classify.WithEngine(engine.New()))
	normalizer := ingest.NewWorklogNormalizer(
		ingest.WithIssueLookup(fakeIssues(scenario.Issues)),
		ingest.WithNameLookup(fakeNames(scenario.Users)),
	)
	h.importer = ingest.NewCoordinator(st,
		ingest.WithClassifier(h.classifier),
		ingest.WithWorklogNormalizer(normalizer),
		ingest.WithWorklogClients(func(model.Source) (ingest.WorklogFetcher, error) {
			return h.worklogs, nil
		}),
		ingest.WithClock(clock.Now),
	)
	h.submitter = submit.New(st, h.booker,
		submit.WithIDGenerator(testutil.NewSequentialIDs()),
		submit.WithClock(clock.Now),
	)
	return h
}

// seed writes the scenario's reference data.
func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	for _, f := range s.Sources {
		src, err := h.store.CreateSource(ctx, model.Source{
			Name:     f.Name,
			Kind:     model.SourceKind(f.Kind),
			APIToken: f.Token,
			Enabled:  !f.Disabled,
		})
		if err != nil {
			return err
		}
		h.sources[f.Name] = src.ID
		h.sourceNames[src.ID] = f.Name
	}

	for _, p := range s.Projects {
		projectID, err := h.store.UpsertProject(ctx, model.Project{
			ExternalID:   p.ExternalID,
			Name:         p.Name,
			IsActive:     !p.Inactive,
			LastSyncedAt: h.clock.Now(),
		})
		if err != nil {
			return err
		}
		h.projects[p.ExternalID] = projectID
		h.projectKeys[projectID] = p.ExternalID

		for _, t := range p.Tasks {
			taskID, err := h.store.UpsertTask(ctx, model.Task{
				ProjectID:    projectID,
				ExternalID:   t.ExternalID,
				Name:         t.Name,
				IsActive:     !t.Inactive,
				LastSyncedAt: h.clock.Now(),
			})
			if err != nil {
				return err
			}
			h.tasks[p.ExternalID+"/"+t.ExternalID] = taskID
			h.taskKeys[taskID] = t.ExternalID
		}
	}

	for _, e := range s.Employees {
		if _, err := h.store.UpsertEmployeeMapping(ctx, model.EmployeeMapping{
			AccountID:    e.AccountID,
			TargetUserID: e.TargetUserID,
		}); err != nil {
			return err
		}
	}

	for _, r := range s.Rules {
		rule, err := h.ruleFromFixture(r)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		created, err := h.store.CreateRule(ctx, rule)
		if err != nil {
			return err
		}
		h.rules[r.Name] = created.ID
		h.ruleNames[created.ID] = r.Name
	}
	return nil
}

func (h *Harness) ruleFromFixture(r RuleFixture) (model.Rule, error) {
	op, err := model.ParseOperator(r.Operator)
	if err != nil {
		return model.Rule{}, err
	}
	projectID, taskID, err := h.target(r.Project, r.Task)
	if err != nil {
		return model.Rule{}, err
	}
	rule := model.Rule{
		Name:       r.Name,
		MatchField: r.Field,
		Operator:   op,
		MatchValue: r.Value,
		Priority:   r.Priority,
		Enabled:    !r.Disabled,
		ProjectID:  projectID,
		TaskID:     taskID,
	}
	if r.Scope != "" {
		kind, err := model.ParseSourceKind(r.Scope)
		if err != nil {
			return model.Rule{}, err
		}
		rule.SourceScope = &kind
	}
	return rule, nil
}

// target resolves external project and task ids to local ids.
func (h *Harness) target(project, task string) (int64, *int64, error) {
	projectID, ok := h.projects[project]
	if !ok {
		return 0, nil, fmt.Errorf("unknown project %q", project)
	}
	if task == "" {
		return projectID, nil, nil
	}
	taskID, ok := h.tasks[project+"/"+task]
	if !ok {
		return 0, nil, fmt.Errorf("unknown task %q in project %q", task, project)
	}
	return projectID, &taskID, nil
}

// execute runs one step. The outcome is returned even when err is set.
func (h *Harness) execute(ctx context.Context, step Step) (StepOutcome, error) {
	out := StepOutcome{Action: step.Action}

	switch step.Action {
	case ActionImportFile:
		res, err := h.importer.ImportFile(ctx, h.sources[step.Source], step.File, strings.NewReader(step.Content))
		out.fromImport(res)
		return out, err

	case ActionImportWorklogs:
		from, _ := model.ParseDate(step.From)
		to, _ := model.ParseDate(step.To)
		h.worklogs.set(step.Worklogs)
		res, err := h.importer.ImportWorklogs(ctx, h.sources[step.Source], from, to)
		out.fromImport(res)
		return out, err

	case ActionClassify:
		n, err := h.classifier.ApplyAllPending(ctx)
		out.Mapped = n
		return out, err

	case ActionApplyRule:
		n, err := h.classifier.ApplyRule(ctx, h.rules[step.Rule])
		out.Mapped = n
		return out, err

	case ActionMap:
		projectID, taskID, err := h.target(step.Project, step.Task)
		if err != nil {
			return out, err
		}
		return out, h.store.MapEntry(ctx, step.Entry, projectID, taskID)

	case ActionIgnore:
		return out, h.store.IgnoreEntry(ctx, step.Entry)

	case ActionSubmit:
		sum, err := h.submitter.SubmitAllPending(ctx)
		out.Attempted = sum.Attempted
		out.Succeeded = sum.Succeeded
		out.Failed = sum.Failed
		out.Skipped = sum.Skipped
		return out, err

	case ActionSubmitEntry:
		res, err := h.submitter.Submit(ctx, step.Entry)
		out.Outcome = string(res)
		return out, err
	}
	return out, fmt.Errorf("unknown action %q", step.Action)
}

func (o *StepOutcome) fromImport(res ingest.Result) {
	o.Total = res.Total
	o.Imported = res.Imported
	o.Skipped = res.Skipped
	o.Mapped = res.Mapped
	o.Problems = res.Errors
}

// snapshotEntries reads every entry and its submission audit.
func (h *Harness) snapshotEntries(ctx context.Context) ([]EntrySnapshot, error) {
	entries, err := h.store.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	snaps := make([]EntrySnapshot, 0, len(entries))
	for _, e := range entries {
		snap := EntrySnapshot{
			ID:          e.ID,
			Source:      h.sourceNames[e.SourceID],
			User:        e.UserIdentifier,
			WorkDate:    e.WorkDate.String(),
			Seconds:     e.DurationSeconds,
			Description: e.Description,
			IssueKey:    model.Deref(e.IssueKey),
			Status:      string(e.Status),
		}
		if e.AssignedProjectID != nil {
			snap.Project = h.projectKeys[*e.AssignedProjectID]
		}
		if e.AssignedTaskID != nil {
			snap.Task = h.taskKeys[*e.AssignedTaskID]
		}
		if e.MatchedRuleID != nil {
			snap.Rule = h.ruleNames[*e.MatchedRuleID]
		}

		sub, ok, err := h.store.GetSubmission(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			snap.Attempts = sub.AttemptCount
			snap.Confirmation = model.Deref(sub.ConfirmationID)
			snap.LastError = model.Deref(sub.ErrorMessage)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// checkExpectations compares the final state with the scenario's
// expectations and returns one message per mismatch.
func checkExpectations(result *Result, expect *Expectation) []string {
	if expect == nil {
		return nil
	}
	var msgs []string

	counts := make(map[string]int)
	for _, e := range result.Entries {
		counts[e.Status]++
	}
	names := make([]string, 0, len(expect.Statuses))
	for name := range expect.Statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if want := expect.Statuses[name]; counts[name] != want {
			msgs = append(msgs, fmt.Sprintf("expected %d %s entries, got %d", want, name, counts[name]))
		}
	}

	if expect.Bookings != nil && len(result.Bookings) != *expect.Bookings {
		msgs = append(msgs, fmt.Sprintf("expected %d bookings, got %d", *expect.Bookings, len(result.Bookings)))
	}
	return msgs
}

// fakeWorklogs serves the worklogs of the current import step.
type fakeWorklogs struct {
	worklogs []tempo.Worklog
}

func (f *fakeWorklogs) set(fixtures []WorklogFixture) {
	f.worklogs = f.worklogs[:0]
	for _, w := range fixtures {
		wl := tempo.Worklog{
			TempoWorklogID:   w.ID,
			TimeSpentSeconds: w.Seconds,
			BillableSeconds:  w.Billable,
			StartDate:        w.Date,
		}
		if w.Issue > 0 {
			wl.Issue = &tempo.IssueRef{ID: w.Issue}
		}
		if w.Account != "" {
			wl.Author = &tempo.Author{AccountID: w.Account}
		}
		if w.Description != "" {
			desc := w.Description
			wl.Description = &desc
		}
		if len(w.Attributes) > 0 {
			wl.Attributes = &tempo.Attributes{}
			for _, key := range sortedKeys(w.Attributes) {
				value := w.Attributes[key]
				wl.Attributes.Values = append(wl.Attributes.Values, tempo.AttributeValue{Key: key, Value: &value})
			}
		}
		f.worklogs = append(f.worklogs, wl)
	}
}

// Worklogs returns the fixtures whose date falls in [from, to]. Fixtures
// with an unparsable date are always returned so normalization sees them.
func (f *fakeWorklogs) Worklogs(_ context.Context, from, to model.Date) ([]tempo.Worklog, error) {
	var out []tempo.Worklog
	for _, w := range f.worklogs {
		d, err := model.ParseDate(w.StartDate)
		if err == nil && (d.Before(from) || to.Before(d)) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

type fakeIssues map[int64]IssueFixture

func (f fakeIssues) Issue(_ context.Context, issueID int64) (jira.IssueDetails, error) {
	issue, ok := f[issueID]
	if !ok {
		return jira.IssueDetails{}, &connhttp.HTTPError{
			Method:     "GET",
			Path:       fmt.Sprintf("/rest/api/3/issue/%d", issueID),
			StatusCode: 404,
			Message:    "Issue does not exist",
		}
	}
	details := jira.IssueDetails{
		ID:         strconv.FormatInt(issueID, 10),
		Key:        issue.Key,
		Summary:    issue.Summary,
		ProjectKey: issue.Project,
	}
	for _, key := range sortedKeys(issue.Fields) {
		details.CustomFields.SetString(key, issue.Fields[key])
	}
	return details, nil
}

type fakeNames map[string]string

func (f fakeNames) DisplayName(_ context.Context, accountID string) (string, error) {
	name, ok := f[accountID]
	if !ok {
		return "", fmt.Errorf("user %s not found", accountID)
	}
	return name, nil
}

// errUnavailable is what the fake booking API returns when it is down.
var errUnavailable = errors.New("booking API unavailable")

// fakeBooker records every booking request it receives.
type fakeBooker struct {
	mu          sync.Mutex
	reject      map[string]string
	unavailable bool
	requests    []timelog.TimeRegistration
}

func (b *fakeBooker) CreateTimeRegistration(_ context.Context, reg timelog.TimeRegistration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, reg)

	if b.unavailable {
		return errUnavailable
	}
	if body, ok := b.reject[strconv.Itoa(reg.TaskID)]; ok {
		return &connhttp.HTTPError{
			Method:     "POST",
			Path:       "/v1/time-registration",
			StatusCode: 400,
			Message:    body,
		}
	}
	return nil
}

func (b *fakeBooker) sent() []timelog.TimeRegistration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]timelog.TimeRegistration{}, b.requests...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
