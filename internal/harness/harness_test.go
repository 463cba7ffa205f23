package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadScenario(content string, steps ...Step) *Scenario {
	s := &Scenario{
		Name:    "inline",
		Sources: []SourceFixture{{Name: "uploads", Kind: "upload"}},
		Projects: []ProjectFixture{{
			ExternalID: "100",
			Name:       "Internal",
			Tasks:      []TaskFixture{{ExternalID: "9001", Name: "Support"}},
		}},
		Rules: []RuleFixture{{
			Name: "support", Field: "description", Operator: "contains", Value: "support",
			Priority: 10, Project: "100", Task: "9001",
		}},
	}
	s.Steps = append([]Step{{Action: ActionImportFile, Source: "uploads", File: "hours.csv", Content: content}}, steps...)
	return s
}

const twoRows = "Date,Hours,Email,Description\n" +
	"2024-03-11,1,ana@example.com,Support\n" +
	"2024-03-11,2,ben@example.com,Planning\n"

func TestRun_ImportClassifySubmit(t *testing.T) {
	result, err := Run(uploadScenario(twoRows, Step{Action: ActionSubmit}))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepOutcome{Action: ActionImportFile, Total: 2, Imported: 2, Mapped: 1}, result.Steps[0])
	assert.Equal(t, StepOutcome{Action: ActionSubmit, Attempted: 1, Succeeded: 1}, result.Steps[1])

	require.Len(t, result.Entries, 2)
	assert.Equal(t, "submitted", result.Entries[0].Status)
	assert.Equal(t, "support", result.Entries[0].Rule)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", result.Entries[0].Confirmation)
	assert.Equal(t, "pending", result.Entries[1].Status)

	require.Len(t, result.Bookings, 1)
	assert.Equal(t, 9001, result.Bookings[0].TaskID)
	assert.Equal(t, 1.0, result.Bookings[0].Hours)
}

func TestRun_Deterministic(t *testing.T) {
	scenario := uploadScenario(twoRows, Step{Action: ActionSubmit})

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	scenario := uploadScenario(twoRows)

	for i := 0; i < 2; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Steps[0].Imported, "run %d", i+1)
	}
}

func TestRun_UnexpectedStepErrorFails(t *testing.T) {
	result, err := Run(uploadScenario(twoRows, Step{Action: ActionIgnore, Entry: 99}))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 2 (ignore)")
	assert.NotEmpty(t, result.Steps[1].Error)
}

func TestRun_ExpectedErrorPasses(t *testing.T) {
	scenario := uploadScenario(twoRows, Step{Action: ActionSubmitEntry, Entry: 2, ExpectError: true})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Contains(t, result.Steps[1].Error, "not submittable")
}

func TestRun_MissingExpectedErrorFails(t *testing.T) {
	scenario := uploadScenario(twoRows, Step{Action: ActionClassify, ExpectError: true})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"step 2 (classify): expected an error"}, result.Errors)
}

func TestRun_Expectations(t *testing.T) {
	bookings := 3
	scenario := uploadScenario(twoRows)
	scenario.Expect = &Expectation{
		Statuses: map[string]int{"mapped": 1, "pending": 2},
		Bookings: &bookings,
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"expected 2 pending entries, got 1",
		"expected 3 bookings, got 0",
	}, result.Errors)
}

func TestRun_BookingRejected(t *testing.T) {
	scenario := uploadScenario(twoRows, Step{Action: ActionSubmit})
	scenario.Booking.Reject = map[string]string{"9001": "closed"}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	assert.Equal(t, "failed", result.Entries[0].Status)
	assert.Equal(t, "400: closed", result.Entries[0].LastError)
	assert.Equal(t, 1, result.Entries[0].Attempts)
}

func TestRun_BookingUnavailable(t *testing.T) {
	scenario := uploadScenario(twoRows, Step{Action: ActionSubmit}, Step{Action: ActionSubmit})
	scenario.Booking.Unavailable = true

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Entries[0].Status)
	assert.Equal(t, "booking API unavailable", result.Entries[0].LastError)
	assert.Equal(t, 2, result.Entries[0].Attempts)
	assert.Len(t, result.Bookings, 2)
}

func TestRun_ManualMapAndApplyRule(t *testing.T) {
	scenario := uploadScenario(twoRows,
		Step{Action: ActionMap, Entry: 2, Project: "100"},
		Step{Action: ActionApplyRule, Rule: "support"},
	)
	scenario.Rules[0].Disabled = true

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	assert.Equal(t, 0, result.Steps[0].Mapped, "disabled rules do not run on import")
	assert.Equal(t, 1, result.Steps[2].Mapped, "apply_rule ignores the enabled flag")

	assert.Equal(t, "mapped", result.Entries[0].Status)
	assert.Equal(t, "support", result.Entries[0].Rule)
	assert.Equal(t, "mapped", result.Entries[1].Status)
	assert.Equal(t, "100", result.Entries[1].Project)
	assert.Empty(t, result.Entries[1].Task)
	assert.Empty(t, result.Entries[1].Rule)
}

func TestRun_UnknownRuleTarget(t *testing.T) {
	scenario := uploadScenario(twoRows)
	scenario.Rules[0].Task = "missing"

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown task "missing"`)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
