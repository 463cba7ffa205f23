package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/timebridge/internal/model"
)

func testEntry() *model.Entry {
	var md model.Metadata
	md.SetString("customfield_10200", "X")
	md.Set("billableSeconds", model.MetaRaw("3600"))
	md.Set("empty", model.MetaNull{})

	return &model.Entry{
		SourceKind:      model.SourceWorklogAPI,
		UserIdentifier:  "dev@example.com",
		Description:     "Daily standup",
		ProjectKey:      model.StringPtr("OPS"),
		IssueKey:        model.StringPtr("OPS-42"),
		DurationSeconds: 900,
		Metadata:        md,
	}
}

func TestResolveField(t *testing.T) {
	e := testEntry()

	tests := []struct {
		name   string
		field  string
		want   string
		wantOK bool
	}{
		{"user email", "userEmail", "dev@example.com", true},
		{"user alias", "USER", "dev@example.com", true},
		{"project key", "ProjectKey", "OPS", true},
		{"issue key", "issuekey", "OPS-42", true},
		{"description", "Description", "Daily standup", true},
		{"absent activity", "activity", "", false},
		{"unknown", "colour", "", false},
		{"metadata exact", "metadata.customfield_10200", "X", true},
		{"metadata case-insensitive key", "metadata.CUSTOMFIELD_10200", "X", true},
		{"metadata prefix case-insensitive", "Metadata.customfield_10200", "X", true},
		{"metadata raw number", "metadata.billableSeconds", "3600", true},
		{"metadata null", "metadata.empty", "", false},
		{"metadata missing", "metadata.nope", "", false},
		{"bare prefix", "metadata.", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveField(tt.field, e)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFieldNilEntry(t *testing.T) {
	_, ok := ResolveField("description", nil)
	assert.False(t, ok)
}

func TestResolveFieldEmptyMetadata(t *testing.T) {
	e := testEntry()
	e.Metadata = nil
	_, ok := ResolveField("metadata.customfield_10200", e)
	assert.False(t, ok)
}

func TestIsKnownField(t *testing.T) {
	assert.True(t, IsKnownField("Description"))
	assert.True(t, IsKnownField("metadata.anything"))
	assert.False(t, IsKnownField("metadata."))
	assert.False(t, IsKnownField("hours"))
}
