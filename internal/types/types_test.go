package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLegacyAliases(t *testing.T) {
	assert.Equal(t, StatusSelected, StatusLegacyApproved.Normalize())
	assert.Equal(t, StatusSelected, StatusLegacyDeptApproved.Normalize())
	assert.Equal(t, StatusShortlisted, StatusShortlisted.Normalize())
	assert.Equal(t, CandidateStatus("Something Else"), CandidateStatus("Something Else").Normalize())
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusHired.IsTerminal())
	assert.True(t, StatusWithdrawn.IsTerminal())
	assert.False(t, StatusLegacyApproved.IsTerminal())

	assert.True(t, StatusNone.IsIntake())
	assert.True(t, StatusApplicationSubmitted.IsIntake())
	assert.False(t, StatusShortlisted.IsIntake())
}

func TestParseCandidateStatus(t *testing.T) {
	s, ok := ParseCandidateStatus("  pending dept selection ")
	require.True(t, ok)
	assert.Equal(t, StatusPendingDeptSelection, s)

	s, ok = ParseCandidateStatus("On Hold")
	assert.False(t, ok)
	assert.Equal(t, CandidateStatus("On Hold"), s)
}

func TestBaseRole(t *testing.T) {
	assert.Equal(t, "department manager", BaseRole("Department Manager (MOE)"))
	assert.Equal(t, "hr", BaseRole(" HR "))
	assert.Equal(t, "", BaseRole("(orphan)"))
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("Approve")
	require.True(t, ok)
	assert.Equal(t, ActionApprove, a)

	_, ok = ParseAction("escalate")
	assert.False(t, ok)
}

func TestCandidateKeepsUnknownFields(t *testing.T) {
	raw := `{"id":"7","name":"Ada","job_id":12,"status":"Approved","cv_path":"uploads/ada.pdf","skills":["go","sql"]}`

	var c Candidate
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, RecordID(7), c.ID)
	assert.Equal(t, FlexString("12"), c.JobID)
	assert.Equal(t, StatusLegacyApproved, c.Status)
	require.Contains(t, c.Extra, "cv_path")

	out, err := json.Marshal(c)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, "uploads/ada.pdf", generic["cv_path"])
	assert.Equal(t, []any{"go", "sql"}, generic["skills"])
	assert.Equal(t, float64(7), generic["id"])
	assert.Equal(t, []any{}, generic["status_history"])
}

func TestJobThreshold(t *testing.T) {
	var j Job
	require.NoError(t, json.Unmarshal([]byte(`{"job_id":"3","auto_shortlisting":"yes","match_score":"80"}`), &j))
	assert.True(t, bool(j.AutoShortlisting))
	assert.Equal(t, 80.0, j.Threshold())

	require.NoError(t, json.Unmarshal([]byte(`{"job_id":4,"auto_shortlisting":true}`), &j))
	assert.Equal(t, 75.0, j.Threshold())
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("2025-03-01T10:00:00.123456+00:00")
	require.True(t, ok)
	assert.Equal(t, 10, ts.Hour())

	naive, ok := ParseTimestamp("2025-03-01T10:00:00")
	require.True(t, ok)
	assert.Equal(t, time.UTC, naive.Location())

	_, ok = ParseTimestamp("yesterday")
	assert.False(t, ok)
}

func TestEnteredStatusAt(t *testing.T) {
	c := Candidate{
		Status:          StatusShortlisted,
		StatusUpdatedAt: "2025-03-05T00:00:00Z",
		StatusHistory: []StatusHistoryEntry{
			{FromStatus: StatusNew, ToStatus: StatusShortlisted, UpdatedAt: "2025-03-01T00:00:00Z"},
			{FromStatus: StatusShortlisted, ToStatus: StatusRejected, UpdatedAt: "2025-03-02T00:00:00Z"},
			{FromStatus: StatusRejected, ToStatus: StatusShortlisted, UpdatedAt: "2025-03-03T00:00:00Z"},
		},
	}
	at, ok := c.EnteredStatusAt()
	require.True(t, ok)
	assert.Equal(t, 3, at.Day())

	c.StatusHistory = nil
	at, ok = c.EnteredStatusAt()
	require.True(t, ok)
	assert.Equal(t, 5, at.Day())

	c.StatusUpdatedAt = ""
	_, ok = c.EnteredStatusAt()
	assert.False(t, ok)
}

func TestEnteredStatusAtSkipsBadTimestamp(t *testing.T) {
	c := Candidate{
		Status:          StatusShortlisted,
		StatusUpdatedAt: "2025-03-09T00:00:00Z",
		StatusHistory: []StatusHistoryEntry{
			{FromStatus: StatusNew, ToStatus: StatusShortlisted, UpdatedAt: "2025-03-01T00:00:00Z"},
			{FromStatus: StatusShortlisted, ToStatus: StatusRejected, UpdatedAt: "2025-03-02T00:00:00Z"},
			{FromStatus: StatusRejected, ToStatus: StatusShortlisted, UpdatedAt: "03/04/2025 later"},
		},
	}
	at, ok := c.EnteredStatusAt()
	require.True(t, ok)
	assert.Equal(t, 1, at.Day())
}

func TestStageDate(t *testing.T) {
	var c Candidate
	*c.StageDate(StatusLegacyDeptApproved) = "2025-03-01"
	assert.Equal(t, "2025-03-01", c.SelectedDate)
	assert.Nil(t, c.StageDate(StatusProbation))
}
