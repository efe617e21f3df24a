package models

import (
	"testing"

	"ats-workflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobToRecord(t *testing.T) {
	threshold := 82.5
	rec := Job{JobID: "J-9", JobTitle: "Site Engineer", Department: "Civil Works", AutoShortlisting: true, MatchThreshold: &threshold}.ToRecord()

	assert.Equal(t, "J-9", string(rec.JobID))
	assert.True(t, bool(rec.AutoShortlisting))
	assert.Equal(t, 82.5, rec.Threshold())

	noThreshold := Job{JobID: "J-10"}.ToRecord()
	assert.Equal(t, 75.0, noThreshold.Threshold())
}

func TestJobFromRecord(t *testing.T) {
	j, ok := JobFromRecord(types.Job{JobID: " J-3 ", JobTitle: "QS", Department: "Civil Works", AutoShortlisting: true, MatchScore: "80"})
	require.True(t, ok)
	assert.Equal(t, "J-3", j.JobID)
	assert.True(t, j.AutoShortlisting)
	require.NotNil(t, j.MatchThreshold)
	assert.Equal(t, 80.0, *j.MatchThreshold)
	assert.Equal(t, "ACTIVE", j.Status)

	j, ok = JobFromRecord(types.Job{JobID: "J-4", MatchScore: "n/a"})
	require.True(t, ok)
	assert.Nil(t, j.MatchThreshold)

	_, ok = JobFromRecord(types.Job{JobTitle: "no id"})
	assert.False(t, ok)
}
