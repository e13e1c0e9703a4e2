package valueobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobStatus(t *testing.T) {
	for _, s := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		t.Run(s.String(), func(t *testing.T) {
			got, err := NewJobStatus(string(s))
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}

	for _, raw := range []string{"invalid", "PENDING", "", " pending", "running", "cancelled"} {
		t.Run("reject "+raw, func(t *testing.T) {
			_, err := NewJobStatus(raw)
			assert.EqualError(t, err, "invalid job status: "+raw)
		})
	}
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusCompleted, false},
		{JobStatusFailed, JobStatusPending, false},
		{JobStatus("bogus"), JobStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatus_Predicates(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatus("bogus").IsTerminal())

	assert.True(t, JobStatusProcessing.IsActive())
	assert.False(t, JobStatusPending.IsActive())
}
