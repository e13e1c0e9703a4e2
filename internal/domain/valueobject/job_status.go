package valueobject

import (
	"fmt"
	"slices"
)

// JobStatus is the lifecycle state of a processing job:
// pending -> processing -> completed | failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Allowed next states. Terminal states have none.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted:  nil,
	JobStatusFailed:     nil,
}

// NewJobStatus parses a stored status value.
func NewJobStatus(status string) (JobStatus, error) {
	s := JobStatus(status)
	if _, ok := jobTransitions[s]; !ok {
		return "", fmt.Errorf("invalid job status: %s", status)
	}
	return s, nil
}

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports completed and failed.
func (s JobStatus) IsTerminal() bool {
	next, known := jobTransitions[s]
	return known && len(next) == 0
}

// IsActive reports whether a worker owns the job.
func (s JobStatus) IsActive() bool { return s == JobStatusProcessing }

// CanTransitionTo reports whether target may follow s.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	return slices.Contains(jobTransitions[s], target)
}
