package logging

import (
	"context"
	"time"
)

// Job lifecycle event types.
const (
	JobEventClaimed   = "claimed"
	JobEventCompleted = "completed"
	JobEventFailed    = "failed"
	JobEventStale     = "stale"
)

// JobEvent describes a state change of a processing job.
type JobEvent struct {
	Type          string
	JobID         string
	TenantID      string
	DocumentID    string
	Stage         string
	Duration      time.Duration
	ChunkCount    int
	PageCount     int
	ErrorCategory string
	ErrorCode     string
	AutoRetry     bool
	Error         string
}

// Fields flattens the event into log attributes. Empty values are left out.
func (e JobEvent) Fields() Fields {
	fields := Fields{
		"event_type":  e.Type,
		"job_id":      e.JobID,
		"document_id": e.DocumentID,
	}
	if e.TenantID != "" {
		fields["tenant_id"] = e.TenantID
	}
	if e.Stage != "" {
		fields["stage"] = e.Stage
	}
	if e.Duration > 0 {
		fields["duration_ms"] = e.Duration.Milliseconds()
	}
	switch e.Type {
	case JobEventCompleted:
		fields["chunk_count"] = e.ChunkCount
		fields["page_count"] = e.PageCount
	case JobEventFailed, JobEventStale:
		fields["error_category"] = e.ErrorCategory
		fields["error_code"] = e.ErrorCode
		fields["auto_retry"] = e.AutoRetry
		if e.Error != "" {
			fields["error"] = e.Error
		}
	}
	return fields
}

// LogJobEvent logs a job lifecycle event. Failures log at error level,
// stale sweeps at warn level and everything else at info.
func (l *slogLogger) LogJobEvent(ctx context.Context, event JobEvent) {
	message := "Processing job " + event.Type
	switch event.Type {
	case JobEventFailed:
		l.Error(ctx, message, event.Fields())
	case JobEventStale:
		l.Warn(ctx, message, event.Fields())
	default:
		l.Info(ctx, message, event.Fields())
	}
}
