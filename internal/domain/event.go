package domain

import "time"

// EventType names a job lifecycle event
type EventType string

const (
	EventJobCreated     EventType = "job.created"
	EventJobRunning     EventType = "job.running"
	EventJobCompleted   EventType = "job.completed"
	EventJobFailed      EventType = "job.failed"
	EventJobDeleted     EventType = "job.deleted"
	EventJobInterrupted EventType = "job.interrupted"
)

// Event is a best-effort notification about a job
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	Status     Status    `json:"status,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event from the current state of a record
func NewEvent(t EventType, r *Record) Event {
	ev := Event{
		Type:       t,
		JobID:      r.ID,
		Status:     r.Status,
		ErrorKind:  r.ErrorKind,
		Error:      r.Error,
		OccurredAt: time.Now().UTC(),
	}
	if r.Result != nil {
		ev.FilePath = r.Result.FilePath
	}
	return ev
}
