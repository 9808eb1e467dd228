package domain

import (
	"fmt"
	"time"
)

// DefaultFormatSelector is used when a submission does not name a format
const DefaultFormatSelector = "bestvideo+bestaudio/best"

// Status is the lifecycle state of a job
type Status string

// Job status constants
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Result is the metadata produced by a successful fetch
type Result struct {
	FilePath        string  `json:"file_path"`
	FileName        string  `json:"file_name"`
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes"`
	FormatID        string  `json:"format_id,omitempty"`
	Ext             string  `json:"ext,omitempty"`
	Uploader        string  `json:"uploader,omitempty"`
	WebpageURL      string  `json:"webpage_url,omitempty"`
}

// Record is the durable state of one requested fetch
type Record struct {
	ID                  string
	Seq                 int64
	SourceReference     string
	OutputDirectory     string
	FormatSelector      string
	CredentialReference string
	Status              Status
	Result              *Result
	Error               string
	ErrorKind           ErrorKind
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Clone returns a copy that shares no mutable state with r
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Result != nil {
		res := *r.Result
		cp.Result = &res
	}
	return &cp
}

// canTransition lists the allowed edges of the state machine.
// pending -> failed is only taken by startup reconciliation.
var canTransition = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

func (r *Record) transition(to Status, now time.Time) error {
	allowed := false
	for _, s := range canTransition[r.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}

	// updated_at must strictly advance even on coarse clocks
	now = now.UTC()
	if !now.After(r.UpdatedAt) {
		now = r.UpdatedAt.Add(time.Microsecond)
	}

	r.Status = to
	r.UpdatedAt = now
	return nil
}

// MarkRunning moves a pending record to running
func (r *Record) MarkRunning(now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: status is %s", ErrJobAlreadyClaimed, r.Status)
	}
	return r.transition(StatusRunning, now)
}

// MarkCompleted moves a running record to completed and attaches the result
func (r *Record) MarkCompleted(result *Result, now time.Time) error {
	if result == nil {
		return fmt.Errorf("%w: completed job without result", ErrInvalidTransition)
	}
	if err := r.transition(StatusCompleted, now); err != nil {
		return err
	}
	res := *result
	r.Result = &res
	r.Error = ""
	r.ErrorKind = ""
	return nil
}

// MarkFailed moves a non-terminal record to failed with a classified message
func (r *Record) MarkFailed(kind ErrorKind, message string, now time.Time) error {
	if err := r.transition(StatusFailed, now); err != nil {
		return err
	}
	if message == "" {
		message = "job failed"
	}
	if kind == "" {
		kind = ErrorKindUnknown
	}
	r.Result = nil
	r.Error = message
	r.ErrorKind = kind
	return nil
}
