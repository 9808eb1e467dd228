package domain

import "errors"

var (
	// ErrInvalidRequest is returned when caller input is malformed
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when a job or its resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrNotReady is returned when a job has not completed yet
	ErrNotReady = errors.New("job not ready")

	// ErrInternal wraps store and filesystem failures
	ErrInternal = errors.New("internal error")

	// ErrNotStarted is returned by the orchestrator before startup reconciliation finished
	ErrNotStarted = errors.New("service not started")

	// ErrJobAlreadyClaimed is returned when claiming a job that is not pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrInvalidTransition is returned when a status change violates the state machine
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorKind classifies a job failure
type ErrorKind string

// Error kinds recorded on failed jobs
const (
	ErrorKindNetwork      ErrorKind = "network"
	ErrorKindAuthRequired ErrorKind = "auth_required"
	ErrorKindUnsupported  ErrorKind = "unsupported"
	ErrorKindFilesystem   ErrorKind = "filesystem"
	ErrorKindInterrupted  ErrorKind = "interrupted"
	ErrorKindInternal     ErrorKind = "internal"
	ErrorKindUnknown      ErrorKind = "unknown"
)

// BackendError is a typed failure reported by the extraction backend
type BackendError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a new backend error
func NewBackendError(kind ErrorKind, message string, err error) error {
	return &BackendError{Kind: kind, Message: message, Err: err}
}

// ClassifyError returns the kind and message to record for a failed execution
func ClassifyError(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}
	var be *BackendError
	if errors.As(err, &be) {
		kind := be.Kind
		if kind == "" {
			kind = ErrorKindUnknown
		}
		return kind, be.Error()
	}
	return ErrorKindUnknown, err.Error()
}
