// Package failure holds the error taxonomy surfaced to users of the recorder.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a user-visible failure.
type Kind string

const (
	PermissionDenied   Kind = "permission_denied"
	StorageUnavailable Kind = "storage_unavailable"
	RecordingFailed    Kind = "recording_failed"
	PauseFailed        Kind = "pause_failed"
	ResumeFailed       Kind = "resume_failed"
	FinalizationFailed Kind = "finalization_failed"
	AlreadyRecording   Kind = "already_recording"
)

// Error implements error so a bare Kind can be used as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches both *Error values of the same kind and bare Kind targets.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Message returns the text shown to the user for a failure kind.
func Message(k Kind) string {
	switch k {
	case PermissionDenied:
		return "Screen capture permission was not granted"
	case StorageUnavailable:
		return "No writable location is available for the recording"
	case RecordingFailed:
		return "Recording failed"
	case PauseFailed:
		return "Could not pause the recording on this device"
	case ResumeFailed:
		return "Could not resume the recording on this device"
	case FinalizationFailed:
		return "Recording was kept in the working folder because it could not be copied to the chosen location"
	case AlreadyRecording:
		return "A screen recording is already active"
	default:
		return "Something went wrong"
	}
}
