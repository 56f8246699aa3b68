// Package survey defines the error taxonomy shared by the session, assignment,
// catalog and results components.
package survey

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching.
var (
	ErrValidation      = errors.New("validation failed")
	ErrState           = errors.New("invalid session state")
	ErrCatalog         = errors.New("stimulus catalog unavailable")
	ErrStore           = errors.New("group counter store unavailable")
	ErrSinkConflict    = errors.New("results store conflict")
	ErrSinkUnavailable = errors.New("results store unavailable")
)

// ValidationError is bad participant input. The step is re-prompted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StateError is an impossible or tampered step. Fatal for the session.
type StateError struct {
	State  string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %s", e.State, e.Reason)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// CatalogError means the stimulus content cannot be resolved.
type CatalogError struct {
	Root string
	Err  error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Root, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

func (e *CatalogError) Is(target error) bool { return target == ErrCatalog }

// StoreError means the group counters are unreadable, corrupt or unwritable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("counter store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// SinkKind classifies results store failures.
type SinkKind int

const (
	SinkConflict SinkKind = iota + 1
	SinkUnavailable
)

func (k SinkKind) String() string {
	switch k {
	case SinkConflict:
		return "conflict"
	case SinkUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// SinkError is a failed flush of result rows.
type SinkError struct {
	Kind     SinkKind
	Attempts int
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("results sink %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool {
	switch target {
	case ErrSinkConflict:
		return e.Kind == SinkConflict
	case ErrSinkUnavailable:
		return e.Kind == SinkUnavailable
	}
	return false
}

// Participant-facing messages, one per failure class.
const (
	MsgNoContent        = "Die Studie kann gerade nicht gestartet werden: es sind keine Bilder verfügbar."
	MsgNoGroup          = "Die Studie kann gerade nicht gestartet werden: die Gruppenzuteilung ist fehlgeschlagen."
	MsgSubmissionFailed = "Das Speichern Ihrer Antworten ist fehlgeschlagen. Ihre Antworten sind noch vorhanden, bitte versuchen Sie es erneut."
	MsgSessionBroken    = "Die Sitzung ist in einem ungültigen Zustand und wurde beendet."
)

// UserMessage maps a surfaced error to the text shown to the participant.
// Validation errors carry their own reason and return it as is.
func UserMessage(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Reason
	case errors.Is(err, ErrCatalog):
		return MsgNoContent
	case errors.Is(err, ErrStore):
		return MsgNoGroup
	case errors.Is(err, ErrSinkConflict), errors.Is(err, ErrSinkUnavailable):
		return MsgSubmissionFailed
	case errors.Is(err, ErrState):
		return MsgSessionBroken
	}
	return err.Error()
}
