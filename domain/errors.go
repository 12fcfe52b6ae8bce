package domain

import (
	"errors"
	"fmt"
)

// Error codes reported to clients in error messages.
const (
	CodeProtocol = "protocol_error"
	CodeNotFound = "not_found"
	CodeConflict = "conflict"
	CodeCapacity = "capacity"
	CodeInternal = "internal"
)

// ProtocolError reports a malformed or unrecognized client message. It is
// sent to the offending session only; the connection stays open.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// NotFoundError reports an operation referencing a task, column or project
// that does not exist in the authoritative state.
type NotFoundError struct {
	Kind string // "task", "column", "project" or "user"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

// ConflictError reports an operation whose precondition was invalidated by
// a concurrently applied operation, e.g. a move whose FromColumn no longer
// owns the task. The operation is rejected, never silently merged.
type ConflictError struct {
	TaskID   string
	Expected string // column the client believed owned the task
	Actual   string // column that currently owns it, empty when deleted
}

func (e *ConflictError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("task %s is no longer in %s", e.TaskID, e.Expected)
	}
	return fmt.Sprintf("task %s is in %s, not %s", e.TaskID, e.Actual, e.Expected)
}

// CapacityError reports a session whose outbound queue overflowed. The
// session is disconnected and must resynchronize via a fresh snapshot.
type CapacityError struct {
	SessionID string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("session %s outbound queue overflowed", e.SessionID)
}

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	var pe *ProtocolError
	var nf *NotFoundError
	var ce *ConflictError
	var cpe *CapacityError
	switch {
	case errors.As(err, &pe):
		return CodeProtocol
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &ce):
		return CodeConflict
	case errors.As(err, &cpe):
		return CodeCapacity
	default:
		return CodeInternal
	}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
