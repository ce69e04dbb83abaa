package domain

import "fmt"

// ErrorCode is the uniform taxonomy surfaced across every external
// transport (HTTP, broker, embedded scripting).
type ErrorCode string

const (
	ErrInvalidInput       ErrorCode = "invalid_input"
	ErrUnauthorized       ErrorCode = "unauthorized"
	ErrNotFound           ErrorCode = "not_found"
	ErrConflict           ErrorCode = "conflict"
	ErrPreconditionFailed ErrorCode = "precondition_failed"
	ErrInvalidState       ErrorCode = "invalid_state"
	ErrInternal           ErrorCode = "internal_error"
)

// Error is the envelope every core operation returns to a caller:
// {code, message, details?, correlation_id?}.
type Error struct {
	Code          ErrorCode
	Message       string
	Details       map[string]string
	CorrelationID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

func NotFound(kind, id string) *Error {
	return NewError(ErrNotFound, "%s %s not found", kind, id)
}

// IsNotFound reports whether err is a not_found Error, for callers that
// want to treat a missing row as an ok-but-empty result.
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == ErrNotFound
}

func Conflict(format string, args ...any) *Error {
	return NewError(ErrConflict, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return NewError(ErrInvalidState, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return NewError(ErrInvalidInput, format, args...)
}

func PreconditionFailed(format string, args ...any) *Error {
	return NewError(ErrPreconditionFailed, format, args...)
}

func Internal(format string, args ...any) *Error {
	return NewError(ErrInternal, format, args...)
}

// CycleDetected and Blocked are domain-specific conflict and
// precondition_failed shapes named by the task engine's failure
// semantics (spec §4.3).
func CycleDetected(blocker, task string) *Error {
	return Conflict("cycle detected adding %s as blocker of %s", blocker, task)
}

func Blocked(task string) *Error {
	return PreconditionFailed("task %s has uncompleted blockers", task)
}

func InvalidHierarchy(format string, args ...any) *Error {
	return InvalidState("invalid_hierarchy: "+format, args...)
}

func InvalidTransition(kind, from, to string) *Error {
	return InvalidState("%s cannot transition from %s to %s", kind, from, to)
}
