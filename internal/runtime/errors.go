package runtime

import (
	"errors"
	"fmt"
)

// Error represents a fault detected by the runtime.
//
// Recoverable faults (a schedule call dropped by spacing or stop, a
// missed deadline) are reported through return values, never through
// Error. Error is reserved for invariant violations: a broken queue
// ordering, a malformed graph, a nil trigger on an internal path. The
// runtime panics with an Error in those cases because deterministic
// state is already lost and partial shutdown would mask the fault.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// ErrorCode categorizes runtime faults.
type ErrorCode string

const (
	// ErrCodeBadGraph indicates a malformed reactor graph: a bad
	// connection, an unknown reaction source, a builder call after Run.
	ErrCodeBadGraph ErrorCode = "BAD_GRAPH"

	// ErrCodeQueueInvariant indicates a broken queue ordering, such as
	// an event queue head earlier than the current tag.
	ErrCodeQueueInvariant ErrorCode = "QUEUE_INVARIANT"

	// ErrCodeNilTrigger indicates a nil trigger on an internal path
	// that requires one.
	ErrCodeNilTrigger ErrorCode = "NIL_TRIGGER"

	// ErrCodeNotStopped indicates an inspection call that requires the
	// runtime to have terminated.
	ErrCodeNotStopped ErrorCode = "NOT_STOPPED"
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInvariantViolation reports whether err is a runtime invariant
// violation. Uses errors.As to handle wrapped errors.
func IsInvariantViolation(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
