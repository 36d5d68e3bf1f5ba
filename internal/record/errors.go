package record

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// CodeStorage is a transaction or I/O failure in the local store.
	CodeStorage ErrorCode = "STORAGE"

	// CodeNetwork means the remote was unreachable or timed out. Retryable.
	CodeNetwork ErrorCode = "NETWORK"

	// CodeConflict means the server value diverged from the client's base.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeValidation means the record is malformed. Terminal.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeQueueFull means the pending queue reached its configured size.
	CodeQueueFull ErrorCode = "QUEUE_FULL"

	// CodeEntityBlocked means the entity has an unresolved manual conflict.
	CodeEntityBlocked ErrorCode = "ENTITY_BLOCKED"

	// CodeNotFound means a referenced record or conflict does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is the structured error type shared by the sync components.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the failing operation ("enqueue", "push", "resolve").
	Op string

	// Message is a human-readable description.
	Message string

	// RecordID identifies the affected sync record, if any.
	RecordID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.RecordID != "" {
		return fmt.Sprintf("%s: %s: %s (record=%s)", e.Code, e.Op, msg, e.RecordID)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a message and no cause.
func NewError(code ErrorCode, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// WrapError wraps err with a code and operation name.
func WrapError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// StorageError wraps a local store failure.
func StorageError(op string, err error) *Error {
	return WrapError(CodeStorage, op, err)
}

// NetworkError wraps a transport failure.
func NetworkError(op string, err error) *Error {
	return WrapError(CodeNetwork, op, err)
}

// ValidationError reports a malformed record.
func ValidationError(op, message string) *Error {
	return NewError(CodeValidation, op, message)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool { return CodeOf(err) == CodeStorage }

// IsNetwork reports whether err is a network error.
func IsNetwork(err error) bool { return CodeOf(err) == CodeNetwork }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// Retryable reports whether a push failure should be retried.
// Validation failures are terminal; everything else, including errors
// of unknown origin, is retried up to the configured ceiling.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) != CodeValidation
}
