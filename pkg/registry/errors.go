package registry

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a registry failure for the orchestrator's
// error policy: soft failures degrade the workflow, hard failures abort
// the node being processed, offline failures trigger durable queuing.
type ErrorClass string

const (
	// ErrorClassOffline indicates the appliance could not be reached at all.
	ErrorClassOffline ErrorClass = "offline"

	// ErrorClassSoft indicates a failure the workflow survives in degraded
	// form. Examples: duplicate-on-create, unresolved group name,
	// already-a-member responses that still carry an error marker.
	ErrorClassSoft ErrorClass = "soft"

	// ErrorClassHard indicates a failure serious enough to stop processing
	// the current node. Examples: node lookup with no recognizable
	// outcome, node creation without an id in the response.
	ErrorClassHard ErrorClass = "hard"
)

// Error is a classified registry API error.
type Error struct {
	// Class is the error classification.
	Class ErrorClass

	// Op is the API operation, e.g. "nodes.lookup".
	Op string

	// Message is the human-readable error message.
	Message string

	// Body is a truncated copy of the response body, for diagnostics.
	Body string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Class, e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithBody attaches a truncated response body to the error.
func (e *Error) WithBody(body []byte) *Error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	e.Body = string(body)
	return e
}

// NewOfflineError creates a new offline-class error.
func NewOfflineError(op, message string, err error) *Error {
	return &Error{Class: ErrorClassOffline, Op: op, Message: message, Err: err}
}

// NewSoftError creates a new soft-class error.
func NewSoftError(op, message string, err error) *Error {
	return &Error{Class: ErrorClassSoft, Op: op, Message: message, Err: err}
}

// NewHardError creates a new hard-class error.
func NewHardError(op, message string, err error) *Error {
	return &Error{Class: ErrorClassHard, Op: op, Message: message, Err: err}
}

// IsOffline returns true if the error is classified as offline.
func IsOffline(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassOffline
	}
	return false
}

// IsSoft returns true if the error is classified as soft.
func IsSoft(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassSoft
	}
	return false
}

// IsHard returns true if the error is classified as hard. Unclassified
// errors are treated as hard: an unknown failure must never be absorbed
// silently.
func IsHard(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassHard
	}
	return err != nil
}
