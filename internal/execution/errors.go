package execution

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/process"
)

// Resolution and lookup errors.
var (
	ErrUnknownProcess    = process.ErrUnknownProcess
	ErrJourneyNotFound   = errors.New("journey not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrResultNotFound    = errors.New("result not found")
)

// Lifecycle errors.
var (
	ErrValidationFailed       = process.ErrValidationFailed
	ErrProcessExecutionFailed = errors.New("process execution failed")
	ErrInvalidTransition      = errors.New("invalid state transition")
)

// Error carries execution context for a failure. errors.Is matches both the
// Code sentinel and the Cause chain.
type Error struct {
	Code        error
	ExecutionID string
	ProcessID   string
	Message     string
	Cause       error
}

func (e *Error) Error() string {
	msg := e.Code.Error()
	if e.ProcessID != "" {
		msg = fmt.Sprintf("%s: process %q", msg, e.ProcessID)
	}
	if e.ExecutionID != "" {
		msg = fmt.Sprintf("%s (execution %s)", msg, e.ExecutionID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap exposes both the code and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Cause}
}

func newError(code error, exec *Execution, processID, message string, cause error) *Error {
	e := &Error{Code: code, ProcessID: processID, Message: message, Cause: cause}
	if exec != nil {
		e.ExecutionID = exec.ID
		if e.ProcessID == "" {
			e.ProcessID = exec.ProcessID
		}
	}
	return e
}
