// Package engine drives dataflow graph execution: it computes dependency
// order, dispatches each node to its builtin, sandboxed, or composite
// handler, applies outputs, and supports full and incremental (dirty-only)
// runs.
package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is the classified error type shared across the runtime.
// Every failure surfaced to a caller carries a code so the caller can offer
// targeted remediation (for example "view/upgrade permissions" on a
// permission denial instead of a generic failure message).
type RuntimeError struct {
	// Code identifies the failure kind for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Node is the graph node involved, if applicable.
	Node string `json:"node,omitempty"`

	// Component is the component involved, if applicable.
	Component string `json:"component,omitempty"`

	// Operation is what was being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details carries additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.Node != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (node=%s, operation=%s)%s", e.Code, e.Message, e.Node, e.Operation, e.unwrapSuffix())
	case e.Node != "":
		return fmt.Sprintf("[%s] %s (node=%s)%s", e.Code, e.Message, e.Node, e.unwrapSuffix())
	case e.Component != "":
		return fmt.Sprintf("[%s] %s (component=%s)%s", e.Code, e.Message, e.Component, e.unwrapSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Code, e.Message, e.unwrapSuffix())
	}
}

func (e *RuntimeError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is by comparing codes.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithNode adds node context to an error.
func (e *RuntimeError) WithNode(nodeID string) *RuntimeError {
	e.Node = nodeID
	return e
}

// WithComponent adds component context to an error.
func (e *RuntimeError) WithComponent(componentID string) *RuntimeError {
	e.Component = componentID
	return e
}

// WithOperation adds operation context to an error.
func (e *RuntimeError) WithOperation(op string) *RuntimeError {
	e.Operation = op
	return e
}

// WithDetail adds a detail field to the error.
func (e *RuntimeError) WithDetail(key string, value interface{}) *RuntimeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes for the runtime failure taxonomy.
const (
	// ErrCodeLoadFailed: the component binary could not be read or stored.
	ErrCodeLoadFailed = "LOAD_FAILED"

	// ErrCodeValidationFailed: the binary is oversize or malformed.
	ErrCodeValidationFailed = "VALIDATION_FAILED"

	// ErrCodeExecution: module-reported failure, host instantiation
	// failure, or a value conversion failure.
	ErrCodeExecution = "EXECUTION_ERROR"

	// ErrCodePermissionDenied: a sandbox access check failed.
	ErrCodePermissionDenied = "PERMISSION_DENIED"

	// ErrCodeTimeout: a bounded wait was exceeded; never silently retried.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeCycle: the graph has no topological order.
	ErrCodeCycle = "CYCLE_DETECTED"

	// ErrCodeNotFound: a referenced component or node does not exist.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeAlreadyRunning: a continuous node was started twice.
	ErrCodeAlreadyRunning = "ALREADY_RUNNING"

	// ErrCodeNotRunning: a never-started continuous node was stopped.
	ErrCodeNotRunning = "NOT_RUNNING"

	// ErrCodeTrap: a panic or guest trap was contained at a loop boundary.
	ErrCodeTrap = "TRAP"

	// ErrCodePolicyDenied: a grant request was rejected by policy.
	ErrCodePolicyDenied = "POLICY_DENIED"
)

// NewError creates a classified runtime error.
func NewError(code, message string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, Err: err}
}

// NewLoadFailed creates a LOAD_FAILED error.
func NewLoadFailed(message string, err error) *RuntimeError {
	return NewError(ErrCodeLoadFailed, message, err)
}

// NewValidationFailed creates a VALIDATION_FAILED error.
func NewValidationFailed(message string, err error) *RuntimeError {
	return NewError(ErrCodeValidationFailed, message, err)
}

// NewExecutionError creates an EXECUTION_ERROR error.
func NewExecutionError(message string, err error) *RuntimeError {
	return NewError(ErrCodeExecution, message, err)
}

// NewPermissionDenied creates a PERMISSION_DENIED error.
func NewPermissionDenied(message string, err error) *RuntimeError {
	return NewError(ErrCodePermissionDenied, message, err)
}

// NewTimeout creates a TIMEOUT error.
func NewTimeout(message string, err error) *RuntimeError {
	return NewError(ErrCodeTimeout, message, err)
}

// hasCode reports whether err carries the given runtime error code.
func hasCode(err error, code string) bool {
	var e *RuntimeError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsPermissionDenied reports whether err is a sandbox permission denial.
func IsPermissionDenied(err error) bool {
	return hasCode(err, ErrCodePermissionDenied)
}

// IsTimeout reports whether err is a bounded-wait timeout.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsExecutionError reports whether err is an execution failure.
func IsExecutionError(err error) bool {
	return hasCode(err, ErrCodeExecution)
}

// IsValidationFailed reports whether err is a load-time validation failure.
func IsValidationFailed(err error) bool {
	return hasCode(err, ErrCodeValidationFailed)
}

// IsNotFound reports whether err is a missing component or node.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}
