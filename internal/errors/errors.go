// Package errors provides structured error types for the CUDA debug adapter.
// Every error that reaches the front end carries a code, a category that
// separates environment problems from target problems, and an optional hint
// describing how to recover.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Environment errors
	CodeExecutableNotFound  ErrorCode = "EXECUTABLE_NOT_FOUND"
	CodeNotExecutable       ErrorCode = "NOT_EXECUTABLE"
	CodeUnsupportedPlatform ErrorCode = "UNSUPPORTED_PLATFORM"
	CodeConfigInvalid       ErrorCode = "CONFIG_INVALID"

	// Target errors
	CodeLaunchFailed   ErrorCode = "LAUNCH_FAILED"
	CodeCommandFailed  ErrorCode = "COMMAND_FAILED"
	CodeBackendExited  ErrorCode = "BACKEND_EXITED"
	CodeBackendProto   ErrorCode = "BACKEND_PROTOCOL_ERROR"
	CodeWriteRejected  ErrorCode = "WRITE_REJECTED"
	CodeEvaluateFailed ErrorCode = "EVALUATION_FAILED"

	// Client errors
	CodeInvalidFocusTarget ErrorCode = "INVALID_FOCUS_TARGET"
	CodeNotStopped         ErrorCode = "NOT_STOPPED"
	CodeStaleReference     ErrorCode = "STALE_REFERENCE"
	CodeUnknownReference   ErrorCode = "UNKNOWN_REFERENCE"
	CodeInvalidParameter   ErrorCode = "INVALID_PARAMETER"
	CodeNotLaunched        ErrorCode = "NOT_LAUNCHED"
	CodeUnsupported        ErrorCode = "UNSUPPORTED_REQUEST"
	CodeMissingParameter   ErrorCode = "MISSING_PARAMETER"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimit       ErrorCode = "SESSION_LIMIT_REACHED"
)

// Category groups error codes by who has to act on them.
type Category string

const (
	// CategoryEnvironment covers problems with the debugger installation,
	// permissions or the host platform.
	CategoryEnvironment Category = "environment"
	// CategoryTarget covers problems with the debugged program or the
	// commands issued against it.
	CategoryTarget Category = "target"
	// CategoryClient covers requests that are valid in form but not in the
	// current session state. Refetching state and retrying usually helps.
	CategoryClient Category = "client"
)

var categories = map[ErrorCode]Category{
	CodeExecutableNotFound:  CategoryEnvironment,
	CodeNotExecutable:       CategoryEnvironment,
	CodeUnsupportedPlatform: CategoryEnvironment,
	CodeConfigInvalid:       CategoryEnvironment,
	CodeLaunchFailed:        CategoryTarget,
	CodeCommandFailed:       CategoryTarget,
	CodeBackendExited:       CategoryTarget,
	CodeBackendProto:        CategoryTarget,
	CodeWriteRejected:       CategoryTarget,
	CodeEvaluateFailed:      CategoryTarget,
	CodeInvalidFocusTarget:  CategoryClient,
	CodeNotStopped:          CategoryClient,
	CodeStaleReference:      CategoryClient,
	CodeUnknownReference:    CategoryClient,
	CodeInvalidParameter:    CategoryClient,
	CodeNotLaunched:         CategoryClient,
	CodeUnsupported:         CategoryClient,
	CodeMissingParameter:    CategoryClient,
	CodeSessionNotFound:     CategoryClient,
	CodeSessionLimit:        CategoryClient,
}

// ids are the numeric message ids sent in protocol error responses. They
// never change once assigned.
var ids = map[ErrorCode]int{
	CodeExecutableNotFound:  1001,
	CodeNotExecutable:       1002,
	CodeUnsupportedPlatform: 1003,
	CodeConfigInvalid:       1004,
	CodeLaunchFailed:        2001,
	CodeCommandFailed:       2002,
	CodeBackendExited:       2003,
	CodeBackendProto:        2004,
	CodeWriteRejected:       2005,
	CodeEvaluateFailed:      2006,
	CodeInvalidFocusTarget:  3001,
	CodeNotStopped:          3002,
	CodeStaleReference:      3003,
	CodeUnknownReference:    3004,
	CodeInvalidParameter:    3005,
	CodeNotLaunched:         3006,
	CodeUnsupported:         3007,
	CodeMissingParameter:    3008,
	CodeSessionNotFound:     3009,
	CodeSessionLimit:        3010,
}

// ID returns the protocol message id of code, 9999 for unknown codes.
func ID(code ErrorCode) int {
	if id, ok := ids[code]; ok {
		return id
	}
	return 9999
}

// DebugError is a structured error type that includes helpful information
// for the front end to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the offending command)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// Category returns who is expected to act on the error.
func (e *DebugError) Category() Category {
	if c, ok := categories[e.Code]; ok {
		return c
	}
	return CategoryTarget
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// Is reports whether err is a DebugError with the given code.
func Is(err error, code ErrorCode) bool {
	var de *DebugError
	return stderrors.As(err, &de) && de.Code == code
}

// --- Environment Errors ---

// ExecutableNotFound creates an error for a debugger executable that does not exist
func ExecutableNotFound(path string) *DebugError {
	msg := fmt.Sprintf("Unable to find debugger executable %q", path)
	if path == "" {
		msg = "Unable to find cuda-gdb in PATH or in the CUDA toolkit directories"
	}
	return &DebugError{
		Code:    CodeExecutableNotFound,
		Message: msg,
		Hint:    "Install the CUDA toolkit, add its bin directory to PATH, or set debuggerPath in the launch configuration.",
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// NotExecutable creates an error for a debugger path the current user cannot run
func NotExecutable(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeNotExecutable,
		Message: fmt.Sprintf("Unable to find an executable debugger at %q: no execute access", path),
		Hint:    "Check the file permissions (chmod +x) or point debuggerPath at the cuda-gdb binary.",
		Cause:   err,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// UnsupportedPlatform creates an error for hosts the backend cannot run on
func UnsupportedPlatform(goos string) *DebugError {
	return &DebugError{
		Code:    CodeUnsupportedPlatform,
		Message: fmt.Sprintf("cuda-gdb is not supported on %s", goos),
		Hint:    "Run the adapter on a Linux host, or use a remote target with a Linux gdbserver.",
		Details: map[string]interface{}{
			"platform": goos,
		},
	}
}

// ConfigInvalid creates an error for an invalid launch or adapter configuration
func ConfigInvalid(field, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("invalid configuration for '%s': %s", field, reason),
		Hint:    "Check the launch configuration for typos and value types.",
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// --- Target Errors ---

// LaunchFailed creates an error for a backend that could not be started or connected
func LaunchFailed(program string, err error) *DebugError {
	return &DebugError{
		Code:    CodeLaunchFailed,
		Message: fmt.Sprintf("failed to launch %s: %v", program, err),
		Hint:    "Check that the program exists and was built with debug information (-g -G for device code).",
		Cause:   err,
		Details: map[string]interface{}{
			"program": program,
		},
	}
}

// CommandFailed creates an error for a startup command that the backend rejected
func CommandFailed(description, text string, index int, err error) *DebugError {
	return &DebugError{
		Code:    CodeCommandFailed,
		Message: fmt.Sprintf("startup command '%s' failed: %v", description, err),
		Hint:    "Fix the command or set ignoreFailures to true for this setup command.",
		Cause:   err,
		Details: map[string]interface{}{
			"description": description,
			"command":     text,
			"index":       index,
		},
	}
}

// BackendExited creates an error for requests cut short by the backend process exiting
func BackendExited(err error) *DebugError {
	msg := "cuda-gdb exited"
	if err != nil {
		msg = fmt.Sprintf("cuda-gdb exited: %v", err)
	}
	return &DebugError{
		Code:    CodeBackendExited,
		Message: msg,
		Hint:    "The session has ended. Start a new debug session.",
		Cause:   err,
	}
}

// BackendProtocol creates an error for a backend reply the adapter could not interpret
func BackendProtocol(command, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBackendProto,
		Message: fmt.Sprintf("unexpected reply to '%s': %s", command, reason),
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// WriteRejected creates an error for a variable write refused by the backend
func WriteRejected(name, value string, err error) *DebugError {
	return &DebugError{
		Code:    CodeWriteRejected,
		Message: fmt.Sprintf("cannot set '%s' to '%s': %v", name, value, err),
		Hint:    "The value must be a valid expression of the variable's type.",
		Cause:   err,
		Details: map[string]interface{}{
			"name":  name,
			"value": value,
		},
	}
}

// EvaluationFailed creates an error for expression evaluation failures
func EvaluationFailed(expression string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEvaluateFailed,
		Message: fmt.Sprintf("failed to evaluate expression '%s': %v", expression, err),
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// --- Client Errors ---

// InvalidFocusTarget creates an error for a focus request naming no live context
func InvalidFocusTarget(target string, err error) *DebugError {
	return &DebugError{
		Code:    CodeInvalidFocusTarget,
		Message: fmt.Sprintf("cannot switch focus to %s", target),
		Hint:    "Request the thread list again; the thread or CUDA coordinate may no longer exist.",
		Cause:   err,
		Details: map[string]interface{}{
			"target": target,
		},
	}
}

// NotStopped creates an error for inspection requests issued while the target runs
func NotStopped(operation string) *DebugError {
	return &DebugError{
		Code:    CodeNotStopped,
		Message: fmt.Sprintf("%s requires the program to be stopped", operation),
		Hint:    "Pause the program or wait for a stopped event.",
	}
}

// StaleReference creates an error for a handle issued before the last invalidation
func StaleReference(ref, issued, current int) *DebugError {
	return &DebugError{
		Code:    CodeStaleReference,
		Message: fmt.Sprintf("variable reference %d is stale", ref),
		Hint:    "Refetch the scope chain and retry.",
		Details: map[string]interface{}{
			"reference":         ref,
			"generation":        issued,
			"currentGeneration": current,
		},
	}
}

// UnknownReference creates an error for a handle that was never issued
func UnknownReference(kind string, ref int) *DebugError {
	return &DebugError{
		Code:    CodeUnknownReference,
		Message: fmt.Sprintf("unknown %s %d", kind, ref),
		Details: map[string]interface{}{
			"reference": ref,
		},
	}
}

// InvalidParameter creates an error for invalid request arguments
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// NotLaunched creates an error for requests that need a running backend
func NotLaunched(command string) *DebugError {
	return &DebugError{
		Code:    CodeNotLaunched,
		Message: fmt.Sprintf("'%s' received before launch or attach", command),
		Hint:    "Send launch or attach first.",
	}
}

// Unsupported creates an error for requests the adapter does not implement
func Unsupported(command string) *DebugError {
	return &DebugError{
		Code:    CodeUnsupported,
		Message: fmt.Sprintf("request '%s' is not supported", command),
	}
}

// MissingParameter creates an error for a required tool argument that was
// not supplied
func MissingParameter(paramName, hint string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("missing required parameter '%s'", paramName),
		Hint:    hint,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// SessionNotFound creates an error for an unknown session id
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use debug_list_sessions to see active sessions. Sessions end when the program terminates or after a period of inactivity.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error for a full session registry
func SessionLimitReached(max int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimit,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", max),
		Hint:    "Disconnect an existing session with debug_disconnect first.",
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Cause:   err,
	}
}
