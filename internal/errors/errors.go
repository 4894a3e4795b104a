// Package errors provides structured error types for the SDB debug bridge.
// Each error carries a machine-readable code plus a hint that tells the
// front end (or an MCP client) how to recover.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	CodeAlreadyStarted      ErrorCode = "ALREADY_STARTED"
	CodeNotConnected        ErrorCode = "NOT_CONNECTED"

	// Connection errors
	CodeConnectFailed   ErrorCode = "CONNECT_FAILED"
	CodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"
	CodeSpawnFailed     ErrorCode = "SPAWN_FAILED"

	// Target round-trip errors
	CodeCommandFailed ErrorCode = "COMMAND_FAILED"
	CodeQueryFailed   ErrorCode = "QUERY_FAILED"
	CodeDecodeFailed  ErrorCode = "DECODE_FAILED"

	// Variable errors
	CodeUnknownVariableScope ErrorCode = "UNKNOWN_VARIABLE_SCOPE"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
	CodeInvalidJSON      ErrorCode = "INVALID_JSON"

	// Collaborator errors
	CodeReadFailed ErrorCode = "READ_FAILED"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error type that includes helpful information
// about what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the failing command, the address)
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

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HasCode reports whether err is a DebugError with the given code
func HasCode(err error, code ErrorCode) bool {
	var de *DebugError
	return stderrors.As(err, &de) && de.Code == code
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use sdb_list_sessions to see active sessions, or use sdb_launch to create a new session.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Disconnect an existing session before creating a new one, or raise maxSessions in the configuration.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// AlreadyStarted creates an error for a second start on the same runtime
func AlreadyStarted(state string) *DebugError {
	return &DebugError{
		Code:    CodeAlreadyStarted,
		Message: fmt.Sprintf("runtime already started (state: %s)", state),
		Hint:    "A runtime connects once. Disconnect and launch a new session to reconnect.",
		Details: map[string]interface{}{
			"state": state,
		},
	}
}

// NotConnected creates an error for a round-trip attempted without a connection
func NotConnected(operation string) *DebugError {
	return &DebugError{
		Code:    CodeNotConnected,
		Message: fmt.Sprintf("cannot %s: not connected to the debugger", operation),
		Hint:    "Launch the session first and wait for the connection to be established.",
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// --- Connection Errors ---

// ConnectFailed creates an error when the liveness probe budget is exhausted
func ConnectFailed(address string, attempts int, err error) *DebugError {
	return &DebugError{
		Code:    CodeConnectFailed,
		Message: fmt.Sprintf("could not reach debugger at %s after %d attempts: %v", address, attempts, err),
		Hint:    "Check that the target process is running with the debugger enabled and that hostnamePort is correct.",
		Cause:   err,
		Details: map[string]interface{}{
			"address":  address,
			"attempts": attempts,
		},
	}
}

// HandshakeFailed creates an error when the event stream cannot be opened
func HandshakeFailed(url string, err error) *DebugError {
	return &DebugError{
		Code:    CodeHandshakeFailed,
		Message: fmt.Sprintf("failed to open debugger websocket %s: %v", url, err),
		Hint:    "The debugger answered HTTP but refused the websocket upgrade. Another client may already be attached.",
		Cause:   err,
		Details: map[string]interface{}{
			"url": url,
		},
	}
}

// SpawnFailed creates an error when the target program cannot be started
func SpawnFailed(program string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSpawnFailed,
		Message: fmt.Sprintf("failed to start program %q: %v", program, err),
		Hint:    "Check the program command line. It is run through the system shell.",
		Cause:   err,
		Details: map[string]interface{}{
			"program": program,
		},
	}
}

// --- Target Round-trip Errors ---

// CommandFailed creates an error for a failed PUT /DebugCommand round-trip
func CommandFailed(command string, err error) *DebugError {
	return &DebugError{
		Code:    CodeCommandFailed,
		Message: fmt.Sprintf("debugger command %s failed: %v", command, err),
		Hint:    "The target may have exited or be busy. Check the session state and retry.",
		Cause:   err,
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// QueryFailed creates an error for a failed GET /DebugCommand round-trip
func QueryFailed(query string, err error) *DebugError {
	return &DebugError{
		Code:    CodeQueryFailed,
		Message: fmt.Sprintf("debugger query %s failed: %v", query, err),
		Hint:    "Variables can only be listed while the target is paused.",
		Cause:   err,
		Details: map[string]interface{}{
			"query": query,
		},
	}
}

// DecodeFailed creates an error for a response body that did not decode
func DecodeFailed(what string, err error) *DebugError {
	return &DebugError{
		Code:    CodeDecodeFailed,
		Message: fmt.Sprintf("unexpected %s payload from debugger: %v", what, err),
		Hint:    "The target speaks a different protocol version than this bridge.",
		Cause:   err,
	}
}

// --- Variable Errors ---

// UnknownVariableScope creates an error for a handle whose scope path has an unknown prefix
func UnknownVariableScope(path string) *DebugError {
	return &DebugError{
		Code:    CodeUnknownVariableScope,
		Message: fmt.Sprintf("unknown variable scope '%s'", path),
		Hint:    "Variable references come from scopes, variables or evaluate responses of this session.",
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
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

// InvalidJSON creates an error for JSON parsing failures
func InvalidJSON(paramName string, err error, example string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidJSON,
		Message: fmt.Sprintf("invalid JSON in parameter '%s': %v", paramName, err),
		Hint:    fmt.Sprintf("Provide valid JSON. Example: %s", example),
		Cause:   err,
		Details: map[string]interface{}{
			"parameter": paramName,
			"example":   example,
		},
	}
}

// --- Collaborator Errors ---

// ReadFailed creates an error for a source file that could not be read
func ReadFailed(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeReadFailed,
		Message: fmt.Sprintf("could not read source %s: %v", path, err),
		Hint:    "Source paths are resolved on the machine running the bridge.",
		Cause:   err,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for invalid configuration
func ConfigInvalid(field, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration field '%s' is invalid: %s", field, reason),
		Hint:    "Fix the configuration file or remove the field to use the default.",
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
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
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}
