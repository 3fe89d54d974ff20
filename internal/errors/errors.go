// Package errors provides structured error types for the orchestrator.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for orchestrator operations.
const (
	// Spawn errors
	CodeSpawnTransport     = "SPAWN_001" // Transport refused to create a session
	CodeSpawnParentMissing = "SPAWN_002" // Parent instance does not exist
	CodeSpawnPrivilege     = "SPAWN_003" // Caller may not create the requested child role

	// Delivery errors
	CodeDeliverySessionGone = "DELIVERY_001" // Send/read against a dead session

	// Monitor errors
	CodeSignalTimeout = "MONITOR_001" // Monitor deadline elapsed without a match

	// Workflow definition errors (fatal at load time)
	CodeUnknownAction   = "WORKFLOW_001" // Unrecognized action name
	CodeDanglingStage   = "WORKFLOW_002" // next_stage reference to a missing stage
	CodeInvalidWorkflow = "WORKFLOW_003" // Other structural validation failure

	// Permission errors
	CodePermissionDenied    = "PERM_001" // Role lacks privilege for the operation
	CodeWorkdirInaccessible = "PERM_002" // Working directory cannot be used

	// Restart errors
	CodeRestartNotDead = "RESTART_001" // Restart on an instance that is not dead
	CodeRestartFailed  = "RESTART_002" // Transport could not recreate the session

	// Registry/store errors
	CodeInstanceNotFound = "REGISTRY_001" // Unknown instance ID
	CodeDuplicateID      = "REGISTRY_002" // Instance ID already registered
	CodeStoreIO          = "STORE_001"    // Durable registry store read/write failure

	// Action execution errors
	CodeActionFailed = "ACTION_001" // Side-effecting action failed at run time
)

// OrcError is the structured error type for orchestrator operations.
type OrcError struct {
	Code    string         `json:"code"`              // Error code (e.g., "SPAWN_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (instance_id, stage, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *OrcError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As chains.
func (e *OrcError) Unwrap() error {
	return e.Cause
}

// JSON renders the error as a JSON object for diagnostics output.
func (e *OrcError) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":%q,"message":%q}`, e.Code, e.Message)
	}
	return string(b)
}

// WithDetail attaches a key/value pair and returns the error for chaining.
func (e *OrcError) WithDetail(key string, value any) *OrcError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an OrcError with the given code and message.
func New(code, format string, args ...any) *OrcError {
	return &OrcError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an OrcError wrapping a cause.
func Wrap(cause error, code, format string, args ...any) *OrcError {
	return &OrcError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Code extracts the error code, or "" if err is not an OrcError.
func Code(err error) string {
	var oe *OrcError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code string) bool {
	var oe *OrcError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// IsPermission reports whether err is any permission error.
func IsPermission(err error) bool {
	c := Code(err)
	return c == CodePermissionDenied || c == CodeWorkdirInaccessible
}
