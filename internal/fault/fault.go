// Package fault defines the discriminated errors surfaced to API callers.
// Every error carries a stable machine-readable code and the HTTP status it
// maps to, so transport layers never have to inspect error text.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes. These are part of the public API contract.
const (
	CodeChatBusy             = "CHAT_BUSY"
	CodeChatNotFound         = "CHAT_NOT_FOUND"
	CodeCharacterNotFound    = "CHARACTER_NOT_FOUND"
	CodeUserPersonaNotFound  = "USER_PERSONA_NOT_FOUND"
	CodePresetNotFound       = "PRESET_NOT_FOUND"
	CodeLorebookNotFound     = "LOREBOOK_NOT_FOUND"
	CodeChatLLMConfigMissing = "CHAT_LLM_CONFIG_NOT_FOUND"
	CodeConnectionNotFound   = "LLM_CONNECTION_NOT_FOUND"
	CodeConnectionDisabled   = "LLM_CONNECTION_DISABLED"
	CodeServerNotFound       = "MCP_SERVER_NOT_FOUND"
	CodeIterationLimit       = "TOOL_ITERATION_LIMIT"
	CodeExternalFailure      = "EXTERNAL_FAILURE"
	CodeValidation           = "VALIDATION"
	CodeReorderIncomplete    = "REORDER_INCOMPLETE"
	CodeReorderMismatch      = "REORDER_MISMATCH"
	CodeNotFound             = "NOT_FOUND"
	CodeInternal             = "INTERNAL"
)

// Error is a typed failure with a stable code and HTTP status.
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error // original cause, kept as diagnostic detail
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code and status.
func New(code string, status int, format string, args ...any) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// Busy reports that another turn is already in flight for the chat.
func Busy(chatID string) *Error {
	return New(CodeChatBusy, http.StatusConflict, "turn already in flight for chat %s", chatID)
}

// NotFound creates a missing-entity error under the given code.
func NotFound(code string, format string, args ...any) *Error {
	return New(code, http.StatusNotFound, format, args...)
}

// Disabled reports an administratively disabled resource.
func Disabled(code string, format string, args ...any) *Error {
	return New(code, http.StatusConflict, format, args...)
}

// IterationLimit reports that the tool loop exceeded its configured cap.
func IterationLimit(max int) *Error {
	return New(CodeIterationLimit, http.StatusUnprocessableEntity,
		"tool loop exceeded %d iterations without a final response", max)
}

// External wraps a provider or tool-server failure, keeping the cause.
func External(err error, format string, args ...any) *Error {
	return &Error{
		Code:    CodeExternalFailure,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Validation reports malformed input at the API boundary.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, http.StatusBadRequest, format, args...)
}

// As unwraps err to a *fault.Error if one is in the chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
