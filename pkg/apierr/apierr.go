// Package apierr defines the machine-readable error codes shared by every
// muckrake component. Each component declares its own concrete error types
// and reports one of these codes through the Coded interface.
package apierr

import "errors"

// Code identifies a class of failure.
type Code string

const (
	CodeParse             Code = "PARSE_ERROR"
	CodeUnknownScope      Code = "UNKNOWN_SCOPE"
	CodeLoosensProtection Code = "LOOSENS_PROTECTION"
	CodeNotAttached       Code = "NOT_ATTACHED"
	CodeUnknownState      Code = "UNKNOWN_STATE"
	CodeAmbiguousTool     Code = "AMBIGUOUS_TOOL"
	CodeNoToolFound       Code = "NO_TOOL_FOUND"
	CodeToolTimeout       Code = "TOOL_TIMEOUT"
	CodeIntegrityMismatch Code = "INTEGRITY_MISMATCH"
	CodeMissing           Code = "MISSING"
	CodeRecursionLimit    Code = "RULE_RECURSION_LIMIT"
	CodeEditDenied        Code = "EDIT_DENIED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidName       Code = "INVALID_NAME"
	CodeInvalidPipeline   Code = "INVALID_PIPELINE"
	CodePrivacy           Code = "PRIVACY_UNCONFIRMED"
	CodeInvalidRule       Code = "INVALID_RULE"
)

// Coded is implemented by errors that carry a Code.
type Coded interface {
	error
	ErrorCode() Code
}

// Error is a generic coded error for failures that need no extra fields.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrorCode implements Coded.
func (e *Error) ErrorCode() Code { return e.Code }

// New returns an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf returns the code of the first Coded error in err's chain, or ""
// when there is none.
func CodeOf(err error) Code {
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
