package reference

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/apierr"
)

// ParseError reports malformed reference syntax.
type ParseError struct {
	Code    apierr.Code
	Input   string
	Offset  int
	Char    string // offending character, empty at end of input
	Message string
}

func (e *ParseError) Error() string {
	if e.Char == "" {
		return fmt.Sprintf("invalid reference %q: unexpected end of input: %s", e.Input, e.Message)
	}
	return fmt.Sprintf("invalid reference %q: unexpected %q at offset %d: %s", e.Input, e.Char, e.Offset, e.Message)
}

// ErrorCode implements apierr.Coded.
func (e *ParseError) ErrorCode() apierr.Code { return e.Code }

// UnknownScopeError reports a project or category name that resolves to
// nothing.
type UnknownScopeError struct {
	Code  apierr.Code
	Kind  string // project, category, workspace
	Name  string
	Input string
}

func (e *UnknownScopeError) Error() string {
	if e.Kind == "workspace" {
		return fmt.Sprintf("reference %q needs a workspace, but none was found", e.Input)
	}
	return fmt.Sprintf("reference %q: unknown %s %q", e.Input, e.Kind, e.Name)
}

// ErrorCode implements apierr.Coded.
func (e *UnknownScopeError) ErrorCode() apierr.Code { return e.Code }

// NotFoundError reports a bare path that matches no tracked file.
type NotFoundError struct {
	Code  apierr.Code
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no tracked file matches %q", e.Input)
}

// ErrorCode implements apierr.Coded.
func (e *NotFoundError) ErrorCode() apierr.Code { return e.Code }

func unknownScope(kind, name, input string) *UnknownScopeError {
	return &UnknownScopeError{Code: apierr.CodeUnknownScope, Kind: kind, Name: name, Input: input}
}
