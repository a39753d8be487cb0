package pipeline

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/apierr"
)

// NotAttachedError reports a sign or state query against a pipeline that
// is not bound to any of the file's categories or tags.
type NotAttachedError struct {
	Code     apierr.Code
	Pipeline string
	Path     string
}

func (e *NotAttachedError) Error() string {
	return fmt.Sprintf("pipeline %q is not attached to %s", e.Pipeline, e.Path)
}

// ErrorCode implements apierr.Coded.
func (e *NotAttachedError) ErrorCode() apierr.Code { return e.Code }

// UnknownStateError reports a state name the pipeline does not define.
type UnknownStateError struct {
	Code     apierr.Code
	Pipeline string
	State    string
	States   []string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("pipeline %q has no state %q (states: %v)", e.Pipeline, e.State, e.States)
}

// ErrorCode implements apierr.Coded.
func (e *UnknownStateError) ErrorCode() apierr.Code { return e.Code }

// InvalidPipelineError rejects a malformed pipeline definition.
type InvalidPipelineError struct {
	Code     apierr.Code
	Pipeline string
	Reason   string
}

func (e *InvalidPipelineError) Error() string {
	return fmt.Sprintf("invalid pipeline %q: %s", e.Pipeline, e.Reason)
}

// ErrorCode implements apierr.Coded.
func (e *InvalidPipelineError) ErrorCode() apierr.Code { return e.Code }

func invalid(name, format string, args ...any) *InvalidPipelineError {
	return &InvalidPipelineError{Code: apierr.CodeInvalidPipeline, Pipeline: name, Reason: fmt.Sprintf(format, args...)}
}

func unknownPipeline(name string) error {
	return apierr.New(apierr.CodeUnknownScope, fmt.Sprintf("unknown pipeline %q", name))
}
