package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/foiacquire/muckrake/pkg/apierr"
)

// AmbiguousToolError reports several equally specific tools. Candidates
// lets an interactive caller offer a choice.
type AmbiguousToolError struct {
	Code       apierr.Code
	Action     string
	Path       string
	Candidates []Candidate
}

func (e *AmbiguousToolError) Error() string {
	labels := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		labels[i] = c.Label
	}
	return fmt.Sprintf("several %q tools match %s: %s", e.Action, e.Path, strings.Join(labels, ", "))
}

// ErrorCode implements apierr.Coded.
func (e *AmbiguousToolError) ErrorCode() apierr.Code { return e.Code }

// NoToolFoundError reports that nothing provides an action for a file.
type NoToolFoundError struct {
	Code   apierr.Code
	Action string
	Path   string
}

func (e *NoToolFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("no tool %q found", e.Action)
	}
	return fmt.Sprintf("no tool %q found for %s", e.Action, e.Path)
}

// ErrorCode implements apierr.Coded.
func (e *NoToolFoundError) ErrorCode() apierr.Code { return e.Code }

// ToolTimeoutError reports a tool killed at its deadline.
type ToolTimeoutError struct {
	Code    apierr.Code
	Command string
	Timeout time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %q did not finish within %s and was terminated", e.Command, e.Timeout)
}

// ErrorCode implements apierr.Coded.
func (e *ToolTimeoutError) ErrorCode() apierr.Code { return e.Code }

// PrivacyError rejects a tool config that drops or replaces the proxy
// variables without confirmation.
type PrivacyError struct {
	Code      apierr.Code
	Action    string
	Variables []string
}

func (e *PrivacyError) Error() string {
	return fmt.Sprintf("tool %q overrides proxy variables %s; confirm to run it without the default proxy",
		e.Action, strings.Join(e.Variables, ", "))
}

// ErrorCode implements apierr.Coded.
func (e *PrivacyError) ErrorCode() apierr.Code { return e.Code }
