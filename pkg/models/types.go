// Package models holds the persisted record types shared by project and
// workspace databases, along with the string-typed enums they use.
package models

import (
	"fmt"
	"strings"
)

// ProtectionLevel governs whether a file may be modified.
type ProtectionLevel string

const (
	ProtectionEditable  ProtectionLevel = "editable"
	ProtectionProtected ProtectionLevel = "protected"
	ProtectionImmutable ProtectionLevel = "immutable"
)

// Rank orders protection levels: editable < protected < immutable.
// Unknown levels rank as editable.
func (p ProtectionLevel) Rank() int {
	switch p {
	case ProtectionProtected:
		return 1
	case ProtectionImmutable:
		return 2
	default:
		return 0
	}
}

// Weaker reports whether p is strictly less strict than other.
func (p ProtectionLevel) Weaker(other ProtectionLevel) bool {
	return p.Rank() < other.Rank()
}

// Strictest returns the strictest of the given levels, or editable when
// none are given.
func Strictest(levels ...ProtectionLevel) ProtectionLevel {
	out := ProtectionEditable
	for _, l := range levels {
		if l.Rank() > out.Rank() {
			out = l
		}
	}
	return out
}

// ParseProtectionLevel validates a protection level name.
func ParseProtectionLevel(s string) (ProtectionLevel, error) {
	switch p := ProtectionLevel(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtectionEditable, ProtectionProtected, ProtectionImmutable:
		return p, nil
	case "":
		return ProtectionEditable, nil
	default:
		return "", fmt.Errorf("invalid protection level %q (expected editable, protected, or immutable)", s)
	}
}

// CategoryKind distinguishes ordinary file categories from directories
// holding tool executables.
type CategoryKind string

const (
	KindFiles CategoryKind = "files"
	KindTools CategoryKind = "tools"
)

// EventKind is the kind of mutation that triggered a rule evaluation.
type EventKind string

const (
	EventIngest         EventKind = "ingest"
	EventTag            EventKind = "tag"
	EventUntag          EventKind = "untag"
	EventCategorize     EventKind = "categorize"
	EventSign           EventKind = "sign"
	EventStateChange    EventKind = "state_change"
	EventProjectEnter   EventKind = "project_enter"
	EventWorkspaceEnter EventKind = "workspace_enter"
)

// EventKinds lists every trigger kind a rule may subscribe to.
var EventKinds = []EventKind{
	EventIngest, EventTag, EventUntag, EventCategorize,
	EventSign, EventStateChange, EventProjectEnter, EventWorkspaceEnter,
}

// ParseEventKind accepts both underscore and dash spellings.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range EventKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown trigger event %q", s)
}

// ActionKind is what a rule does when it fires.
type ActionKind string

const (
	ActionRunTool        ActionKind = "run_tool"
	ActionAddTag         ActionKind = "add_tag"
	ActionRemoveTag      ActionKind = "remove_tag"
	ActionSign           ActionKind = "sign"
	ActionUnsign         ActionKind = "unsign"
	ActionAttachPipeline ActionKind = "attach_pipeline"
	ActionDetachPipeline ActionKind = "detach_pipeline"
)

// ActionKinds lists every supported rule action.
var ActionKinds = []ActionKind{
	ActionRunTool, ActionAddTag, ActionRemoveTag, ActionSign,
	ActionUnsign, ActionAttachPipeline, ActionDetachPipeline,
}

// ParseActionKind accepts both underscore and dash spellings.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range ActionKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown rule action %q", s)
}

// ScopeType says what a pipeline is attached to.
type ScopeType string

const (
	ScopeCategory ScopeType = "category"
	ScopeTag      ScopeType = "tag"
)

// IngestMethod records how a file entered the project.
type IngestMethod string

const (
	MethodIngest IngestMethod = "ingest"
	MethodCopy   IngestMethod = "copy"
	MethodInbox  IngestMethod = "inbox"
)
