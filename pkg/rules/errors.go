package rules

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// RecursionLimitError reports a causal chain cut off at the depth limit.
// Actions that ran before the cutoff stay applied.
type RecursionLimitError struct {
	Code    apierr.Code
	ChainID string
	Depth   int
	Kind    models.EventKind
	Rule    string
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("rule chain %s exceeded depth %d (%s event from rule %q)", e.ChainID, e.Depth, e.Kind, e.Rule)
}

// ErrorCode implements apierr.Coded.
func (e *RecursionLimitError) ErrorCode() apierr.Code { return e.Code }

// InvalidRuleError rejects a malformed rule definition.
type InvalidRuleError struct {
	Code   apierr.Code
	Rule   string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %q: %s", e.Rule, e.Reason)
}

// ErrorCode implements apierr.Coded.
func (e *InvalidRuleError) ErrorCode() apierr.Code { return e.Code }
