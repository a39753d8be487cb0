package rules

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Validate checks that a rule names a known trigger and action and carries
// the parameters its action needs.
func Validate(r models.Rule) error {
	if err := models.ValidateName("rule", r.Name); err != nil {
		return err
	}
	if _, err := models.ParseEventKind(string(r.Trigger)); err != nil {
		return invalidRule(r.Name, "%v", err)
	}
	if _, err := models.ParseActionKind(string(r.Action)); err != nil {
		return invalidRule(r.Name, "%v", err)
	}

	p := r.Params
	switch r.Action {
	case models.ActionRunTool:
		if p.Tool == "" {
			return invalidRule(r.Name, "run_tool needs a tool action name")
		}
	case models.ActionAddTag, models.ActionRemoveTag:
		if p.Tag == "" {
			return invalidRule(r.Name, "%s needs a tag", r.Action)
		}
		if err := models.ValidateName("tag", p.Tag); err != nil {
			return err
		}
	case models.ActionSign, models.ActionUnsign:
		if p.Pipeline == "" || p.State == "" {
			return invalidRule(r.Name, "%s needs a pipeline and a state", r.Action)
		}
	case models.ActionAttachPipeline, models.ActionDetachPipeline:
		if p.Pipeline == "" {
			return invalidRule(r.Name, "%s needs a pipeline", r.Action)
		}
		if p.Category != "" && p.Tag != "" {
			return invalidRule(r.Name, "%s takes a category or a tag, not both", r.Action)
		}
	}
	return nil
}

func invalidRule(name, format string, args ...any) *InvalidRuleError {
	return &InvalidRuleError{Code: apierr.CodeInvalidRule, Rule: name, Reason: fmt.Sprintf(format, args...)}
}
