package models

import (
	"fmt"
	"strings"

	"github.com/foiacquire/muckrake/pkg/apierr"
)

// ReservedChars may not appear in project, category, tag, pipeline, or
// state names because the reference grammar gives them meaning.
const ReservedChars = ":./!{},"

// ReservedName is the one name a project may never take.
const ReservedName = "mkrk"

// ValidateName checks a user-supplied name against the reference grammar's
// reserved characters. kind is used only in the error message.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return apierr.New(apierr.CodeInvalidName, fmt.Sprintf("%s name must not be empty", kind))
	}
	if i := strings.IndexAny(name, ReservedChars); i >= 0 {
		return apierr.New(apierr.CodeInvalidName,
			fmt.Sprintf("%s name %q contains reserved character %q at offset %d", kind, name, name[i], i))
	}
	if strings.ContainsAny(name, " \t\n") {
		return apierr.New(apierr.CodeInvalidName, fmt.Sprintf("%s name %q must not contain whitespace", kind, name))
	}
	return nil
}

// ValidateProjectName is ValidateName plus the reserved project name.
func ValidateProjectName(name string) error {
	if err := ValidateName("project", name); err != nil {
		return err
	}
	if strings.EqualFold(name, ReservedName) {
		return apierr.New(apierr.CodeInvalidName, fmt.Sprintf("project name %q is reserved", name))
	}
	return nil
}
