package category

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Validate checks a new or edited category against the categories already
// visible to it. Protection may only tighten down the tree: the candidate
// may not be weaker than any pattern it nests under, nor stronger than any
// existing pattern nested under it. A category with the candidate's name is
// treated as the one being replaced.
func Validate(existing []models.Category, candidate models.Category) error {
	if err := models.ValidateName("category", candidate.Name); err != nil {
		return err
	}
	if !ValidPattern(candidate.Pattern) {
		return apierr.New(apierr.CodeInvalidName, fmt.Sprintf("invalid category pattern %q", candidate.Pattern))
	}
	if _, err := models.ParseProtectionLevel(string(candidate.Protection)); err != nil {
		return err
	}

	for _, other := range existing {
		if other.Name == candidate.Name {
			continue
		}
		if other.Pattern == candidate.Pattern {
			return apierr.New(apierr.CodeInvalidName,
				fmt.Sprintf("pattern %q is already used by category %q", candidate.Pattern, other.Name))
		}
		if Nests(other.Pattern, candidate.Pattern) && candidate.Protection.Weaker(other.Protection) {
			return &LoosensProtectionError{
				Code:            apierr.CodeLoosensProtection,
				Category:        candidate.Name,
				Pattern:         candidate.Pattern,
				Level:           candidate.Protection,
				Ancestor:        other.Name,
				AncestorPattern: other.Pattern,
				AncestorLevel:   other.Protection,
			}
		}
		if Nests(candidate.Pattern, other.Pattern) && other.Protection.Weaker(candidate.Protection) {
			return &LoosensProtectionError{
				Code:            apierr.CodeLoosensProtection,
				Category:        other.Name,
				Pattern:         other.Pattern,
				Level:           other.Protection,
				Ancestor:        candidate.Name,
				AncestorPattern: candidate.Pattern,
				AncestorLevel:   candidate.Protection,
			}
		}
	}
	return nil
}
