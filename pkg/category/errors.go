package category

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// LoosensProtectionError rejects a category definition that would leave a
// nested pattern weaker than the pattern it nests under.
type LoosensProtectionError struct {
	Code            apierr.Code
	Category        string
	Pattern         string
	Level           models.ProtectionLevel
	Ancestor        string
	AncestorPattern string
	AncestorLevel   models.ProtectionLevel
}

func (e *LoosensProtectionError) Error() string {
	return fmt.Sprintf("category %q (%s, %s) would be weaker than %q (%s, %s)",
		e.Category, e.Pattern, e.Level, e.Ancestor, e.AncestorPattern, e.AncestorLevel)
}

// ErrorCode implements apierr.Coded.
func (e *LoosensProtectionError) ErrorCode() apierr.Code { return e.Code }

// EditDeniedError is returned when a write targets a protected or
// immutable path.
type EditDeniedError struct {
	Code       apierr.Code
	Path       string
	Protection models.ProtectionLevel
	Category   string
}

func (e *EditDeniedError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("%s is %s (category %q)", e.Path, e.Protection, e.Category)
	}
	return fmt.Sprintf("%s is %s", e.Path, e.Protection)
}

// ErrorCode implements apierr.Coded.
func (e *EditDeniedError) ErrorCode() apierr.Code { return e.Code }
