package integrity

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/apierr"
)

// IntegrityMismatchError reports content that no longer matches its
// recorded hash.
type IntegrityMismatchError struct {
	Code     apierr.Code
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("%s has been modified (expected %s, actual %s)", e.Path, short(e.Expected), short(e.Actual))
}

// ErrorCode implements apierr.Coded.
func (e *IntegrityMismatchError) ErrorCode() apierr.Code { return e.Code }

// MissingError reports a tracked file absent from disk.
type MissingError struct {
	Code apierr.Code
	Path string
}

func (e *MissingError) Error() string { return fmt.Sprintf("%s is missing from disk", e.Path) }

// ErrorCode implements apierr.Coded.
func (e *MissingError) ErrorCode() apierr.Code { return e.Code }

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
