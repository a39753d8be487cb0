// Package category classifies project-relative paths against glob-based
// categories and derives their protection level.
//
// Categories form a flat list of (pattern, level) pairs. Nesting is a
// property of the patterns themselves (see Nests), so no tree is kept.
// A path's protection is the strictest level among every matching
// category; the most specific match is only used as a display label.
package category

import (
	"sort"
	"strings"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Engine is an immutable snapshot of the categories visible to a project.
type Engine struct {
	categories []models.Category
}

// NewEngine merges workspace and project categories. A project category
// replaces a workspace category with the same name.
func NewEngine(workspace, project []models.Category) *Engine {
	byName := make(map[string]models.Category, len(workspace)+len(project))
	for _, c := range workspace {
		byName[c.Name] = c
	}
	for _, c := range project {
		byName[c.Name] = c
	}
	cats := make([]models.Category, 0, len(byName))
	for _, c := range byName {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return &Engine{categories: cats}
}

// Categories returns the merged categories ordered by name.
func (e *Engine) Categories() []models.Category {
	out := make([]models.Category, len(e.categories))
	copy(out, e.categories)
	return out
}

// ByName looks up a category by name.
func (e *Engine) ByName(name string) (models.Category, bool) {
	for _, c := range e.categories {
		if c.Name == name {
			return c, true
		}
	}
	return models.Category{}, false
}

// Matches returns every category whose pattern matches relPath.
func (e *Engine) Matches(relPath string) []models.Category {
	var out []models.Category
	for _, c := range e.categories {
		if Match(c.Pattern, relPath) {
			out = append(out, c)
		}
	}
	return out
}

// Classify returns the effective protection of relPath: the strictest level
// among all matching categories, or editable when nothing matches.
func (e *Engine) Classify(relPath string) models.ProtectionLevel {
	level := models.ProtectionEditable
	for _, c := range e.Matches(relPath) {
		level = models.Strictest(level, c.Protection)
	}
	return level
}

// Display returns the most specific matching category: the one with the
// longest literal prefix, then the longest pattern, then the lowest name.
func (e *Engine) Display(relPath string) (models.Category, bool) {
	matches := e.Matches(relPath)
	if len(matches) == 0 {
		return models.Category{}, false
	}
	best := matches[0]
	for _, c := range matches[1:] {
		if moreSpecific(c, best) {
			best = c
		}
	}
	return best, true
}

func moreSpecific(a, b models.Category) bool {
	la, lb := len(LiteralPrefix(a.Pattern)), len(LiteralPrefix(b.Pattern))
	if la != lb {
		return la > lb
	}
	if len(a.Pattern) != len(b.Pattern) {
		return len(a.Pattern) > len(b.Pattern)
	}
	return a.Name < b.Name
}

// DisplayPath returns the directory path of the display category for
// relPath, or "" when the path is uncategorized.
func (e *Engine) DisplayPath(relPath string) string {
	c, ok := e.Display(relPath)
	if !ok {
		return ""
	}
	return LiteralPrefix(c.Pattern)
}

// IsCategory reports whether name addresses a category directory: either
// a category is named name, or some pattern lives under name/.
func (e *Engine) IsCategory(name string) bool {
	for _, c := range e.categories {
		if c.Name == name || c.Pattern == name+"/**" || strings.HasPrefix(c.Pattern, name+"/") {
			return true
		}
	}
	return false
}

// Contains reports whether relPath belongs to the named category. Names
// that are not categories are treated as directory paths.
func (e *Engine) Contains(name, relPath string) bool {
	if c, ok := e.ByName(name); ok {
		return Match(c.Pattern, relPath)
	}
	return within(relPath, strings.TrimSuffix(name, "/")) && relPath != name
}

// Names returns the names of every category matching relPath.
func (e *Engine) Names(relPath string) []string {
	matches := e.Matches(relPath)
	out := make([]string, len(matches))
	for i, c := range matches {
		out[i] = c.Name
	}
	return out
}

// ToolDirs returns the literal directories of categories of kind tools.
func (e *Engine) ToolDirs() []string {
	var out []string
	for _, c := range e.categories {
		if c.Kind == models.KindTools {
			out = append(out, LiteralPrefix(c.Pattern))
		}
	}
	return out
}

// CheckWritable rejects writes to paths whose protection is not editable.
func (e *Engine) CheckWritable(relPath string) error {
	level := e.Classify(relPath)
	if level == models.ProtectionEditable {
		return nil
	}
	err := &EditDeniedError{Code: apierr.CodeEditDenied, Path: relPath, Protection: level}
	if c, ok := e.Display(relPath); ok {
		err.Category = c.Name
	}
	return err
}
