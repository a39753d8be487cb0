// Package tools finds and runs the external program configured for an
// action on a file.
//
// Configs are looked up along the file's scope chain: its display
// category path, each ancestor of that path, then the default scope. At
// each level the project database is asked before the workspace database,
// and an exact file-type match wins over the "*" wildcard. The first level
// with a hit supplies at most one scope candidate; tag-based configs for
// the file's tags add theirs. One candidate resolves, several are
// ambiguous, none falls back to executables in tools-kind category
// directories.
package tools

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Source is a database holding tool configs.
type Source interface {
	ToolConfigsForScope(action string, scope *string, fileType string) ([]models.ToolConfig, error)
	ToolConfigsForTag(action, tag, fileType string) ([]models.ToolConfig, error)
}

// Origin says where a candidate came from.
type Origin string

const (
	OriginProject    Origin = "project"
	OriginWorkspace  Origin = "workspace"
	OriginConvention Origin = "convention"
	// OriginDefault is the $PAGER / $EDITOR fallback for view and edit.
	OriginDefault Origin = "default"
)

// Candidate is one command that could serve an action.
type Candidate struct {
	Label   string
	Origin  Origin
	Command string
	Env     models.EnvOverrides
	Quiet   bool
	Config  *models.ToolConfig
}

// ConventionDir is a tools-kind category: files under Root matching
// Pattern are runnable by base name.
type ConventionDir struct {
	Root    string
	Pattern string
}

// Lookup describes what to resolve.
type Lookup struct {
	Action string
	// Path is only used in error messages.
	Path        string
	FileType    string
	Scopes      []*string
	Tags        []string
	Conventions []ConventionDir
}

// ScopeChain returns the lookup order for a file whose display category
// lives at displayPath: the path itself, each ancestor, then nil for the
// default scope.
func ScopeChain(displayPath string) []*string {
	var chain []*string
	p := strings.Trim(displayPath, "/")
	for p != "" && p != "." {
		s := p
		chain = append(chain, &s)
		p = path.Dir(p)
	}
	return append(chain, nil)
}

// Resolver looks tools up in a project database and an optional workspace
// database.
type Resolver struct {
	project   Source
	workspace Source
	logger    *slog.Logger
}

// NewResolver returns a resolver. workspace may be nil.
func NewResolver(project, workspace Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{project: project, workspace: workspace, logger: logger}
}

// Resolve returns the single tool for l. Several candidates yield an
// AmbiguousToolError carrying all of them; none after the filesystem
// fallback yields a NoToolFoundError.
func (r *Resolver) Resolve(l Lookup) (Candidate, error) {
	if err := validAction(l.Action); err != nil {
		return Candidate{}, err
	}
	cands, err := r.Candidates(l)
	if err != nil {
		return Candidate{}, err
	}
	switch len(cands) {
	case 1:
		return cands[0], nil
	case 0:
	default:
		return Candidate{}, &AmbiguousToolError{Code: apierr.CodeAmbiguousTool, Action: l.Action, Path: l.Path, Candidates: cands}
	}

	c, ok, err := discover(l.Action, l.Conventions)
	if err != nil {
		return Candidate{}, err
	}
	if !ok {
		return Candidate{}, &NoToolFoundError{Code: apierr.CodeNoToolFound, Action: l.Action, Path: l.Path}
	}
	r.logger.Debug("tool found by convention", "action", l.Action, "command", c.Command)
	return c, nil
}

// Candidates returns the scope and tag candidates for l without the
// filesystem fallback.
func (r *Resolver) Candidates(l Lookup) ([]Candidate, error) {
	scoped, err := r.scopeCandidates(l)
	if err != nil {
		return nil, err
	}
	tagged, err := r.tagCandidates(l)
	if err != nil {
		return nil, err
	}
	all := append(scoped, tagged...)
	return lo.UniqBy(all, func(c Candidate) string { return c.Command }), nil
}

func (r *Resolver) scopeCandidates(l Lookup) ([]Candidate, error) {
	scopes := l.Scopes
	if len(scopes) == 0 {
		scopes = []*string{nil}
	}
	types := fileTypes(l.FileType)

	// The project's whole chain, default scope included, is exhausted
	// before the workspace is consulted.
	for _, src := range r.sources() {
		for _, scope := range scopes {
			for _, ft := range types {
				rows, err := src.db.ToolConfigsForScope(l.Action, scope, ft)
				if err != nil {
					return nil, err
				}
				if len(rows) > 0 {
					return toCandidates(rows, src.origin), nil
				}
			}
		}
	}
	return nil, nil
}

func (r *Resolver) tagCandidates(l Lookup) ([]Candidate, error) {
	if len(l.Tags) == 0 {
		return nil, nil
	}
	tags := append([]string(nil), l.Tags...)
	sort.Strings(tags)
	ft := l.FileType
	if ft == "" {
		ft = models.AnyFileType
	}

	var out []Candidate
	covered := make(map[string]bool)
	for _, src := range r.sources() {
		for _, tag := range tags {
			if covered[tag] {
				continue
			}
			rows, err := src.db.ToolConfigsForTag(l.Action, tag, ft)
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 {
				covered[tag] = true
				out = append(out, toCandidates(rows, src.origin)...)
			}
		}
	}
	return out, nil
}

type origin struct {
	db     Source
	origin Origin
}

func (r *Resolver) sources() []origin {
	out := []origin{{db: r.project, origin: OriginProject}}
	if r.workspace != nil {
		out = append(out, origin{db: r.workspace, origin: OriginWorkspace})
	}
	return out
}

func fileTypes(ext string) []string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || ext == models.AnyFileType {
		return []string{models.AnyFileType}
	}
	return []string{ext, models.AnyFileType}
}

func toCandidates(rows []models.ToolConfig, o Origin) []Candidate {
	out := make([]Candidate, len(rows))
	for i := range rows {
		row := rows[i]
		out[i] = Candidate{
			Label:   fmt.Sprintf("%s:%s (%s)", o, row.ScopeLabel(), row.FileType),
			Origin:  o,
			Command: row.Command,
			Env:     row.Env,
			Quiet:   row.Quiet,
			Config:  &row,
		}
	}
	return out
}

func validAction(action string) error {
	if action == "" || strings.Contains(action, "/") || strings.Contains(action, "..") {
		return apierr.New(apierr.CodeInvalidName, fmt.Sprintf("invalid tool action %q", action))
	}
	return nil
}

// discover finds an executable named action, with or without extension,
// under the convention directories. The lexically first match wins.
func discover(action string, dirs []ConventionDir) (Candidate, bool, error) {
	var found []string
	for _, d := range dirs {
		fsys := os.DirFS(d.Root)
		matches, err := doublestar.Glob(fsys, d.Pattern, doublestar.WithFilesOnly())
		if err != nil {
			return Candidate{}, false, fmt.Errorf("scan tool directory %s: %w", d.Root, err)
		}
		for _, m := range matches {
			base := path.Base(m)
			if base != action && strings.TrimSuffix(base, path.Ext(base)) != action {
				continue
			}
			info, err := fs.Stat(fsys, m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			found = append(found, filepath.Join(d.Root, filepath.FromSlash(m)))
		}
	}
	if len(found) == 0 {
		return Candidate{}, false, nil
	}
	sort.Strings(found)
	return Candidate{
		Label:   "convention:" + found[0],
		Origin:  OriginConvention,
		Command: found[0],
		Quiet:   true,
	}, true, nil
}
