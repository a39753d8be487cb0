package reference

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/store"
)

// ProjectHandle is an open project as seen by the resolver.
type ProjectHandle struct {
	ID         string
	Name       string
	Root       string
	Store      *store.ProjectStore
	Categories *category.Engine
}

// Source supplies the projects a reference may address.
type Source interface {
	// Current returns the project the caller is in, or nil in workspace
	// context.
	Current() *ProjectHandle
	HasWorkspace() bool
	// Project opens a registered project by name. Returns nil, nil if the
	// workspace has no such project.
	Project(name string) (*ProjectHandle, error)
	Projects() ([]*ProjectHandle, error)
}

// ResolvedFile is a tracked file together with the project that owns it.
type ResolvedFile struct {
	Project *ProjectHandle
	File    models.File
}

// RelPath returns the file's project-relative path.
func (r ResolvedFile) RelPath() string { return r.File.Path }

// AbsPath returns the file's location on disk.
func (r ResolvedFile) AbsPath() string { return filepath.Join(r.Project.Root, filepath.FromSlash(r.File.Path)) }

// Collection is the deduplicated result of resolving references, ordered
// by project name then path.
type Collection struct {
	Files []ResolvedFile
	// TagScoped is set when any reference carried a tag filter.
	TagScoped bool
}

// Len returns the number of files.
func (c *Collection) Len() int { return len(c.Files) }

// Empty reports whether nothing resolved.
func (c *Collection) Empty() bool { return len(c.Files) == 0 }

type fileKey struct {
	project string
	file    uint
}

// Resolver evaluates references against a Source.
type Resolver struct {
	src    Source
	logger *slog.Logger
}

// NewResolver returns a resolver over src.
func NewResolver(src Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{src: src, logger: logger}
}

// Resolve parses and evaluates refs, returning the union of their files.
// With a single reference, an unknown scope or unmatched bare path is an
// error. With several, such references contribute nothing. Parse errors
// are always returned.
func (r *Resolver) Resolve(refs ...string) (*Collection, error) {
	parsed := make([]Reference, 0, len(refs))
	for _, raw := range refs {
		ref, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, ref)
	}

	coll := &Collection{}
	seen := mapset.NewThreadUnsafeSet[fileKey]()
	add := func(files []ResolvedFile) {
		for _, f := range files {
			if seen.Add(fileKey{project: f.Project.ID, file: f.File.ID}) {
				coll.Files = append(coll.Files, f)
			}
		}
	}

	for _, ref := range parsed {
		files, err := r.resolveOne(ref)
		if err != nil {
			if len(parsed) > 1 && soft(err) {
				r.logger.Debug("reference resolved to nothing", "ref", ref.Raw, "error", err)
				continue
			}
			return nil, err
		}
		if ref.Structured != nil && ref.Structured.HasTagFilter() {
			coll.TagScoped = true
		}
		add(files)
	}

	sort.Slice(coll.Files, func(i, j int) bool {
		a, b := coll.Files[i], coll.Files[j]
		if a.Project.Name != b.Project.Name {
			return a.Project.Name < b.Project.Name
		}
		return a.File.Path < b.File.Path
	})
	return coll, nil
}

// soft reports whether err only means "this reference matched nothing".
func soft(err error) bool {
	return apierr.Is(err, apierr.CodeUnknownScope) || apierr.Is(err, apierr.CodeNotFound)
}

func (r *Resolver) resolveOne(ref Reference) ([]ResolvedFile, error) {
	if ref.IsBare() {
		return r.resolveBare(ref)
	}

	expanded := ref.Structured.Expand()
	var (
		out      []ResolvedFile
		firstErr error
		resolved int
	)
	for _, e := range expanded {
		files, err := r.resolveExpanded(ref.Raw, e)
		if err != nil {
			if !soft(err) {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resolved++
		out = append(out, files...)
	}
	if resolved == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (r *Resolver) resolveBare(ref Reference) ([]ResolvedFile, error) {
	cur := r.src.Current()
	if cur == nil {
		return nil, &NotFoundError{Code: apierr.CodeNotFound, Input: ref.Raw}
	}
	rel := path.Clean(ref.Bare)

	f, err := cur.Store.FileByPath(rel)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return []ResolvedFile{{Project: cur, File: *f}}, nil
	}

	named, err := cur.Store.FilesByName(path.Base(rel))
	if err != nil {
		return nil, err
	}
	if len(named) == 0 {
		return nil, &NotFoundError{Code: apierr.CodeNotFound, Input: ref.Raw}
	}
	out := make([]ResolvedFile, len(named))
	for i, f := range named {
		out[i] = ResolvedFile{Project: cur, File: f}
	}
	return out, nil
}

func (r *Resolver) resolveExpanded(raw string, e Expanded) ([]ResolvedFile, error) {
	cur := r.src.Current()

	var scoped []ResolvedFile
	switch {
	case e.Workspace || cur == nil:
		if !r.src.HasWorkspace() {
			return nil, unknownScope("workspace", "", raw)
		}
		files, err := r.workspaceScope(raw, e.Chain)
		if err != nil {
			return nil, err
		}
		scoped = files

	case len(e.Chain) == 0:
		files, err := scopeFiles(cur, nil, raw)
		if err != nil {
			return nil, err
		}
		scoped = files

	case cur.Categories.IsCategory(e.Chain[0]):
		files, err := scopeFiles(cur, e.Chain, raw)
		if err != nil {
			return nil, err
		}
		scoped = files

	default:
		p, err := r.workspaceProject(e.Chain[0])
		if err != nil {
			return nil, err
		}
		if p != nil {
			files, err := scopeFiles(p, e.Chain[1:], raw)
			if err != nil {
				return nil, err
			}
			scoped = files
			break
		}
		// Untracked directories without a category are still addressable
		// as long as something lives under them.
		files, err := scopeFiles(cur, e.Chain, raw)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, unknownScope("category", e.Chain[0], raw)
		}
		scoped = files
	}

	filtered, err := filterTags(scoped, e.TagGroups)
	if err != nil {
		return nil, err
	}
	return filterGlob(filtered, e)
}

func (r *Resolver) workspaceProject(name string) (*ProjectHandle, error) {
	if !r.src.HasWorkspace() {
		return nil, nil
	}
	return r.src.Project(name)
}

func (r *Resolver) workspaceScope(raw string, chain []string) ([]ResolvedFile, error) {
	if len(chain) == 0 {
		projects, err := r.src.Projects()
		if err != nil {
			return nil, err
		}
		var out []ResolvedFile
		for _, p := range projects {
			files, err := scopeFiles(p, nil, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, files...)
		}
		return out, nil
	}

	p, err := r.src.Project(chain[0])
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, unknownScope("project", chain[0], raw)
	}
	return scopeFiles(p, chain[1:], raw)
}

// scopeFiles returns the files of p under a category chain. The first
// level may name a category or a directory; later levels descend into
// sub-directories of it.
func scopeFiles(p *ProjectHandle, chain []string, raw string) ([]ResolvedFile, error) {
	if len(chain) == 0 {
		files, err := p.Store.ListFiles("")
		if err != nil {
			return nil, err
		}
		return wrap(p, files), nil
	}

	first, hasCat := p.Categories.ByName(chain[0])
	if hasCat && len(chain) == 1 {
		files, err := p.Store.ListFiles(category.LiteralPrefix(first.Pattern))
		if err != nil {
			return nil, err
		}
		var out []models.File
		for _, f := range files {
			if category.Match(first.Pattern, f.Path) {
				out = append(out, f)
			}
		}
		return wrap(p, out), nil
	}

	base := chain[0]
	if hasCat {
		base = category.LiteralPrefix(first.Pattern)
	}
	prefix := strings.Trim(path.Join(append([]string{base}, chain[1:]...)...), "/")
	files, err := p.Store.ListFiles(prefix)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 && len(chain) > 1 && !p.Categories.IsCategory(prefix) {
		return nil, unknownScope("category", strings.Join(chain, "."), raw)
	}
	return wrap(p, files), nil
}

func wrap(p *ProjectHandle, files []models.File) []ResolvedFile {
	out := make([]ResolvedFile, len(files))
	for i, f := range files {
		out[i] = ResolvedFile{Project: p, File: f}
	}
	return out
}

// filterTags keeps files that carry at least one tag of every group.
func filterTags(files []ResolvedFile, groups [][]string) ([]ResolvedFile, error) {
	if len(groups) == 0 || len(files) == 0 {
		return files, nil
	}

	byProject := make(map[*ProjectHandle][]uint)
	for _, f := range files {
		byProject[f.Project] = append(byProject[f.Project], f.File.ID)
	}
	labels := make(map[*ProjectHandle]map[uint][]string, len(byProject))
	for p, ids := range byProject {
		m, err := p.Store.TagLabelsByFile(ids)
		if err != nil {
			return nil, fmt.Errorf("load tags for project %s: %w", p.Name, err)
		}
		labels[p] = m
	}

	var out []ResolvedFile
	for _, f := range files {
		have := mapset.NewThreadUnsafeSet(labels[f.Project][f.File.ID]...)
		if matchesGroups(have, groups) {
			out = append(out, f)
		}
	}
	return out, nil
}

func matchesGroups(have mapset.Set[string], groups [][]string) bool {
	for _, g := range groups {
		if !have.ContainsAny(g...) {
			return false
		}
	}
	return true
}

// filterGlob keeps files whose base name, or relative path, matches the
// glob. An empty glob after "/" matches everything.
func filterGlob(files []ResolvedFile, e Expanded) ([]ResolvedFile, error) {
	if !e.HasGlob || e.Glob == "" {
		return files, nil
	}
	if !doublestar.ValidatePattern(e.Glob) {
		return nil, &ParseError{
			Code:    apierr.CodeParse,
			Input:   e.String(),
			Offset:  len(e.String()) - len(e.Glob),
			Char:    e.Glob[:1],
			Message: "invalid glob pattern",
		}
	}
	var out []ResolvedFile
	for _, f := range files {
		if globMatch(e.Glob, f.File) {
			out = append(out, f)
		}
	}
	return out, nil
}

func globMatch(pattern string, f models.File) bool {
	if ok, _ := doublestar.Match(pattern, f.Name); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern, f.Path)
	return ok
}

// IsUnknownScope reports whether err is an UnknownScopeError.
func IsUnknownScope(err error) bool {
	var u *UnknownScopeError
	return errors.As(err, &u)
}
