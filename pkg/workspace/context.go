package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/foiacquire/muckrake/pkg/cache"
	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/reference"
	"github.com/foiacquire/muckrake/pkg/store"
)

// Workspace is an open workspace database.
type Workspace struct {
	Root  string
	Store *store.WorkspaceStore
}

// Context is the set of databases reachable from a working directory. It
// opens member projects lazily and implements reference.Source.
type Context struct {
	project   *reference.ProjectHandle
	workspace *Workspace
	cacheCfg  *cache.CacheConfig
	logger    *slog.Logger

	mu       sync.Mutex
	byName   map[string]*reference.ProjectHandle
	byRoot   map[string]*reference.ProjectHandle
	services map[*reference.ProjectHandle]*category.Service
	dbs      []*gorm.DB
}

var _ reference.Source = (*Context)(nil)

// Load discovers the context around cwd and opens it.
func Load(cwd string, cacheCfg *cache.CacheConfig, logger *slog.Logger) (*Context, error) {
	loc, err := Discover(cwd)
	if err != nil {
		return nil, err
	}
	return Open(loc, cacheCfg, logger)
}

// Open opens the databases named by loc.
func Open(loc Location, cacheCfg *cache.CacheConfig, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheCfg == nil {
		cacheCfg = cache.DefaultCacheConfig()
	}
	c := &Context{
		cacheCfg: cacheCfg,
		logger:   logger,
		byName:   make(map[string]*reference.ProjectHandle),
		byRoot:   make(map[string]*reference.ProjectHandle),
		services: make(map[*reference.ProjectHandle]*category.Service),
	}

	if loc.WorkspaceRoot != "" {
		db, err := store.Open(filepath.Join(loc.WorkspaceRoot, WorkspaceMarker))
		if err != nil {
			return nil, err
		}
		c.dbs = append(c.dbs, db)
		ws := store.NewWorkspaceStore(db)
		if err := ws.AutoMigrate(); err != nil {
			_ = c.Close()
			return nil, err
		}
		c.workspace = &Workspace{Root: loc.WorkspaceRoot, Store: ws}
	}

	if loc.ProjectRoot != "" {
		h, err := c.openProject(loc.ProjectRoot, "")
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.project = h
	}

	logger.Debug("context opened", "project", loc.ProjectRoot, "workspace", loc.WorkspaceRoot)
	return c, nil
}

// openProject opens the project database under root. An empty name is
// taken from the workspace registry, falling back to the project's own.
func (c *Context) openProject(root, name string) (*reference.ProjectHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.byRoot[root]; ok {
		return h, nil
	}

	dbPath := filepath.Join(root, ProjectMarker)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open project at %s: %w", root, err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	c.dbs = append(c.dbs, db)

	ps := store.NewProjectStore(db)
	if err := ps.AutoMigrate(); err != nil {
		return nil, err
	}
	meta, err := ps.Meta()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("project at %s is not initialized", root)
	}

	if name == "" {
		name = meta.Name
		if c.workspace != nil {
			if rel, ok := c.relToWorkspace(root); ok {
				ref, err := c.workspace.Store.ProjectByPath(rel)
				if err != nil {
					return nil, err
				}
				if ref != nil {
					name = ref.Name
				}
			}
		}
	}

	var wsCats category.Store
	if c.workspace != nil {
		wsCats = c.workspace.Store
	}
	svc, err := category.NewService(ps, wsCats, c.cacheCfg, c.logger.With("project", name))
	if err != nil {
		return nil, err
	}

	h := &reference.ProjectHandle{
		ID:         meta.ID,
		Name:       name,
		Root:       root,
		Store:      ps,
		Categories: svc.Engine(),
	}
	c.byRoot[root] = h
	c.byName[name] = h
	c.services[h] = svc
	return h, nil
}

func (c *Context) relToWorkspace(dir string) (string, bool) {
	rel, err := filepath.Rel(c.workspace.Root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (c *Context) projectRoot(ref *models.ProjectRef) string {
	if filepath.IsAbs(ref.Path) {
		return ref.Path
	}
	return filepath.Join(c.workspace.Root, filepath.FromSlash(ref.Path))
}

// Current returns the project the context was opened in, or nil in
// workspace context.
func (c *Context) Current() *reference.ProjectHandle { return c.project }

// HasWorkspace reports whether a workspace is open.
func (c *Context) HasWorkspace() bool { return c.workspace != nil }

// Workspace returns the open workspace, or nil.
func (c *Context) Workspace() *Workspace { return c.workspace }

// Project opens a registered project by name. Returns nil, nil if the
// workspace has no such project.
func (c *Context) Project(name string) (*reference.ProjectHandle, error) {
	if c.workspace == nil {
		return nil, nil
	}
	c.mu.Lock()
	h, ok := c.byName[name]
	c.mu.Unlock()
	if ok {
		return h, nil
	}

	ref, err := c.workspace.Store.ProjectByName(name)
	if err != nil || ref == nil {
		return nil, err
	}
	return c.openProject(c.projectRoot(ref), ref.Name)
}

// Projects opens every registered project, ordered by name. Projects whose
// directory has disappeared are skipped with a warning.
func (c *Context) Projects() ([]*reference.ProjectHandle, error) {
	if c.workspace == nil {
		if c.project != nil {
			return []*reference.ProjectHandle{c.project}, nil
		}
		return nil, nil
	}
	refs, err := c.workspace.Store.Projects()
	if err != nil {
		return nil, err
	}
	out := make([]*reference.ProjectHandle, 0, len(refs))
	for _, ref := range refs {
		h, err := c.Project(ref.Name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				c.logger.Warn("registered project is missing", "project", ref.Name, "path", ref.Path)
				continue
			}
			return nil, err
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Categories returns the category service for an open project.
func (c *Context) Categories(h *reference.ProjectHandle) *category.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.services[h]
}

// ReloadCategories refreshes every open project's category snapshot. Call
// it after a category is defined or removed.
func (c *Context) ReloadCategories() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, svc := range c.services {
		if err := svc.Reload(); err != nil {
			return fmt.Errorf("reload categories for %s: %w", h.Name, err)
		}
		h.Categories = svc.Engine()
	}
	return nil
}

// dirSetting reads a workspace setting resolved to an absolute directory.
// ok is false when there is no workspace or the setting is unset.
func (c *Context) dirSetting(key string) (string, bool, error) {
	if c.workspace == nil {
		return "", false, nil
	}
	v, ok, err := c.workspace.Store.Setting(key)
	if err != nil || !ok {
		return "", false, err
	}
	return filepath.Join(c.workspace.Root, filepath.FromSlash(v)), true, nil
}

// InboxDir returns the workspace inbox directory, if one is configured.
func (c *Context) InboxDir() (string, bool, error) {
	return c.dirSetting(store.SettingInboxDir)
}

// ProjectsDir returns the directory new workspace projects are created in.
func (c *Context) ProjectsDir() (string, bool, error) {
	return c.dirSetting(store.SettingProjectsDir)
}

// RegisterProject adds the initialized project at dir to the workspace
// under name. dir must lie inside the workspace.
func (c *Context) RegisterProject(name, dir string) (*models.ProjectRef, error) {
	if c.workspace == nil {
		return nil, errors.New("register project: no workspace")
	}
	if err := models.ValidateProjectName(name); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	rel, ok := c.relToWorkspace(abs)
	if !ok || rel == "." {
		return nil, fmt.Errorf("register project: %s is not inside workspace %s", abs, c.workspace.Root)
	}
	h, err := c.openProject(abs, name)
	if err != nil {
		return nil, err
	}
	ref := &models.ProjectRef{ProjectID: h.ID, Name: name, Path: rel}
	if err := c.workspace.Store.RegisterProject(ref); err != nil {
		return nil, err
	}
	c.logger.Info("project registered", "project", name, "path", rel)
	return ref, nil
}

// Close closes every database the context opened.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, db := range c.dbs {
		if err := store.Close(db); err != nil {
			errs = append(errs, err)
		}
	}
	c.dbs = nil
	return errors.Join(errs...)
}
