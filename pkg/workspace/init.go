package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/store"
)

// DefaultCategories seed a new workspace, or a project created outside one.
var DefaultCategories = []models.Category{
	{Name: "evidence", Pattern: "evidence/**", Kind: models.KindFiles, Protection: models.ProtectionImmutable, Description: "Evidence files"},
	{Name: "sources", Pattern: "sources/**", Kind: models.KindFiles, Protection: models.ProtectionImmutable, Description: "Source materials"},
	{Name: "analysis", Pattern: "analysis/**", Kind: models.KindFiles, Protection: models.ProtectionProtected, Description: "Analysis documents"},
	{Name: "notes", Pattern: "notes/**", Kind: models.KindFiles, Protection: models.ProtectionEditable, Description: "Working notes"},
	{Name: "tools", Pattern: "tools/**", Kind: models.KindTools, Protection: models.ProtectionEditable, Description: "Project tools"},
}

// ErrAlreadyInitialized is returned when the target directory already
// holds a project or workspace marker.
var ErrAlreadyInitialized = errors.New("directory already holds a muckrake project or workspace")

// ProjectOptions configure InitProject.
type ProjectOptions struct {
	// Name defaults to the directory's base name.
	Name string
	// Categories replace the defaults when non-empty.
	Categories   []models.Category
	NoCategories bool
}

// WorkspaceOptions configure InitWorkspace.
type WorkspaceOptions struct {
	// ProjectsDir is relative to the workspace root. Default "projects".
	ProjectsDir  string
	Inbox        bool
	NoCategories bool
}

// InitProject creates a project database in root and, when root lies inside
// a workspace, registers it there. Inside a workspace the project inherits
// the workspace categories, so defaults are only seeded outside one.
func InitProject(root string, opts ProjectOptions, logger *slog.Logger) (*models.ProjectMeta, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := prepare(root)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(root)
	}
	if err := models.ValidateProjectName(name); err != nil {
		return nil, err
	}

	wsRoot := findUp(filepath.Dir(root), WorkspaceMarker)

	cats := opts.Categories
	if len(cats) == 0 && !opts.NoCategories && wsRoot == "" {
		cats = DefaultCategories
	}

	db, err := store.Open(filepath.Join(root, ProjectMarker))
	if err != nil {
		return nil, err
	}
	defer store.Close(db)

	ps := store.NewProjectStore(db)
	if err := ps.AutoMigrate(); err != nil {
		return nil, err
	}
	var meta *models.ProjectMeta
	err = ps.Transaction(func(tx *store.ProjectStore) error {
		m, err := tx.InitMeta(&models.ProjectMeta{ID: uuid.NewString(), Name: name})
		if err != nil {
			return err
		}
		meta = m
		return seedCategories(tx, cats)
	})
	if err != nil {
		return nil, fmt.Errorf("initialize project %s: %w", name, err)
	}
	logger.Info("project initialized", "project", name, "root", root, "categories", len(cats))

	if wsRoot != "" {
		if err := register(wsRoot, root, name, meta.ID); err != nil {
			return meta, err
		}
		logger.Info("project registered in workspace", "project", name, "workspace", wsRoot)
	}
	return meta, nil
}

// InitWorkspace creates a workspace database in root with its projects
// directory and, optionally, an inbox.
func InitWorkspace(root string, opts WorkspaceOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	projectsDir := opts.ProjectsDir
	if projectsDir == "" {
		projectsDir = "projects"
	}
	if err := validateProjectsDir(projectsDir); err != nil {
		return err
	}
	root, err := prepare(root)
	if err != nil {
		return err
	}

	db, err := store.Open(filepath.Join(root, WorkspaceMarker))
	if err != nil {
		return err
	}
	defer store.Close(db)

	ws := store.NewWorkspaceStore(db)
	if err := ws.AutoMigrate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(projectsDir)), 0o755); err != nil {
		return fmt.Errorf("create projects directory: %w", err)
	}
	if opts.Inbox {
		if err := os.MkdirAll(filepath.Join(root, "inbox"), 0o755); err != nil {
			return fmt.Errorf("create inbox: %w", err)
		}
	}

	var cats []models.Category
	if !opts.NoCategories {
		cats = DefaultCategories
	}
	err = ws.Transaction(func(tx *store.WorkspaceStore) error {
		if err := tx.SetSetting(store.SettingProjectsDir, projectsDir); err != nil {
			return err
		}
		if opts.Inbox {
			if err := tx.SetSetting(store.SettingInboxDir, "inbox"); err != nil {
				return err
			}
		}
		return seedCategories(tx, cats)
	})
	if err != nil {
		return fmt.Errorf("initialize workspace: %w", err)
	}
	logger.Info("workspace initialized", "root", root, "projectsDir", projectsDir, "inbox", opts.Inbox)
	return nil
}

// prepare resolves root, creates it, and refuses directories that are
// already initialized.
func prepare(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", abs, err)
	}
	for _, marker := range []string{ProjectMarker, WorkspaceMarker} {
		if _, err := os.Stat(filepath.Join(abs, marker)); err == nil {
			return "", fmt.Errorf("%s: %w", abs, ErrAlreadyInitialized)
		}
	}
	return abs, nil
}

type categorySaver interface {
	SaveCategory(cat *models.Category) error
}

func seedCategories(dst categorySaver, cats []models.Category) error {
	var accepted []models.Category
	for _, c := range cats {
		if c.Protection == "" {
			c.Protection = models.ProtectionEditable
		}
		if c.Kind == "" {
			c.Kind = models.KindFiles
		}
		if err := category.Validate(accepted, c); err != nil {
			return err
		}
		if err := dst.SaveCategory(&c); err != nil {
			return err
		}
		accepted = append(accepted, c)
	}
	return nil
}

func register(wsRoot, projectRoot, name, projectID string) error {
	db, err := store.Open(filepath.Join(wsRoot, WorkspaceMarker))
	if err != nil {
		return err
	}
	defer store.Close(db)

	ws := store.NewWorkspaceStore(db)
	if err := ws.AutoMigrate(); err != nil {
		return err
	}
	rel, err := filepath.Rel(wsRoot, projectRoot)
	if err != nil {
		return err
	}
	return ws.RegisterProject(&models.ProjectRef{ProjectID: projectID, Name: name, Path: filepath.ToSlash(rel)})
}

func validateProjectsDir(dir string) error {
	if path.IsAbs(dir) || filepath.IsAbs(dir) {
		return errors.New("projects directory must be a relative path")
	}
	for _, seg := range strings.Split(filepath.ToSlash(dir), "/") {
		if seg == ".." {
			return errors.New("projects directory must not contain '..'")
		}
	}
	return nil
}

// ParseCategorySpec parses "pattern:level" or "pattern:kind:level". The
// name is the last literal directory of the pattern.
func ParseCategorySpec(spec string) (models.Category, error) {
	parts := strings.Split(spec, ":")
	var c models.Category
	switch len(parts) {
	case 2:
		c = models.Category{Pattern: parts[0], Kind: models.KindFiles}
	case 3:
		kind := models.CategoryKind(parts[1])
		if kind != models.KindFiles && kind != models.KindTools {
			return c, fmt.Errorf("invalid category kind %q in %q", parts[1], spec)
		}
		c = models.Category{Pattern: parts[0], Kind: kind}
	default:
		return c, fmt.Errorf("invalid category %q, expected 'pattern:level' or 'pattern:kind:level'", spec)
	}
	level, err := models.ParseProtectionLevel(parts[len(parts)-1])
	if err != nil {
		return c, err
	}
	c.Protection = level
	c.Name = CategoryName(c.Pattern)
	if c.Name == "" {
		return c, fmt.Errorf("category pattern %q has no literal directory to name it by", c.Pattern)
	}
	return c, nil
}

// CategoryName derives a category name from its pattern: "evidence/**"
// is "evidence", "evidence/emails/*.eml" is "emails".
func CategoryName(pattern string) string {
	prefix := category.LiteralPrefix(pattern)
	if prefix == "" {
		return ""
	}
	return path.Base(prefix)
}
