package category

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/foiacquire/muckrake/pkg/cache"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Store is the persistence a Service needs. Both project and workspace
// stores satisfy it.
type Store interface {
	Categories() ([]models.Category, error)
	SaveCategory(cat *models.Category) error
	DeleteCategory(name string) (bool, error)
}

// Scope selects which database a category definition is written to.
type Scope string

const (
	ScopeProject   Scope = "project"
	ScopeWorkspace Scope = "workspace"
)

// Service keeps the merged category engine for a project current and
// memoizes classification until categories change. The tracker routes all
// protection checks through it.
type Service struct {
	project   Store
	workspace Store
	logger    *slog.Logger

	mu     sync.RWMutex
	engine *Engine
	levels *cache.LRUCache[string, models.ProtectionLevel]
}

// NewService loads categories from the project store and, if non-nil, the
// workspace store.
func NewService(project, workspace Store, cfg *cache.CacheConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = cache.DefaultCacheConfig()
	}
	s := &Service{project: project, workspace: workspace, logger: logger}
	if cfg.Enabled {
		s.levels = cache.NewLRUCache[string, models.ProtectionLevel](cfg.MaxSize, cfg.TTL)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the engine from storage and drops cached levels.
func (s *Service) Reload() error {
	var wsCats, projCats []models.Category
	var err error
	if s.workspace != nil {
		if wsCats, err = s.workspace.Categories(); err != nil {
			return fmt.Errorf("load workspace categories: %w", err)
		}
	}
	if s.project != nil {
		if projCats, err = s.project.Categories(); err != nil {
			return fmt.Errorf("load project categories: %w", err)
		}
	}

	s.mu.Lock()
	s.engine = NewEngine(wsCats, projCats)
	s.mu.Unlock()
	if s.levels != nil {
		s.levels.InvalidateAll()
	}
	return nil
}

// Engine returns the current snapshot.
func (s *Service) Engine() *Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Classify returns relPath's effective protection.
func (s *Service) Classify(relPath string) models.ProtectionLevel {
	engine := s.Engine()
	if s.levels == nil {
		return engine.Classify(relPath)
	}
	return s.levels.GetOrCompute(relPath, func() models.ProtectionLevel {
		return engine.Classify(relPath)
	})
}

// CheckWritable returns an EditDeniedError when relPath is not editable.
// Editable paths are answered from the cache.
func (s *Service) CheckWritable(relPath string) error {
	if s.Classify(relPath) == models.ProtectionEditable {
		return nil
	}
	return s.Engine().CheckWritable(relPath)
}

// Define validates and stores a category in the given scope. A rejected
// definition leaves storage untouched.
func (s *Service) Define(scope Scope, cat models.Category) (*models.Category, error) {
	target := s.project
	if scope == ScopeWorkspace {
		target = s.workspace
	}
	if target == nil {
		return nil, fmt.Errorf("no %s database available", scope)
	}
	if cat.Protection == "" {
		cat.Protection = models.ProtectionEditable
	}
	if err := Validate(s.Engine().Categories(), cat); err != nil {
		return nil, err
	}
	if err := target.SaveCategory(&cat); err != nil {
		return nil, err
	}
	s.logger.Info("category defined", "name", cat.Name, "pattern", cat.Pattern,
		"protection", cat.Protection, "scope", scope)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Remove deletes a category from the given scope.
func (s *Service) Remove(scope Scope, name string) (bool, error) {
	target := s.project
	if scope == ScopeWorkspace {
		target = s.workspace
	}
	if target == nil {
		return false, fmt.Errorf("no %s database available", scope)
	}
	removed, err := target.DeleteCategory(name)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("category removed", "name", name, "scope", scope)
		if err := s.Reload(); err != nil {
			return true, err
		}
	}
	return removed, nil
}
