package store

import (
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Workspace setting keys.
const (
	SettingProjectsDir = "projects_dir"
	SettingInboxDir    = "inbox_dir"
)

// RegisterProject adds a member project to the workspace registry.
func (s *WorkspaceStore) RegisterProject(ref *models.ProjectRef) error {
	if err := models.ValidateProjectName(ref.Name); err != nil {
		return err
	}
	if err := s.db.Create(ref).Error; err != nil {
		return fmt.Errorf("register project %q: %w", ref.Name, err)
	}
	return nil
}

// Projects lists registered projects ordered by name.
func (s *WorkspaceStore) Projects() ([]models.ProjectRef, error) {
	var refs []models.ProjectRef
	if err := s.db.Order("name ASC").Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return refs, nil
}

// ProjectByName returns a registered project. Returns nil, nil if none.
func (s *WorkspaceStore) ProjectByName(name string) (*models.ProjectRef, error) {
	var ref models.ProjectRef
	if err := s.db.Where("name = ?", name).First(&ref).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project %q: %w", name, err)
	}
	return &ref, nil
}

// ProjectByPath returns the project registered at a workspace-relative
// path. Returns nil, nil if none.
func (s *WorkspaceStore) ProjectByPath(path string) (*models.ProjectRef, error) {
	var ref models.ProjectRef
	if err := s.db.Where("path = ?", path).First(&ref).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project at %q: %w", path, err)
	}
	return &ref, nil
}

// SetSetting stores a workspace setting.
func (s *WorkspaceStore) SetSetting(key, value string) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&models.WorkspaceSetting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set workspace setting %q: %w", key, err)
	}
	return nil
}

// Setting reads a workspace setting; ok is false if unset.
func (s *WorkspaceStore) Setting(key string) (value string, ok bool, err error) {
	var setting models.WorkspaceSetting
	if err := s.db.Where("key = ?", key).First(&setting).Error; err != nil {
		if notFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get workspace setting %q: %w", key, err)
	}
	return setting.Value, true, nil
}
