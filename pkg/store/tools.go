package store

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/models"
)

// AddToolConfig stores a tool config.
func (s shared) AddToolConfig(cfg *models.ToolConfig) error {
	if cfg.FileType == "" {
		cfg.FileType = models.AnyFileType
	}
	if err := s.db.Create(cfg).Error; err != nil {
		return fmt.Errorf("create tool config for %q: %w", cfg.Action, err)
	}
	return nil
}

// ToolConfigs lists tool configs, optionally filtered by action.
func (s shared) ToolConfigs(action string) ([]models.ToolConfig, error) {
	q := s.db.Order("action ASC").Order("id ASC")
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var cfgs []models.ToolConfig
	if err := q.Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("list tool configs: %w", err)
	}
	return cfgs, nil
}

// ToolConfigsForScope returns scope-based (untagged) configs for action at
// exactly the given scope and file type. A nil scope selects the default
// scope.
func (s shared) ToolConfigsForScope(action string, scope *string, fileType string) ([]models.ToolConfig, error) {
	q := s.db.Where("action = ? AND file_type = ? AND tag IS NULL", action, fileType)
	if scope == nil {
		q = q.Where("scope IS NULL")
	} else {
		q = q.Where("scope = ?", *scope)
	}
	var cfgs []models.ToolConfig
	if err := q.Order("id ASC").Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("list tool configs for %q: %w", action, err)
	}
	return cfgs, nil
}

// ToolConfigsForTag returns tag-based configs for action and tag whose file
// type is either fileType or the wildcard.
func (s shared) ToolConfigsForTag(action, tag, fileType string) ([]models.ToolConfig, error) {
	var cfgs []models.ToolConfig
	err := s.db.Where("action = ? AND tag = ? AND file_type IN ?", action, tag, []string{fileType, models.AnyFileType}).
		Order("id ASC").Find(&cfgs).Error
	if err != nil {
		return nil, fmt.Errorf("list tag tool configs for %q: %w", action, err)
	}
	return cfgs, nil
}

// DeleteToolConfig removes a tool config by id.
func (s shared) DeleteToolConfig(id uint) (bool, error) {
	result := s.db.Delete(&models.ToolConfig{}, id)
	if result.Error != nil {
		return false, fmt.Errorf("delete tool config %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}
