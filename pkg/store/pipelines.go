package store

import (
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/foiacquire/muckrake/pkg/models"
)

// SavePipeline inserts a pipeline or replaces the one with the same name.
func (s *ProjectStore) SavePipeline(p *models.Pipeline) error {
	existing, err := s.PipelineByName(p.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := s.db.Create(p).Error; err != nil {
			return fmt.Errorf("create pipeline %q: %w", p.Name, err)
		}
		return nil
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if err := s.db.Save(p).Error; err != nil {
		return fmt.Errorf("update pipeline %q: %w", p.Name, err)
	}
	return nil
}

// PipelineByName returns the named pipeline. Returns nil, nil if not found.
func (s *ProjectStore) PipelineByName(name string) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := s.db.Where("name = ?", name).First(&p).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pipeline %q: %w", name, err)
	}
	return &p, nil
}

// Pipelines lists every pipeline ordered by name.
func (s *ProjectStore) Pipelines() ([]models.Pipeline, error) {
	var ps []models.Pipeline
	if err := s.db.Order("name ASC").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return ps, nil
}

// DeletePipeline removes a pipeline with its attachments. Signs are kept
// as history.
func (s *ProjectStore) DeletePipeline(id uint) error {
	if err := s.db.Where("pipeline_id = ?", id).Delete(&models.PipelineAttachment{}).Error; err != nil {
		return fmt.Errorf("delete attachments of pipeline %d: %w", id, err)
	}
	if err := s.db.Delete(&models.Pipeline{}, id).Error; err != nil {
		return fmt.Errorf("delete pipeline %d: %w", id, err)
	}
	return nil
}

// Attach binds a pipeline to a scope. Returns false if already attached.
func (s *ProjectStore) Attach(pipelineID uint, scopeType models.ScopeType, value string) (bool, error) {
	att := &models.PipelineAttachment{PipelineID: pipelineID, ScopeType: scopeType, ScopeValue: value}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(att)
	if result.Error != nil {
		return false, fmt.Errorf("attach pipeline %d to %s:%s: %w", pipelineID, scopeType, value, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Detach removes a pipeline binding. Returns false if it did not exist.
func (s *ProjectStore) Detach(pipelineID uint, scopeType models.ScopeType, value string) (bool, error) {
	result := s.db.Where("pipeline_id = ? AND scope_type = ? AND scope_value = ?", pipelineID, scopeType, value).
		Delete(&models.PipelineAttachment{})
	if result.Error != nil {
		return false, fmt.Errorf("detach pipeline %d from %s:%s: %w", pipelineID, scopeType, value, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Attachments lists every pipeline binding.
func (s *ProjectStore) Attachments() ([]models.PipelineAttachment, error) {
	var atts []models.PipelineAttachment
	if err := s.db.Order("pipeline_id ASC").Order("scope_type ASC").Order("scope_value ASC").Find(&atts).Error; err != nil {
		return nil, fmt.Errorf("list pipeline attachments: %w", err)
	}
	return atts, nil
}

// PipelinesAttachedTo returns pipelines bound to any of the given category
// names or tag labels, without duplicates, ordered by name.
func (s *ProjectStore) PipelinesAttachedTo(categories, tags []string) ([]models.Pipeline, error) {
	if len(categories) == 0 && len(tags) == 0 {
		return nil, nil
	}
	sub := s.db.Model(&models.PipelineAttachment{}).Select("pipeline_id")
	switch {
	case len(categories) > 0 && len(tags) > 0:
		sub = sub.Where("(scope_type = ? AND scope_value IN ?) OR (scope_type = ? AND scope_value IN ?)",
			models.ScopeCategory, categories, models.ScopeTag, tags)
	case len(categories) > 0:
		sub = sub.Where("scope_type = ? AND scope_value IN ?", models.ScopeCategory, categories)
	default:
		sub = sub.Where("scope_type = ? AND scope_value IN ?", models.ScopeTag, tags)
	}
	var ps []models.Pipeline
	if err := s.db.Where("id IN (?)", sub).Order("name ASC").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("list attached pipelines: %w", err)
	}
	return ps, nil
}
