package store

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/models"
)

// ProjectStats counts a project's records.
type ProjectStats struct {
	Files     int64 `json:"files" yaml:"files"`
	Tags      int64 `json:"tags" yaml:"tags"`
	Pipelines int64 `json:"pipelines" yaml:"pipelines"`
	// ActiveSigns excludes revoked signs.
	ActiveSigns int64 `json:"active_signs" yaml:"active_signs"`
}

// Stats counts tracked files, distinct tag labels, pipelines and active
// signs.
func (s *ProjectStore) Stats() (*ProjectStats, error) {
	var st ProjectStats
	if err := s.db.Model(&models.File{}).Count(&st.Files).Error; err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}
	if err := s.db.Model(&models.Tag{}).Distinct("label").Count(&st.Tags).Error; err != nil {
		return nil, fmt.Errorf("count tags: %w", err)
	}
	if err := s.db.Model(&models.Pipeline{}).Count(&st.Pipelines).Error; err != nil {
		return nil, fmt.Errorf("count pipelines: %w", err)
	}
	if err := s.db.Model(&models.Sign{}).Where("revoked_at IS NULL").Count(&st.ActiveSigns).Error; err != nil {
		return nil, fmt.Errorf("count signs: %w", err)
	}
	return &st, nil
}
