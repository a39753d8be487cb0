package store

import (
	"fmt"
	"time"

	"github.com/foiacquire/muckrake/pkg/models"
)

// CreateSign appends a sign.
func (s *ProjectStore) CreateSign(sign *models.Sign) error {
	if err := s.db.Create(sign).Error; err != nil {
		return fmt.Errorf("create sign: %w", err)
	}
	return nil
}

// SignsFor returns every sign, revoked or not, for a file in a pipeline,
// oldest first.
func (s *ProjectStore) SignsFor(pipelineID, fileID uint) ([]models.Sign, error) {
	var signs []models.Sign
	err := s.db.Where("pipeline_id = ? AND file_id = ?", pipelineID, fileID).
		Order("signed_at ASC").Order("id ASC").Find(&signs).Error
	if err != nil {
		return nil, fmt.Errorf("list signs: %w", err)
	}
	return signs, nil
}

// SignsForFile returns every sign on a file across pipelines, oldest first.
func (s *ProjectStore) SignsForFile(fileID uint) ([]models.Sign, error) {
	var signs []models.Sign
	if err := s.db.Where("file_id = ?", fileID).Order("signed_at ASC").Order("id ASC").Find(&signs).Error; err != nil {
		return nil, fmt.Errorf("list signs for file %d: %w", fileID, err)
	}
	return signs, nil
}

// RevokeSigns marks active signs for (pipeline, file, state) as revoked.
// An empty signer revokes every signer's sign. Returns the number revoked.
func (s *ProjectStore) RevokeSigns(pipelineID, fileID uint, state, signer, by string, at time.Time) (int64, error) {
	q := s.db.Model(&models.Sign{}).
		Where("pipeline_id = ? AND file_id = ? AND state = ? AND revoked_at IS NULL", pipelineID, fileID, state)
	if signer != "" {
		q = q.Where("signer = ?", signer)
	}
	result := q.Updates(map[string]any{"revoked_at": at, "revoked_by": by})
	if result.Error != nil {
		return 0, fmt.Errorf("revoke signs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
