package store

import (
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/foiacquire/muckrake/pkg/models"
)

// AddTag labels a file. Returns false if the file already carried the tag.
func (s *ProjectStore) AddTag(tag *models.Tag) (bool, error) {
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(tag)
	if result.Error != nil {
		return false, fmt.Errorf("tag file %d with %q: %w", tag.FileID, tag.Label, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RemoveTag removes a label. Returns false if the file did not carry it.
func (s *ProjectStore) RemoveTag(fileID uint, label string) (bool, error) {
	result := s.db.Where("file_id = ? AND label = ?", fileID, label).Delete(&models.Tag{})
	if result.Error != nil {
		return false, fmt.Errorf("untag file %d %q: %w", fileID, label, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TagsForFile returns a file's tags ordered by label.
func (s *ProjectStore) TagsForFile(fileID uint) ([]models.Tag, error) {
	var tags []models.Tag
	if err := s.db.Where("file_id = ?", fileID).Order("label ASC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags for file %d: %w", fileID, err)
	}
	return tags, nil
}

// TagLabels returns a file's tag labels ordered by label.
func (s *ProjectStore) TagLabels(fileID uint) ([]string, error) {
	tags, err := s.TagsForFile(fileID)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(tags))
	for i, t := range tags {
		labels[i] = t.Label
	}
	return labels, nil
}

// TagLabelsByFile returns tag labels for many files in one query.
func (s *ProjectStore) TagLabelsByFile(fileIDs []uint) (map[uint][]string, error) {
	out := make(map[uint][]string, len(fileIDs))
	if len(fileIDs) == 0 {
		return out, nil
	}
	var tags []models.Tag
	if err := s.db.Where("file_id IN ?", fileIDs).Order("label ASC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	for _, t := range tags {
		out[t.FileID] = append(out[t.FileID], t.Label)
	}
	return out, nil
}

// AllTags returns distinct labels with their file counts.
func (s *ProjectStore) AllTags() (map[string]int, error) {
	var rows []struct {
		Label string
		Count int
	}
	err := s.db.Model(&models.Tag{}).Select("label, count(*) as count").Group("label").Order("label ASC").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list tag counts: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Count
	}
	return out, nil
}
