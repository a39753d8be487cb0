package store

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Categories returns every category ordered by name.
func (s shared) Categories() ([]models.Category, error) {
	var cats []models.Category
	if err := s.db.Order("name ASC").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// CategoryByName returns the named category. Returns nil, nil if no
// category has that name.
func (s shared) CategoryByName(name string) (*models.Category, error) {
	var cat models.Category
	if err := s.db.Where("name = ?", name).First(&cat).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get category %q: %w", name, err)
	}
	return &cat, nil
}

// SaveCategory inserts a new category or updates the one with the same
// name.
func (s shared) SaveCategory(cat *models.Category) error {
	if cat.Kind == "" {
		cat.Kind = models.KindFiles
	}
	existing, err := s.CategoryByName(cat.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := s.db.Create(cat).Error; err != nil {
			return fmt.Errorf("create category %q: %w", cat.Name, err)
		}
		return nil
	}
	cat.ID = existing.ID
	cat.CreatedAt = existing.CreatedAt
	if err := s.db.Save(cat).Error; err != nil {
		return fmt.Errorf("update category %q: %w", cat.Name, err)
	}
	return nil
}

// DeleteCategory removes the named category. Returns false if it did not
// exist.
func (s shared) DeleteCategory(name string) (bool, error) {
	result := s.db.Where("name = ?", name).Delete(&models.Category{})
	if result.Error != nil {
		return false, fmt.Errorf("delete category %q: %w", name, result.Error)
	}
	return result.RowsAffected > 0, nil
}
