package store

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/foiacquire/muckrake/pkg/models"
)

// CreateFile inserts a newly ingested file.
func (s *ProjectStore) CreateFile(f *models.File) error {
	if err := s.db.Create(f).Error; err != nil {
		return fmt.Errorf("create file %q: %w", f.Path, err)
	}
	return nil
}

// FileByID returns a file by id. Returns nil, nil if not found.
func (s *ProjectStore) FileByID(id uint) (*models.File, error) {
	var f models.File
	if err := s.db.First(&f, id).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get file %d: %w", id, err)
	}
	return &f, nil
}

// FileByPath returns the file at a project-relative path. Returns nil, nil
// if not tracked.
func (s *ProjectStore) FileByPath(path string) (*models.File, error) {
	var f models.File
	if err := s.db.Where("path = ?", path).First(&f).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get file %q: %w", path, err)
	}
	return &f, nil
}

// FilesByName returns every tracked file with the given base name, ordered
// by path.
func (s *ProjectStore) FilesByName(name string) ([]models.File, error) {
	var files []models.File
	if err := s.db.Where("name = ?", name).Order("path ASC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list files named %q: %w", name, err)
	}
	return files, nil
}

// ListFiles returns tracked files ordered by path. A non-empty prefix
// restricts results to paths under that directory.
func (s *ProjectStore) ListFiles(prefix string) ([]models.File, error) {
	q := s.db.Order("path ASC")
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
		// substr counts characters, not bytes.
		q = q.Where("substr(path, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	var files []models.File
	if err := q.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// UpdateFileContent records new size and hashes for a file.
func (s *ProjectStore) UpdateFileContent(f *models.File) error {
	err := s.db.Model(&models.File{}).Where("id = ?", f.ID).Updates(map[string]any{
		"size":        f.Size,
		"mime_type":   f.MimeType,
		"sha256":      f.SHA256,
		"fingerprint": f.Fingerprint,
	}).Error
	if err != nil {
		return fmt.Errorf("update file %q: %w", f.Path, err)
	}
	return nil
}

// UpdateFingerprint stores a freshly computed fingerprint.
func (s *ProjectStore) UpdateFingerprint(id uint, fp models.Fingerprint) error {
	if err := s.db.Model(&models.File{}).Where("id = ?", id).Update("fingerprint", fp).Error; err != nil {
		return fmt.Errorf("update fingerprint for file %d: %w", id, err)
	}
	return nil
}

// MoveFile changes a file's tracked path.
func (s *ProjectStore) MoveFile(id uint, newPath, newName string) error {
	err := s.db.Model(&models.File{}).Where("id = ?", id).Updates(map[string]any{
		"path": newPath,
		"name": newName,
	}).Error
	if err != nil {
		return fmt.Errorf("move file %d to %q: %w", id, newPath, err)
	}
	return nil
}

// DeleteFile stops tracking a file, removing its tags and signs.
func (s *ProjectStore) DeleteFile(id uint) error {
	if err := s.db.Where("file_id = ?", id).Delete(&models.Tag{}).Error; err != nil {
		return fmt.Errorf("delete tags for file %d: %w", id, err)
	}
	if err := s.db.Where("file_id = ?", id).Delete(&models.Sign{}).Error; err != nil {
		return fmt.Errorf("delete signs for file %d: %w", id, err)
	}
	if err := s.db.Delete(&models.File{}, id).Error; err != nil {
		return fmt.Errorf("delete file %d: %w", id, err)
	}
	return nil
}
