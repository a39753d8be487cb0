// Package store is the persistence layer for project (.mkrk) and workspace
// (.mksp) databases. Both are SQLite files opened through GORM.
package store

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Open opens (creating if needed) the SQLite database at path. Use
// ":memory:" for an ephemeral database.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection keeps writes serialized
	// and makes ":memory:" databases stable across queries.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// shared holds the tables that exist in both project and workspace
// databases: categories, rules, tool configs, and the audit log.
type shared struct {
	db *gorm.DB
}

func (s shared) migrateShared() error {
	if err := s.db.AutoMigrate(&models.Category{}); err != nil {
		return fmt.Errorf("auto-migrate categories: %w", err)
	}
	if err := s.db.AutoMigrate(&models.Rule{}); err != nil {
		return fmt.Errorf("auto-migrate rules: %w", err)
	}
	if err := s.db.AutoMigrate(&models.ToolConfig{}); err != nil {
		return fmt.Errorf("auto-migrate tool_config: %w", err)
	}
	if err := s.db.AutoMigrate(&models.AuditEvent{}); err != nil {
		return fmt.Errorf("auto-migrate audit_events: %w", err)
	}
	return nil
}

// DB returns the underlying GORM handle, which is a transaction handle
// when called on a store passed into Transaction.
func (s shared) DB() *gorm.DB { return s.db }

// ProjectStore provides access to a project database.
type ProjectStore struct {
	shared
}

// NewProjectStore wraps an open project database.
func NewProjectStore(db *gorm.DB) *ProjectStore {
	return &ProjectStore{shared{db: db}}
}

// AutoMigrate creates or updates every project table.
func (s *ProjectStore) AutoMigrate() error {
	return migrate(s.db, s.autoMigrate)
}

func (s *ProjectStore) autoMigrate() error {
	if err := s.db.AutoMigrate(&models.ProjectMeta{}); err != nil {
		return fmt.Errorf("auto-migrate project_meta: %w", err)
	}
	if err := s.db.AutoMigrate(&models.File{}); err != nil {
		return fmt.Errorf("auto-migrate files: %w", err)
	}
	if err := s.db.AutoMigrate(&models.Tag{}); err != nil {
		return fmt.Errorf("auto-migrate file_tags: %w", err)
	}
	if err := s.db.AutoMigrate(&models.Pipeline{}); err != nil {
		return fmt.Errorf("auto-migrate pipelines: %w", err)
	}
	if err := s.db.AutoMigrate(&models.PipelineAttachment{}); err != nil {
		return fmt.Errorf("auto-migrate pipeline_attachments: %w", err)
	}
	if err := s.db.AutoMigrate(&models.Sign{}); err != nil {
		return fmt.Errorf("auto-migrate signs: %w", err)
	}
	return s.migrateShared()
}

// Transaction runs fn inside a database transaction. Any error returned by
// fn, or a panic, rolls the transaction back.
func (s *ProjectStore) Transaction(fn func(tx *ProjectStore) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewProjectStore(tx))
	})
}

// Meta returns the project's identity row. Returns nil, nil if the project
// has not been initialized.
func (s *ProjectStore) Meta() (*models.ProjectMeta, error) {
	var meta models.ProjectMeta
	if err := s.db.First(&meta).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project meta: %w", err)
	}
	return &meta, nil
}

// InitMeta writes the project's identity row if none exists and returns
// the stored row.
func (s *ProjectStore) InitMeta(meta *models.ProjectMeta) (*models.ProjectMeta, error) {
	existing, err := s.Meta()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := s.db.Create(meta).Error; err != nil {
		return nil, fmt.Errorf("create project meta: %w", err)
	}
	return meta, nil
}

// WorkspaceStore provides access to a workspace database.
type WorkspaceStore struct {
	shared
}

// NewWorkspaceStore wraps an open workspace database.
func NewWorkspaceStore(db *gorm.DB) *WorkspaceStore {
	return &WorkspaceStore{shared{db: db}}
}

// AutoMigrate creates or updates every workspace table.
func (s *WorkspaceStore) AutoMigrate() error {
	return migrate(s.db, s.autoMigrate)
}

func (s *WorkspaceStore) autoMigrate() error {
	if err := s.db.AutoMigrate(&models.ProjectRef{}); err != nil {
		return fmt.Errorf("auto-migrate projects: %w", err)
	}
	if err := s.db.AutoMigrate(&models.WorkspaceSetting{}); err != nil {
		return fmt.Errorf("auto-migrate workspace_config: %w", err)
	}
	return s.migrateShared()
}

// Transaction runs fn inside a database transaction.
func (s *WorkspaceStore) Transaction(fn func(tx *WorkspaceStore) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewWorkspaceStore(tx))
	})
}
