// Package audit keeps the append-only record of every custody operation:
// who did what to which file, and under which rule chain.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/foiacquire/muckrake/pkg/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// AuditStore provides append-only operations for audit events.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates a new AuditStore. db may be a transaction handle.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append creates a new immutable audit event.
func (s *AuditStore) Append(event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Operation string
	FileID    *uint
	ChainID   string
	PageSize  int
	// PageToken is an RFC3339Nano timestamp; only older events are returned.
	PageToken string
}

// List returns audit events newest first, the token for the next page and
// the total number of matching events.
func (s *AuditStore) List(f Filter) ([]models.AuditEvent, string, int, error) {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	scope := func(q *gorm.DB) *gorm.DB {
		if f.Operation != "" {
			q = q.Where("operation = ?", f.Operation)
		}
		if f.FileID != nil {
			q = q.Where("file_id = ?", *f.FileID)
		}
		if f.ChainID != "" {
			q = q.Where("chain_id = ?", f.ChainID)
		}
		return q
	}

	var totalSize int64
	if err := s.db.Model(&models.AuditEvent{}).Scopes(scope).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := s.db.Scopes(scope).Order("created_at DESC").Order("id").Limit(pageSize + 1)
	if f.PageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, f.PageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var events []models.AuditEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(events) > pageSize {
		nextToken = events[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		events = events[:pageSize]
	}

	return events, nextToken, int(totalSize), nil
}

// DeleteOlderThan deletes audit events created before cutoff and returns
// how many were removed.
func (s *AuditStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.AuditEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
