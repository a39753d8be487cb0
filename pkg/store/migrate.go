package store

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migration between processes sharing a
// database, e.g. a long-running inbox watcher and an interactive command.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

const (
	lockAttempts  = 50
	lockRetry     = 100 * time.Millisecond
	staleLockAge  = time.Minute
	lockRowID     = "migration"
	advisoryLabel = "mkrk-migration"
)

// NewMigrationLocker returns a locker suited to db's dialect. PostgreSQL
// uses an advisory lock; everything else uses a lock row.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return noopMigrationLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(advisoryLabel))),
		}
	}
	// Created up front so a first WithLock never races on the table.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &rowLock{db: db}
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type advisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// rowLock holds the lock while its row exists. A row older than
// staleLockAge belongs to a crashed process and is cleared.
type rowLock struct {
	db *gorm.DB
}

func (l *rowLock) WithLock(ctx context.Context, fn func() error) error {
	host, _ := os.Hostname()
	row := migrationLockRecord{
		ID:       lockRowID,
		LockedBy: fmt.Sprintf("%s:%d", host, os.Getpid()),
	}

	var lastErr error
	for i := 0; i < lockAttempts; i++ {
		l.db.WithContext(ctx).Where("id = ? AND locked_at < ?", lockRowID, time.Now().Add(-staleLockAge)).
			Delete(&migrationLockRecord{})

		row.LockedAt = time.Now()
		lastErr = l.db.WithContext(ctx).Create(&row).Error
		if lastErr == nil {
			defer l.db.Where("id = ?", lockRowID).Delete(&migrationLockRecord{})
			return fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetry):
		}
	}
	return fmt.Errorf("acquire migration lock after %d attempts: %w", lockAttempts, lastErr)
}

func migrate(db *gorm.DB, fn func() error) error {
	return NewMigrationLocker(db).WithLock(context.Background(), fn)
}
