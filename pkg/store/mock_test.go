package store_test

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foiacquire/muckrake/pkg/store"
)

// newMockStore returns a project store whose SQL is checked against mock
// expectations.
func newMockStore(t *testing.T) (*store.ProjectStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return store.NewProjectStore(db), mock
}

func TestTransaction_RollbackOnStatementFailure(t *testing.T) {
	s, mock := newMockStore(t)
	diskFull := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "files"`).WillReturnError(diskFull)
	mock.ExpectRollback()

	err := s.Transaction(func(tx *store.ProjectStore) error {
		return tx.CreateFile(newFile("evidence/a.pdf"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_RollbackOnCallbackError(t *testing.T) {
	s, mock := newMockStore(t)
	rejected := errors.New("rejected")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Transaction(func(tx *store.ProjectStore) error {
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
