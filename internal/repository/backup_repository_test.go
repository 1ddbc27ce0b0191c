package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-desk-api/internal/models"
)

func newBackupRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestBackupRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newBackupRepoMock(t)
	defer cleanup()
	repo := NewBackupRepository(db)

	mock.ExpectExec("INSERT INTO backups").WillReturnResult(sqlmock.NewResult(1, 1))

	backup := &models.Backup{
		Kind: models.BackupKindManual,
		Payload: models.SnapshotPayload{
			Timestamp:     "2024-06-03T10:00:00Z",
			Classes:       []models.SessionExport{{Student: "Asha", Date: "2024-06-03", Start: "09:00", End: "10:00"}},
			StudentRates:  map[string]int{"Asha": 600},
			PaymentStatus: map[string]bool{},
			DefaultRate:   500,
		},
	}
	require.NoError(t, repo.Create(context.Background(), backup))
	assert.NotEmpty(t, backup.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackupRepositoryNewestByKind(t *testing.T) {
	db, mock, cleanup := newBackupRepoMock(t)
	defer cleanup()
	repo := NewBackupRepository(db)

	payload := []byte(`{"timestamp":"2024-06-03T10:00:00Z","classes":[],"studentRates":{},"paymentStatus":{},"defaultRate":500}`)
	rows := sqlmock.NewRows([]string{"id", "kind", "payload", "cutoff_date", "removed", "removed_count", "created_at"}).
		AddRow("b1", "AUTO", payload, nil, nil, 0, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM backups WHERE kind = $1 ORDER BY created_at DESC LIMIT 1")).
		WithArgs(models.BackupKindAuto).
		WillReturnRows(rows)

	backup, err := repo.NewestByKind(context.Background(), models.BackupKindAuto)
	require.NoError(t, err)
	assert.Equal(t, "b1", backup.ID)
	assert.Equal(t, 500, backup.Payload.DefaultRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackupRepositoryNewestByKindNoRows(t *testing.T) {
	db, mock, cleanup := newBackupRepoMock(t)
	defer cleanup()
	repo := NewBackupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM backups WHERE kind = $1")).
		WithArgs(models.BackupKindAuto).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.NewestByKind(context.Background(), models.BackupKindAuto)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestBackupRepositoryPruneKind(t *testing.T) {
	db, mock, cleanup := newBackupRepoMock(t)
	defer cleanup()
	repo := NewBackupRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM backups WHERE kind = $1 AND id NOT IN")).
		WithArgs(models.BackupKindAuto, 4).
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := repo.PruneKind(context.Background(), models.BackupKindAuto, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
