package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type backupStoreStub struct {
	backups []models.Backup
	created []*models.Backup
	pruned  []models.BackupKind
	nextID  int
}

func (s *backupStoreStub) Create(ctx context.Context, backup *models.Backup) error {
	s.nextID++
	backup.ID = fmt.Sprintf("backup-%d", s.nextID)
	s.created = append(s.created, backup)
	s.backups = append([]models.Backup{*backup}, s.backups...)
	return nil
}

func (s *backupStoreStub) CreateWithTx(ctx context.Context, tx *sqlx.Tx, backup *models.Backup) error {
	return s.Create(ctx, backup)
}

func (s *backupStoreStub) GetByID(ctx context.Context, id string) (*models.Backup, error) {
	for i := range s.backups {
		if s.backups[i].ID == id {
			backup := s.backups[i]
			return &backup, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *backupStoreStub) ListNewestFirst(ctx context.Context, limit int) ([]models.Backup, error) {
	return s.backups, nil
}

func (s *backupStoreStub) NewestByKind(ctx context.Context, kind models.BackupKind) (*models.Backup, error) {
	for i := range s.backups {
		if s.backups[i].Kind == kind {
			backup := s.backups[i]
			return &backup, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *backupStoreStub) PruneKind(ctx context.Context, kind models.BackupKind, keep int) (int64, error) {
	s.pruned = append(s.pruned, kind)
	return 0, nil
}

type backupSessionStoreStub struct {
	dbx      *sqlx.DB
	sessions []models.Session
	replaced [][]models.Session
}

func (s *backupSessionStoreStub) FindAll(ctx context.Context) ([]models.Session, error) {
	return s.sessions, nil
}

func (s *backupSessionStoreStub) DeleteOlderThan(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) ([]models.Session, error) {
	var removed []models.Session
	var kept []models.Session
	for _, session := range s.sessions {
		if session.Date != nil && session.Date.Before(cutoff) {
			removed = append(removed, session)
			continue
		}
		kept = append(kept, session)
	}
	s.sessions = kept
	return removed, nil
}

func (s *backupSessionStoreStub) ReplaceAll(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error {
	s.replaced = append(s.replaced, sessions)
	return nil
}

func (s *backupSessionStoreStub) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return s.dbx.BeginTxx(ctx, nil)
}

type backupPaymentStoreStub struct {
	entries  []models.PaymentEntry
	replaced [][]models.PaymentEntry
}

func (s *backupPaymentStoreStub) FindAll(ctx context.Context) ([]models.PaymentEntry, error) {
	return s.entries, nil
}

func (s *backupPaymentStoreStub) ReplaceAll(ctx context.Context, tx *sqlx.Tx, entries []models.PaymentEntry) error {
	s.replaced = append(s.replaced, entries)
	return nil
}

type backupRateStoreStub struct {
	rates    []models.StudentRate
	replaced [][]models.StudentRate
}

func (s *backupRateStoreStub) FindAll(ctx context.Context) ([]models.StudentRate, error) {
	return s.rates, nil
}

func (s *backupRateStoreStub) ReplaceAll(ctx context.Context, tx *sqlx.Tx, rates []models.StudentRate) error {
	s.replaced = append(s.replaced, rates)
	return nil
}

type backupSettingWriterStub struct {
	upserts []models.Setting
}

func (s *backupSettingWriterStub) UpsertWithTx(ctx context.Context, tx *sqlx.Tx, setting *models.Setting) error {
	s.upserts = append(s.upserts, *setting)
	return nil
}

type backupFixture struct {
	store    *backupStoreStub
	sessions *backupSessionStoreStub
	payments *backupPaymentStoreStub
	rates    *backupRateStoreStub
	settings *backupSettingWriterStub
	audit    *auditLoggerStub
	mock     sqlmock.Sqlmock
	service  *BackupService
}

func newBackupFixture(t *testing.T) *backupFixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fixture := &backupFixture{
		store:    &backupStoreStub{},
		sessions: &backupSessionStoreStub{dbx: sqlx.NewDb(db, "sqlmock")},
		payments: &backupPaymentStoreStub{},
		rates:    &backupRateStoreStub{},
		settings: &backupSettingWriterStub{},
		audit:    &auditLoggerStub{},
		mock:     mock,
	}
	fixture.service = NewBackupService(BackupServiceParams{
		Backups:  fixture.store,
		Sessions: fixture.sessions,
		Payments: fixture.payments,
		Rates:    fixture.rates,
		Settings: fixture.settings,
		Defaults: defaultRateStub{rate: 500},
		Audit:    fixture.audit,
		Logger:   zap.NewNop(),
		Location: time.UTC,
	})
	fixture.service.now = billingFixtureNow
	return fixture
}

func TestBackupAutoSkipsFreshBackup(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.store.backups = []models.Backup{{
		ID:        "backup-auto",
		Kind:      models.BackupKindAuto,
		CreatedAt: billingFixtureNow().Add(-3 * 24 * time.Hour),
	}}

	backup, err := fixture.service.RunAutoBackup(context.Background())
	require.NoError(t, err)
	assert.Nil(t, backup)
	assert.Empty(t, fixture.store.created)
}

func TestBackupAutoCreatesAndPrunes(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.store.backups = []models.Backup{{
		ID:        "backup-auto",
		Kind:      models.BackupKindAuto,
		CreatedAt: billingFixtureNow().Add(-8 * 24 * time.Hour),
	}}
	fixture.sessions.sessions = []models.Session{
		{ID: "s1", Student: "Kabir", Date: datePtr("2024-06-05"), StartTime: "17:00", EndTime: "18:30"},
	}
	fixture.rates.rates = []models.StudentRate{{Student: "Kabir", HourlyRate: 500}}

	backup, err := fixture.service.RunAutoBackup(context.Background())
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Equal(t, models.BackupKindAuto, backup.Kind)
	require.Len(t, backup.Payload.Classes, 1)
	assert.Equal(t, "Kabir", backup.Payload.Classes[0].Student)
	assert.Equal(t, 500, backup.Payload.StudentRates["Kabir"])
	assert.Equal(t, 500, backup.Payload.DefaultRate)
	assert.Contains(t, fixture.store.pruned, models.BackupKindAuto)
}

func TestBackupRetentionSweepNoOp(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.sessions.sessions = []models.Session{
		{ID: "s1", Student: "Asha", Date: datePtr("2024-06-05"), StartTime: "16:00", EndTime: "17:00"},
	}
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectRollback()

	result, err := fixture.service.RunRetentionSweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.BackupID)
	assert.Equal(t, "2024-03-20", result.CutoffDate)
	assert.Zero(t, result.RemovedCount)
	assert.Empty(t, fixture.store.created)
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestBackupRetentionSweepRemovesOldSessions(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.sessions.sessions = []models.Session{
		{ID: "old", Student: "Asha", Date: datePtr("2024-02-10"), StartTime: "16:00", EndTime: "17:00"},
		{ID: "recent", Student: "Kabir", Date: datePtr("2024-06-05"), StartTime: "17:00", EndTime: "18:30"},
	}
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectCommit()

	result, err := fixture.service.RunRetentionSweep(context.Background(), &models.JWTClaims{UserID: "tutor"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-20", result.CutoffDate)
	assert.Equal(t, 1, result.RemovedCount)
	assert.NotEmpty(t, result.BackupID)

	require.Len(t, fixture.store.created, 1)
	backup := fixture.store.created[0]
	assert.Equal(t, models.BackupKindCleanup, backup.Kind)
	require.NotNil(t, backup.CutoffDate)
	assert.Equal(t, "2024-03-20", backup.CutoffDate.Format("2006-01-02"))
	require.Len(t, backup.Removed, 1)
	assert.Equal(t, "old", backup.Removed[0].ID)
	assert.Equal(t, 1, backup.RemovedCount)
	// The safety snapshot was taken before the delete, so it still holds
	// both sessions.
	assert.Len(t, backup.Payload.Classes, 2)
	assert.Contains(t, fixture.store.pruned, models.BackupKindCleanup)
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestBackupRestoreLatestSkipsCorrupt(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.store.backups = []models.Backup{
		{ID: "corrupt", Kind: models.BackupKindAuto, Payload: models.SnapshotPayload{}},
		{ID: "valid", Kind: models.BackupKindManual, Payload: models.SnapshotPayload{
			Timestamp: "2024-06-10T08:00:00Z",
			Classes: []models.SessionExport{
				{ID: "s1", Student: "Asha", Date: "2024-06-10", Start: "16:00", End: "17:00"},
			},
			StudentRates:  map[string]int{"Asha": 800},
			PaymentStatus: map[string]bool{"Asha|2024-06-10|16:00|17:00": true},
			DefaultRate:   600,
		}},
	}
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectCommit()

	backup, err := fixture.service.RestoreLatest(context.Background(), &models.JWTClaims{UserID: "tutor"})
	require.NoError(t, err)
	assert.Equal(t, "valid", backup.ID)

	require.Len(t, fixture.sessions.replaced, 1)
	restored := fixture.sessions.replaced[0]
	require.Len(t, restored, 1)
	assert.Equal(t, "s1", restored[0].ID)
	assert.Equal(t, "Asha", restored[0].Student)
	require.NotNil(t, restored[0].Date)
	assert.Equal(t, "2024-06-10", restored[0].Date.Format("2006-01-02"))

	require.Len(t, fixture.payments.replaced, 1)
	require.Len(t, fixture.payments.replaced[0], 1)
	assert.True(t, fixture.payments.replaced[0][0].Paid)

	require.Len(t, fixture.settings.upserts, 1)
	assert.Equal(t, "600", fixture.settings.upserts[0].Value)
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestBackupRestoreLatestFailsWhenNothingUsable(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.store.backups = []models.Backup{
		{ID: "corrupt", Kind: models.BackupKindAuto, Payload: models.SnapshotPayload{}},
	}

	_, err := fixture.service.RestoreLatest(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBackupCorrupt.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fixture.sessions.replaced)
}

func TestBackupRestoreByIDUnknown(t *testing.T) {
	fixture := newBackupFixture(t)

	_, err := fixture.service.RestoreByID(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBackupExportShape(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.sessions.sessions = []models.Session{
		{ID: "s1", Student: "Kabir", Date: datePtr("2024-06-05"), StartTime: "17:00", EndTime: "18:30"},
	}
	fixture.payments.entries = []models.PaymentEntry{
		{SessionKey: "Kabir|2024-06-05|17:00|18:30", Student: "Kabir", Paid: true},
	}
	fixture.rates.rates = []models.StudentRate{{Student: "Kabir", HourlyRate: 500}}

	file, err := fixture.service.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ExportVersionCurrent, file.Version)
	_, err = time.Parse(time.RFC3339, file.ExportDate)
	require.NoError(t, err)
	require.Len(t, file.Data.Classes, 1)
	assert.Equal(t, "2024-06-05", file.Data.Classes[0].Date)
	assert.True(t, file.Data.PaymentStatus["Kabir|2024-06-05|17:00|18:30"])
	assert.Equal(t, 500, file.Data.StudentRates["Kabir"])
	assert.Equal(t, 500, file.Data.DefaultRate)
}

func TestBackupImportMigratesLegacyFile(t *testing.T) {
	fixture := newBackupFixture(t)
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectCommit()

	file := models.ExportFile{
		// Version omitted: legacy files predate the field.
		Data: models.ExportData{
			Classes: []models.SessionExport{
				{Student: "Asha", Day: "Monday", Start: "16:00", End: "17:00"},
				{Student: "Riya", Date: "2024-05-06", Start: "10:00", End: "11:00"},
			},
			StudentRates: map[string]int{"Asha": 800},
			PaymentStatus: map[string]bool{
				"Riya|2024-05":    true,
				"Dev|last spring": true,
			},
			DefaultRate: 450,
		},
	}

	result, err := fixture.service.Import(context.Background(), file, &models.JWTClaims{UserID: "tutor"})
	require.NoError(t, err)
	assert.Equal(t, models.ExportVersionV2, result.Version)
	assert.Equal(t, 2, result.Sessions)
	assert.Equal(t, 1, result.MigratedDates)
	assert.Equal(t, 1, result.CoarseMapped)
	assert.Equal(t, []string{"Dev|last spring"}, result.UnmappedCoarse)
	assert.True(t, result.Lossy)

	require.Len(t, fixture.sessions.replaced, 1)
	imported := fixture.sessions.replaced[0]
	require.Len(t, imported, 2)
	// Date-less rows land on their weekday in the current week
	// (2024-06-20 is a Thursday, so Monday is 2024-06-17).
	assert.Empty(t, imported[0].ID)
	require.NotNil(t, imported[0].Date)
	assert.Equal(t, "2024-06-17", imported[0].Date.Format("2006-01-02"))

	require.Len(t, fixture.payments.replaced, 1)
	entries := fixture.payments.replaced[0]
	require.Len(t, entries, 1)
	assert.Equal(t, models.PaymentSourceLegacyPeriod, entries[0].Source)
	assert.Equal(t, "Riya|2024-05-06|10:00|11:00", entries[0].SessionKey)

	require.Len(t, fixture.settings.upserts, 1)
	assert.Equal(t, "450", fixture.settings.upserts[0].Value)
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestBackupImportRejectsBadTimes(t *testing.T) {
	fixture := newBackupFixture(t)
	file := models.ExportFile{
		Version: models.ExportVersionCurrent,
		Data: models.ExportData{
			Classes: []models.SessionExport{
				{Student: "Asha", Date: "2024-06-10", Start: "26:00", End: "27:00"},
			},
		},
	}

	_, err := fixture.service.Import(context.Background(), file, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrImportInvalid.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fixture.sessions.replaced)
	assert.Empty(t, fixture.payments.replaced)
}

func TestBackupImportRejectsUnknownVersion(t *testing.T) {
	fixture := newBackupFixture(t)
	file := models.ExportFile{Version: "9.9"}

	_, err := fixture.service.Import(context.Background(), file, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrImportInvalid.Code, appErrors.FromError(err).Code)
}

func TestBackupManualRecordsAudit(t *testing.T) {
	fixture := newBackupFixture(t)

	backup, err := fixture.service.CreateManual(context.Background(), &models.JWTClaims{UserID: "tutor"})
	require.NoError(t, err)
	assert.Equal(t, models.BackupKindManual, backup.Kind)
	require.Len(t, fixture.audit.logs, 1)
	assert.Equal(t, models.AuditActionBackupCreate, fixture.audit.logs[0].Action)
	assert.Empty(t, fixture.store.pruned)
}
