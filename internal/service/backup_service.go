package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"

	"github.com/noah-isme/tutor-desk-api/pkg/clock"
)

type backupStore interface {
	Create(ctx context.Context, backup *models.Backup) error
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, backup *models.Backup) error
	GetByID(ctx context.Context, id string) (*models.Backup, error)
	ListNewestFirst(ctx context.Context, limit int) ([]models.Backup, error)
	NewestByKind(ctx context.Context, kind models.BackupKind) (*models.Backup, error)
	PruneKind(ctx context.Context, kind models.BackupKind, keep int) (int64, error)
}

type backupSessionStore interface {
	FindAll(ctx context.Context) ([]models.Session, error)
	DeleteOlderThan(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) ([]models.Session, error)
	ReplaceAll(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
}

type backupPaymentStore interface {
	FindAll(ctx context.Context) ([]models.PaymentEntry, error)
	ReplaceAll(ctx context.Context, tx *sqlx.Tx, entries []models.PaymentEntry) error
}

type backupRateStore interface {
	FindAll(ctx context.Context) ([]models.StudentRate, error)
	ReplaceAll(ctx context.Context, tx *sqlx.Tx, rates []models.StudentRate) error
}

type backupSettingWriter interface {
	UpsertWithTx(ctx context.Context, tx *sqlx.Tx, setting *models.Setting) error
}

type backupDefaultRateReader interface {
	DefaultRate(ctx context.Context) (int, error)
}

type backupAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type backupMetricsRecorder interface {
	RecordBackupCreated()
	RecordImport()
}

// BackupServiceConfig tunes snapshot cadence and retention.
type BackupServiceConfig struct {
	// AutoMinInterval is the minimum age the newest AUTO backup must reach
	// before another one is taken.
	AutoMinInterval time.Duration
	// AutoCap bounds how many AUTO backups are kept.
	AutoCap int
	// CleanupCap bounds how many CLEANUP backups are kept.
	CleanupCap int
	// RetentionMonths sets the sweep cutoff: sessions dated more than this
	// many months before today are removed.
	RetentionMonths int
}

// BackupServiceParams bundles the dependencies for NewBackupService.
type BackupServiceParams struct {
	Backups  backupStore
	Sessions backupSessionStore
	Payments backupPaymentStore
	Rates    backupRateStore
	Settings backupSettingWriter
	Defaults backupDefaultRateReader
	Audit    backupAuditLogger
	Cache    *CacheService
	Metrics  backupMetricsRecorder
	Logger   *zap.Logger
	Location *time.Location
	Config   BackupServiceConfig
}

// BackupService owns snapshots, retention sweeps, restores and the
// export/import interchange. Snapshots store the full persisted state in the
// legacy export shape, so any backup payload is also a valid export body.
type BackupService struct {
	backups  backupStore
	sessions backupSessionStore
	payments backupPaymentStore
	rates    backupRateStore
	settings backupSettingWriter
	defaults backupDefaultRateReader
	audit    backupAuditLogger
	cache    *CacheService
	metrics  backupMetricsRecorder
	logger   *zap.Logger
	location *time.Location
	cfg      BackupServiceConfig
	now      func() time.Time
}

// NewBackupService wires a BackupService, applying defaults for zero-valued
// config fields.
func NewBackupService(params BackupServiceParams) *BackupService {
	cfg := params.Config
	if cfg.AutoMinInterval <= 0 {
		cfg.AutoMinInterval = 7 * 24 * time.Hour
	}
	if cfg.AutoCap <= 0 {
		cfg.AutoCap = 4
	}
	if cfg.CleanupCap <= 0 {
		cfg.CleanupCap = 6
	}
	if cfg.RetentionMonths <= 0 {
		cfg.RetentionMonths = 3
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := params.Location
	if location == nil {
		location = time.Local
	}
	return &BackupService{
		backups:  params.Backups,
		sessions: params.Sessions,
		payments: params.Payments,
		rates:    params.Rates,
		settings: params.Settings,
		defaults: params.Defaults,
		audit:    params.Audit,
		cache:    params.Cache,
		metrics:  params.Metrics,
		logger:   logger,
		location: location,
		cfg:      cfg,
		now:      time.Now,
	}
}

// List returns stored backups, newest first.
func (s *BackupService) List(ctx context.Context, limit int) ([]models.Backup, error) {
	backups, err := s.backups.ListNewestFirst(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list backups")
	}
	return backups, nil
}

// CreateManual takes a snapshot on demand. Manual backups are not pruned.
func (s *BackupService) CreateManual(ctx context.Context, actor *models.JWTClaims) (*models.Backup, error) {
	payload, err := s.snapshotState(ctx)
	if err != nil {
		return nil, err
	}
	backup := &models.Backup{Kind: models.BackupKindManual, Payload: *payload}
	if err := s.backups.Create(ctx, backup); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store backup")
	}
	if s.metrics != nil {
		s.metrics.RecordBackupCreated()
	}
	s.emitAudit(ctx, actor, models.AuditActionBackupCreate, "backup", backup.ID, map[string]interface{}{
		"kind":    string(models.BackupKindManual),
		"classes": len(payload.Classes),
	})
	return backup, nil
}

// RunAutoBackup takes an AUTO snapshot unless the newest one is younger than
// the configured interval, then prunes the AUTO window. A nil backup with a
// nil error means the run was skipped.
func (s *BackupService) RunAutoBackup(ctx context.Context) (*models.Backup, error) {
	newest, err := s.backups.NewestByKind(ctx, models.BackupKindAuto)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read newest auto backup")
	}
	if newest != nil && s.now().Sub(newest.CreatedAt) < s.cfg.AutoMinInterval {
		s.logger.Debug("auto backup still fresh, skipping",
			zap.String("backup_id", newest.ID),
			zap.Time("created_at", newest.CreatedAt))
		return nil, nil
	}
	payload, err := s.snapshotState(ctx)
	if err != nil {
		return nil, err
	}
	backup := &models.Backup{Kind: models.BackupKindAuto, Payload: *payload}
	if err := s.backups.Create(ctx, backup); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store auto backup")
	}
	s.pruneKind(ctx, models.BackupKindAuto, s.cfg.AutoCap)
	if s.metrics != nil {
		s.metrics.RecordBackupCreated()
	}
	s.emitAudit(ctx, nil, models.AuditActionBackupCreate, "backup", backup.ID, map[string]interface{}{
		"kind":    string(models.BackupKindAuto),
		"classes": len(payload.Classes),
	})
	return backup, nil
}

// RunRetentionSweep removes sessions dated before the retention cutoff. The
// safety backup and the deletion commit in one transaction, so the removed
// rows are never gone without a CLEANUP snapshot recording them. When
// nothing is old enough the sweep is a no-op and no backup is written.
func (s *BackupService) RunRetentionSweep(ctx context.Context, actor *models.JWTClaims) (*dto.RetentionSweepResult, error) {
	now := s.now().In(s.location)
	cutoff := clock.DateOf(now).AddDate(0, -s.cfg.RetentionMonths, 0)

	payload, err := s.snapshotState(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.sessions.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin retention sweep")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	removed, err := s.sessions.DeleteOlderThan(ctx, tx, cutoff)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete expired sessions")
	}
	if len(removed) == 0 {
		return &dto.RetentionSweepResult{CutoffDate: clock.FormatDate(cutoff)}, nil
	}

	removedExports := make(models.RemovedSessions, 0, len(removed))
	for i := range removed {
		removedExports = append(removedExports, removed[i].Export())
	}
	backup := &models.Backup{
		Kind:         models.BackupKindCleanup,
		Payload:      *payload,
		CutoffDate:   &cutoff,
		Removed:      removedExports,
		RemovedCount: len(removed),
	}
	if err := s.backups.CreateWithTx(ctx, tx, backup); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store cleanup backup")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit retention sweep")
	}
	committed = true

	s.pruneKind(ctx, models.BackupKindCleanup, s.cfg.CleanupCap)
	if s.metrics != nil {
		s.metrics.RecordBackupCreated()
	}
	s.emitAudit(ctx, actor, models.AuditActionRetentionSweep, "backup", backup.ID, map[string]interface{}{
		"cutoff_date": clock.FormatDate(cutoff),
		"removed":     len(removed),
	})
	s.invalidateDerived(ctx)
	s.logger.Info("retention sweep removed sessions",
		zap.String("cutoff_date", clock.FormatDate(cutoff)),
		zap.Int("removed", len(removed)))
	return &dto.RetentionSweepResult{
		BackupID:     backup.ID,
		CutoffDate:   clock.FormatDate(cutoff),
		RemovedCount: len(removed),
	}, nil
}

// RestoreLatest applies the newest backup whose payload still validates,
// skipping corrupt ones. It fails only when no stored backup is usable.
func (s *BackupService) RestoreLatest(ctx context.Context, actor *models.JWTClaims) (*models.Backup, error) {
	backups, err := s.backups.ListNewestFirst(ctx, 50)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list backups")
	}
	for i := range backups {
		backup := &backups[i]
		if err := validateSnapshotPayload(&backup.Payload); err != nil {
			s.logger.Warn("skipping corrupt backup",
				zap.String("backup_id", backup.ID),
				zap.Error(err))
			continue
		}
		if err := s.applySnapshot(ctx, backup, actor); err != nil {
			return nil, err
		}
		return backup, nil
	}
	return nil, appErrors.Clone(appErrors.ErrBackupCorrupt, "no restorable backup found")
}

// RestoreByID applies one specific backup.
func (s *BackupService) RestoreByID(ctx context.Context, id string, actor *models.JWTClaims) (*models.Backup, error) {
	backup, err := s.backups.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "backup not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load backup")
	}
	if err := validateSnapshotPayload(&backup.Payload); err != nil {
		return nil, appErrors.Clone(appErrors.ErrBackupCorrupt, fmt.Sprintf("backup %s: %v", id, err))
	}
	if err := s.applySnapshot(ctx, backup, actor); err != nil {
		return nil, err
	}
	return backup, nil
}

// Export renders the current state as an interchange file in the current
// version.
func (s *BackupService) Export(ctx context.Context) (*models.ExportFile, error) {
	payload, err := s.snapshotState(ctx)
	if err != nil {
		return nil, err
	}
	return &models.ExportFile{
		ExportDate: s.now().In(s.location).Format(time.RFC3339),
		Version:    models.ExportVersionCurrent,
		Data: models.ExportData{
			Classes:       payload.Classes,
			StudentRates:  payload.StudentRates,
			PaymentStatus: payload.PaymentStatus,
			DefaultRate:   payload.DefaultRate,
		},
	}, nil
}

// Import validates an interchange file and replaces the persisted state with
// its contents in one transaction. Nothing is written when any part of the
// file is invalid. Version "2.0" files get their date-less sessions placed
// on the current week and their coarse payment ledger projected onto
// per-session entries; both migrations are reported as lossy.
func (s *BackupService) Import(ctx context.Context, file models.ExportFile, actor *models.JWTClaims) (*dto.ImportResult, error) {
	version := strings.TrimSpace(file.Version)
	if version == "" {
		version = models.ExportVersionV2
	}
	if version != models.ExportVersionV2 && version != models.ExportVersionCurrent {
		return nil, appErrors.Clone(appErrors.ErrImportInvalid, fmt.Sprintf("unsupported export version %q", version))
	}
	if err := validateExportData(file.Data); err != nil {
		return nil, appErrors.Clone(appErrors.ErrImportInvalid, err.Error())
	}

	now := s.now().In(s.location)
	weekStart := clock.WeekStart(now)
	sessions := make([]models.Session, 0, len(file.Data.Classes))
	migrated := 0
	for _, class := range file.Data.Classes {
		session, didMigrate := buildSessionFromExport(class, sessionBuildOptions{MigrateDay: true, WeekStart: weekStart}, now)
		if didMigrate {
			migrated++
		}
		sessions = append(sessions, session)
	}

	precise, coarse := splitLedger(file.Data.PaymentStatus, now)
	existing := make(map[string]bool, len(precise))
	for _, entry := range precise {
		existing[entry.SessionKey] = true
	}
	mapped, unmapped := migrateCoarseLedger(sessions, coarse, existing, now, s.location)
	entries := append(precise, mapped...)
	rates := ratesFromMap(file.Data.StudentRates, now)

	if err := s.replaceState(ctx, sessions, entries, rates, file.Data.DefaultRate); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordImport()
	}
	s.emitAudit(ctx, actor, models.AuditActionImportApply, "import", version, map[string]interface{}{
		"version":        version,
		"sessions":       len(sessions),
		"migrated_dates": migrated,
		"coarse_mapped":  len(mapped),
		"unmapped":       unmapped,
	})
	s.invalidateDerived(ctx)
	s.logger.Info("import applied",
		zap.String("version", version),
		zap.Int("sessions", len(sessions)),
		zap.Int("migrated_dates", migrated),
		zap.Int("coarse_mapped", len(mapped)),
		zap.Int("unmapped", len(unmapped)))
	return &dto.ImportResult{
		Version:        version,
		Sessions:       len(sessions),
		Rates:          len(rates),
		Payments:       len(entries),
		DefaultRate:    file.Data.DefaultRate,
		MigratedDates:  migrated,
		CoarseMapped:   len(mapped),
		UnmappedCoarse: unmapped,
		Lossy:          migrated > 0 || len(coarse) > 0,
	}, nil
}

// snapshotState reads the four persisted collections into the export shape.
func (s *BackupService) snapshotState(ctx context.Context) (*models.SnapshotPayload, error) {
	sessions, err := s.sessions.FindAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read sessions")
	}
	payments, err := s.payments.FindAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read payment ledger")
	}
	rates, err := s.rates.FindAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read rates")
	}
	defaultRate, err := s.defaults.DefaultRate(ctx)
	if err != nil {
		return nil, err
	}

	classes := make([]models.SessionExport, 0, len(sessions))
	for i := range sessions {
		classes = append(classes, sessions[i].Export())
	}
	rateMap := make(map[string]int, len(rates))
	for _, rate := range rates {
		rateMap[rate.Student] = rate.HourlyRate
	}
	status := make(map[string]bool, len(payments))
	for _, entry := range payments {
		status[entry.SessionKey] = entry.Paid
	}
	return &models.SnapshotPayload{
		Timestamp:     s.now().In(s.location).Format(time.RFC3339),
		Classes:       classes,
		StudentRates:  rateMap,
		PaymentStatus: status,
		DefaultRate:   defaultRate,
	}, nil
}

// applySnapshot replaces the persisted state with a backup payload. Session
// IDs from the snapshot are preserved so ledger rows and calendar UIDs stay
// stable across a restore.
func (s *BackupService) applySnapshot(ctx context.Context, backup *models.Backup, actor *models.JWTClaims) error {
	now := s.now().In(s.location)
	sessions := make([]models.Session, 0, len(backup.Payload.Classes))
	for _, class := range backup.Payload.Classes {
		session, _ := buildSessionFromExport(class, sessionBuildOptions{KeepID: true}, now)
		sessions = append(sessions, session)
	}
	precise, coarse := splitLedger(backup.Payload.PaymentStatus, now)
	if len(coarse) > 0 {
		s.logger.Warn("backup carries coarse ledger keys, dropping",
			zap.String("backup_id", backup.ID),
			zap.Int("count", len(coarse)))
	}
	rates := ratesFromMap(backup.Payload.StudentRates, now)

	if err := s.replaceState(ctx, sessions, precise, rates, backup.Payload.DefaultRate); err != nil {
		return err
	}
	s.emitAudit(ctx, actor, models.AuditActionBackupRestore, "backup", backup.ID, map[string]interface{}{
		"kind":     string(backup.Kind),
		"sessions": len(sessions),
	})
	s.invalidateDerived(ctx)
	s.logger.Info("backup restored",
		zap.String("backup_id", backup.ID),
		zap.Int("sessions", len(sessions)))
	return nil
}

// replaceState swaps all four collections in one transaction. A defaultRate
// of zero is treated as absent and leaves the stored setting untouched.
func (s *BackupService) replaceState(ctx context.Context, sessions []models.Session, entries []models.PaymentEntry, rates []models.StudentRate, defaultRate int) error {
	tx, err := s.sessions.BeginTx(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin state replacement")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := s.sessions.ReplaceAll(ctx, tx, sessions); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace sessions")
	}
	if err := s.payments.ReplaceAll(ctx, tx, entries); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace payment ledger")
	}
	if err := s.rates.ReplaceAll(ctx, tx, rates); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace rates")
	}
	if defaultRate > 0 {
		setting := &models.Setting{
			Key:   "default_rate",
			Value: strconv.Itoa(defaultRate),
			Type:  models.SettingTypeInteger,
		}
		if err := s.settings.UpsertWithTx(ctx, tx, setting); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write default rate")
		}
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit state replacement")
	}
	committed = true
	return nil
}

func (s *BackupService) pruneKind(ctx context.Context, kind models.BackupKind, keep int) {
	pruned, err := s.backups.PruneKind(ctx, kind, keep)
	if err != nil {
		s.logger.Warn("failed to prune backups",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return
	}
	if pruned > 0 {
		s.logger.Info("pruned backups",
			zap.String("kind", string(kind)),
			zap.Int64("pruned", pruned))
	}
}

func (s *BackupService) invalidateDerived(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateDerived(ctx)
}

func (s *BackupService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resource, resourceID string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("failed to marshal audit details", zap.Error(err))
	}
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "backup-service",
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// validateSnapshotPayload rejects payloads that cannot be restored. An empty
// timestamp marks payloads that failed to scan.
func validateSnapshotPayload(payload *models.SnapshotPayload) error {
	if payload.Timestamp == "" {
		return fmt.Errorf("empty payload")
	}
	return validateExportData(models.ExportData{
		Classes:       payload.Classes,
		StudentRates:  payload.StudentRates,
		PaymentStatus: payload.PaymentStatus,
		DefaultRate:   payload.DefaultRate,
	})
}

// validateExportData checks an interchange body before anything is written.
// Missing collections are fine (they default to empty); present entries must
// be coherent.
func validateExportData(data models.ExportData) error {
	for i, class := range data.Classes {
		if strings.TrimSpace(class.Student) == "" {
			return fmt.Errorf("class %d: student is required", i)
		}
		start, err := clock.ParseHHMM(class.Start)
		if err != nil {
			return fmt.Errorf("class %d: invalid start time %q", i, class.Start)
		}
		end, err := clock.ParseHHMM(class.End)
		if err != nil {
			return fmt.Errorf("class %d: invalid end time %q", i, class.End)
		}
		if end <= start {
			return fmt.Errorf("class %d: end time must be after start time", i)
		}
		switch {
		case class.Date != "":
			if _, err := clock.ParseDate(class.Date); err != nil {
				return fmt.Errorf("class %d: invalid date %q", i, class.Date)
			}
		case class.Day != "":
			if !clock.IsWeekdayName(class.Day) {
				return fmt.Errorf("class %d: unknown day %q", i, class.Day)
			}
		default:
			return fmt.Errorf("class %d: needs a date or a day", i)
		}
		if class.CancelReason != "" {
			if _, ok := models.CancelReasonFromLegacy(class.CancelReason); !ok {
				return fmt.Errorf("class %d: unknown cancel reason %q", i, class.CancelReason)
			}
		}
	}
	if data.DefaultRate < 0 {
		return fmt.Errorf("defaultRate must not be negative")
	}
	for student, rate := range data.StudentRates {
		if strings.TrimSpace(student) == "" {
			return fmt.Errorf("studentRates: empty student name")
		}
		if rate < 0 {
			return fmt.Errorf("studentRates: negative rate for %q", student)
		}
	}
	for key := range data.PaymentStatus {
		parts := strings.Split(key, "|")
		switch len(parts) {
		case 4:
			if _, err := clock.ParseDate(parts[1]); err != nil {
				return fmt.Errorf("paymentStatus: key %q has an invalid date", key)
			}
		case 2:
			// Coarse legacy key, mapped during import.
		default:
			return fmt.Errorf("paymentStatus: unrecognised key %q", key)
		}
	}
	return nil
}

type sessionBuildOptions struct {
	// KeepID preserves the exported ID; restores rely on it. Imports leave
	// it false so rows get fresh IDs.
	KeepID bool
	// MigrateDay places date-less rows on their weekday in the week
	// starting at WeekStart.
	MigrateDay bool
	WeekStart  time.Time
}

// buildSessionFromExport converts a validated export row back into a session.
// The second return reports whether a date was migrated onto the row.
func buildSessionFromExport(export models.SessionExport, opts sessionBuildOptions, now time.Time) (models.Session, bool) {
	start, _ := clock.Normalize(export.Start)
	end, _ := clock.Normalize(export.End)
	session := models.Session{
		Student:       strings.TrimSpace(export.Student),
		StartTime:     start,
		EndTime:       end,
		Cancelled:     export.Cancelled,
		Pending:       export.Pending,
		AllowConflict: export.AllowedClash,
	}
	if opts.KeepID {
		session.ID = export.ID
	}

	migrated := false
	if export.Date != "" {
		if date, err := clock.ParseDate(export.Date); err == nil {
			day := clock.DateOf(date)
			session.Date = &day
			session.Day = clock.WeekdayName(day)
		}
	} else {
		session.Day = export.Day
		if opts.MigrateDay {
			if date, ok := clock.DateOnDay(opts.WeekStart, export.Day); ok {
				session.Date = &date
				session.Day = clock.WeekdayName(date)
				migrated = true
			}
		}
	}

	if export.Cancelled {
		if reason, ok := models.CancelReasonFromLegacy(export.CancelReason); ok {
			session.CancelReason = &reason
		}
		if export.CancelNote != "" {
			note := export.CancelNote
			session.CancelNote = &note
		}
		if at, err := time.Parse(time.RFC3339, export.CancelledAt); err == nil {
			session.CancelledAt = &at
		}
	}
	if export.Pending {
		if since, err := time.Parse(time.RFC3339, export.PendingSince); err == nil {
			session.PendingSince = &since
		} else {
			session.PendingSince = &now
		}
	}
	if export.CompletedDate != "" {
		if date, err := clock.ParseDate(export.CompletedDate); err == nil {
			day := clock.DateOf(date)
			session.CompletedDate = &day
		}
	}
	return session, migrated
}

// splitLedger separates precise per-session keys from coarse legacy ones.
func splitLedger(status map[string]bool, now time.Time) ([]models.PaymentEntry, []models.CoarsePayment) {
	var precise []models.PaymentEntry
	var coarse []models.CoarsePayment
	for key, paid := range status {
		parts := strings.Split(key, "|")
		switch len(parts) {
		case 4:
			date, err := clock.ParseDate(parts[1])
			if err != nil {
				continue
			}
			precise = append(precise, models.PaymentEntry{
				SessionKey: key,
				Student:    parts[0],
				Date:       clock.DateOf(date),
				StartTime:  parts[2],
				EndTime:    parts[3],
				Paid:       paid,
				Source:     models.PaymentSourceDirect,
				UpdatedAt:  now,
			})
		case 2:
			coarse = append(coarse, models.CoarsePayment{
				Student: parts[0],
				Period:  parts[1],
				Paid:    paid,
			})
		}
	}
	return precise, coarse
}

func ratesFromMap(rateMap map[string]int, now time.Time) []models.StudentRate {
	rates := make([]models.StudentRate, 0, len(rateMap))
	for student, rate := range rateMap {
		rates = append(rates, models.StudentRate{Student: student, HourlyRate: rate, UpdatedAt: now})
	}
	return rates
}
