package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-desk-api/internal/models"
)

const backupColumns = "id, kind, payload, cutoff_date, removed, removed_count, created_at"

// BackupRepository persists full-state snapshots.
type BackupRepository struct {
	db *sqlx.DB
}

// NewBackupRepository constructs the repository.
func NewBackupRepository(db *sqlx.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// Create stores a snapshot row.
func (r *BackupRepository) Create(ctx context.Context, backup *models.Backup) error {
	return r.create(ctx, r.db, backup)
}

// CreateWithTx stores a snapshot inside an existing transaction, so cleanup
// sweeps commit together with the backup that records what they removed.
func (r *BackupRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, backup *models.Backup) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	return r.create(ctx, tx, backup)
}

func (r *BackupRepository) create(ctx context.Context, exec sqlx.ExtContext, backup *models.Backup) error {
	if backup.ID == "" {
		backup.ID = uuid.NewString()
	}
	if backup.CreatedAt.IsZero() {
		backup.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO backups (id, kind, payload, cutoff_date, removed, removed_count, created_at)
VALUES (:id, :kind, :payload, :cutoff_date, :removed, :removed_count, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, backup); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	return nil
}

// GetByID retrieves one snapshot row.
func (r *BackupRepository) GetByID(ctx context.Context, id string) (*models.Backup, error) {
	query := fmt.Sprintf("SELECT %s FROM backups WHERE id = $1", backupColumns)
	var backup models.Backup
	if err := r.db.GetContext(ctx, &backup, query, id); err != nil {
		return nil, err
	}
	return &backup, nil
}

// ListNewestFirst returns snapshots newest first, optionally capped.
func (r *BackupRepository) ListNewestFirst(ctx context.Context, limit int) ([]models.Backup, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM backups ORDER BY created_at DESC LIMIT %d", backupColumns, limit)
	var backups []models.Backup
	if err := r.db.SelectContext(ctx, &backups, query); err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return backups, nil
}

// NewestByKind returns the most recent snapshot of a kind, or sql.ErrNoRows.
func (r *BackupRepository) NewestByKind(ctx context.Context, kind models.BackupKind) (*models.Backup, error) {
	query := fmt.Sprintf("SELECT %s FROM backups WHERE kind = $1 ORDER BY created_at DESC LIMIT 1", backupColumns)
	var backup models.Backup
	if err := r.db.GetContext(ctx, &backup, query, kind); err != nil {
		return nil, err
	}
	return &backup, nil
}

// PruneKind deletes the oldest snapshots of a kind beyond keep. The retention
// caps differ per kind, so pruning is always kind-scoped.
func (r *BackupRepository) PruneKind(ctx context.Context, kind models.BackupKind, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	const query = `DELETE FROM backups WHERE kind = $1 AND id NOT IN (
		SELECT id FROM backups WHERE kind = $1 ORDER BY created_at DESC LIMIT $2
	)`
	res, err := r.db.ExecContext(ctx, query, kind, keep)
	if err != nil {
		return 0, fmt.Errorf("prune backups: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check pruned backups: %w", err)
	}
	return removed, nil
}
