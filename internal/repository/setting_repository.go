package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-desk-api/internal/models"
)

// SettingRepository persists settings entries.
type SettingRepository struct {
	db *sqlx.DB
}

// NewSettingRepository constructs the repository.
func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// ListByKeys returns settings whose key is in the provided slice.
func (r *SettingRepository) ListByKeys(ctx context.Context, keys []string) ([]models.Setting, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT key, value, type, description, updated_at
FROM settings WHERE key IN (%s) ORDER BY key ASC`, placeholders(len(keys)))
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	var settings []models.Setting
	if err := r.db.SelectContext(ctx, &settings, query, args...); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}

// Get fetches a single setting by key.
func (r *SettingRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	const query = `SELECT key, value, type, description, updated_at FROM settings WHERE key = $1`
	var setting models.Setting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		return nil, err
	}
	return &setting, nil
}

// Upsert inserts or updates a setting entry.
func (r *SettingRepository) Upsert(ctx context.Context, setting *models.Setting) error {
	const query = `INSERT INTO settings (key, value, type, description, updated_at)
VALUES (:key, :value, :type, :description, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type, description = EXCLUDED.description,
              updated_at = EXCLUDED.updated_at`
	setting.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// UpsertWithTx upserts a setting inside an existing transaction.
func (r *SettingRepository) UpsertWithTx(ctx context.Context, tx *sqlx.Tx, setting *models.Setting) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `INSERT INTO settings (key, value, type, description, updated_at)
VALUES (:key, :value, :type, :description, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type, description = EXCLUDED.description,
              updated_at = EXCLUDED.updated_at`
	setting.UpdatedAt = time.Now().UTC()
	if _, err := tx.NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("upsert setting in tx: %w", err)
	}
	return nil
}

// BulkUpsert performs upserts within a transaction.
func (r *SettingRepository) BulkUpsert(ctx context.Context, settings []models.Setting) error {
	if len(settings) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk setting tx: %w", err)
	}
	const query = `INSERT INTO settings (key, value, type, description, updated_at)
VALUES (:key, :value, :type, :description, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type, description = EXCLUDED.description,
              updated_at = EXCLUDED.updated_at`
	for i := range settings {
		settings[i].UpdatedAt = time.Now().UTC()
		if _, err := tx.NamedExecContext(ctx, query, settings[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bulk upsert setting: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk setting tx: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	values := make([]string, n)
	for i := 1; i <= n; i++ {
		values[i-1] = fmt.Sprintf("$%d", i)
	}
	return strings.Join(values, ",")
}
