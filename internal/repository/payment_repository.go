package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
)

const paymentColumns = "session_key, student, session_date, start_time, end_time, paid, source, legacy_period, updated_at"

// PaymentRepository persists the per-session payment ledger.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindAll returns every ledger entry ordered by date then start time.
func (r *PaymentRepository) FindAll(ctx context.Context) ([]models.PaymentEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_entries ORDER BY session_date ASC, start_time ASC", paymentColumns)
	var entries []models.PaymentEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("list payment entries: %w", err)
	}
	return entries, nil
}

// FindInRange returns ledger entries whose session date falls inside the
// inclusive range.
func (r *PaymentRepository) FindInRange(ctx context.Context, from, to time.Time) ([]models.PaymentEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_entries WHERE session_date >= $1 AND session_date <= $2 ORDER BY session_date ASC, start_time ASC", paymentColumns)
	var entries []models.PaymentEntry
	if err := r.db.SelectContext(ctx, &entries, query, clock.DateOf(from), clock.DateOf(to)); err != nil {
		return nil, fmt.Errorf("list payment entries in range: %w", err)
	}
	return entries, nil
}

// Get fetches a single ledger entry by its composite key.
func (r *PaymentRepository) Get(ctx context.Context, sessionKey string) (*models.PaymentEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_entries WHERE session_key = $1", paymentColumns)
	var entry models.PaymentEntry
	if err := r.db.GetContext(ctx, &entry, query, sessionKey); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Upsert inserts or updates a ledger entry keyed by session identity.
func (r *PaymentRepository) Upsert(ctx context.Context, entry *models.PaymentEntry) error {
	const query = `INSERT INTO payment_entries (session_key, student, session_date, start_time, end_time, paid, source, legacy_period, updated_at)
VALUES (:session_key, :student, :session_date, :start_time, :end_time, :paid, :source, :legacy_period, :updated_at)
ON CONFLICT (session_key)
DO UPDATE SET paid = EXCLUDED.paid, source = EXCLUDED.source,
              legacy_period = EXCLUDED.legacy_period, updated_at = EXCLUDED.updated_at`
	entry.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("upsert payment entry: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole ledger for the supplied entries inside the given
// transaction. Used by import and restore.
func (r *PaymentRepository) ReplaceAll(ctx context.Context, tx *sqlx.Tx, entries []models.PaymentEntry) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM payment_entries`); err != nil {
		return fmt.Errorf("clear payment entries: %w", err)
	}
	const query = `INSERT INTO payment_entries (session_key, student, session_date, start_time, end_time, paid, source, legacy_period, updated_at)
VALUES (:session_key, :student, :session_date, :start_time, :end_time, :paid, :source, :legacy_period, :updated_at)`
	now := time.Now().UTC()
	for i := range entries {
		if entries[i].UpdatedAt.IsZero() {
			entries[i].UpdatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, query, entries[i]); err != nil {
			return fmt.Errorf("insert payment entry: %w", err)
		}
	}
	return nil
}
