package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-desk-api/internal/models"
)

// RateRepository persists per-student hourly rates.
type RateRepository struct {
	db *sqlx.DB
}

// NewRateRepository constructs the repository.
func NewRateRepository(db *sqlx.DB) *RateRepository {
	return &RateRepository{db: db}
}

// FindAll returns every stored rate ordered by student name.
func (r *RateRepository) FindAll(ctx context.Context) ([]models.StudentRate, error) {
	const query = `SELECT student, hourly_rate, updated_at FROM student_rates ORDER BY student ASC`
	var rates []models.StudentRate
	if err := r.db.SelectContext(ctx, &rates, query); err != nil {
		return nil, fmt.Errorf("list student rates: %w", err)
	}
	return rates, nil
}

// Get fetches the rate for a student.
func (r *RateRepository) Get(ctx context.Context, student string) (*models.StudentRate, error) {
	const query = `SELECT student, hourly_rate, updated_at FROM student_rates WHERE student = $1`
	var rate models.StudentRate
	if err := r.db.GetContext(ctx, &rate, query, student); err != nil {
		return nil, err
	}
	return &rate, nil
}

// Upsert inserts or updates a student's rate.
func (r *RateRepository) Upsert(ctx context.Context, rate *models.StudentRate) error {
	const query = `INSERT INTO student_rates (student, hourly_rate, updated_at)
VALUES (:student, :hourly_rate, :updated_at)
ON CONFLICT (student)
DO UPDATE SET hourly_rate = EXCLUDED.hourly_rate, updated_at = EXCLUDED.updated_at`
	rate.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, query, rate); err != nil {
		return fmt.Errorf("upsert student rate: %w", err)
	}
	return nil
}

// Delete removes a student's rate row so they fall back to the default.
func (r *RateRepository) Delete(ctx context.Context, student string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM student_rates WHERE student = $1`, student); err != nil {
		return fmt.Errorf("delete student rate: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole rate table for the supplied rows inside the
// given transaction. Used by import and restore.
func (r *RateRepository) ReplaceAll(ctx context.Context, tx *sqlx.Tx, rates []models.StudentRate) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM student_rates`); err != nil {
		return fmt.Errorf("clear student rates: %w", err)
	}
	const query = `INSERT INTO student_rates (student, hourly_rate, updated_at) VALUES (:student, :hourly_rate, :updated_at)`
	now := time.Now().UTC()
	for i := range rates {
		if rates[i].UpdatedAt.IsZero() {
			rates[i].UpdatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, query, rates[i]); err != nil {
			return fmt.Errorf("insert student rate: %w", err)
		}
	}
	return nil
}
