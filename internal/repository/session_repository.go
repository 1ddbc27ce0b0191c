package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
)

const sessionColumns = "id, student, day, session_date, start_time, end_time, cancelled, cancel_reason, cancel_note, cancelled_at, pending, pending_since, allow_conflict, completed_date, created_at, updated_at"

// SessionRepository provides persistence for tutoring sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// List returns sessions with optional filtering and pagination.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	base := "FROM sessions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Student != "" {
		conditions = append(conditions, fmt.Sprintf("student = $%d", len(args)+1))
		args = append(args, filter.Student)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("session_date >= $%d", len(args)+1))
		args = append(args, clock.DateOf(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("session_date <= $%d", len(args)+1))
		args = append(args, clock.DateOf(*filter.DateTo))
	}
	if filter.Day != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(day) = LOWER($%d)", len(args)+1))
		args = append(args, filter.Day)
	}
	if filter.Cancelled != nil {
		conditions = append(conditions, fmt.Sprintf("cancelled = $%d", len(args)+1))
		args = append(args, *filter.Cancelled)
	}
	if filter.Pending != nil {
		conditions = append(conditions, fmt.Sprintf("pending = $%d", len(args)+1))
		args = append(args, *filter.Pending)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "session_date"
	}
	allowedSorts := map[string]bool{
		"session_date": true,
		"start_time":   true,
		"student":      true,
		"created_at":   true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "session_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	// NULLS LAST keeps legacy date-less rows at the tail of date ordering.
	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s NULLS LAST, start_time ASC LIMIT %d OFFSET %d", sessionColumns, base, sortBy, order, size, offset)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	return sessions, total, nil
}

// FindByID loads a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE id = $1", sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByDate returns all sessions on a calendar date ordered by start time.
func (r *SessionRepository) FindByDate(ctx context.Context, date time.Time) ([]models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE session_date = $1 ORDER BY start_time ASC", sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, clock.DateOf(date)); err != nil {
		return nil, fmt.Errorf("list sessions by date: %w", err)
	}
	return sessions, nil
}

// FindInRange returns sessions whose date falls inside the inclusive range.
// Legacy date-less rows never match.
func (r *SessionRepository) FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE session_date >= $1 AND session_date <= $2 ORDER BY session_date ASC, start_time ASC", sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, clock.DateOf(from), clock.DateOf(to)); err != nil {
		return nil, fmt.Errorf("list sessions in range: %w", err)
	}
	return sessions, nil
}

// FindAll returns every stored session ordered by date then start time.
func (r *SessionRepository) FindAll(ctx context.Context) ([]models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions ORDER BY session_date ASC NULLS LAST, start_time ASC", sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query); err != nil {
		return nil, fmt.Errorf("list all sessions: %w", err)
	}
	return sessions, nil
}

// CountUndated counts legacy rows that still lack a calendar date. These rows
// are invisible to date-ranged reports.
func (r *SessionRepository) CountUndated(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sessions WHERE session_date IS NULL`); err != nil {
		return 0, fmt.Errorf("count undated sessions: %w", err)
	}
	return count, nil
}

// FindCandidates returns the non-cancelled sessions that share the candidate's
// day: rows on the same date, plus legacy date-less rows whose weekday name
// matches. Time overlap is evaluated by the caller.
func (r *SessionRepository) FindCandidates(ctx context.Context, date *time.Time, day string) ([]models.Session, error) {
	return r.findCandidates(ctx, r.db, date, day)
}

// FindCandidatesWithTx runs the candidate query on an open transaction so the
// conflict gate reads behind its advisory lock.
func (r *SessionRepository) FindCandidatesWithTx(ctx context.Context, tx *sqlx.Tx, date *time.Time, day string) ([]models.Session, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction provided")
	}
	return r.findCandidates(ctx, tx, date, day)
}

func (r *SessionRepository) findCandidates(ctx context.Context, exec sqlx.ExtContext, date *time.Time, day string) ([]models.Session, error) {
	var (
		query string
		args  []interface{}
	)
	if date != nil {
		query = fmt.Sprintf("SELECT %s FROM sessions WHERE cancelled = false AND (session_date = $1 OR (session_date IS NULL AND LOWER(day) = LOWER($2)))", sessionColumns)
		args = []interface{}{clock.DateOf(*date), clock.WeekdayName(*date)}
	} else {
		query = fmt.Sprintf("SELECT %s FROM sessions WHERE cancelled = false AND ((session_date IS NULL AND LOWER(day) = LOWER($1)) OR session_date IS NOT NULL)", sessionColumns)
		args = []interface{}{day}
	}
	var sessions []models.Session
	if err := sqlx.SelectContext(ctx, exec, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("find conflict candidates: %w", err)
	}
	return sessions, nil
}

// Create stores a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	return r.create(ctx, r.db, session)
}

// CreateWithTx stores a new session inside an existing transaction.
func (r *SessionRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, session *models.Session) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	return r.create(ctx, tx, session)
}

func (r *SessionRepository) create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	const query = `INSERT INTO sessions (id, student, day, session_date, start_time, end_time, cancelled, cancel_reason, cancel_note, cancelled_at, pending, pending_since, allow_conflict, completed_date, created_at, updated_at) VALUES (:id, :student, :day, :session_date, :start_time, :end_time, :cancelled, :cancel_reason, :cancel_note, :cancelled_at, :pending, :pending_since, :allow_conflict, :completed_date, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Update modifies a session record.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	return r.update(ctx, r.db, session)
}

// UpdateWithTx modifies a session inside an existing transaction.
func (r *SessionRepository) UpdateWithTx(ctx context.Context, tx *sqlx.Tx, session *models.Session) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	return r.update(ctx, tx, session)
}

func (r *SessionRepository) update(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sessions SET student = :student, day = :day, session_date = :session_date, start_time = :start_time, end_time = :end_time, cancelled = :cancelled, cancel_reason = :cancel_reason, cancel_note = :cancel_note, cancelled_at = :cancelled_at, pending = :pending, pending_since = :pending_since, allow_conflict = :allow_conflict, completed_date = :completed_date, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Delete removes a session by id.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteOlderThan removes dated sessions strictly before the cutoff and
// returns the removed rows so the caller can archive them first. Runs inside
// the supplied transaction so the sweep and its backup commit together.
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) ([]models.Session, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction provided")
	}
	query := fmt.Sprintf("DELETE FROM sessions WHERE session_date IS NOT NULL AND session_date < $1 RETURNING %s", sessionColumns)
	var removed []models.Session
	if err := tx.SelectContext(ctx, &removed, query, clock.DateOf(cutoff)); err != nil {
		return nil, fmt.Errorf("delete sessions before cutoff: %w", err)
	}
	return removed, nil
}

// ReplaceAll swaps the entire session table for the supplied rows inside one
// transaction. Used by import and restore, which are all-or-nothing.
func (r *SessionRepository) ReplaceAll(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	for i := range sessions {
		if err := r.create(ctx, tx, &sessions[i]); err != nil {
			return err
		}
	}
	return nil
}

// BeginTx opens a transaction for multi-step mutations.
func (r *SessionRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session tx: %w", err)
	}
	return tx, nil
}

// AcquireSlotLock takes a transaction-scoped advisory lock for the given day
// key, serialising concurrent conflict checks that target the same day. The
// lock releases automatically at commit or rollback.
func (r *SessionRepository) AcquireSlotLock(ctx context.Context, tx *sqlx.Tx, dayKey string) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dayKey); err != nil {
		return fmt.Errorf("acquire slot lock: %w", err)
	}
	return nil
}
