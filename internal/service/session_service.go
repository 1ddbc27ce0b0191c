package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type sessionRepository interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByDate(ctx context.Context, date time.Time) ([]models.Session, error)
	FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error)
	FindCandidates(ctx context.Context, date *time.Time, day string) ([]models.Session, error)
	FindCandidatesWithTx(ctx context.Context, tx *sqlx.Tx, date *time.Time, day string) ([]models.Session, error)
	Create(ctx context.Context, session *models.Session) error
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	UpdateWithTx(ctx context.Context, tx *sqlx.Tx, session *models.Session) error
	Delete(ctx context.Context, id string) error
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	AcquireSlotLock(ctx context.Context, tx *sqlx.Tx, dayKey string) error
}

// SaveSessionRequest describes the payload for creating or editing a session.
// The calendar date is authoritative; the weekday name is derived from it.
type SaveSessionRequest struct {
	Student       string `json:"student" validate:"required"`
	Date          string `json:"date" validate:"required"`
	StartTime     string `json:"start_time" validate:"required"`
	EndTime       string `json:"end_time" validate:"required"`
	Pending       bool   `json:"pending_confirmation"`
	AllowConflict bool   `json:"allow_conflict"`
}

// CancelSessionRequest carries the cancellation reason.
type CancelSessionRequest struct {
	Reason string `json:"reason" validate:"required"`
	Note   string `json:"note"`
}

// DuplicateSessionRequest targets a copy of an existing session at a new date.
type DuplicateSessionRequest struct {
	Date string `json:"date" validate:"required"`
}

// CopyWeekRequest copies one week's sessions onto another week.
type CopyWeekRequest struct {
	FromWeekStart string `json:"from_week_start" validate:"required"`
	ToWeekStart   string `json:"to_week_start" validate:"required"`
}

// CopyWeekResult reports the per-session outcome of a week copy.
type CopyWeekResult struct {
	Created []models.Session         `json:"created"`
	Skipped []models.SessionConflict `json:"skipped,omitempty"`
}

// ConflictCheckRequest probes a slot without saving anything.
type ConflictCheckRequest struct {
	Student   string `json:"student"`
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	ExcludeID string `json:"exclude_id"`
}

// ConflictCheckResult is the first-class boolean answer plus the offenders.
type ConflictCheckResult struct {
	HasConflict bool                     `json:"has_conflict"`
	Conflicts   []models.SessionConflict `json:"conflicts,omitempty"`
}

// SessionView pairs a stored session with its derived lifecycle status.
type SessionView struct {
	models.Session
	Status models.SessionStatus `json:"status"`
}

// SessionServiceParams groups constructor dependencies.
type SessionServiceParams struct {
	Repo      sessionRepository
	Validator *validator.Validate
	Logger    *zap.Logger
	Metrics   *MetricsService
	Cache     *CacheService
	Location  *time.Location
	Now       func() time.Time
}

// SessionService owns session CRUD, the conflict gate and lifecycle moves.
type SessionService struct {
	repo      sessionRepository
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	cache     *CacheService
	loc       *time.Location
	now       func() time.Time
}

// NewSessionService instantiates SessionService.
func NewSessionService(params SessionServiceParams) *SessionService {
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Location == nil {
		params.Location = time.Local
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &SessionService{
		repo:      params.Repo,
		validator: params.Validator,
		logger:    params.Logger,
		metrics:   params.Metrics,
		cache:     params.Cache,
		loc:       params.Location,
		now:       params.Now,
	}
}

// List returns sessions with derived statuses and pagination metadata.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]SessionView, *models.Pagination, error) {
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return s.withStatuses(sessions), pagination, nil
}

// Get loads one session with its derived status.
func (s *SessionService) Get(ctx context.Context, id string) (*SessionView, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.view(*session)
	return &view, nil
}

// Create stores a new session after the conflict gate.
func (s *SessionService) Create(ctx context.Context, req SaveSessionRequest) (*SessionView, error) {
	session, err := s.sessionFromRequest(req)
	if err != nil {
		return nil, err
	}
	if session.Pending {
		ts := s.now().UTC()
		session.PendingSince = &ts
	}

	if err := s.saveGated(ctx, session, "", true); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	s.invalidateDerived(ctx)
	view := s.view(*session)
	return &view, nil
}

// Update edits an existing session, re-running the conflict gate without the
// session's own prior version.
func (s *SessionService) Update(ctx context.Context, id string, req SaveSessionRequest) (*SessionView, error) {
	existing, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	session, err := s.sessionFromRequest(req)
	if err != nil {
		return nil, err
	}
	session.ID = existing.ID
	session.CreatedAt = existing.CreatedAt
	session.Cancelled = existing.Cancelled
	session.CancelReason = existing.CancelReason
	session.CancelNote = existing.CancelNote
	session.CancelledAt = existing.CancelledAt
	session.CompletedDate = existing.CompletedDate
	if session.Pending {
		since := existing.PendingSince
		if since == nil {
			ts := s.now().UTC()
			since = &ts
		}
		session.PendingSince = since
	}

	if err := s.saveGated(ctx, session, existing.ID, false); err != nil {
		return nil, err
	}
	s.invalidateDerived(ctx)
	view := s.view(*session)
	return &view, nil
}

// Delete removes a session. Ledger entries keyed by the session's identity
// are left in place.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	s.invalidateDerived(ctx)
	return nil
}

// Cancel marks a session cancelled with a reason. OTHER requires a note.
// Cancelling clears pending confirmation; the two states never coexist.
func (s *SessionService) Cancel(ctx context.Context, id string, req CancelSessionRequest) (*SessionView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancel payload")
	}
	reason, ok := models.CancelReasonFromLegacy(req.Reason)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown cancel reason")
	}
	note := strings.TrimSpace(req.Note)
	if reason == models.CancelReasonOther && note == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancel reason OTHER requires a note")
	}

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	session.Cancelled = true
	session.CancelReason = &reason
	session.CancelledAt = &now
	session.CancelNote = nil
	if note != "" {
		session.CancelNote = &note
	}
	session.Pending = false
	session.PendingSince = nil

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel session")
	}
	s.invalidateDerived(ctx)
	view := s.view(*session)
	return &view, nil
}

// Restore clears a cancellation. The slot is re-gated against the current
// non-cancelled set and the restore is refused when it would now collide.
func (s *SessionService) Restore(ctx context.Context, id string) (*SessionView, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Cancelled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session is not cancelled")
	}
	session.Cancelled = false
	session.CancelReason = nil
	session.CancelNote = nil
	session.CancelledAt = nil

	if err := s.saveGated(ctx, session, session.ID, false); err != nil {
		return nil, err
	}
	s.invalidateDerived(ctx)
	view := s.view(*session)
	return &view, nil
}

// Confirm clears the pending-confirmation flag.
func (s *SessionService) Confirm(ctx context.Context, id string) (*SessionView, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Cancelled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot confirm a cancelled session")
	}
	session.Pending = false
	session.PendingSince = nil

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm session")
	}
	s.invalidateDerived(ctx)
	view := s.view(*session)
	return &view, nil
}

// Duplicate copies a session onto a new date as a fresh upcoming session.
func (s *SessionService) Duplicate(ctx context.Context, id string, req DuplicateSessionRequest) (*SessionView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid duplicate payload")
	}
	date, err := clock.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	source, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	day := clock.DateOf(date)
	clone := &models.Session{
		Student:   source.Student,
		Day:       clock.WeekdayName(day),
		Date:      &day,
		StartTime: source.StartTime,
		EndTime:   source.EndTime,
	}
	if err := s.saveGated(ctx, clone, "", true); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	s.invalidateDerived(ctx)
	view := s.view(*clone)
	return &view, nil
}

// CopyWeek duplicates every non-cancelled session of one week onto the same
// weekday of another week. Collisions skip the single session and are
// reported; the rest of the week still copies.
func (s *SessionService) CopyWeek(ctx context.Context, req CopyWeekRequest) (*CopyWeekResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid copy-week payload")
	}
	fromDate, err := clock.ParseDate(req.FromWeekStart)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from_week_start must be YYYY-MM-DD")
	}
	toDate, err := clock.ParseDate(req.ToWeekStart)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to_week_start must be YYYY-MM-DD")
	}
	fromStart := clock.WeekStart(fromDate)
	toStart := clock.WeekStart(toDate)
	if fromStart.Equal(toStart) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "source and target week are the same")
	}

	sessions, err := s.repo.FindInRange(ctx, fromStart, fromStart.AddDate(0, 0, 6))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source week")
	}

	result := &CopyWeekResult{}
	for _, source := range sessions {
		if source.Cancelled || source.Date == nil {
			continue
		}
		offset := int(clock.DateOf(*source.Date).Sub(fromStart).Hours() / 24)
		target := toStart.AddDate(0, 0, offset)
		clone := &models.Session{
			Student:   source.Student,
			Day:       clock.WeekdayName(target),
			Date:      &target,
			StartTime: source.StartTime,
			EndTime:   source.EndTime,
			Pending:   source.Pending,
		}
		if clone.Pending {
			ts := s.now().UTC()
			clone.PendingSince = &ts
		}
		if err := s.saveGated(ctx, clone, "", true); err != nil {
			var domainErr *models.SessionConflictError
			if errors.As(err, &domainErr) {
				skipped := models.ConflictFromSession(&source)
				skipped.Date = clock.FormatDate(target)
				result.Skipped = append(result.Skipped, skipped)
				continue
			}
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.RecordSessionCreated()
		}
		result.Created = append(result.Created, *clone)
	}
	if len(result.Created) > 0 {
		s.invalidateDerived(ctx)
	}
	return result, nil
}

// CheckConflict answers the first-class boolean without mutating anything.
func (s *SessionService) CheckConflict(ctx context.Context, req ConflictCheckRequest) (*ConflictCheckResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict-check payload")
	}
	candidate, err := s.candidateFrom(req.Student, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.findConflicts(ctx, nil, candidate, req.ExcludeID)
	if err != nil {
		return nil, err
	}
	return &ConflictCheckResult{HasConflict: len(conflicts) > 0, Conflicts: conflicts}, nil
}

// FindConflictingSessions returns the sessions on one date that participate
// in at least one overlapping pair. Highlighting, not a gate.
func (s *SessionService) FindConflictingSessions(ctx context.Context, date time.Time) ([]SessionView, error) {
	candidates, err := s.repo.FindCandidates(ctx, &date, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions for date")
	}
	involved := map[string]bool{}
	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].ConflictsWith(&candidates[j]) {
				involved[candidates[i].ID] = true
				involved[candidates[j].ID] = true
			}
		}
	}
	var clashing []models.Session
	for _, c := range candidates {
		if involved[c.ID] {
			clashing = append(clashing, c)
		}
	}
	sort.Slice(clashing, func(i, j int) bool { return clashing[i].StartTime < clashing[j].StartTime })
	return s.withStatuses(clashing), nil
}

// HasUnresolvedConflict reports whether any overlapping pair in the range has
// no override on either side. Feeds the dashboard banner.
func (s *SessionService) HasUnresolvedConflict(ctx context.Context, from, to time.Time) (bool, error) {
	sessions, err := s.repo.FindInRange(ctx, from, to)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions for range")
	}
	var active []models.Session
	for _, session := range sessions {
		if !session.Cancelled {
			active = append(active, session)
		}
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			if !active[i].ConflictsWith(&active[j]) {
				continue
			}
			if active[i].AllowConflict || active[j].AllowConflict {
				continue
			}
			return true, nil
		}
	}
	return false, nil
}

// StatusOf derives the lifecycle status against the service clock.
func (s *SessionService) StatusOf(session *models.Session) models.SessionStatus {
	return session.StatusAt(s.now(), s.loc)
}

// Now exposes the service clock for collaborating services.
func (s *SessionService) Now() time.Time {
	return s.now()
}

func (s *SessionService) view(session models.Session) SessionView {
	return SessionView{Session: session, Status: session.StatusAt(s.now(), s.loc)}
}

func (s *SessionService) withStatuses(sessions []models.Session) []SessionView {
	views := make([]SessionView, 0, len(sessions))
	now := s.now()
	for _, session := range sessions {
		views = append(views, SessionView{Session: session, Status: session.StatusAt(now, s.loc)})
	}
	return views
}

func (s *SessionService) load(ctx context.Context, id string) (*models.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session id is required")
	}
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

func (s *SessionService) sessionFromRequest(req SaveSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	return s.candidateFrom(req.Student, req.Date, req.StartTime, req.EndTime, func(session *models.Session) {
		session.Pending = req.Pending
		session.AllowConflict = req.AllowConflict
	})
}

func (s *SessionService) candidateFrom(student, date, start, end string, mutators ...func(*models.Session)) (*models.Session, error) {
	student = strings.TrimSpace(student)
	if student == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is required")
	}
	parsed, err := clock.ParseDate(date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	startMin, err := clock.ParseHHMM(start)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM")
	}
	endMin, err := clock.ParseHHMM(end)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be HH:MM")
	}
	if endMin <= startMin {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}

	day := clock.DateOf(parsed)
	session := &models.Session{
		Student:   student,
		Day:       clock.WeekdayName(day),
		Date:      &day,
		StartTime: clock.FormatHHMM(startMin),
		EndTime:   clock.FormatHHMM(endMin),
	}
	for _, mutate := range mutators {
		mutate(session)
	}
	return session, nil
}

// findConflicts lists stored sessions colliding with the candidate. When tx
// is non-nil the read happens behind the gate's advisory lock.
func (s *SessionService) findConflicts(ctx context.Context, tx *sqlx.Tx, candidate *models.Session, excludeID string) ([]models.SessionConflict, error) {
	var (
		stored []models.Session
		err    error
	)
	if tx != nil {
		stored, err = s.repo.FindCandidatesWithTx(ctx, tx, candidate.Date, candidate.Day)
	} else {
		stored, err = s.repo.FindCandidates(ctx, candidate.Date, candidate.Day)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check session conflicts")
	}

	var conflicts []models.SessionConflict
	for i := range stored {
		if stored[i].ID == excludeID {
			continue
		}
		if candidate.ConflictsWith(&stored[i]) {
			conflicts = append(conflicts, models.ConflictFromSession(&stored[i]))
		}
	}
	return conflicts, nil
}

// saveGated runs the read-check-write sequence inside one transaction with an
// advisory lock on the slot's day key, so two concurrent saves of the same
// day cannot both pass the check.
func (s *SessionService) saveGated(ctx context.Context, session *models.Session, excludeID string, create bool) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := s.repo.AcquireSlotLock(ctx, tx, s.slotLockKey(session)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock slot")
	}

	conflicts, err := s.findConflicts(ctx, tx, session, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		if !session.AllowConflict {
			if s.metrics != nil {
				s.metrics.RecordConflictBlocked()
			}
			return s.conflictError(conflicts)
		}
		if s.metrics != nil {
			s.metrics.RecordConflictOverride()
		}
		s.logger.Info("conflict override accepted",
			zap.String("student", session.Student),
			zap.String("date", session.DateString()),
			zap.Int("conflicts", len(conflicts)))
	}

	if create {
		err = s.repo.CreateWithTx(ctx, tx, session)
	} else {
		err = s.repo.UpdateWithTx(ctx, tx, session)
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save session")
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit session save")
	}
	committed = true
	return nil
}

func (s *SessionService) slotLockKey(session *models.Session) string {
	if key := session.DateString(); key != "" {
		return key
	}
	return "day:" + strings.ToLower(session.Day)
}

func (s *SessionService) conflictError(conflicts []models.SessionConflict) error {
	domainErr := &models.SessionConflictError{
		Message:   fmt.Sprintf("slot collides with %d existing session(s)", len(conflicts)),
		Conflicts: conflicts,
	}
	appErr := appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "session conflict")
	appErr.Details = domainErr
	return appErr
}

func (s *SessionService) invalidateDerived(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateDerived(ctx)
}
