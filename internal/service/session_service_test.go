package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type sessionRepoStub struct {
	dbx      *sqlx.DB
	sessions []models.Session
	lockKeys []string
	deleted  []string
	nextID   int
}

func (s *sessionRepoStub) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	return s.sessions, len(s.sessions), nil
}

func (s *sessionRepoStub) FindByID(ctx context.Context, id string) (*models.Session, error) {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			found := s.sessions[i]
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *sessionRepoStub) FindByDate(ctx context.Context, date time.Time) ([]models.Session, error) {
	var result []models.Session
	for _, session := range s.sessions {
		if session.Date != nil && clock.SameDate(*session.Date, date) {
			result = append(result, session)
		}
	}
	return result, nil
}

func (s *sessionRepoStub) FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error) {
	var result []models.Session
	for _, session := range s.sessions {
		if session.Date == nil {
			continue
		}
		if session.Date.Before(from) || session.Date.After(to) {
			continue
		}
		result = append(result, session)
	}
	return result, nil
}

// findCandidates mirrors the repository query: non-cancelled rows on the same
// date, plus legacy date-less rows matched by weekday name.
func (s *sessionRepoStub) FindCandidates(ctx context.Context, date *time.Time, day string) ([]models.Session, error) {
	var result []models.Session
	for _, session := range s.sessions {
		if session.Cancelled {
			continue
		}
		if date != nil {
			sameDate := session.Date != nil && clock.SameDate(*session.Date, *date)
			legacyMatch := session.Date == nil && strings.EqualFold(session.Day, clock.WeekdayName(*date))
			if sameDate || legacyMatch {
				result = append(result, session)
			}
			continue
		}
		if session.Date != nil || strings.EqualFold(session.Day, day) {
			result = append(result, session)
		}
	}
	return result, nil
}

func (s *sessionRepoStub) FindCandidatesWithTx(ctx context.Context, tx *sqlx.Tx, date *time.Time, day string) ([]models.Session, error) {
	return s.FindCandidates(ctx, date, day)
}

func (s *sessionRepoStub) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		s.nextID++
		session.ID = fmt.Sprintf("s-%d", s.nextID)
	}
	s.sessions = append(s.sessions, *session)
	return nil
}

func (s *sessionRepoStub) CreateWithTx(ctx context.Context, tx *sqlx.Tx, session *models.Session) error {
	return s.Create(ctx, session)
}

func (s *sessionRepoStub) Update(ctx context.Context, session *models.Session) error {
	for i := range s.sessions {
		if s.sessions[i].ID == session.ID {
			s.sessions[i] = *session
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *sessionRepoStub) UpdateWithTx(ctx context.Context, tx *sqlx.Tx, session *models.Session) error {
	return s.Update(ctx, session)
}

func (s *sessionRepoStub) Delete(ctx context.Context, id string) error {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			s.deleted = append(s.deleted, id)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *sessionRepoStub) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return s.dbx.BeginTxx(ctx, nil)
}

func (s *sessionRepoStub) AcquireSlotLock(ctx context.Context, tx *sqlx.Tx, dayKey string) error {
	s.lockKeys = append(s.lockKeys, dayKey)
	return nil
}

func newSessionFixture(t *testing.T, seed ...models.Session) (*SessionService, *sessionRepoStub, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := &sessionRepoStub{dbx: sqlx.NewDb(db, "sqlmock"), sessions: seed}
	svc := NewSessionService(SessionServiceParams{
		Repo:     repo,
		Location: time.UTC,
		Now:      billingFixtureNow,
	})
	return svc, repo, mock
}

func ashaMonday() models.Session {
	return models.Session{
		ID:        "asha",
		Student:   "Asha",
		Day:       "Monday",
		Date:      datePtr("2024-06-24"),
		StartTime: "16:00",
		EndTime:   "17:30",
	}
}

func TestSessionCreateRejectsOverlap(t *testing.T) {
	svc, repo, mock := newSessionFixture(t, ashaMonday())
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), SaveSessionRequest{
		Student:   "Riya",
		Date:      "2024-06-24",
		StartTime: "17:00",
		EndTime:   "18:00",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	var conflictErr *models.SessionConflictError
	require.True(t, errors.As(err, &conflictErr))
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, "Asha", conflictErr.Conflicts[0].Student)

	require.Len(t, repo.sessions, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCreateAllowsOverride(t *testing.T) {
	svc, repo, mock := newSessionFixture(t, ashaMonday())
	mock.ExpectBegin()
	mock.ExpectCommit()

	view, err := svc.Create(context.Background(), SaveSessionRequest{
		Student:       "Riya",
		Date:          "2024-06-24",
		StartTime:     "17:00",
		EndTime:       "18:00",
		AllowConflict: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.True(t, view.AllowConflict)
	assert.Equal(t, models.StatusUpcoming, view.Status)
	assert.Equal(t, "Monday", view.Day)
	require.Len(t, repo.sessions, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCreateAdjacentSlotsDoNotClash(t *testing.T) {
	svc, repo, mock := newSessionFixture(t, ashaMonday())
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := svc.Create(context.Background(), SaveSessionRequest{
		Student:   "Riya",
		Date:      "2024-06-24",
		StartTime: "17:30",
		EndTime:   "18:30",
	})
	require.NoError(t, err)
	require.Len(t, repo.sessions, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCreateLegacyDayRowStillBlocks(t *testing.T) {
	legacy := models.Session{ID: "old", Student: "Meera", Day: "Monday", StartTime: "16:00", EndTime: "17:00"}
	svc, _, mock := newSessionFixture(t, legacy)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), SaveSessionRequest{
		Student:   "Riya",
		Date:      "2024-06-24",
		StartTime: "16:30",
		EndTime:   "17:30",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCreateValidation(t *testing.T) {
	svc, _, _ := newSessionFixture(t)

	cases := []SaveSessionRequest{
		{Student: "Asha", Date: "2024-06-24", StartTime: "26:00", EndTime: "27:00"},
		{Student: "Asha", Date: "2024-06-24", StartTime: "17:00", EndTime: "16:00"},
		{Student: "Asha", Date: "24/06/2024", StartTime: "16:00", EndTime: "17:00"},
		{Student: "  ", Date: "2024-06-24", StartTime: "16:00", EndTime: "17:00"},
	}
	for _, req := range cases {
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestSessionUpdateExcludesSelfFromGate(t *testing.T) {
	svc, repo, mock := newSessionFixture(t, ashaMonday())
	mock.ExpectBegin()
	mock.ExpectCommit()

	view, err := svc.Update(context.Background(), "asha", SaveSessionRequest{
		Student:   "Asha",
		Date:      "2024-06-24",
		StartTime: "16:00",
		EndTime:   "18:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "asha", view.ID)
	assert.Equal(t, "18:00", view.EndTime)
	require.Len(t, repo.sessions, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCancelClearsPendingAndMapsReason(t *testing.T) {
	pending := ashaMonday()
	pending.Pending = true
	since := billingFixtureNow()
	pending.PendingSince = &since
	svc, repo, _ := newSessionFixture(t, pending)

	view, err := svc.Cancel(context.Background(), "asha", CancelSessionRequest{Reason: "student-unavailable"})
	require.NoError(t, err)
	assert.True(t, view.Cancelled)
	assert.False(t, view.Pending)
	assert.Nil(t, view.PendingSince)
	require.NotNil(t, view.CancelReason)
	assert.Equal(t, models.CancelReasonStudentUnavailable, *view.CancelReason)
	assert.Equal(t, models.StatusCancelled, view.Status)
	assert.True(t, repo.sessions[0].Cancelled)
}

func TestSessionCancelOtherRequiresNote(t *testing.T) {
	svc, _, _ := newSessionFixture(t, ashaMonday())

	_, err := svc.Cancel(context.Background(), "asha", CancelSessionRequest{Reason: "other"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	view, err := svc.Cancel(context.Background(), "asha", CancelSessionRequest{Reason: "other", Note: "family emergency"})
	require.NoError(t, err)
	require.NotNil(t, view.CancelNote)
	assert.Equal(t, "family emergency", *view.CancelNote)
}

func TestSessionCancelUnknownReason(t *testing.T) {
	svc, _, _ := newSessionFixture(t, ashaMonday())

	_, err := svc.Cancel(context.Background(), "asha", CancelSessionRequest{Reason: "rained-out"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSessionRestoreRejectedWhenSlotTaken(t *testing.T) {
	cancelled := ashaMonday()
	cancelled.Cancelled = true
	reason := models.CancelReasonHoliday
	cancelled.CancelReason = &reason
	riya := models.Session{
		ID:            "riya",
		Student:       "Riya",
		Day:           "Monday",
		Date:          datePtr("2024-06-24"),
		StartTime:     "17:00",
		EndTime:       "18:00",
		AllowConflict: true,
	}
	svc, repo, mock := newSessionFixture(t, cancelled, riya)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Restore(context.Background(), "asha")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.True(t, repo.sessions[0].Cancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRestoreSucceedsWhenSlotFree(t *testing.T) {
	cancelled := ashaMonday()
	cancelled.Cancelled = true
	reason := models.CancelReasonHoliday
	cancelled.CancelReason = &reason
	note := "flu"
	cancelled.CancelNote = &note
	svc, repo, mock := newSessionFixture(t, cancelled)
	mock.ExpectBegin()
	mock.ExpectCommit()

	view, err := svc.Restore(context.Background(), "asha")
	require.NoError(t, err)
	assert.False(t, view.Cancelled)
	assert.Nil(t, view.CancelReason)
	assert.Nil(t, view.CancelNote)
	assert.False(t, repo.sessions[0].Cancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRestoreRequiresCancelled(t *testing.T) {
	svc, _, _ := newSessionFixture(t, ashaMonday())

	_, err := svc.Restore(context.Background(), "asha")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSessionConfirmClearsPending(t *testing.T) {
	pending := ashaMonday()
	pending.Pending = true
	since := billingFixtureNow()
	pending.PendingSince = &since
	svc, _, _ := newSessionFixture(t, pending)

	view, err := svc.Confirm(context.Background(), "asha")
	require.NoError(t, err)
	assert.False(t, view.Pending)
	assert.Nil(t, view.PendingSince)
	assert.Equal(t, models.StatusUpcoming, view.Status)
}

func TestSessionConfirmRejectsCancelled(t *testing.T) {
	cancelled := ashaMonday()
	cancelled.Cancelled = true
	svc, _, _ := newSessionFixture(t, cancelled)

	_, err := svc.Confirm(context.Background(), "asha")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSessionStatusBoundaries(t *testing.T) {
	// The fixture clock reads 2024-06-20 12:00 UTC.
	endsNow := models.Session{ID: "now", Student: "A", Day: "Thursday", Date: datePtr("2024-06-20"), StartTime: "11:00", EndTime: "12:00"}
	justOver := models.Session{ID: "over", Student: "B", Day: "Thursday", Date: datePtr("2024-06-20"), StartTime: "10:00", EndTime: "11:59"}
	yesterday := models.Session{ID: "past", Student: "C", Day: "Wednesday", Date: datePtr("2024-06-19"), StartTime: "16:00", EndTime: "17:00"}
	svc, _, _ := newSessionFixture(t, endsNow, justOver, yesterday)

	view, err := svc.Get(context.Background(), "now")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUpcoming, view.Status)

	view, err = svc.Get(context.Background(), "over")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)

	view, err = svc.Get(context.Background(), "past")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)
}

func TestSessionGetNotFound(t *testing.T) {
	svc, _, _ := newSessionFixture(t)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSessionDuplicateCopiesSlot(t *testing.T) {
	svc, repo, mock := newSessionFixture(t, ashaMonday())
	mock.ExpectBegin()
	mock.ExpectCommit()

	view, err := svc.Duplicate(context.Background(), "asha", DuplicateSessionRequest{Date: "2024-07-02"})
	require.NoError(t, err)
	assert.NotEqual(t, "asha", view.ID)
	assert.Equal(t, "Asha", view.Student)
	assert.Equal(t, "Tuesday", view.Day)
	assert.Equal(t, "2024-07-02", view.DateString())
	assert.Equal(t, "16:00", view.StartTime)
	require.Len(t, repo.sessions, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCopyWeekSkipsCollisions(t *testing.T) {
	monday := ashaMonday() // 2024-06-24 16:00-17:30
	wednesday := models.Session{ID: "riya", Student: "Riya", Day: "Wednesday", Date: datePtr("2024-06-26"), StartTime: "10:00", EndTime: "11:00"}
	cancelled := models.Session{ID: "gone", Student: "Dev", Day: "Friday", Date: datePtr("2024-06-28"), StartTime: "09:00", EndTime: "10:00", Cancelled: true}
	blocker := models.Session{ID: "block", Student: "Kabir", Day: "Monday", Date: datePtr("2024-07-01"), StartTime: "16:30", EndTime: "17:30"}
	svc, repo, mock := newSessionFixture(t, monday, wednesday, cancelled, blocker)

	// Asha's copy collides with Kabir and rolls back, Riya's copy commits.
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.CopyWeek(context.Background(), CopyWeekRequest{
		FromWeekStart: "2024-06-24",
		ToWeekStart:   "2024-07-01",
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "Riya", result.Created[0].Student)
	assert.Equal(t, "2024-07-03", result.Created[0].DateString())
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "Asha", result.Skipped[0].Student)
	assert.Equal(t, "2024-07-01", result.Skipped[0].Date)
	require.Len(t, repo.sessions, 5)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCopyWeekRejectsSameWeek(t *testing.T) {
	svc, _, _ := newSessionFixture(t)

	_, err := svc.CopyWeek(context.Background(), CopyWeekRequest{
		FromWeekStart: "2024-06-24",
		ToWeekStart:   "2024-06-26",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCheckConflictReportsOffenders(t *testing.T) {
	svc, _, _ := newSessionFixture(t, ashaMonday())

	result, err := svc.CheckConflict(context.Background(), ConflictCheckRequest{
		Student:   "Riya",
		Date:      "2024-06-24",
		StartTime: "17:00",
		EndTime:   "18:00",
	})
	require.NoError(t, err)
	assert.True(t, result.HasConflict)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "asha", result.Conflicts[0].SessionID)

	result, err = svc.CheckConflict(context.Background(), ConflictCheckRequest{
		Student:   "Asha",
		Date:      "2024-06-24",
		StartTime: "17:00",
		EndTime:   "18:00",
		ExcludeID: "asha",
	})
	require.NoError(t, err)
	assert.False(t, result.HasConflict)
}

func TestFindConflictingSessionsReturnsPairsOnly(t *testing.T) {
	first := ashaMonday()
	second := models.Session{ID: "riya", Student: "Riya", Day: "Monday", Date: datePtr("2024-06-24"), StartTime: "17:00", EndTime: "18:00"}
	clean := models.Session{ID: "dev", Student: "Dev", Day: "Monday", Date: datePtr("2024-06-24"), StartTime: "19:00", EndTime: "20:00"}
	svc, _, _ := newSessionFixture(t, first, second, clean)

	date, _ := clock.ParseDate("2024-06-24")
	views, err := svc.FindConflictingSessions(context.Background(), date)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "asha", views[0].ID)
	assert.Equal(t, "riya", views[1].ID)
}

func TestHasUnresolvedConflict(t *testing.T) {
	from, _ := clock.ParseDate("2024-06-24")
	to := from.AddDate(0, 0, 6)

	overlapping := []models.Session{
		ashaMonday(),
		{ID: "riya", Student: "Riya", Day: "Monday", Date: datePtr("2024-06-24"), StartTime: "17:00", EndTime: "18:00"},
	}
	svc, _, _ := newSessionFixture(t, overlapping...)
	flag, err := svc.HasUnresolvedConflict(context.Background(), from, to)
	require.NoError(t, err)
	assert.True(t, flag)

	allowed := overlapping[1]
	allowed.AllowConflict = true
	svc, _, _ = newSessionFixture(t, overlapping[0], allowed)
	flag, err = svc.HasUnresolvedConflict(context.Background(), from, to)
	require.NoError(t, err)
	assert.False(t, flag)

	cancelled := overlapping[1]
	cancelled.Cancelled = true
	svc, _, _ = newSessionFixture(t, overlapping[0], cancelled)
	flag, err = svc.HasUnresolvedConflict(context.Background(), from, to)
	require.NoError(t, err)
	assert.False(t, flag)
}

func TestSessionDeleteRemovesRow(t *testing.T) {
	svc, repo, _ := newSessionFixture(t, ashaMonday())

	err := svc.Delete(context.Background(), "asha")
	require.NoError(t, err)
	assert.Empty(t, repo.sessions)
	assert.Equal(t, []string{"asha"}, repo.deleted)
}
