package models

import (
	"strings"
	"time"

	"github.com/noah-isme/tutor-desk-api/pkg/clock"
)

// SessionStatus is the derived lifecycle state of a session. It is computed
// from stored flags plus the wall clock, never persisted as a column.
type SessionStatus string

const (
	StatusPending   SessionStatus = "PENDING"
	StatusUpcoming  SessionStatus = "UPCOMING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusCancelled SessionStatus = "CANCELLED"
)

// CancelReason enumerates why a session was called off.
type CancelReason string

const (
	CancelReasonStudentUnavailable CancelReason = "STUDENT_UNAVAILABLE"
	CancelReasonTutorUnavailable   CancelReason = "TUTOR_UNAVAILABLE"
	CancelReasonHoliday            CancelReason = "HOLIDAY"
	CancelReasonOther              CancelReason = "OTHER"
)

// legacyCancelReasons maps the kebab-case values used by export files of the
// predecessor app onto the enum, and back.
var legacyCancelReasons = map[string]CancelReason{
	"student-unavailable": CancelReasonStudentUnavailable,
	"tutor-unavailable":   CancelReasonTutorUnavailable,
	"holiday":             CancelReasonHoliday,
	"other":               CancelReasonOther,
}

// CancelReasonFromLegacy resolves a legacy export value (either form).
func CancelReasonFromLegacy(value string) (CancelReason, bool) {
	trimmed := strings.TrimSpace(value)
	if reason, ok := legacyCancelReasons[strings.ToLower(trimmed)]; ok {
		return reason, true
	}
	switch CancelReason(strings.ToUpper(trimmed)) {
	case CancelReasonStudentUnavailable, CancelReasonTutorUnavailable, CancelReasonHoliday, CancelReasonOther:
		return CancelReason(strings.ToUpper(trimmed)), true
	}
	return "", false
}

// Legacy renders the reason in the kebab-case form export files use.
func (r CancelReason) Legacy() string {
	for legacy, reason := range legacyCancelReasons {
		if reason == r {
			return legacy
		}
	}
	return strings.ToLower(string(r))
}

// Session represents one scheduled (or formerly scheduled) tutoring block.
// Students have no record of their own; two sessions belong to the same
// student iff the names are equal.
type Session struct {
	ID            string        `db:"id" json:"id"`
	Student       string        `db:"student" json:"student"`
	Day           string        `db:"day" json:"day"`
	Date          *time.Time    `db:"session_date" json:"date,omitempty"`
	StartTime     string        `db:"start_time" json:"start_time"`
	EndTime       string        `db:"end_time" json:"end_time"`
	Cancelled     bool          `db:"cancelled" json:"cancelled"`
	CancelReason  *CancelReason `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelNote    *string       `db:"cancel_note" json:"cancel_note,omitempty"`
	CancelledAt   *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Pending       bool          `db:"pending" json:"pending"`
	PendingSince  *time.Time    `db:"pending_since" json:"pending_since,omitempty"`
	AllowConflict bool          `db:"allow_conflict" json:"allow_conflict"`
	CompletedDate *time.Time    `db:"completed_date" json:"completed_date,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// DateString renders the calendar date, or "" for legacy date-less rows.
func (s *Session) DateString() string {
	if s.Date == nil {
		return ""
	}
	return clock.FormatDate(*s.Date)
}

// DurationMinutes is the booked length of the session.
func (s *Session) DurationMinutes() int {
	return clock.MinutesBetween(s.StartTime, s.EndTime)
}

// Key returns the payment-ledger composite key, or "" when the session has
// no date (date-less rows cannot be billed).
func (s *Session) Key() string {
	if s.Date == nil {
		return ""
	}
	return PaymentKey(s.Student, s.DateString(), s.StartTime, s.EndTime)
}

// SharesSlotDayWith reports whether two sessions occupy the same calendar
// day for conflict purposes: the same date when both carry one, otherwise
// the same weekday name (legacy date-less rows).
func (s *Session) SharesSlotDayWith(o *Session) bool {
	if s.Date != nil && o.Date != nil {
		return clock.SameDate(*s.Date, *o.Date)
	}
	if s.Date == nil && o.Date == nil {
		return strings.EqualFold(s.Day, o.Day)
	}
	// One dated, one legacy: fall back to the weekday name.
	dated, legacy := s, o
	if s.Date == nil {
		dated, legacy = o, s
	}
	return strings.EqualFold(clock.WeekdayName(*dated.Date), legacy.Day)
}

// ConflictsWith reports whether the two sessions' slots collide: same day
// per SharesSlotDayWith and overlapping half-open time ranges. Cancellation
// filtering is the caller's concern.
func (s *Session) ConflictsWith(o *Session) bool {
	return s.SharesSlotDayWith(o) && clock.Overlaps(s.StartTime, s.EndTime, o.StartTime, o.EndTime)
}

// StatusAt derives the lifecycle state for the given moment in the given
// location. Cancelled wins over everything, pending over the time axis.
// Completion is minute-granular: a session is completed strictly after its
// end, so at now == end it still classifies as upcoming.
func (s *Session) StatusAt(now time.Time, loc *time.Location) SessionStatus {
	if s.Cancelled {
		return StatusCancelled
	}
	if s.Pending {
		return StatusPending
	}
	if s.CompletedDate != nil {
		return StatusCompleted
	}
	if s.Date == nil {
		return StatusUpcoming
	}
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	today := clock.DateOf(local)
	date := clock.DateOf(*s.Date)
	if date.Before(today) {
		return StatusCompleted
	}
	if date.Equal(today) {
		nowMinutes := local.Hour()*60 + local.Minute()
		endMinutes, err := clock.ParseHHMM(s.EndTime)
		if err == nil && nowMinutes > endMinutes {
			return StatusCompleted
		}
	}
	return StatusUpcoming
}

// SessionFilter describes query params for listing sessions.
type SessionFilter struct {
	Student   string
	DateFrom  *time.Time
	DateTo    *time.Time
	Day       string
	Cancelled *bool
	Pending   *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// SessionConflict describes an existing session that collides with a candidate.
type SessionConflict struct {
	SessionID     string `json:"session_id"`
	Student       string `json:"student"`
	Date          string `json:"date,omitempty"`
	Day           string `json:"day"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	AllowConflict bool   `json:"allow_conflict"`
}

// ConflictFromSession builds the conflict view of a stored session.
func ConflictFromSession(s *Session) SessionConflict {
	return SessionConflict{
		SessionID:     s.ID,
		Student:       s.Student,
		Date:          s.DateString(),
		Day:           s.Day,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		AllowConflict: s.AllowConflict,
	}
}

// SessionConflictError is returned when a save collides with existing sessions.
type SessionConflictError struct {
	Message   string            `json:"message"`
	Conflicts []SessionConflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *SessionConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
