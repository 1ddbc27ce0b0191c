package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
	"github.com/noah-isme/tutor-desk-api/pkg/storage"
)

type calendarSessionReader interface {
	FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error)
}

// CalendarServiceConfig governs the signed feed.
type CalendarServiceConfig struct {
	FeedEnabled bool
	// DefaultPastDays/DefaultFutureDays size the window when the caller
	// does not pass an explicit range.
	DefaultPastDays   int
	DefaultFutureDays int
}

// CalendarServiceParams bundles the dependencies for NewCalendarService.
type CalendarServiceParams struct {
	Sessions calendarSessionReader
	Signer   *storage.SignedURLSigner
	Logger   *zap.Logger
	Location *time.Location
	Config   CalendarServiceConfig
}

// CalendarService renders sessions as an iCalendar feed behind a signed URL,
// so calendar apps can subscribe without a JWT.
type CalendarService struct {
	sessions calendarSessionReader
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	location *time.Location
	cfg      CalendarServiceConfig
	now      func() time.Time
}

// NewCalendarService wires a CalendarService, applying window defaults.
func NewCalendarService(params CalendarServiceParams) *CalendarService {
	cfg := params.Config
	if cfg.DefaultPastDays <= 0 {
		cfg.DefaultPastDays = 30
	}
	if cfg.DefaultFutureDays <= 0 {
		cfg.DefaultFutureDays = 60
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := params.Location
	if location == nil {
		location = time.Local
	}
	return &CalendarService{
		sessions: params.Sessions,
		signer:   params.Signer,
		logger:   logger,
		location: location,
		cfg:      cfg,
		now:      time.Now,
	}
}

// FeedURL builds a signed relative URL for the ICS feed. An omitted range
// defaults to the configured window around today.
func (s *CalendarService) FeedURL(ctx context.Context, from, to string) (*dto.CalendarFeedResponse, error) {
	if !s.cfg.FeedEnabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "calendar feed is disabled")
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "feed signer unavailable")
	}
	if from == "" && to == "" {
		today := clock.DateOf(s.now().In(s.location))
		from = clock.FormatDate(today.AddDate(0, 0, -s.cfg.DefaultPastDays))
		to = clock.FormatDate(today.AddDate(0, 0, s.cfg.DefaultFutureDays))
	}
	if _, _, err := parseRange(from, to); err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.signer.TTL())
	expires := strconv.FormatInt(expiresAt.Unix(), 10)
	signature := s.signer.SignParams(from, to, expires)
	url := fmt.Sprintf("/calendar.ics?from=%s&to=%s&expires=%s&signature=%s", from, to, expires, signature)
	return &dto.CalendarFeedResponse{
		URL:       url,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// Feed verifies the signature and renders the ICS document for the window.
func (s *CalendarService) Feed(ctx context.Context, from, to, expires, signature string) (string, error) {
	if !s.cfg.FeedEnabled {
		return "", appErrors.Clone(appErrors.ErrNotFound, "calendar feed is disabled")
	}
	if s.signer == nil || !s.signer.VerifyParams(signature, from, to, expires) {
		return "", appErrors.Clone(appErrors.ErrForbidden, "invalid feed signature")
	}
	expUnix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().After(time.Unix(expUnix, 0)) {
		return "", appErrors.Clone(appErrors.ErrForbidden, "feed link expired")
	}
	fromDate, toDate, err := parseRange(from, to)
	if err != nil {
		return "", err
	}
	sessions, err := s.sessions.FindInRange(ctx, fromDate, toDate)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	return s.render(sessions), nil
}

func (s *CalendarService) render(sessions []models.Session) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//TutorDesk//Sessions//EN")
	now := s.now()
	for i := range sessions {
		session := &sessions[i]
		if session.Date == nil {
			continue
		}
		start, err := clock.ParseHHMM(session.StartTime)
		if err != nil {
			continue
		}
		end, err := clock.ParseHHMM(session.EndTime)
		if err != nil {
			continue
		}
		date := *session.Date
		event := cal.AddEvent(session.ID)
		event.SetDtStampTime(now)
		event.SetStartAt(time.Date(date.Year(), date.Month(), date.Day(), start/60, start%60, 0, 0, s.location))
		event.SetEndAt(time.Date(date.Year(), date.Month(), date.Day(), end/60, end%60, 0, 0, s.location))
		event.SetSummary(session.Student)
		switch {
		case session.Cancelled:
			event.SetStatus(ical.ObjectStatusCancelled)
			description := "Cancelled"
			if session.CancelReason != nil {
				description = "Cancelled: " + session.CancelReason.Legacy()
			}
			if session.CancelNote != nil && *session.CancelNote != "" {
				description += " (" + *session.CancelNote + ")"
			}
			event.SetDescription(description)
		case session.Pending:
			event.SetStatus(ical.ObjectStatusTentative)
		default:
			event.SetStatus(ical.ObjectStatusConfirmed)
		}
	}
	return cal.Serialize()
}
