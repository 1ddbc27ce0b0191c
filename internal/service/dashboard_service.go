package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type dashboardSessionSource interface {
	FindByDate(ctx context.Context, date time.Time) ([]models.Session, error)
	FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error)
	FindAll(ctx context.Context) ([]models.Session, error)
}

type conflictScanner interface {
	HasUnresolvedConflict(ctx context.Context, from, to time.Time) (bool, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL      time.Duration
	LookaheadDays int
}

// DashboardService composes the at-a-glance payload for one date.
type DashboardService struct {
	sessions  dashboardSessionSource
	conflicts conflictScanner
	billing   billingSummaryProvider
	cache     *CacheService
	logger    *zap.Logger
	location  *time.Location
	now       func() time.Time
	cfg       DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Sessions  dashboardSessionSource
	Conflicts conflictScanner
	Billing   billingSummaryProvider
	Cache     *CacheService
	Logger    *zap.Logger
	Location  *time.Location
	Config    DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 14
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := params.Location
	if location == nil {
		location = time.Local
	}
	return &DashboardService{
		sessions:  params.Sessions,
		conflicts: params.Conflicts,
		billing:   params.Billing,
		cache:     params.Cache,
		logger:    logger,
		location:  location,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Overview returns the dashboard for the given date (today when empty) and
// indicates cache utilisation.
func (s *DashboardService) Overview(ctx context.Context, dateStr string) (*dto.DashboardResponse, bool, error) {
	now := s.now().In(s.location)
	date := clock.DateOf(now)
	if dateStr != "" {
		parsed, err := clock.ParseDate(dateStr)
		if err != nil {
			return nil, false, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
		}
		date = parsed
	}

	cacheKey := dashboardOverviewKey(clock.FormatDate(date))
	if cached, hit, err := s.tryCache(ctx, cacheKey); err != nil {
		return nil, false, err
	} else if hit {
		return cached, true, nil
	}

	overview, err := s.compose(ctx, date, now)
	if err != nil {
		return nil, false, err
	}
	s.persistCache(ctx, cacheKey, overview)
	return overview, false, nil
}

func (s *DashboardService) tryCache(ctx context.Context, key string) (*dto.DashboardResponse, bool, error) {
	if s.cache == nil {
		return nil, false, nil
	}
	var cached dto.DashboardResponse
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		return nil, false, err
	}
	if hit {
		return &cached, true, nil
	}
	return nil, false, nil
}

func (s *DashboardService) persistCache(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *DashboardService) compose(ctx context.Context, date, now time.Time) (*dto.DashboardResponse, error) {
	todays, err := s.sessions.FindByDate(ctx, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions for date")
	}
	sessions := make([]dto.DashboardSession, 0, len(todays))
	for i := range todays {
		sessions = append(sessions, s.toDashboardSession(&todays[i], now))
	}

	nextUp, err := s.findNextUpcoming(ctx, date, now)
	if err != nil {
		return nil, err
	}

	pendingCount, err := s.countPending(ctx, now)
	if err != nil {
		return nil, err
	}

	weekStart := clock.WeekStart(date)
	weekEnd := weekStart.AddDate(0, 0, 6)
	weekConflict, err := s.conflicts.HasUnresolvedConflict(ctx, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}

	monthStart := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)
	summary, _, err := s.billing.Summary(ctx, clock.FormatDate(monthStart), clock.FormatDate(monthEnd))
	if err != nil {
		return nil, err
	}

	return &dto.DashboardResponse{
		Date:         clock.FormatDate(date),
		Sessions:     sessions,
		NextUp:       nextUp,
		PendingCount: pendingCount,
		WeekConflict: weekConflict,
		MonthUnpaid:  summary.Totals.UnpaidAmount,
	}, nil
}

// findNextUpcoming scans forward from the given date and returns the first
// session still in the upcoming state. Rows arrive ordered by date and start
// time, so the first hit is the soonest.
func (s *DashboardService) findNextUpcoming(ctx context.Context, date, now time.Time) (*dto.DashboardSession, error) {
	horizon := date.AddDate(0, 0, s.cfg.LookaheadDays)
	upcoming, err := s.sessions.FindInRange(ctx, date, horizon)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan upcoming sessions")
	}
	for i := range upcoming {
		if upcoming[i].StatusAt(now, s.location) != models.StatusUpcoming {
			continue
		}
		view := s.toDashboardSession(&upcoming[i], now)
		return &view, nil
	}
	return nil, nil
}

func (s *DashboardService) countPending(ctx context.Context, now time.Time) (int, error) {
	all, err := s.sessions.FindAll(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending sessions")
	}
	count := 0
	for i := range all {
		if all[i].StatusAt(now, s.location) == models.StatusPending {
			count++
		}
	}
	return count, nil
}

func (s *DashboardService) toDashboardSession(session *models.Session, now time.Time) dto.DashboardSession {
	return dto.DashboardSession{
		ID:        session.ID,
		Student:   session.Student,
		Date:      session.DateString(),
		Day:       session.Day,
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
		Status:    string(session.StatusAt(now, s.location)),
		Pending:   session.Pending,
		Cancelled: session.Cancelled,
	}
}
