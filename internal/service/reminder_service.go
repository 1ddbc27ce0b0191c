package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type reminderSessionReader interface {
	FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error)
}

type reminderSettingsReader interface {
	RemindersEnabled(ctx context.Context) (bool, error)
}

type reminderMetricsRecorder interface {
	RecordReminderSent()
}

// Notifier delivers a reminder for a session that is about to start. The
// shipped implementation logs; anything that can push a message can plug in
// here.
type Notifier interface {
	Notify(ctx context.Context, session *models.Session, minutesUntil int) error
}

type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) Notify(ctx context.Context, session *models.Session, minutesUntil int) error {
	n.logger.Info("session starting soon",
		zap.String("session_id", session.ID),
		zap.String("student", session.Student),
		zap.String("start_time", session.StartTime),
		zap.Int("minutes_until", minutesUntil))
	return nil
}

// ReminderServiceConfig tunes the notification window.
type ReminderServiceConfig struct {
	// Enabled turns the poller off entirely when false.
	Enabled bool
	// LeadMin/LeadMax bound the inclusive minutes-before-start window.
	LeadMin int
	LeadMax int
}

// ReminderServiceParams bundles the dependencies for NewReminderService.
type ReminderServiceParams struct {
	Sessions reminderSessionReader
	Settings reminderSettingsReader
	Notifier Notifier
	Metrics  reminderMetricsRecorder
	Logger   *zap.Logger
	Location *time.Location
	Config   ReminderServiceConfig
}

// ReminderService notifies shortly before confirmed sessions start. Poll is
// driven by a once-a-minute cron; the window is wider than the poll interval
// so a slow tick cannot skip a session, and an in-memory set keeps re-polls
// inside the window from notifying twice.
type ReminderService struct {
	sessions reminderSessionReader
	settings reminderSettingsReader
	notifier Notifier
	metrics  reminderMetricsRecorder
	logger   *zap.Logger
	location *time.Location
	cfg      ReminderServiceConfig
	now      func() time.Time

	mu       sync.Mutex
	notified map[string]bool
}

// NewReminderService wires a ReminderService, applying window defaults.
func NewReminderService(params ReminderServiceParams) *ReminderService {
	cfg := params.Config
	if cfg.LeadMin <= 0 {
		cfg.LeadMin = 14
	}
	if cfg.LeadMax <= 0 {
		cfg.LeadMax = 16
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := params.Location
	if location == nil {
		location = time.Local
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = &logNotifier{logger: logger}
	}
	return &ReminderService{
		sessions: params.Sessions,
		settings: params.Settings,
		notifier: notifier,
		metrics:  params.Metrics,
		logger:   logger,
		location: location,
		cfg:      cfg,
		now:      time.Now,
		notified: make(map[string]bool),
	}
}

// Poll scans today's sessions once and notifies those whose start lies
// within the reminder window. Cancelled and unconfirmed sessions are
// skipped. Each session is notified at most once per day; a failed delivery
// clears the mark so the next tick inside the window retries.
func (s *ReminderService) Poll(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.settings != nil {
		enabled, err := s.settings.RemindersEnabled(ctx)
		if err != nil {
			s.logger.Warn("failed to read reminder setting", zap.Error(err))
		} else if !enabled {
			return nil
		}
	}

	now := s.now().In(s.location)
	today := clock.DateOf(now)
	sessions, err := s.sessions.FindInRange(ctx, today, today)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load today's sessions")
	}

	minutesNow := now.Hour()*60 + now.Minute()
	for i := range sessions {
		session := &sessions[i]
		if session.Cancelled || session.Pending {
			continue
		}
		start, err := clock.ParseHHMM(session.StartTime)
		if err != nil {
			continue
		}
		until := start - minutesNow
		if until < s.cfg.LeadMin || until > s.cfg.LeadMax {
			continue
		}
		key := session.ID + "|" + clock.FormatDate(today)
		if !s.mark(key) {
			continue
		}
		if err := s.notifier.Notify(ctx, session, until); err != nil {
			s.logger.Warn("reminder delivery failed",
				zap.String("session_id", session.ID),
				zap.Error(err))
			s.unmark(key)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordReminderSent()
		}
	}
	return nil
}

// ClearNotified resets the per-day dedupe set. Scheduled at local midnight.
func (s *ReminderService) ClearNotified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = make(map[string]bool)
}

func (s *ReminderService) mark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified[key] {
		return false
	}
	s.notified[key] = true
	return true
}

func (s *ReminderService) unmark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notified, key)
}
