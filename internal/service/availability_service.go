package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

// maxSuggestedSlots caps the number of free slots returned per lookup.
const maxSuggestedSlots = 4

type slotCandidateLister interface {
	FindCandidates(ctx context.Context, date *time.Time, day string) ([]models.Session, error)
}

type workingHoursProvider interface {
	WorkingHours(ctx context.Context) (string, string, error)
}

// Slot is one free window suggestion.
type Slot struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// AvailabilityService suggests free slots on a day within working hours.
type AvailabilityService struct {
	sessions slotCandidateLister
	settings workingHoursProvider
	logger   *zap.Logger
}

// NewAvailabilityService instantiates AvailabilityService.
func NewAvailabilityService(sessions slotCandidateLister, settings workingHoursProvider, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{sessions: sessions, settings: settings, logger: logger}
}

// FindSlots walks the day's booked sessions and emits up to four windows of
// exactly the requested duration. The cursor starts at the working-hours
// start, jumps over each booked block, and finally probes the tail gap before
// the working-hours end.
func (s *AvailabilityService) FindSlots(ctx context.Context, date time.Time, durationMinutes int, excludeID string) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "duration must be positive")
	}
	if durationMinutes > 12*60 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "duration exceeds a working day")
	}

	dayStart, dayEnd, err := s.settings.WorkingHours(ctx)
	if err != nil {
		return nil, err
	}
	startMinutes, err := clock.ParseHHMM(dayStart)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid working hours start")
	}
	endMinutes, err := clock.ParseHHMM(dayEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid working hours end")
	}

	booked, err := s.sessions.FindCandidates(ctx, &date, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load day sessions")
	}

	occupied := make([]models.Session, 0, len(booked))
	for _, session := range booked {
		if session.ID == excludeID {
			continue
		}
		occupied = append(occupied, session)
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i].StartTime < occupied[j].StartTime })

	slots := make([]Slot, 0, maxSuggestedSlots)
	cursor := startMinutes
	for _, session := range occupied {
		sessionStart, err := clock.ParseHHMM(session.StartTime)
		if err != nil {
			continue
		}
		sessionEnd, err := clock.ParseHHMM(session.EndTime)
		if err != nil {
			continue
		}
		if len(slots) < maxSuggestedSlots && sessionStart-cursor >= durationMinutes {
			slots = append(slots, newSlot(cursor, durationMinutes))
		}
		if sessionEnd > cursor {
			cursor = sessionEnd
		}
	}
	if len(slots) < maxSuggestedSlots && endMinutes-cursor >= durationMinutes {
		slots = append(slots, newSlot(cursor, durationMinutes))
	}
	return slots, nil
}

func newSlot(startMinutes, durationMinutes int) Slot {
	return Slot{
		StartTime:       clock.FormatHHMM(startMinutes),
		EndTime:         clock.FormatHHMM(startMinutes + durationMinutes),
		DurationMinutes: durationMinutes,
	}
}
