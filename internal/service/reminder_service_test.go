package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-desk-api/internal/models"
)

type reminderSettingsStub struct {
	enabled bool
	err     error
}

func (s reminderSettingsStub) RemindersEnabled(ctx context.Context) (bool, error) {
	return s.enabled, s.err
}

type notifierStub struct {
	notices  []string
	failures int
	calls    int
}

func (n *notifierStub) Notify(ctx context.Context, session *models.Session, minutesUntil int) error {
	n.calls++
	if n.calls <= n.failures {
		return errors.New("sink down")
	}
	n.notices = append(n.notices, session.ID)
	return nil
}

func newReminderService(sessions *billingSessionStub, settings reminderSettingsStub, notifier *notifierStub) *ReminderService {
	svc := NewReminderService(ReminderServiceParams{
		Sessions: sessions,
		Settings: settings,
		Notifier: notifier,
		Location: time.UTC,
		Config:   ReminderServiceConfig{Enabled: true},
	})
	svc.now = billingFixtureNow
	return svc
}

func TestReminderPollNotifiesOncePerDay(t *testing.T) {
	sessions := &billingSessionStub{sessions: []models.Session{
		{ID: "s1", Student: "Asha", Date: datePtr("2024-06-20"), StartTime: "12:15", EndTime: "13:15"},
	}}
	notifier := &notifierStub{}
	service := newReminderService(sessions, reminderSettingsStub{enabled: true}, notifier)

	require.NoError(t, service.Poll(context.Background()))
	require.NoError(t, service.Poll(context.Background()))
	assert.Equal(t, []string{"s1"}, notifier.notices)
}

func TestReminderPollWindowBoundaries(t *testing.T) {
	// The clock reads 12:00; the window covers starts from 12:14 to 12:16.
	sessions := &billingSessionStub{sessions: []models.Session{
		{ID: "low", Student: "Asha", Date: datePtr("2024-06-20"), StartTime: "12:14", EndTime: "13:00"},
		{ID: "high", Student: "Riya", Date: datePtr("2024-06-20"), StartTime: "12:16", EndTime: "13:00"},
		{ID: "early", Student: "Dev", Date: datePtr("2024-06-20"), StartTime: "12:13", EndTime: "13:00"},
		{ID: "late", Student: "Kabir", Date: datePtr("2024-06-20"), StartTime: "12:17", EndTime: "13:00"},
	}}
	notifier := &notifierStub{}
	service := newReminderService(sessions, reminderSettingsStub{enabled: true}, notifier)

	require.NoError(t, service.Poll(context.Background()))
	assert.ElementsMatch(t, []string{"low", "high"}, notifier.notices)
}

func TestReminderPollSkipsCancelledAndPending(t *testing.T) {
	sessions := &billingSessionStub{sessions: []models.Session{
		{ID: "cancelled", Student: "Asha", Date: datePtr("2024-06-20"), StartTime: "12:15", EndTime: "13:00", Cancelled: true},
		{ID: "pending", Student: "Riya", Date: datePtr("2024-06-20"), StartTime: "12:15", EndTime: "13:00", Pending: true},
	}}
	notifier := &notifierStub{}
	service := newReminderService(sessions, reminderSettingsStub{enabled: true}, notifier)

	require.NoError(t, service.Poll(context.Background()))
	assert.Empty(t, notifier.notices)
}

func TestReminderPollDisabledBySetting(t *testing.T) {
	sessions := &billingSessionStub{sessions: []models.Session{
		{ID: "s1", Student: "Asha", Date: datePtr("2024-06-20"), StartTime: "12:15", EndTime: "13:00"},
	}}
	notifier := &notifierStub{}
	service := newReminderService(sessions, reminderSettingsStub{enabled: false}, notifier)

	require.NoError(t, service.Poll(context.Background()))
	assert.Empty(t, notifier.notices)
}

func TestReminderClearNotifiedResetsDedupe(t *testing.T) {
	sessions := &billingSessionStub{sessions: []models.Session{
		{ID: "s1", Student: "Asha", Date: datePtr("2024-06-20"), StartTime: "12:15", EndTime: "13:00"},
	}}
	notifier := &notifierStub{}
	service := newReminderService(sessions, reminderSettingsStub{enabled: true}, notifier)

	require.NoError(t, service.Poll(context.Background()))
	service.ClearNotified()
	require.NoError(t, service.Poll(context.Background()))
	assert.Equal(t, []string{"s1", "s1"}, notifier.notices)
}

func TestReminderRetriesAfterDeliveryFailure(t *testing.T) {
	sessions := &billingSessionStub{sessions: []models.Session{
		{ID: "s1", Student: "Asha", Date: datePtr("2024-06-20"), StartTime: "12:15", EndTime: "13:00"},
	}}
	notifier := &notifierStub{failures: 1}
	service := newReminderService(sessions, reminderSettingsStub{enabled: true}, notifier)

	require.NoError(t, service.Poll(context.Background()))
	assert.Empty(t, notifier.notices)
	require.NoError(t, service.Poll(context.Background()))
	assert.Equal(t, []string{"s1"}, notifier.notices)
}
