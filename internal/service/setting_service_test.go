package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type settingRepoStub struct {
	items map[string]models.Setting
	err   error
}

func (s *settingRepoStub) ListByKeys(ctx context.Context, keys []string) ([]models.Setting, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := []models.Setting{}
	for _, key := range keys {
		if setting, ok := s.items[key]; ok {
			result = append(result, setting)
		}
	}
	return result, nil
}

func (s *settingRepoStub) Get(ctx context.Context, key string) (*models.Setting, error) {
	if s.err != nil {
		return nil, s.err
	}
	if setting, ok := s.items[key]; ok {
		return &setting, nil
	}
	return nil, sql.ErrNoRows
}

func (s *settingRepoStub) Upsert(ctx context.Context, setting *models.Setting) error {
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[string]models.Setting)
	}
	s.items[setting.Key] = *setting
	return nil
}

func (s *settingRepoStub) BulkUpsert(ctx context.Context, settings []models.Setting) error {
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[string]models.Setting)
	}
	for _, setting := range settings {
		s.items[setting.Key] = setting
	}
	return nil
}

type auditLoggerStub struct {
	logs []*models.AuditLog
}

func (a *auditLoggerStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestSettingServiceUpdateBoolean(t *testing.T) {
	repo := &settingRepoStub{}
	service := NewSettingService(repo, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	item, err := service.Update(context.Background(), "reminders_enabled", "FALSE", &models.JWTClaims{UserID: "tutor"})
	require.NoError(t, err)
	assert.Equal(t, "false", item.Value)
	assert.Equal(t, "BOOLEAN", item.Type)
}

func TestSettingServiceUpdateInvalidKey(t *testing.T) {
	service := NewSettingService(&settingRepoStub{}, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	_, err := service.Update(context.Background(), "unknown_key", "abc", &models.JWTClaims{UserID: "tutor"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSettingServiceUpdateNormalizesTimeOfDay(t *testing.T) {
	repo := &settingRepoStub{}
	service := NewSettingService(repo, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	item, err := service.Update(context.Background(), "working_hours_start", "9:30", &models.JWTClaims{UserID: "tutor"})
	require.NoError(t, err)
	assert.Equal(t, "09:30", item.Value)
}

func TestSettingServiceUpdateRejectsInvertedWorkingHours(t *testing.T) {
	repo := &settingRepoStub{}
	service := NewSettingService(repo, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	_, err := service.Update(context.Background(), "working_hours_start", "22:00", &models.JWTClaims{UserID: "tutor"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSettingServiceUpdateRejectsNegativeRate(t *testing.T) {
	service := NewSettingService(&settingRepoStub{}, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	_, err := service.Update(context.Background(), "default_rate", "-10", &models.JWTClaims{UserID: "tutor"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSettingServiceBulkUpdateRollbackOnValidation(t *testing.T) {
	repo := &settingRepoStub{}
	service := NewSettingService(repo, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	req := dto.BulkUpdateSettingRequest{
		Items: []dto.UpdateSettingRequest{
			{Key: "reminders_enabled", Value: "true"},
			{Key: "unknown", Value: "value"},
		},
	}
	_, err := service.BulkUpdate(context.Background(), req, &models.JWTClaims{UserID: "tutor"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Len(t, repo.items, 0)
}

func TestSettingServiceListFiltersKeys(t *testing.T) {
	repo := &settingRepoStub{
		items: map[string]models.Setting{
			"default_rate": {Key: "default_rate", Value: "650", Type: models.SettingTypeInteger},
			"other_key":    {Key: "other_key", Value: "secret", Type: models.SettingTypeString},
		},
	}
	service := NewSettingService(repo, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	items, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, len(allowedSettingKeys))
	found := false
	for _, item := range items {
		if item.Key == "other_key" {
			t.Fatalf("unexpected key returned: %s", item.Key)
		}
		if item.Key == "default_rate" {
			found = true
			assert.Equal(t, "650", item.Value)
		}
	}
	assert.True(t, found, "expected default_rate to be present")
}

func TestSettingServiceUpdateHandlesRepoError(t *testing.T) {
	repo := &settingRepoStub{err: errors.New("db down")}
	service := NewSettingService(repo, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	_, err := service.Update(context.Background(), "tutor_display_name", "Priya S", &models.JWTClaims{UserID: "tutor"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestSettingServiceGetUsesDefaults(t *testing.T) {
	service := NewSettingService(
		&settingRepoStub{},
		&auditLoggerStub{},
		validator.New(),
		nil,
		SettingServiceConfig{
			Defaults: map[string]string{"default_rate": "750"},
		},
	)

	item, err := service.Get(context.Background(), "default_rate")
	require.NoError(t, err)
	assert.Equal(t, "750", item.Value)
}

func TestSettingServiceDefaultRateFallback(t *testing.T) {
	service := NewSettingService(
		&settingRepoStub{},
		&auditLoggerStub{},
		validator.New(),
		nil,
		SettingServiceConfig{Defaults: map[string]string{"default_rate": "600"}},
	)
	rate, err := service.DefaultRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 600, rate)
}

func TestSettingServiceWorkingHoursFromStore(t *testing.T) {
	repo := &settingRepoStub{
		items: map[string]models.Setting{
			"working_hours_start": {Key: "working_hours_start", Value: "07:00", Type: models.SettingTypeString},
		},
	}
	service := NewSettingService(repo, &auditLoggerStub{}, validator.New(), nil, SettingServiceConfig{})
	start, end, err := service.WorkingHours(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "07:00", start)
	assert.Equal(t, "21:00", end)
}

func TestSettingServiceUpdateEmitsAudit(t *testing.T) {
	audit := &auditLoggerStub{}
	service := NewSettingService(&settingRepoStub{}, audit, validator.New(), nil, SettingServiceConfig{})
	_, err := service.Update(context.Background(), "default_rate", "800", &models.JWTClaims{UserID: "tutor"})
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionSettingUpdate, audit.logs[0].Action)
	assert.Equal(t, "setting", audit.logs[0].Resource)
}
