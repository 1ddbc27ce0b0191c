package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type settingRepository interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Setting, error)
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
	BulkUpsert(ctx context.Context, settings []models.Setting) error
}

type settingAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type allowedSetting struct {
	Key         string
	Type        models.SettingType
	Description string
	TimeOfDay   bool
}

var allowedSettingKeys = []string{
	"default_rate",
	"max_hourly_rate",
	"working_hours_start",
	"working_hours_end",
	"reminders_enabled",
	"tutor_display_name",
}

var allowedSettings = map[string]allowedSetting{
	"default_rate": {
		Key:         "default_rate",
		Type:        models.SettingTypeInteger,
		Description: "Hourly rate applied to students without an explicit rate",
	},
	"max_hourly_rate": {
		Key:         "max_hourly_rate",
		Type:        models.SettingTypeInteger,
		Description: "Upper bound accepted when assigning per-student rates",
	},
	"working_hours_start": {
		Key:         "working_hours_start",
		Type:        models.SettingTypeString,
		Description: "Start of the tutoring day used by slot suggestions",
		TimeOfDay:   true,
	},
	"working_hours_end": {
		Key:         "working_hours_end",
		Type:        models.SettingTypeString,
		Description: "End of the tutoring day used by slot suggestions",
		TimeOfDay:   true,
	},
	"reminders_enabled": {
		Key:         "reminders_enabled",
		Type:        models.SettingTypeBoolean,
		Description: "Whether upcoming-session reminders are delivered",
	},
	"tutor_display_name": {
		Key:         "tutor_display_name",
		Type:        models.SettingTypeString,
		Description: "Name shown on statements and calendar feeds",
	},
}

var builtinSettingDefaults = map[string]string{
	"default_rate":        "500",
	"max_hourly_rate":     "10000",
	"working_hours_start": "08:00",
	"working_hours_end":   "21:00",
	"reminders_enabled":   "true",
	"tutor_display_name":  "TutorDesk",
}

// SettingServiceConfig tunes runtime behaviour.
type SettingServiceConfig struct {
	Defaults map[string]string
}

// SettingService orchestrates CRUD workflow for setting entries.
type SettingService struct {
	repo      settingRepository
	audit     settingAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	defaults  map[string]string
}

// NewSettingService constructs a SettingService.
func NewSettingService(repo settingRepository, audit settingAuditLogger, validate *validator.Validate, logger *zap.Logger, cfg SettingServiceConfig) *SettingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := make(map[string]string, len(builtinSettingDefaults))
	for key, value := range builtinSettingDefaults {
		defaults[key] = value
	}
	for key, value := range cfg.Defaults {
		if value == "" {
			continue
		}
		defaults[key] = value
	}
	return &SettingService{
		repo:      repo,
		audit:     audit,
		validator: validate,
		logger:    logger,
		defaults:  defaults,
	}
}

// List returns setting items scoped to allowed keys.
func (s *SettingService) List(ctx context.Context) ([]dto.SettingItem, error) {
	keys := allowedKeys()
	rows, err := s.repo.ListByKeys(ctx, keys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}
	existing := make(map[string]models.Setting, len(rows))
	for _, row := range rows {
		existing[row.Key] = row
	}

	items := make([]dto.SettingItem, 0, len(keys))
	for _, key := range keys {
		meta := allowedSettings[key]
		item := dto.SettingItem{
			Key:         key,
			Type:        string(meta.Type),
			Description: meta.Description,
		}
		if row, ok := existing[key]; ok {
			item.Value = row.Value
			if row.Description != nil && *row.Description != "" {
				item.Description = *row.Description
			}
		} else if def, ok := s.defaultValue(key); ok {
			item.Value = def
		}
		items = append(items, item)
	}
	return items, nil
}

// Get retrieves a single setting.
func (s *SettingService) Get(ctx context.Context, key string) (*dto.SettingItem, error) {
	meta, err := s.requireAllowedKey(key)
	if err != nil {
		return nil, err
	}
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			if def, ok := s.defaultValue(key); ok {
				return &dto.SettingItem{
					Key:         key,
					Value:       def,
					Type:        string(meta.Type),
					Description: meta.Description,
				}, nil
			}
			return nil, appErrors.Clone(appErrors.ErrNotFound, "setting not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get setting")
	}
	description := meta.Description
	if setting.Description != nil && *setting.Description != "" {
		description = *setting.Description
	}
	return &dto.SettingItem{
		Key:         setting.Key,
		Value:       setting.Value,
		Type:        string(setting.Type),
		Description: description,
	}, nil
}

// Update upserts a setting entry.
func (s *SettingService) Update(ctx context.Context, key string, value string, actor *models.JWTClaims) (*dto.SettingItem, error) {
	meta, err := s.requireAllowedKey(key)
	if err != nil {
		return nil, err
	}
	value, err = s.validateValue(ctx, meta, value)
	if err != nil {
		return nil, err
	}

	prev, err := s.repo.Get(ctx, key)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch setting")
	}
	if prev != nil && prev.Type != meta.Type {
		return nil, appErrors.Clone(appErrors.ErrValidation, "setting type mismatch")
	}

	setting := &models.Setting{
		Key:         key,
		Value:       value,
		Type:        meta.Type,
		Description: strPtr(meta.Description),
	}
	if err := s.repo.Upsert(ctx, setting); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}

	s.emitAudit(ctx, actor, key, prevValue(prev), value)

	return &dto.SettingItem{
		Key:         key,
		Value:       value,
		Type:        string(meta.Type),
		Description: meta.Description,
	}, nil
}

// BulkUpdate applies multiple updates transactionally.
func (s *SettingService) BulkUpdate(ctx context.Context, req dto.BulkUpdateSettingRequest, actor *models.JWTClaims) ([]dto.SettingItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	keys := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		keys = append(keys, item.Key)
	}
	existing, err := s.repo.ListByKeys(ctx, keys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing settings")
	}
	existingMap := make(map[string]models.Setting, len(existing))
	for _, setting := range existing {
		existingMap[setting.Key] = setting
	}

	toUpsert := make([]models.Setting, 0, len(req.Items))
	for _, item := range req.Items {
		meta, err := s.requireAllowedKey(item.Key)
		if err != nil {
			return nil, err
		}
		normalizedValue, err := s.validateValue(ctx, meta, item.Value)
		if err != nil {
			return nil, err
		}
		if prev, ok := existingMap[item.Key]; ok && prev.Type != meta.Type {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("setting type mismatch for %s", item.Key))
		}
		toUpsert = append(toUpsert, models.Setting{
			Key:         item.Key,
			Value:       normalizedValue,
			Type:        meta.Type,
			Description: strPtr(meta.Description),
		})
	}

	if err := s.repo.BulkUpsert(ctx, toUpsert); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bulk update settings")
	}

	result := make([]dto.SettingItem, 0, len(toUpsert))
	for _, setting := range toUpsert {
		result = append(result, dto.SettingItem{
			Key:         setting.Key,
			Value:       setting.Value,
			Type:        string(setting.Type),
			Description: allowedSettings[setting.Key].Description,
		})
		prev := existingMap[setting.Key]
		s.emitAudit(ctx, actor, setting.Key, prevValue(&prev), setting.Value)
	}
	return result, nil
}

// DefaultRate returns the fallback hourly rate for unrated students.
func (s *SettingService) DefaultRate(ctx context.Context) (int, error) {
	return s.getIntValue(ctx, "default_rate")
}

// MaxHourlyRate returns the ceiling enforced when assigning per-student rates.
func (s *SettingService) MaxHourlyRate(ctx context.Context) (int, error) {
	return s.getIntValue(ctx, "max_hourly_rate")
}

// WorkingHours returns the configured start and end of the tutoring day.
func (s *SettingService) WorkingHours(ctx context.Context) (string, string, error) {
	start, err := s.getValueOrDefault(ctx, "working_hours_start")
	if err != nil {
		return "", "", err
	}
	end, err := s.getValueOrDefault(ctx, "working_hours_end")
	if err != nil {
		return "", "", err
	}
	if !clock.IsValidHHMM(start) || !clock.IsValidHHMM(end) {
		return "", "", appErrors.Clone(appErrors.ErrInternal, "working hours are misconfigured")
	}
	return start, end, nil
}

// RemindersEnabled reports whether reminder delivery is switched on.
func (s *SettingService) RemindersEnabled(ctx context.Context) (bool, error) {
	value, err := s.getValueOrDefault(ctx, "reminders_enabled")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(value, "true"), nil
}

// DisplayName returns the tutor name used on statements and feeds.
func (s *SettingService) DisplayName(ctx context.Context) (string, error) {
	return s.getValueOrDefault(ctx, "tutor_display_name")
}

func (s *SettingService) requireAllowedKey(key string) (allowedSetting, error) {
	meta, ok := allowedSettings[key]
	if !ok {
		return allowedSetting{}, appErrors.Clone(appErrors.ErrValidation, "unsupported setting key")
	}
	return meta, nil
}

func (s *SettingService) validateValue(ctx context.Context, meta allowedSetting, value string) (string, error) {
	switch meta.Type {
	case models.SettingTypeBoolean:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true":
			return "true", nil
		case "false":
			return "false", nil
		default:
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects boolean value", meta.Key))
		}
	case models.SettingTypeInteger:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects integer value", meta.Key))
		}
		if parsed < 0 {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must not be negative", meta.Key))
		}
		return strconv.Itoa(parsed), nil
	case models.SettingTypeString:
		value = strings.TrimSpace(value)
		if meta.TimeOfDay {
			normalized, err := clock.Normalize(value)
			if err != nil {
				return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects HH:MM value", meta.Key))
			}
			if err := s.ensureWorkingHoursOrdered(ctx, meta.Key, normalized); err != nil {
				return "", err
			}
			return normalized, nil
		}
		return value, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "unsupported setting type")
	}
}

// ensureWorkingHoursOrdered rejects a working-hours edge that would invert the window.
func (s *SettingService) ensureWorkingHoursOrdered(ctx context.Context, key, value string) error {
	counterpart := "working_hours_end"
	if key == "working_hours_end" {
		counterpart = "working_hours_start"
	}
	other, err := s.getValueOrDefault(ctx, counterpart)
	if err != nil || !clock.IsValidHHMM(other) {
		return nil
	}
	start, end := value, other
	if key == "working_hours_end" {
		start, end = other, value
	}
	if clock.MinutesBetween(start, end) <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "working hours end must be after start")
	}
	return nil
}

func (s *SettingService) emitAudit(ctx context.Context, actor *models.JWTClaims, key, oldValue, newValue string) {
	if s.audit == nil {
		return
	}
	oldPayload := map[string]string{"key": key, "value": oldValue}
	newPayload := map[string]string{"key": key, "value": newValue}
	oldBytes, _ := json.Marshal(oldPayload)
	newBytes, _ := json.Marshal(newPayload)
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionSettingUpdate,
		Resource:   "setting",
		ResourceID: &key,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "setting-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record setting audit", zap.Error(err))
	}
}

func allowedKeys() []string {
	keys := make([]string, len(allowedSettingKeys))
	copy(keys, allowedSettingKeys)
	return keys
}

func prevValue(setting *models.Setting) string {
	if setting == nil {
		return ""
	}
	return setting.Value
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	return &actor.UserID
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	result := value
	return &result
}

func (s *SettingService) defaultValue(key string) (string, bool) {
	if s.defaults == nil {
		return "", false
	}
	value, ok := s.defaults[key]
	return value, ok
}

func (s *SettingService) getValueOrDefault(ctx context.Context, key string) (string, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if err == sql.ErrNoRows {
			if def, ok := s.defaultValue(key); ok {
				return def, nil
			}
			return "", nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get setting")
	}
	return setting.Value, nil
}

func (s *SettingService) getIntValue(ctx context.Context, key string) (int, error) {
	value, err := s.getValueOrDefault(ctx, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("%s is misconfigured", key))
	}
	return parsed, nil
}
