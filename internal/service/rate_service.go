package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type rateRepository interface {
	FindAll(ctx context.Context) ([]models.StudentRate, error)
	Get(ctx context.Context, student string) (*models.StudentRate, error)
	Upsert(ctx context.Context, rate *models.StudentRate) error
	Delete(ctx context.Context, student string) error
}

type rateLimitReader interface {
	MaxHourlyRate(ctx context.Context) (int, error)
}

type rateAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SetRateRequest carries the payload for assigning a student's hourly rate.
type SetRateRequest struct {
	HourlyRate int `json:"hourly_rate" validate:"gte=0"`
}

// RateService manages per-student hourly rates.
type RateService struct {
	repo      rateRepository
	settings  rateLimitReader
	audit     rateAuditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cache     *CacheService
}

// NewRateService constructs a RateService.
func NewRateService(repo rateRepository, settings rateLimitReader, audit rateAuditLogger, validate *validator.Validate, logger *zap.Logger, cache *CacheService) *RateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateService{
		repo:      repo,
		settings:  settings,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cache:     cache,
	}
}

// List returns every stored rate ordered by student name.
func (s *RateService) List(ctx context.Context) ([]models.StudentRate, error) {
	rates, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rates")
	}
	return rates, nil
}

// Get returns the stored rate for a student, or ErrNotFound when the student
// bills at the default rate.
func (s *RateService) Get(ctx context.Context, student string) (*models.StudentRate, error) {
	student = strings.TrimSpace(student)
	if student == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is required")
	}
	rate, err := s.repo.Get(ctx, student)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no rate stored for student")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get rate")
	}
	return rate, nil
}

// Set assigns a student's hourly rate, bounded by the max_hourly_rate setting.
func (s *RateService) Set(ctx context.Context, student string, req SetRateRequest, actor *models.JWTClaims) (*models.StudentRate, error) {
	student = strings.TrimSpace(student)
	if student == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rate payload")
	}
	maxRate, err := s.settings.MaxHourlyRate(ctx)
	if err != nil {
		return nil, err
	}
	if maxRate > 0 && req.HourlyRate > maxRate {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("hourly rate exceeds maximum of %d", maxRate))
	}

	prev, err := s.repo.Get(ctx, student)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch rate")
	}

	rate := &models.StudentRate{Student: student, HourlyRate: req.HourlyRate}
	if err := s.repo.Upsert(ctx, rate); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set rate")
	}

	s.emitAudit(ctx, actor, student, prevRate(prev), fmt.Sprintf("%d", req.HourlyRate))
	s.invalidateBilling(ctx)
	return rate, nil
}

// Remove drops a student's stored rate so they revert to the default.
func (s *RateService) Remove(ctx context.Context, student string, actor *models.JWTClaims) error {
	student = strings.TrimSpace(student)
	if student == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student is required")
	}
	prev, err := s.repo.Get(ctx, student)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "no rate stored for student")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch rate")
	}
	if err := s.repo.Delete(ctx, student); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove rate")
	}

	s.emitAudit(ctx, actor, student, prevRate(prev), "default")
	s.invalidateBilling(ctx)
	return nil
}

func (s *RateService) emitAudit(ctx context.Context, actor *models.JWTClaims, student, oldValue, newValue string) {
	if s.audit == nil {
		return
	}
	oldBytes, _ := json.Marshal(map[string]string{"student": student, "hourly_rate": oldValue})
	newBytes, _ := json.Marshal(map[string]string{"student": student, "hourly_rate": newValue})
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionRateSet,
		Resource:   "student_rate",
		ResourceID: &student,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "rate-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record rate audit", zap.Error(err))
	}
}

func (s *RateService) invalidateBilling(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateDerived(ctx)
}

func prevRate(rate *models.StudentRate) string {
	if rate == nil {
		return "default"
	}
	return fmt.Sprintf("%d", rate.HourlyRate)
}
