package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
	"github.com/noah-isme/tutor-desk-api/pkg/response"
)

type settingService interface {
	List(ctx context.Context) ([]dto.SettingItem, error)
	Get(ctx context.Context, key string) (*dto.SettingItem, error)
	Update(ctx context.Context, key string, value string, actor *models.JWTClaims) (*dto.SettingItem, error)
	BulkUpdate(ctx context.Context, req dto.BulkUpdateSettingRequest, actor *models.JWTClaims) ([]dto.SettingItem, error)
}

// SettingHandler exposes settings management endpoints.
type SettingHandler struct {
	service settingService
}

// NewSettingHandler creates a setting handler instance.
func NewSettingHandler(service settingService) *SettingHandler {
	return &SettingHandler{service: service}
}

// List godoc
// @Summary List settings
// @Description Returns all tunable settings with defaults filled in
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /settings [get]
func (h *SettingHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get setting by key
// @Tags Settings
// @Produce json
// @Param key path string true "Setting key"
// @Success 200 {object} response.Envelope
// @Router /settings/{key} [get]
func (h *SettingHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Update godoc
// @Summary Update a setting
// @Tags Settings
// @Accept json
// @Produce json
// @Param key path string true "Setting key"
// @Param payload body map[string]string true "New value"
// @Success 200 {object} response.Envelope
// @Router /settings/{key} [put]
func (h *SettingHandler) Update(c *gin.Context) {
	var payload struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "value is required"))
		return
	}
	item, err := h.service.Update(c.Request.Context(), c.Param("key"), payload.Value, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// BulkUpdate godoc
// @Summary Update several settings at once
// @Tags Settings
// @Accept json
// @Produce json
// @Param payload body dto.BulkUpdateSettingRequest true "Settings payload"
// @Success 200 {object} response.Envelope
// @Router /settings [put]
func (h *SettingHandler) BulkUpdate(c *gin.Context) {
	var req dto.BulkUpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	items, err := h.service.BulkUpdate(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
