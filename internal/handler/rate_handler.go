package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/service"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
	"github.com/noah-isme/tutor-desk-api/pkg/response"
)

// RateHandler manages per-student hourly rate endpoints.
type RateHandler struct {
	service *service.RateService
}

// NewRateHandler constructs handler.
func NewRateHandler(svc *service.RateService) *RateHandler {
	return &RateHandler{service: svc}
}

// List godoc
// @Summary List stored hourly rates
// @Tags Rates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /rates [get]
func (h *RateHandler) List(c *gin.Context) {
	rates, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rates, nil)
}

// Set godoc
// @Summary Set a student's hourly rate
// @Tags Rates
// @Accept json
// @Produce json
// @Param student path string true "Student name"
// @Param payload body service.SetRateRequest true "Rate payload"
// @Success 200 {object} response.Envelope
// @Router /rates/{student} [put]
func (h *RateHandler) Set(c *gin.Context) {
	var req service.SetRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rate, err := h.service.Set(c.Request.Context(), c.Param("student"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rate, nil)
}

// Remove godoc
// @Summary Remove a student's stored rate
// @Description The student reverts to the default hourly rate
// @Tags Rates
// @Produce json
// @Param student path string true "Student name"
// @Success 204
// @Router /rates/{student} [delete]
func (h *RateHandler) Remove(c *gin.Context) {
	if err := h.service.Remove(c.Request.Context(), c.Param("student"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
