package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/internal/service"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
	"github.com/noah-isme/tutor-desk-api/pkg/response"
)

type availabilityFinder interface {
	FindSlots(ctx context.Context, date time.Time, durationMinutes int, excludeID string) ([]service.Slot, error)
}

// SessionHandler manages session endpoints.
type SessionHandler struct {
	service *service.SessionService
	slots   availabilityFinder
}

// NewSessionHandler constructs handler.
func NewSessionHandler(svc *service.SessionService, slots availabilityFinder) *SessionHandler {
	return &SessionHandler{service: svc, slots: slots}
}

// List godoc
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Param student query string false "Filter by student"
// @Param from query string false "Date range start (YYYY-MM-DD)"
// @Param to query string false "Date range end (YYYY-MM-DD)"
// @Param day query string false "Filter by weekday name"
// @Param cancelled query bool false "Filter by cancelled flag"
// @Param pending query bool false "Filter by pending confirmation"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	var filter models.SessionFilter
	filter.Student = c.Query("student")
	filter.Day = c.Query("day")
	if raw := c.Query("from"); raw != "" {
		parsed, err := clock.ParseDate(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid from, expected YYYY-MM-DD"))
			return
		}
		filter.DateFrom = &parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := clock.ParseDate(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid to, expected YYYY-MM-DD"))
			return
		}
		filter.DateTo = &parsed
	}
	if raw := c.Query("cancelled"); raw != "" {
		value := strings.EqualFold(raw, "true")
		filter.Cancelled = &value
	}
	if raw := c.Query("pending"); raw != "" {
		value := strings.EqualFold(raw, "true")
		filter.Pending = &value
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	sessions, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// Get godoc
// @Summary Get session by ID
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Create godoc
// @Summary Create session
// @Description Creates a session; refused with the colliding sessions unless allow_conflict is set
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body service.SaveSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req service.SaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Update godoc
// @Summary Update session
// @Description Moves or edits a session; the clash gate re-runs against the target slot
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.SaveSessionRequest true "Session payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id} [put]
func (h *SessionHandler) Update(c *gin.Context) {
	var req service.SaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Delete godoc
// @Summary Delete session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 204
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Cancel godoc
// @Summary Cancel session
// @Description Marks a session cancelled with a reason; OTHER requires a note
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.CancelSessionRequest true "Cancellation payload"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	var req service.CancelSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Restore godoc
// @Summary Restore cancelled session
// @Description Clears the cancellation; refused when the slot has been taken since
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/restore [post]
func (h *SessionHandler) Restore(c *gin.Context) {
	session, err := h.service.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Confirm godoc
// @Summary Confirm pending session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/confirm [post]
func (h *SessionHandler) Confirm(c *gin.Context) {
	session, err := h.service.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Duplicate godoc
// @Summary Duplicate session onto another date
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.DuplicateSessionRequest true "Target date"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/duplicate [post]
func (h *SessionHandler) Duplicate(c *gin.Context) {
	var req service.DuplicateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Duplicate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// CopyWeek godoc
// @Summary Copy one week's sessions onto another week
// @Description Bulk copy; colliding targets are skipped and reported per item
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body service.CopyWeekRequest true "Week copy payload"
// @Success 200 {object} response.Envelope
// @Router /sessions/copy-week [post]
func (h *SessionHandler) CopyWeek(c *gin.Context) {
	var req service.CopyWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.CopyWeek(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CheckConflict godoc
// @Summary Probe a slot for conflicts
// @Description Returns whether the slot collides and with which sessions, without saving
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body service.ConflictCheckRequest true "Slot to probe"
// @Success 200 {object} response.Envelope
// @Router /sessions/check-conflict [post]
func (h *SessionHandler) CheckConflict(c *gin.Context) {
	var req service.ConflictCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.CheckConflict(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Conflicts godoc
// @Summary Sessions involved in any overlap on a date
// @Tags Sessions
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /sessions/conflicts [get]
func (h *SessionHandler) Conflicts(c *gin.Context) {
	date, err := parseDateQuery(c, "date")
	if err != nil {
		response.Error(c, err)
		return
	}
	sessions, err := h.service.FindConflictingSessions(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Slots godoc
// @Summary Suggest free slots on a date
// @Description Returns up to four gaps of the requested duration inside working hours
// @Tags Sessions
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param duration query int true "Desired duration in minutes"
// @Param exclude_id query string false "Session to ignore (while rescheduling)"
// @Success 200 {object} response.Envelope
// @Router /sessions/slots [get]
func (h *SessionHandler) Slots(c *gin.Context) {
	if h.slots == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	date, err := parseDateQuery(c, "date")
	if err != nil {
		response.Error(c, err)
		return
	}
	duration, err := strconv.Atoi(c.DefaultQuery("duration", "60"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid duration"))
		return
	}
	slots, err := h.slots.FindSlots(c.Request.Context(), date, duration, c.Query("exclude_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}
