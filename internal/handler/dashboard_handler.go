package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/middleware"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
	"github.com/noah-isme/tutor-desk-api/pkg/response"
)

type dashboardService interface {
	Overview(ctx context.Context, dateStr string) (*dto.DashboardResponse, bool, error)
}

// DashboardHandler wires the dashboard service to HTTP.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Overview godoc
// @Summary Day-at-a-glance dashboard
// @Description Today's sessions, next upcoming, pending count, conflict banner and month unpaid total
// @Tags Dashboard
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD). Defaults to today"
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Overview(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	summary, cacheHit, err := h.service.Overview(c.Request.Context(), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}
