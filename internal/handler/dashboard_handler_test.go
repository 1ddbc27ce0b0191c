package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type dashboardServiceMock struct {
	resp     *dto.DashboardResponse
	cacheHit bool
	err      error
	lastDate string
}

func (m *dashboardServiceMock) Overview(ctx context.Context, dateStr string) (*dto.DashboardResponse, bool, error) {
	m.lastDate = dateStr
	return m.resp, m.cacheHit, m.err
}

func TestDashboardHandlerOverview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &dashboardServiceMock{
		resp: &dto.DashboardResponse{
			Date:         "2026-03-09",
			Sessions:     []dto.DashboardSession{{ID: "s-1", Student: "Ayu"}},
			PendingCount: 1,
			MonthUnpaid:  250000,
		},
	}
	handler := NewDashboardHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/dashboard?date=2026-03-09", nil)
	c.Request = req

	handler.Overview(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-03-09", mockSvc.lastDate)
	assert.Contains(t, w.Body.String(), "monthUnpaid")
}

func TestDashboardHandlerOverviewBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &dashboardServiceMock{err: appErrors.ErrValidation}
	handler := NewDashboardHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/dashboard?date=tomorrow", nil)
	c.Request = req

	handler.Overview(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDashboardHandlerNilService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/dashboard", nil)
	c.Request = req

	handler.Overview(c)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
