package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/middleware"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/internal/service"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type billingServiceMock struct {
	summaryResp  *dto.BillingSummaryResponse
	summaryErr   error
	weekdaysResp *dto.WeekdayBreakdownResponse
	weekdaysErr  error
	markResp     *models.PaymentEntry
	markErr      error
	lastFrom     string
	lastTo       string
	markCalled   bool
	lastMark     service.MarkPaymentRequest
}

func (m *billingServiceMock) Summary(ctx context.Context, from, to string) (*dto.BillingSummaryResponse, bool, error) {
	m.lastFrom = from
	m.lastTo = to
	return m.summaryResp, false, m.summaryErr
}

func (m *billingServiceMock) WeekdayBreakdown(ctx context.Context, from, to string) (*dto.WeekdayBreakdownResponse, bool, error) {
	m.lastFrom = from
	m.lastTo = to
	return m.weekdaysResp, true, m.weekdaysErr
}

func (m *billingServiceMock) MarkPaid(ctx context.Context, req service.MarkPaymentRequest, actor *models.JWTClaims) (*models.PaymentEntry, error) {
	m.markCalled = true
	m.lastMark = req
	return m.markResp, m.markErr
}

func TestBillingHandlerSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &billingServiceMock{
		summaryResp: &dto.BillingSummaryResponse{
			From:            "2026-03-01",
			To:              "2026-03-31",
			Rows:            []dto.BillingStudentRow{{Student: "Ayu", CompletedCount: 4}},
			UndatedExcluded: 2,
		},
	}
	handler := NewBillingHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/billing/summary?from=2026-03-01&to=2026-03-31", nil)
	c.Request = req

	handler.Summary(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-03-01", mockSvc.lastFrom)
	assert.Equal(t, "2026-03-31", mockSvc.lastTo)
	assert.Contains(t, w.Body.String(), "undated_excluded")
}

func TestBillingHandlerSummaryServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &billingServiceMock{summaryErr: appErrors.ErrValidation}
	handler := NewBillingHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/billing/summary?from=bad&to=worse", nil)
	c.Request = req

	handler.Summary(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingHandlerWeekdays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &billingServiceMock{
		weekdaysResp: &dto.WeekdayBreakdownResponse{
			From: "2026-03-01",
			To:   "2026-03-31",
			Days: []dto.WeekdayEarningsRow{{Weekday: "Monday", CompletedCount: 3}},
		},
	}
	handler := NewBillingHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/billing/weekdays?from=2026-03-01&to=2026-03-31", nil)
	c.Request = req

	handler.Weekdays(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Monday")
}

func TestBillingHandlerMarkPayment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &billingServiceMock{
		markResp: &models.PaymentEntry{SessionKey: "Ayu|2026-03-09|15:00|16:00", Student: "Ayu", Paid: true},
	}
	handler := NewBillingHandler(mockSvc)

	payload, _ := json.Marshal(service.MarkPaymentRequest{
		Student:   "Ayu",
		Date:      "2026-03-09",
		StartTime: "15:00",
		EndTime:   "16:00",
		Paid:      true,
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/billing/payments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.MarkPayment(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.markCalled)
	assert.Equal(t, "Ayu", mockSvc.lastMark.Student)
	assert.True(t, mockSvc.lastMark.Paid)
}

func TestBillingHandlerMarkPaymentInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewBillingHandler(&billingServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/billing/payments", bytes.NewBufferString(`{"student":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.MarkPayment(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
