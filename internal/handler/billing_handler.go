package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/middleware"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/internal/service"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
	"github.com/noah-isme/tutor-desk-api/pkg/response"
)

type billingService interface {
	Summary(ctx context.Context, from, to string) (*dto.BillingSummaryResponse, bool, error)
	WeekdayBreakdown(ctx context.Context, from, to string) (*dto.WeekdayBreakdownResponse, bool, error)
	MarkPaid(ctx context.Context, req service.MarkPaymentRequest, actor *models.JWTClaims) (*models.PaymentEntry, error)
}

// BillingHandler exposes the billing aggregation endpoints.
type BillingHandler struct {
	service billingService
}

// NewBillingHandler constructs the handler.
func NewBillingHandler(service billingService) *BillingHandler {
	return &BillingHandler{service: service}
}

// Summary godoc
// @Summary Billing summary per student for a period
// @Tags Billing
// @Produce json
// @Param from query string true "Period start (YYYY-MM-DD)"
// @Param to query string true "Period end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /billing/summary [get]
func (h *BillingHandler) Summary(c *gin.Context) {
	summary, cacheHit, err := h.service.Summary(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	middleware.AddMeta(c, "undated_excluded", summary.UndatedExcluded)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}

// Weekdays godoc
// @Summary Earnings bucketed by weekday for a period
// @Tags Billing
// @Produce json
// @Param from query string true "Period start (YYYY-MM-DD)"
// @Param to query string true "Period end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /billing/weekdays [get]
func (h *BillingHandler) Weekdays(c *gin.Context) {
	breakdown, cacheHit, err := h.service.WeekdayBreakdown(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, breakdown, nil, middleware.ExtractMeta(c))
}

// MarkPayment godoc
// @Summary Mark a session paid or unpaid
// @Description Flips the ledger entry identified by student, date and times
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.MarkPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /billing/payments [post]
func (h *BillingHandler) MarkPayment(c *gin.Context) {
	var req service.MarkPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.MarkPaid(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}
