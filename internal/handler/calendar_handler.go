package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/service"
	"github.com/noah-isme/tutor-desk-api/pkg/response"
)

// CalendarHandler exposes the ICS feed and its signed-URL issuer.
type CalendarHandler struct {
	service *service.CalendarService
}

// NewCalendarHandler constructs handler.
func NewCalendarHandler(svc *service.CalendarService) *CalendarHandler {
	return &CalendarHandler{service: svc}
}

// FeedURL godoc
// @Summary Issue a signed calendar feed URL
// @Description The returned URL works without authentication until it expires
// @Tags Calendar
// @Produce json
// @Param from query string false "Range start (YYYY-MM-DD)"
// @Param to query string false "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /calendar/feed-url [get]
func (h *CalendarHandler) FeedURL(c *gin.Context) {
	feed, err := h.service.FeedURL(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feed, nil)
}

// Feed godoc
// @Summary Serve the iCalendar document
// @Description Signature-gated; subscribed calendar apps poll this URL
// @Tags Calendar
// @Produce plain
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Param expires query string true "Unix expiry"
// @Param signature query string true "HMAC signature"
// @Success 200 {string} string "text/calendar payload"
// @Failure 403 {object} response.Envelope
// @Router /calendar.ics [get]
func (h *CalendarHandler) Feed(c *gin.Context) {
	document, err := h.service.Feed(
		c.Request.Context(),
		c.Query("from"),
		c.Query("to"),
		c.Query("expires"),
		c.Query("signature"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="tutordesk.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(document))
}
