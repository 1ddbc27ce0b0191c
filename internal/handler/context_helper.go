package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/middleware"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func parseDateQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, name+" is required")
	}
	parsed, err := clock.ParseDate(raw)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid "+name+", expected YYYY-MM-DD")
	}
	return parsed, nil
}
