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
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type settingServiceMock struct {
	listResp   []dto.SettingItem
	getResp    *dto.SettingItem
	getErr     error
	updateErr  error
	bulkErr    error
	lastKey    string
	lastValue  string
	bulkCalled bool
}

func (m *settingServiceMock) List(ctx context.Context) ([]dto.SettingItem, error) {
	return m.listResp, nil
}

func (m *settingServiceMock) Get(ctx context.Context, key string) (*dto.SettingItem, error) {
	return m.getResp, m.getErr
}

func (m *settingServiceMock) Update(ctx context.Context, key, value string, actor *models.JWTClaims) (*dto.SettingItem, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.lastKey = key
	m.lastValue = value
	return &dto.SettingItem{Key: key, Value: value, Type: "STRING"}, nil
}

func (m *settingServiceMock) BulkUpdate(ctx context.Context, req dto.BulkUpdateSettingRequest, actor *models.JWTClaims) ([]dto.SettingItem, error) {
	m.bulkCalled = true
	if m.bulkErr != nil {
		return nil, m.bulkErr
	}
	return []dto.SettingItem{}, nil
}

func TestSettingHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &settingServiceMock{
		listResp: []dto.SettingItem{{Key: "default_rate", Value: "150000", Type: "INT"}},
	}
	handler := NewSettingHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/settings", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "default_rate")
}

func TestSettingHandlerUpdate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &settingServiceMock{}
	handler := NewSettingHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(map[string]string{"value": "18:00"})
	req, _ := http.NewRequest(http.MethodPut, "/settings/working_hours_end", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "key", Value: "working_hours_end"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "working_hours_end", mockSvc.lastKey)
	assert.Equal(t, "18:00", mockSvc.lastValue)
}

func TestSettingHandlerUpdateMissingValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSettingHandler(&settingServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPut, "/settings/default_rate", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "key", Value: "default_rate"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.Update(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingHandlerUpdateUnknownKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &settingServiceMock{updateErr: appErrors.ErrNotFound}
	handler := NewSettingHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(map[string]string{"value": "x"})
	req, _ := http.NewRequest(http.MethodPut, "/settings/bogus", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "key", Value: "bogus"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.Update(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingHandlerBulkInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &settingServiceMock{}
	handler := NewSettingHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPut, "/settings", bytes.NewBufferString(`invalid`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.BulkUpdate(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.bulkCalled)
}
