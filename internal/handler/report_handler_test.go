package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/middleware"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/internal/service"
)

type reportServiceMock struct {
	createResp  *dto.ReportJobResponse
	createErr   error
	statusResp  *dto.ReportStatusResponse
	statusErr   error
	listResp    []models.ReportJob
	listErr     error
	download    *service.ReportDownload
	downloadErr error
	lastToken   string
}

func (m *reportServiceMock) CreateJob(ctx context.Context, req dto.ReportRequest, actor *models.JWTClaims) (*dto.ReportJobResponse, error) {
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, id string) (*dto.ReportStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) List(ctx context.Context, limit int) ([]models.ReportJob, error) {
	return m.listResp, m.listErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	m.lastToken = token
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestReportHandlerGenerate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		createResp: &dto.ReportJobResponse{ID: "job-1", Status: models.ReportStatusQueued, Progress: 0},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(dto.ReportRequest{
		Type:   models.ReportTypeBillingStatement,
		From:   "2026-03-01",
		To:     "2026-03-31",
		Format: models.ReportFormatCSV,
	})
	c, w := newGinContext(http.MethodPost, "/reports", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.Generate(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReportHandlerGenerateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReportHandler(&reportServiceMock{})

	c, w := newGinContext(http.MethodPost, "/reports", []byte(`{"type":`))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tutor-1"})

	handler.Generate(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusProcessing, Progress: 40},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	handler.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerDownloadRedirects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resultURL := "/files?token=abc"
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{
			ID:        "job-1",
			Status:    models.ReportStatusFinished,
			Progress:  100,
			ResultURL: &resultURL,
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/job-1/download", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	handler.Download(c)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, resultURL, w.Header().Get("Location"))
}

func TestReportHandlerDownloadNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusProcessing, Progress: 10},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/job-1/download", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	handler.Download(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportHandlerDownloadFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "statement*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("data")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "statement.csv",
			Format:    models.ReportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/files?token=signed-token", nil)

	handler.DownloadFile(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "signed-token", mockSvc.lastToken)
	require.Equal(t, "data", w.Body.String())
}

func TestReportHandlerDownloadFileMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReportHandler(&reportServiceMock{})

	c, w := newGinContext(http.MethodGet, "/files", nil)

	handler.DownloadFile(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
