package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/storage"
)

type billingSummaryStub struct {
	err error
}

func (b billingSummaryStub) Summary(ctx context.Context, from, to string) (*dto.BillingSummaryResponse, bool, error) {
	if b.err != nil {
		return nil, false, b.err
	}
	return &dto.BillingSummaryResponse{
		From: from,
		To:   to,
		Rows: []dto.BillingStudentRow{
			{
				Student:          "Kabir",
				CompletedCount:   1,
				CompletedMinutes: 90,
				HourlyRate:       500,
				Amount:           750,
				UnpaidAmount:     750,
				UnpaidCount:      1,
				Category:         string(models.BillingCategoryUnpaid),
			},
		},
		Totals: dto.BillingTotals{CompletedCount: 1, CompletedMinutes: 90, Amount: 750, UnpaidAmount: 750},
	}, false, nil
}

func newExportServiceForTest(t *testing.T) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	sessions := &billingSessionStub{sessions: []models.Session{
		{ID: "s1", Student: "Asha", Date: datePtr("2024-06-10"), Day: "Monday", StartTime: "16:00", EndTime: "17:00"},
		{ID: "s2", Student: "Riya", Date: datePtr("2024-06-11"), Day: "Tuesday", StartTime: "10:00", EndTime: "11:30"},
	}}
	svc := NewExportService(ExportServiceParams{
		Billing:  billingSummaryStub{},
		Sessions: sessions,
		Storage:  store,
		Signer:   signer,
		Logger:   zap.NewNop(),
		Location: time.UTC,
		Config:   ExportConfig{ResultTTL: time.Hour},
	})
	svc.now = billingFixtureNow
	return svc, store
}

func TestExportServiceGenerateBillingStatementCSV(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeBillingStatement,
		Params:    models.ReportJobParams{From: "2024-06-01", To: "2024-06-30", Format: models.ReportFormatCSV},
		CreatedBy: "tutor",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, result.RelativePath)
	require.Contains(t, result.URL, "/files?token=")

	content, err := os.ReadFile(store.Path(result.RelativePath))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Kabir")
	assert.Contains(t, string(content), "750")
	assert.Contains(t, string(content), "TOTAL")
	assert.Contains(t, string(content), "Hourly Rate")
}

func TestExportServiceGenerateSessionLogFiltersStudent(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-2",
		Type:      models.ReportTypeSessionLog,
		Params:    models.ReportJobParams{From: "2024-06-01", To: "2024-06-30", Student: "Riya", Format: models.ReportFormatCSV},
		CreatedBy: "tutor",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)

	content, err := os.ReadFile(store.Path(result.RelativePath))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Riya")
	assert.NotContains(t, string(content), "Asha")
	assert.Contains(t, string(content), string(models.StatusCompleted))
}

func TestExportServiceGeneratePDF(t *testing.T) {
	svc, store := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-3",
		Type:      models.ReportTypeBillingStatement,
		Params:    models.ReportJobParams{From: "2024-06-01", To: "2024-06-30", Format: models.ReportFormatPDF},
		CreatedBy: "tutor",
	}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.ReportFormatPDF, result.Format)

	info, err := os.Stat(store.Path(result.RelativePath))
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestExportServiceGenerateRejectsUnknownType(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:     "job-4",
		Type:   models.ReportType("attendance"),
		Params: models.ReportJobParams{From: "2024-06-01", To: "2024-06-30", Format: models.ReportFormatCSV},
	}
	_, err := svc.Generate(context.Background(), job)
	require.Error(t, err)
}
