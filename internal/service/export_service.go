package service

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/export"
	"github.com/noah-isme/tutor-desk-api/pkg/storage"
)

type billingSummaryProvider interface {
	Summary(ctx context.Context, from, to string) (*dto.BillingSummaryResponse, bool, error)
}

type exportSessionReader interface {
	FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	billing  billingSummaryProvider
	sessions exportSessionReader
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	location *time.Location
	cfg      ExportConfig
	now      func() time.Time
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportServiceParams bundles the dependencies for NewExportService.
type ExportServiceParams struct {
	Billing  billingSummaryProvider
	Sessions exportSessionReader
	Storage  fileStorage
	Signer   *storage.SignedURLSigner
	CSV      csvRenderer
	PDF      pdfRenderer
	Logger   *zap.Logger
	Location *time.Location
	Config   ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(params ExportServiceParams) *ExportService {
	cfg := params.Config
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := params.Location
	if location == nil {
		location = time.Local
	}
	csv := params.CSV
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	pdf := params.PDF
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		billing:  params.Billing,
		sessions: params.Sessions,
		storage:  params.Storage,
		csv:      csv,
		pdf:      pdf,
		signer:   params.Signer,
		logger:   logger,
		location: location,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Generate builds the dataset for a job and stores the rendered file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := fmt.Sprintf("/files?token=%s", url.QueryEscape(token))

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	scope := fmt.Sprintf("%s_%s", job.Params.From, job.Params.To)
	if job.Params.Student != "" {
		scope = fmt.Sprintf("%s_%s", sanitizeFilename(job.Params.Student), scope)
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), scope, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeBillingStatement:
		return s.buildBillingStatement(ctx, job.Params)
	case models.ReportTypeSessionLog:
		return s.buildSessionLog(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildBillingStatement(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	summary, _, err := s.billing.Summary(ctx, params.From, params.To)
	if err != nil {
		return export.Dataset{}, "", err
	}
	headers := []string{"Student", "Completed", "Minutes", "Hourly Rate", "Amount", "Paid", "Unpaid", "Category"}
	rows := make([]map[string]string, 0, len(summary.Rows)+1)
	for _, row := range summary.Rows {
		rows = append(rows, map[string]string{
			"Student":     row.Student,
			"Completed":   fmt.Sprintf("%d", row.CompletedCount),
			"Minutes":     fmt.Sprintf("%d", row.CompletedMinutes),
			"Hourly Rate": fmt.Sprintf("%d", row.HourlyRate),
			"Amount":      fmt.Sprintf("%d", row.Amount),
			"Paid":        fmt.Sprintf("%d", row.PaidAmount),
			"Unpaid":      fmt.Sprintf("%d", row.UnpaidAmount),
			"Category":    string(row.Category),
		})
	}
	rows = append(rows, map[string]string{
		"Student":   "TOTAL",
		"Completed": fmt.Sprintf("%d", summary.Totals.CompletedCount),
		"Minutes":   fmt.Sprintf("%d", summary.Totals.CompletedMinutes),
		"Amount":    fmt.Sprintf("%d", summary.Totals.Amount),
		"Paid":      fmt.Sprintf("%d", summary.Totals.PaidAmount),
		"Unpaid":    fmt.Sprintf("%d", summary.Totals.UnpaidAmount),
	})
	dataset := export.Dataset{Headers: headers, Rows: rows}
	title := fmt.Sprintf("Billing Statement %s to %s", params.From, params.To)
	return dataset, title, nil
}

func (s *ExportService) buildSessionLog(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	fromDate, toDate, err := parseRange(params.From, params.To)
	if err != nil {
		return export.Dataset{}, "", err
	}
	sessions, err := s.sessions.FindInRange(ctx, fromDate, toDate)
	if err != nil {
		return export.Dataset{}, "", err
	}
	now := s.now()
	rows := make([]map[string]string, 0, len(sessions))
	for i := range sessions {
		session := &sessions[i]
		if params.Student != "" && !strings.EqualFold(session.Student, params.Student) {
			continue
		}
		reason := ""
		if session.CancelReason != nil {
			reason = session.CancelReason.Legacy()
		}
		rows = append(rows, map[string]string{
			"Date":          session.DateString(),
			"Day":           session.Day,
			"Student":       session.Student,
			"Start":         session.StartTime,
			"End":           session.EndTime,
			"Minutes":       fmt.Sprintf("%d", session.DurationMinutes()),
			"Status":        string(session.StatusAt(now, s.location)),
			"Cancel Reason": reason,
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Day", "Student", "Start", "End", "Minutes", "Status", "Cancel Reason"},
		Rows:    rows,
	}
	title := fmt.Sprintf("Session Log %s to %s", params.From, params.To)
	if params.Student != "" {
		title = fmt.Sprintf("Session Log %s %s to %s", params.Student, params.From, params.To)
	}
	return dataset, title, nil
}
