package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
)

type billingSessionReader interface {
	FindInRange(ctx context.Context, from, to time.Time) ([]models.Session, error)
	CountUndated(ctx context.Context) (int, error)
}

type billingLedger interface {
	FindInRange(ctx context.Context, from, to time.Time) ([]models.PaymentEntry, error)
	Get(ctx context.Context, sessionKey string) (*models.PaymentEntry, error)
	Upsert(ctx context.Context, entry *models.PaymentEntry) error
}

type billingRateReader interface {
	FindAll(ctx context.Context) ([]models.StudentRate, error)
}

type billingDefaultRateReader interface {
	DefaultRate(ctx context.Context) (int, error)
}

type billingAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// MarkPaymentRequest flips one ledger entry, addressed by the session's
// natural identity rather than its row ID so entries survive re-imports.
type MarkPaymentRequest struct {
	Student   string `json:"student" validate:"required"`
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Paid      bool   `json:"paid"`
}

// BillingServiceConfig tunes billing behaviour.
type BillingServiceConfig struct {
	CacheTTL time.Duration
}

// BillingServiceParams groups constructor dependencies.
type BillingServiceParams struct {
	Sessions  billingSessionReader
	Payments  billingLedger
	Rates     billingRateReader
	Settings  billingDefaultRateReader
	Audit     billingAuditLogger
	Cache     *CacheService
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	Location  *time.Location
	Config    BillingServiceConfig
}

// BillingService aggregates sessions, the rate table, and the payment ledger
// into period reports.
type BillingService struct {
	sessions  billingSessionReader
	payments  billingLedger
	rates     billingRateReader
	settings  billingDefaultRateReader
	audit     billingAuditLogger
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	location  *time.Location
	now       func() time.Time
	cfg       BillingServiceConfig
}

// NewBillingService constructs a BillingService with sane defaults.
func NewBillingService(params BillingServiceParams) *BillingService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := params.Location
	if location == nil {
		location = time.Local
	}
	return &BillingService{
		sessions:  params.Sessions,
		payments:  params.Payments,
		rates:     params.Rates,
		settings:  params.Settings,
		audit:     params.Audit,
		cache:     params.Cache,
		metrics:   params.Metrics,
		validator: validate,
		logger:    logger,
		location:  location,
		now:       time.Now,
		cfg:       cfg,
	}
}

// billedSession pairs a session with its classification and billing outcome.
// It is the shared unit both group-by views consume.
type billedSession struct {
	session models.Session
	status  models.SessionStatus
	minutes int
	rate    int
	amount  int
	paid    bool
}

// Summary aggregates the inclusive date range by student and indicates cache
// utilisation.
func (s *BillingService) Summary(ctx context.Context, from, to string) (*dto.BillingSummaryResponse, bool, error) {
	fromDate, toDate, err := parseRange(from, to)
	if err != nil {
		return nil, false, err
	}
	cacheKey := billingSummaryKey(clock.FormatDate(fromDate), clock.FormatDate(toDate))
	if s.cache != nil {
		var cached dto.BillingSummaryResponse
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	entries, undated, err := s.collectPeriod(ctx, fromDate, toDate, "billing_summary")
	if err != nil {
		return nil, false, err
	}

	summary := composeStudentRows(entries)
	summary.From = clock.FormatDate(fromDate)
	summary.To = clock.FormatDate(toDate)
	summary.UndatedExcluded = undated

	s.persistCache(ctx, cacheKey, summary)
	return summary, false, nil
}

// WeekdayBreakdown buckets the same classify+rate+amount pass by weekday
// name instead of student.
func (s *BillingService) WeekdayBreakdown(ctx context.Context, from, to string) (*dto.WeekdayBreakdownResponse, bool, error) {
	fromDate, toDate, err := parseRange(from, to)
	if err != nil {
		return nil, false, err
	}
	cacheKey := billingWeekdaysKey(clock.FormatDate(fromDate), clock.FormatDate(toDate))
	if s.cache != nil {
		var cached dto.WeekdayBreakdownResponse
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	entries, _, err := s.collectPeriod(ctx, fromDate, toDate, "billing_weekdays")
	if err != nil {
		return nil, false, err
	}

	breakdown := composeWeekdayRows(entries)
	breakdown.From = clock.FormatDate(fromDate)
	breakdown.To = clock.FormatDate(toDate)

	s.persistCache(ctx, cacheKey, breakdown)
	return breakdown, false, nil
}

// MarkPaid upserts one ledger entry by composite key. Ledger entries outlive
// their session.
func (s *BillingService) MarkPaid(ctx context.Context, req MarkPaymentRequest, actor *models.JWTClaims) (*models.PaymentEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	student := strings.TrimSpace(req.Student)
	if student == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is required")
	}
	date, err := clock.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	start, err := clock.Normalize(req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM")
	}
	end, err := clock.Normalize(req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be HH:MM")
	}

	key := models.PaymentKey(student, clock.FormatDate(date), start, end)
	prev, err := s.payments.Get(ctx, key)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch payment entry")
	}

	entry := &models.PaymentEntry{
		SessionKey: key,
		Student:    student,
		Date:       clock.DateOf(date),
		StartTime:  start,
		EndTime:    end,
		Paid:       req.Paid,
		Source:     models.PaymentSourceDirect,
	}
	if err := s.payments.Upsert(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark payment")
	}

	s.emitPaymentAudit(ctx, actor, key, prev, entry)
	s.invalidateDerived(ctx)
	return entry, nil
}

// collectPeriod loads the period's sessions and classifies each against the
// rate table and ledger. Both group-by views share this pass.
func (s *BillingService) collectPeriod(ctx context.Context, from, to time.Time, metricLabel string) ([]billedSession, int, error) {
	start := time.Now()
	sessions, err := s.sessions.FindInRange(ctx, from, to)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions for period")
	}
	undated, err := s.sessions.CountUndated(ctx)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count undated sessions")
	}
	ledgerRows, err := s.payments.FindInRange(ctx, from, to)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment ledger")
	}
	rates, err := s.rates.FindAll(ctx)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rates")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery(metricLabel, time.Since(start))
	}
	defaultRate, err := s.settings.DefaultRate(ctx)
	if err != nil {
		return nil, 0, err
	}

	paidByKey := make(map[string]bool, len(ledgerRows))
	for _, row := range ledgerRows {
		paidByKey[row.SessionKey] = row.Paid
	}
	rateByStudent := make(map[string]int, len(rates))
	for _, rate := range rates {
		rateByStudent[rate.Student] = rate.HourlyRate
	}

	now := s.now()
	entries := make([]billedSession, 0, len(sessions))
	for _, session := range sessions {
		rate, ok := rateByStudent[session.Student]
		if !ok {
			rate = defaultRate
		}
		entry := billedSession{
			session: session,
			status:  session.StatusAt(now, s.location),
			rate:    rate,
		}
		switch entry.status {
		case models.StatusCompleted:
			entry.minutes = session.DurationMinutes()
			entry.amount = amountFor(entry.minutes, rate)
			entry.paid = paidByKey[session.Key()]
		case models.StatusUpcoming:
			entry.minutes = session.DurationMinutes()
		}
		entries = append(entries, entry)
	}
	return entries, undated, nil
}

func composeStudentRows(entries []billedSession) *dto.BillingSummaryResponse {
	rowByStudent := make(map[string]*dto.BillingStudentRow)
	for _, entry := range entries {
		row, ok := rowByStudent[entry.session.Student]
		if !ok {
			row = &dto.BillingStudentRow{Student: entry.session.Student, HourlyRate: entry.rate}
			rowByStudent[entry.session.Student] = row
		}
		switch entry.status {
		case models.StatusCompleted:
			row.CompletedCount++
			row.CompletedMinutes += entry.minutes
			row.Amount += entry.amount
			if entry.paid {
				row.PaidCount++
				row.PaidAmount += entry.amount
			} else {
				row.UnpaidCount++
				row.UnpaidAmount += entry.amount
			}
		case models.StatusCancelled:
			row.CancelledCount++
		case models.StatusPending:
			row.PendingCount++
		case models.StatusUpcoming:
			row.UpcomingCount++
			row.UpcomingMinutes += entry.minutes
		}
	}

	summary := &dto.BillingSummaryResponse{Rows: make([]dto.BillingStudentRow, 0, len(rowByStudent))}
	for _, row := range rowByStudent {
		row.Category = string(categoryFor(row))
		summary.Rows = append(summary.Rows, *row)

		summary.Totals.CompletedCount += row.CompletedCount
		summary.Totals.CompletedMinutes += row.CompletedMinutes
		summary.Totals.CancelledCount += row.CancelledCount
		summary.Totals.PendingCount += row.PendingCount
		summary.Totals.UpcomingCount += row.UpcomingCount
		summary.Totals.UpcomingMinutes += row.UpcomingMinutes
		summary.Totals.Amount += row.Amount
		summary.Totals.PaidAmount += row.PaidAmount
		summary.Totals.UnpaidAmount += row.UnpaidAmount
	}
	sort.Slice(summary.Rows, func(i, j int) bool {
		return summary.Rows[i].Student < summary.Rows[j].Student
	})
	return summary
}

// categoryFor derives the row's settlement category. Any unpaid completed
// session marks the whole row unpaid; a fully settled row with nothing still
// scheduled is paid; rows holding only pending sessions are pending-only;
// every other combination (settled past plus scheduled future, upcoming
// without history) is mixed.
func categoryFor(row *dto.BillingStudentRow) models.BillingCategory {
	switch {
	case row.UnpaidCount > 0:
		return models.BillingCategoryUnpaid
	case row.CompletedCount > 0 && row.PendingCount == 0 && row.UpcomingCount == 0:
		return models.BillingCategoryPaid
	case row.CompletedCount == 0 && row.UpcomingCount == 0 && row.PendingCount > 0:
		return models.BillingCategoryPendingOnly
	default:
		return models.BillingCategoryMixed
	}
}

var weekdayOrder = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func composeWeekdayRows(entries []billedSession) *dto.WeekdayBreakdownResponse {
	rowByDay := make(map[string]*dto.WeekdayEarningsRow, len(weekdayOrder))
	breakdown := &dto.WeekdayBreakdownResponse{Days: make([]dto.WeekdayEarningsRow, len(weekdayOrder))}
	for i, weekday := range weekdayOrder {
		breakdown.Days[i] = dto.WeekdayEarningsRow{Weekday: weekday}
		rowByDay[weekday] = &breakdown.Days[i]
	}

	for _, entry := range entries {
		if entry.session.Date == nil {
			continue
		}
		row, ok := rowByDay[clock.WeekdayName(*entry.session.Date)]
		if !ok {
			continue
		}
		switch entry.status {
		case models.StatusCompleted:
			row.CompletedCount++
			row.CompletedMinutes += entry.minutes
			row.Amount += entry.amount
			if entry.paid {
				row.PaidAmount += entry.amount
			} else {
				row.UnpaidAmount += entry.amount
			}
		case models.StatusUpcoming:
			row.UpcomingCount++
		}
	}
	return breakdown
}

// migrateCoarseLedger projects a coarse (student, period) ledger onto
// per-session entries. Only paid coarse rows carry information; each is
// mapped onto the student's completed sessions within the labelled month.
// Labels that do not parse as YYYY-MM, or that match no session, are returned
// as unmapped rather than guessed at. Existing precise entries are never
// overwritten.
func migrateCoarseLedger(sessions []models.Session, coarse []models.CoarsePayment, existing map[string]bool, now time.Time, loc *time.Location) ([]models.PaymentEntry, []string) {
	mapped := []models.PaymentEntry{}
	unmapped := []string{}
	for _, coarseEntry := range coarse {
		if !coarseEntry.Paid {
			continue
		}
		student := strings.TrimSpace(coarseEntry.Student)
		month, monthOK := parsePeriodMonth(coarseEntry.Period)
		matches := 0
		if monthOK {
			for i := range sessions {
				session := &sessions[i]
				if session.Student != student || session.Date == nil {
					continue
				}
				if clock.FormatDate(*session.Date)[:7] != month {
					continue
				}
				if session.StatusAt(now, loc) != models.StatusCompleted {
					continue
				}
				matches++
				key := session.Key()
				if existing[key] {
					continue
				}
				label := coarseEntry.Period
				mapped = append(mapped, models.PaymentEntry{
					SessionKey:   key,
					Student:      session.Student,
					Date:         clock.DateOf(*session.Date),
					StartTime:    session.StartTime,
					EndTime:      session.EndTime,
					Paid:         true,
					Source:       models.PaymentSourceLegacyPeriod,
					LegacyPeriod: &label,
				})
			}
		}
		if matches == 0 {
			unmapped = append(unmapped, student+"|"+coarseEntry.Period)
		}
	}
	return mapped, unmapped
}

// parsePeriodMonth extracts the YYYY-MM month from a period label.
func parsePeriodMonth(label string) (string, bool) {
	label = strings.TrimSpace(label)
	if t, err := time.Parse("2006-01", label); err == nil {
		return t.Format("2006-01"), true
	}
	if t, err := time.Parse(clock.DateLayout, label); err == nil {
		return t.Format("2006-01"), true
	}
	return "", false
}

func amountFor(minutes, rate int) int {
	return int(math.Round(float64(minutes) / 60 * float64(rate)))
}

// parseRange validates an inclusive YYYY-MM-DD date range. Shared by the
// billing and calendar query paths.
func parseRange(from, to string) (time.Time, time.Time, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "from and to are required")
	}
	fromDate, err := clock.ParseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "from must be YYYY-MM-DD")
	}
	toDate, err := clock.ParseDate(to)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must be YYYY-MM-DD")
	}
	if toDate.Before(fromDate) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must not precede from")
	}
	return fromDate, toDate, nil
}

func (s *BillingService) persistCache(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("billing cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *BillingService) invalidateDerived(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateDerived(ctx)
}

func (s *BillingService) emitPaymentAudit(ctx context.Context, actor *models.JWTClaims, key string, prev, next *models.PaymentEntry) {
	if s.audit == nil {
		return
	}
	oldBytes, _ := json.Marshal(map[string]interface{}{"session_key": key, "paid": prev != nil && prev.Paid})
	newBytes, _ := json.Marshal(map[string]interface{}{"session_key": key, "paid": next.Paid})
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionPaymentMark,
		Resource:   "payment",
		ResourceID: &key,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "billing-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record payment audit", zap.Error(err))
	}
}
