package dto

// BillingSummaryResponse aggregates one billing period by student.
type BillingSummaryResponse struct {
	From            string              `json:"from"`
	To              string              `json:"to"`
	Rows            []BillingStudentRow `json:"rows"`
	Totals          BillingTotals       `json:"totals"`
	UndatedExcluded int                 `json:"undatedExcluded"`
}

// BillingStudentRow carries one student's aggregates for the period.
type BillingStudentRow struct {
	Student          string `json:"student"`
	CompletedCount   int    `json:"completedCount"`
	CompletedMinutes int    `json:"completedMinutes"`
	CancelledCount   int    `json:"cancelledCount"`
	PendingCount     int    `json:"pendingCount"`
	UpcomingCount    int    `json:"upcomingCount"`
	UpcomingMinutes  int    `json:"upcomingMinutes"`
	HourlyRate       int    `json:"hourlyRate"`
	Amount           int    `json:"amount"`
	PaidAmount       int    `json:"paidAmount"`
	UnpaidAmount     int    `json:"unpaidAmount"`
	PaidCount        int    `json:"paidCount"`
	UnpaidCount      int    `json:"unpaidCount"`
	Category         string `json:"category"`
}

// BillingTotals sums the per-student rows.
type BillingTotals struct {
	CompletedCount   int `json:"completedCount"`
	CompletedMinutes int `json:"completedMinutes"`
	CancelledCount   int `json:"cancelledCount"`
	PendingCount     int `json:"pendingCount"`
	UpcomingCount    int `json:"upcomingCount"`
	UpcomingMinutes  int `json:"upcomingMinutes"`
	Amount           int `json:"amount"`
	PaidAmount       int `json:"paidAmount"`
	UnpaidAmount     int `json:"unpaidAmount"`
}

// WeekdayBreakdownResponse buckets the same period by weekday name for the
// bar-chart view.
type WeekdayBreakdownResponse struct {
	From string               `json:"from"`
	To   string               `json:"to"`
	Days []WeekdayEarningsRow `json:"days"`
}

// WeekdayEarningsRow carries one weekday's aggregates.
type WeekdayEarningsRow struct {
	Weekday          string `json:"weekday"`
	CompletedCount   int    `json:"completedCount"`
	CompletedMinutes int    `json:"completedMinutes"`
	Amount           int    `json:"amount"`
	PaidAmount       int    `json:"paidAmount"`
	UnpaidAmount     int    `json:"unpaidAmount"`
	UpcomingCount    int    `json:"upcomingCount"`
}
