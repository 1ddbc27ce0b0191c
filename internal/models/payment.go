package models

import (
	"strings"
	"time"
)

// PaymentSource records how a ledger entry came to exist.
type PaymentSource string

const (
	// PaymentSourceDirect entries were written through the API.
	PaymentSourceDirect PaymentSource = "DIRECT"
	// PaymentSourceLegacyPeriod entries were mapped from a coarse
	// (student, period) ledger during import. The mapping is lossy; the
	// originating label is retained for audit.
	PaymentSourceLegacyPeriod PaymentSource = "LEGACY_PERIOD"
)

// PaymentEntry is one ledger row keyed by a session's natural identity.
// Entries outlive their session: deleting a session leaves its ledger row
// behind, which is an accepted leak rather than a correctness issue.
type PaymentEntry struct {
	SessionKey   string        `db:"session_key" json:"session_key"`
	Student      string        `db:"student" json:"student"`
	Date         time.Time     `db:"session_date" json:"date"`
	StartTime    string        `db:"start_time" json:"start_time"`
	EndTime      string        `db:"end_time" json:"end_time"`
	Paid         bool          `db:"paid" json:"paid"`
	Source       PaymentSource `db:"source" json:"source"`
	LegacyPeriod *string       `db:"legacy_period" json:"legacy_period,omitempty"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentKey builds the composite ledger key student|date|start|end.
func PaymentKey(student, date, start, end string) string {
	return strings.Join([]string{student, date, start, end}, "|")
}
