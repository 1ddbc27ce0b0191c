package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/tutor-desk-api/pkg/clock"
)

// BackupKind distinguishes snapshot triggers.
type BackupKind string

const (
	// BackupKindAuto snapshots are taken on a cadence (at most one per
	// configured interval) and capped at a small rolling window.
	BackupKindAuto BackupKind = "AUTO"
	// BackupKindCleanup snapshots are taken immediately before a retention
	// sweep deletes old sessions; they record the cutoff and the removed rows.
	BackupKindCleanup BackupKind = "CLEANUP"
	// BackupKindManual snapshots are requested through the API.
	BackupKindManual BackupKind = "MANUAL"
)

// Backup is a persisted full-state snapshot.
type Backup struct {
	ID           string          `db:"id" json:"id"`
	Kind         BackupKind      `db:"kind" json:"kind"`
	Payload      SnapshotPayload `db:"payload" json:"payload"`
	CutoffDate   *time.Time      `db:"cutoff_date" json:"cutoff_date,omitempty"`
	Removed      RemovedSessions `db:"removed" json:"removed,omitempty"`
	RemovedCount int             `db:"removed_count" json:"removed_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// SnapshotPayload is the full state captured by a backup, stored as JSONB in
// the legacy-compatible export shape so a snapshot doubles as an export file
// body.
type SnapshotPayload struct {
	Timestamp     string          `json:"timestamp"`
	Classes       []SessionExport `json:"classes"`
	StudentRates  map[string]int  `json:"studentRates"`
	PaymentStatus map[string]bool `json:"paymentStatus"`
	DefaultRate   int             `json:"defaultRate"`
}

// Value marshals the payload to JSON for persistence.
func (p SnapshotPayload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot payload: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the snapshot struct. Malformed JSON
// yields an empty payload instead of an error so one corrupt row cannot sink
// a whole listing; callers validate payloads before acting on them.
func (p *SnapshotPayload) Scan(value interface{}) error {
	if value == nil {
		*p = SnapshotPayload{}
		return nil
	}
	data, err := jsonbBytes(value)
	if err != nil {
		return fmt.Errorf("snapshot payload: %w", err)
	}
	if len(data) == 0 {
		*p = SnapshotPayload{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		*p = SnapshotPayload{}
	}
	return nil
}

// RemovedSessions is the swept subset recorded on cleanup backups.
type RemovedSessions []SessionExport

// Value marshals the removed set for persistence.
func (r RemovedSessions) Value() (driver.Value, error) {
	if r == nil {
		r = RemovedSessions{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal removed sessions: %w", err)
	}
	return data, nil
}

// Scan unmarshals the removed set, tolerating malformed JSON the same way
// the payload does.
func (r *RemovedSessions) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	data, err := jsonbBytes(value)
	if err != nil {
		return fmt.Errorf("removed sessions: %w", err)
	}
	if len(data) == 0 {
		*r = nil
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		*r = nil
	}
	return nil
}

func jsonbBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

// Export file interchange shapes. Field names follow the predecessor app's
// JSON so its files import cleanly and our exports open there.

// ExportVersion values accepted by the import path.
const (
	ExportVersionV2      = "2.0"
	ExportVersionCurrent = "3.0"
)

// ExportFile is the interchange document produced by /export and accepted by
// /import. Version "2.0" files may lack per-session dates and may carry a
// coarse paymentStatus keyed by (student, period label); "3.0" files key the
// ledger by session identity.
type ExportFile struct {
	ExportDate string     `json:"exportDate"`
	Version    string     `json:"version"`
	Data       ExportData `json:"data"`
}

// ExportData carries the four persisted collections.
type ExportData struct {
	Classes       []SessionExport `json:"classes"`
	StudentRates  map[string]int  `json:"studentRates"`
	PaymentStatus map[string]bool `json:"paymentStatus"`
	DefaultRate   int             `json:"defaultRate"`
}

// SessionExport is the legacy wire shape of a session.
type SessionExport struct {
	ID            string `json:"id,omitempty"`
	Student       string `json:"student"`
	Day           string `json:"day,omitempty"`
	Date          string `json:"date,omitempty"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Cancelled     bool   `json:"cancelled,omitempty"`
	CancelReason  string `json:"cancelReason,omitempty"`
	CancelNote    string `json:"cancelNote,omitempty"`
	CancelledAt   string `json:"cancelledAt,omitempty"`
	Pending       bool   `json:"pendingConfirmation,omitempty"`
	PendingSince  string `json:"pendingSince,omitempty"`
	AllowedClash  bool   `json:"allowedClash,omitempty"`
	CompletedDate string `json:"completedDate,omitempty"`
}

// Export renders the session in the legacy wire shape.
func (s *Session) Export() SessionExport {
	export := SessionExport{
		ID:           s.ID,
		Student:      s.Student,
		Day:          s.Day,
		Date:         s.DateString(),
		Start:        s.StartTime,
		End:          s.EndTime,
		Cancelled:    s.Cancelled,
		Pending:      s.Pending,
		AllowedClash: s.AllowConflict,
	}
	if s.CancelReason != nil {
		export.CancelReason = s.CancelReason.Legacy()
	}
	if s.CancelNote != nil {
		export.CancelNote = *s.CancelNote
	}
	if s.CancelledAt != nil {
		export.CancelledAt = s.CancelledAt.UTC().Format(time.RFC3339)
	}
	if s.PendingSince != nil {
		export.PendingSince = s.PendingSince.UTC().Format(time.RFC3339)
	}
	if s.CompletedDate != nil {
		export.CompletedDate = clock.FormatDate(*s.CompletedDate)
	}
	return export
}
