package models

import "time"

// StudentRate maps a student name to an hourly rate. Students without a row
// bill at the default rate setting.
type StudentRate struct {
	Student    string    `db:"student" json:"student"`
	HourlyRate int       `db:"hourly_rate" json:"hourly_rate"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
