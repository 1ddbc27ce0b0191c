package models

import "time"

// SettingType defines supported types for setting values.
type SettingType string

const (
	SettingTypeString  SettingType = "STRING"
	SettingTypeInteger SettingType = "INTEGER"
	SettingTypeBoolean SettingType = "BOOLEAN"
)

// Setting represents a persisted configuration entry.
type Setting struct {
	Key         string      `db:"key" json:"key"`
	Value       string      `db:"value" json:"value"`
	Type        SettingType `db:"type" json:"type"`
	Description *string     `db:"description" json:"description,omitempty"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}
