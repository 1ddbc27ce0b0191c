package dto

// BackupListItem summarises a snapshot row without its full payload.
type BackupListItem struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Sessions     int    `json:"sessions"`
	Rates        int    `json:"rates"`
	Payments     int    `json:"payments"`
	CutoffDate   string `json:"cutoffDate,omitempty"`
	RemovedCount int    `json:"removedCount,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// ImportResult reports what an import applied and what the migrations did.
type ImportResult struct {
	Version        string   `json:"version"`
	Sessions       int      `json:"sessions"`
	Rates          int      `json:"rates"`
	Payments       int      `json:"payments"`
	DefaultRate    int      `json:"defaultRate"`
	MigratedDates  int      `json:"migratedDates"`
	CoarseMapped   int      `json:"coarseMapped"`
	UnmappedCoarse []string `json:"unmappedCoarse,omitempty"`
	Lossy          bool     `json:"lossy"`
}

// RetentionSweepResult reports what a retention sweep removed.
type RetentionSweepResult struct {
	BackupID     string `json:"backupId,omitempty"`
	CutoffDate   string `json:"cutoffDate"`
	RemovedCount int    `json:"removedCount"`
}
