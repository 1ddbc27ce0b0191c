package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot for API consumption,
// complementing the Prometheus scrape endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	SessionsCreated          uint64    `json:"sessions_created"`
	ConflictsBlocked         uint64    `json:"conflicts_blocked"`
	ConflictOverrides        uint64    `json:"conflict_overrides"`
	RemindersSent            uint64    `json:"reminders_sent"`
	BackupsCreated           uint64    `json:"backups_created"`
	Imports                  uint64    `json:"imports"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
