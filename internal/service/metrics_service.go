package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/tutor-desk-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	requestsInFlight  prometheus.Gauge
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	dbQueryDuration   *prometheus.HistogramVec
	sessionsCreated   prometheus.Counter
	conflictsBlocked  prometheus.Counter
	conflictOverrides prometheus.Counter
	remindersSent     prometheus.Counter
	backupsCreated    prometheus.Counter
	importsApplied    prometheus.Counter

	cacheHitCount         uint64
	cacheMissCount        uint64
	requestCount          uint64
	requestDurationTotal  uint64
	dbQueryCount          uint64
	dbQueryDurationTotal  uint64
	sessionsCreatedCount  uint64
	conflictsBlockedCount uint64
	overridesCount        uint64
	remindersSentCount    uint64
	backupsCreatedCount   uint64
	importsCount          uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	requestsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "Number of HTTP requests currently being served",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	sessionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_created_total",
		Help: "Total sessions created",
	})

	conflictsBlocked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conflicts_blocked_total",
		Help: "Total saves refused by the conflict gate",
	})

	conflictOverrides := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conflict_overrides_total",
		Help: "Total saves that bypassed the conflict gate",
	})

	remindersSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminders_sent_total",
		Help: "Total session reminders emitted",
	})

	backupsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backups_created_total",
		Help: "Total state snapshots written",
	})

	importsApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imports_total",
		Help: "Total import files applied",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, requestsInFlight, cacheLatency, cacheWrite, cacheHitRatio,
		cacheHits, cacheMisses, dbQueryDuration, sessionsCreated, conflictsBlocked, conflictOverrides,
		remindersSent, backupsCreated, importsApplied, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		requestsInFlight:  requestsInFlight,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		dbQueryDuration:   dbQueryDuration,
		sessionsCreated:   sessionsCreated,
		conflictsBlocked:  conflictsBlocked,
		conflictOverrides: conflictOverrides,
		remindersSent:     remindersSent,
		backupsCreated:    backupsCreated,
		importsApplied:    importsApplied,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RequestStarted increments the in-flight gauge.
func (m *MetricsService) RequestStarted() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

// RequestFinished decrements the in-flight gauge.
func (m *MetricsService) RequestFinished() {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordSessionCreated counts a stored session.
func (m *MetricsService) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	atomic.AddUint64(&m.sessionsCreatedCount, 1)
}

// RecordConflictBlocked counts a save refused by the gate.
func (m *MetricsService) RecordConflictBlocked() {
	if m == nil {
		return
	}
	m.conflictsBlocked.Inc()
	atomic.AddUint64(&m.conflictsBlockedCount, 1)
}

// RecordConflictOverride counts a save that bypassed the gate.
func (m *MetricsService) RecordConflictOverride() {
	if m == nil {
		return
	}
	m.conflictOverrides.Inc()
	atomic.AddUint64(&m.overridesCount, 1)
}

// RecordReminderSent counts an emitted reminder.
func (m *MetricsService) RecordReminderSent() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
	atomic.AddUint64(&m.remindersSentCount, 1)
}

// RecordBackupCreated counts a written snapshot.
func (m *MetricsService) RecordBackupCreated() {
	if m == nil {
		return
	}
	m.backupsCreated.Inc()
	atomic.AddUint64(&m.backupsCreatedCount, 1)
}

// RecordImport counts an applied import file.
func (m *MetricsService) RecordImport() {
	if m == nil {
		return
	}
	m.importsApplied.Inc()
	atomic.AddUint64(&m.importsCount, 1)
}

// RegisterQueueDepth exposes a background queue's buffered depth as a gauge.
func (m *MetricsService) RegisterQueueDepth(queue string, depth func() int) {
	if m == nil || depth == nil {
		return
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_depth",
		Help:        "Jobs waiting in the in-memory queue",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 {
		return float64(depth())
	})
	m.registry.MustRegister(gauge)
}

// Snapshot returns aggregated metrics suitable for the dashboard.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		SessionsCreated:          atomic.LoadUint64(&m.sessionsCreatedCount),
		ConflictsBlocked:         atomic.LoadUint64(&m.conflictsBlockedCount),
		ConflictOverrides:        atomic.LoadUint64(&m.overridesCount),
		RemindersSent:            atomic.LoadUint64(&m.remindersSentCount),
		BackupsCreated:           atomic.LoadUint64(&m.backupsCreatedCount),
		Imports:                  atomic.LoadUint64(&m.importsCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
