package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	Timezone  string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Tutor    TutorConfig
	Billing  BillingConfig
	Reminder ReminderConfig
	Backup   BackupConfig
	Reports  ReportsConfig
	Calendar CalendarConfig
	Jobs     JobsConfig
	Defaults DefaultsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	TimeZone     string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TutorConfig seeds the single tutor account on first start.
type TutorConfig struct {
	Email    string
	Password string
	FullName string
}

// BillingConfig tunes cache behaviour for billing summaries.
type BillingConfig struct {
	CacheTTL          time.Duration
	DashboardCacheTTL time.Duration
}

// ReminderConfig governs the upcoming-session reminder poll.
type ReminderConfig struct {
	Enabled        bool
	LeadMinMinutes int
	LeadMaxMinutes int
}

// BackupConfig controls snapshot cadence and retention sweeps.
type BackupConfig struct {
	AutoEnabled     bool
	AutoMinInterval time.Duration
	AutoCap         int
	CleanupCap      int
	RetentionMonths int
}

// ReportsConfig configures asynchronous report generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// CalendarConfig governs the signed iCalendar feed.
type CalendarConfig struct {
	FeedEnabled     bool
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// JobsConfig toggles the cron scheduler as a whole.
type JobsConfig struct {
	Enabled bool
}

// DefaultsConfig feeds the settings service builtin values.
type DefaultsConfig struct {
	DefaultRate       int
	MaxHourlyRate     int
	WorkingHoursStart string
	WorkingHoursEnd   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.Timezone = v.GetString("TIMEZONE")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		TimeZone:     cfg.Timezone,
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Tutor = TutorConfig{
		Email:    v.GetString("TUTOR_EMAIL"),
		Password: v.GetString("TUTOR_PASSWORD"),
		FullName: v.GetString("TUTOR_FULL_NAME"),
	}

	cfg.Billing = BillingConfig{
		CacheTTL:          parseDuration(v.GetString("BILLING_CACHE_TTL"), 10*time.Minute),
		DashboardCacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Reminder = ReminderConfig{
		Enabled:        v.GetBool("ENABLE_REMINDERS"),
		LeadMinMinutes: v.GetInt("REMINDER_LEAD_MIN_MINUTES"),
		LeadMaxMinutes: v.GetInt("REMINDER_LEAD_MAX_MINUTES"),
	}

	cfg.Backup = BackupConfig{
		AutoEnabled:     v.GetBool("ENABLE_AUTO_BACKUPS"),
		AutoMinInterval: parseDuration(v.GetString("AUTO_BACKUP_MIN_INTERVAL"), 7*24*time.Hour),
		AutoCap:         v.GetInt("AUTO_BACKUP_CAP"),
		CleanupCap:      v.GetInt("CLEANUP_BACKUP_CAP"),
		RetentionMonths: v.GetInt("SESSION_RETENTION_MONTHS"),
	}

	cfg.Reports = ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	cfg.Calendar = CalendarConfig{
		FeedEnabled:     v.GetBool("ENABLE_CALENDAR_FEED"),
		SignedURLSecret: v.GetString("CALENDAR_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("CALENDAR_SIGNED_URL_TTL"), 7*24*time.Hour),
	}

	cfg.Jobs = JobsConfig{Enabled: v.GetBool("ENABLE_JOBS")}

	cfg.Defaults = DefaultsConfig{
		DefaultRate:       v.GetInt("DEFAULT_HOURLY_RATE"),
		MaxHourlyRate:     v.GetInt("MAX_HOURLY_RATE"),
		WorkingHoursStart: v.GetString("WORKING_HOURS_START"),
		WorkingHoursEnd:   v.GetString("WORKING_HOURS_END"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("TIMEZONE", "Asia/Kolkata")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "tutor_desk")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TUTOR_EMAIL", "tutor@localhost")
	v.SetDefault("TUTOR_PASSWORD", "changeme")
	v.SetDefault("TUTOR_FULL_NAME", "Tutor")

	v.SetDefault("BILLING_CACHE_TTL", "10m")
	v.SetDefault("DASHBOARD_CACHE_TTL", "2m")

	v.SetDefault("ENABLE_REMINDERS", true)
	v.SetDefault("REMINDER_LEAD_MIN_MINUTES", 14)
	v.SetDefault("REMINDER_LEAD_MAX_MINUTES", 16)

	v.SetDefault("ENABLE_AUTO_BACKUPS", true)
	v.SetDefault("AUTO_BACKUP_MIN_INTERVAL", "168h")
	v.SetDefault("AUTO_BACKUP_CAP", 4)
	v.SetDefault("CLEANUP_BACKUP_CAP", 6)
	v.SetDefault("SESSION_RETENTION_MONTHS", 3)

	v.SetDefault("ENABLE_REPORTS", false)
	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_CALENDAR_FEED", false)
	v.SetDefault("CALENDAR_SIGNED_URL_SECRET", "dev_calendar_secret")
	v.SetDefault("CALENDAR_SIGNED_URL_TTL", "168h")

	v.SetDefault("ENABLE_JOBS", true)

	v.SetDefault("DEFAULT_HOURLY_RATE", 500)
	v.SetDefault("MAX_HOURLY_RATE", 10000)
	v.SetDefault("WORKING_HOURS_START", "08:00")
	v.SetDefault("WORKING_HOURS_END", "21:00")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
