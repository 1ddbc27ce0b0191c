package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutor-desk-api/api/swagger"
	"github.com/noah-isme/tutor-desk-api/internal/handler"
	"github.com/noah-isme/tutor-desk-api/internal/middleware"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/internal/repository"
	"github.com/noah-isme/tutor-desk-api/internal/service"
	rediscache "github.com/noah-isme/tutor-desk-api/pkg/cache"
	"github.com/noah-isme/tutor-desk-api/pkg/config"
	"github.com/noah-isme/tutor-desk-api/pkg/database"
	"github.com/noah-isme/tutor-desk-api/pkg/jobs"
	"github.com/noah-isme/tutor-desk-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutor-desk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutor-desk-api/pkg/middleware/requestid"
	"github.com/noah-isme/tutor-desk-api/pkg/storage"
)

// @title TutorDesk API
// @version 1.0.0
// @description Scheduling, billing and backup API for a solo tutoring practice
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logr.Sugar().Warnw("invalid timezone, using local", "timezone", cfg.Timezone, "error", err)
		location = time.Local
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := rediscache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	rateRepo := repository.NewRateRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	backupRepo := repository.NewBackupRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Billing.CacheTTL, logr, redisClient != nil)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "tutor-desk-api",
	})

	settingSvc := service.NewSettingService(settingRepo, userRepo, nil, logr, service.SettingServiceConfig{
		Defaults: map[string]string{
			"default_rate":        fmt.Sprintf("%d", cfg.Defaults.DefaultRate),
			"max_hourly_rate":     fmt.Sprintf("%d", cfg.Defaults.MaxHourlyRate),
			"working_hours_start": cfg.Defaults.WorkingHoursStart,
			"working_hours_end":   cfg.Defaults.WorkingHoursEnd,
		},
	})

	sessionSvc := service.NewSessionService(service.SessionServiceParams{
		Repo:     sessionRepo,
		Logger:   logr,
		Metrics:  metricsSvc,
		Cache:    cacheSvc,
		Location: location,
	})

	availabilitySvc := service.NewAvailabilityService(sessionRepo, settingSvc, logr)

	billingSvc := service.NewBillingService(service.BillingServiceParams{
		Sessions: sessionRepo,
		Payments: paymentRepo,
		Rates:    rateRepo,
		Settings: settingSvc,
		Audit:    userRepo,
		Cache:    cacheSvc,
		Metrics:  metricsSvc,
		Logger:   logr,
		Location: location,
		Config:   service.BillingServiceConfig{CacheTTL: cfg.Billing.CacheTTL},
	})

	rateSvc := service.NewRateService(rateRepo, settingSvc, userRepo, nil, logr, cacheSvc)

	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Sessions:  sessionRepo,
		Conflicts: sessionSvc,
		Billing:   billingSvc,
		Cache:     cacheSvc,
		Logger:    logr,
		Location:  location,
		Config:    service.DashboardServiceConfig{CacheTTL: cfg.Billing.DashboardCacheTTL},
	})

	calendarSigner := storage.NewSignedURLSigner(cfg.Calendar.SignedURLSecret, cfg.Calendar.SignedURLTTL)
	calendarSvc := service.NewCalendarService(service.CalendarServiceParams{
		Sessions: sessionRepo,
		Signer:   calendarSigner,
		Logger:   logr,
		Location: location,
		Config:   service.CalendarServiceConfig{FeedEnabled: cfg.Calendar.FeedEnabled},
	})

	backupSvc := service.NewBackupService(service.BackupServiceParams{
		Backups:  backupRepo,
		Sessions: sessionRepo,
		Payments: paymentRepo,
		Rates:    rateRepo,
		Settings: settingRepo,
		Defaults: settingSvc,
		Audit:    userRepo,
		Cache:    cacheSvc,
		Metrics:  metricsSvc,
		Logger:   logr,
		Location: location,
		Config: service.BackupServiceConfig{
			AutoMinInterval: cfg.Backup.AutoMinInterval,
			AutoCap:         cfg.Backup.AutoCap,
			CleanupCap:      cfg.Backup.CleanupCap,
			RetentionMonths: cfg.Backup.RetentionMonths,
		},
	})

	reminderSvc := service.NewReminderService(service.ReminderServiceParams{
		Sessions: sessionRepo,
		Settings: settingSvc,
		Metrics:  metricsSvc,
		Logger:   logr,
		Location: location,
		Config: service.ReminderServiceConfig{
			Enabled: cfg.Reminder.Enabled,
			LeadMin: cfg.Reminder.LeadMinMinutes,
			LeadMax: cfg.Reminder.LeadMaxMinutes,
		},
	})

	var reportSvc *service.ReportService
	var reportQueue *jobs.Queue
	var exportSvc *service.ExportService
	if cfg.Reports.Enabled {
		reportStorage, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		reportSigner := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportSvc = service.NewExportService(service.ExportServiceParams{
			Billing:  billingSvc,
			Sessions: sessionRepo,
			Storage:  reportStorage,
			Signer:   reportSigner,
			Logger:   logr,
			Location: location,
			Config:   service.ExportConfig{ResultTTL: cfg.Reports.SignedURLTTL},
		})
		worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		reportQueue = jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		reportQueue.Start(ctx)
		metricsSvc.RegisterQueueDepth("reports", reportQueue.Pending)
		reportSvc = service.NewReportService(reportRepo, reportQueue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:  cfg.Reports.SignedURLTTL,
			MaxRetries: cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
	}

	if err := authSvc.EnsureTutorAccount(ctx, cfg.Tutor.Email, cfg.Tutor.Password, cfg.Tutor.FullName); err != nil {
		logr.Sugar().Fatalw("failed to seed tutor account", "error", err)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc, availabilitySvc)
	billingHandler := handler.NewBillingHandler(billingSvc)
	rateHandler := handler.NewRateHandler(rateSvc)
	settingHandler := handler.NewSettingHandler(settingSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	backupHandler := handler.NewBackupHandler(backupSvc)
	calendarHandler := handler.NewCalendarHandler(calendarSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	var reportHandler *handler.ReportHandler
	if reportSvc != nil {
		reportHandler = handler.NewReportHandler(reportSvc)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/calendar.ics", calendarHandler.Feed)
	if reportHandler != nil {
		r.GET("/files", reportHandler.DownloadFile)
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
			auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
			auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		}

		protected := api.Group("")
		protected.Use(middleware.JWT(authSvc))
		{
			sessions := protected.Group("/sessions")
			{
				sessions.GET("", sessionHandler.List)
				sessions.POST("", middleware.Audit(userRepo, models.AuditActionSessionCreate, "session"), sessionHandler.Create)
				sessions.POST("/copy-week", sessionHandler.CopyWeek)
				sessions.POST("/check-conflict", sessionHandler.CheckConflict)
				sessions.GET("/conflicts", sessionHandler.Conflicts)
				sessions.GET("/slots", sessionHandler.Slots)
				sessions.GET("/:id", sessionHandler.Get)
				sessions.PUT("/:id", middleware.Audit(userRepo, models.AuditActionSessionUpdate, "session"), sessionHandler.Update)
				sessions.DELETE("/:id", middleware.Audit(userRepo, models.AuditActionSessionDelete, "session"), sessionHandler.Delete)
				sessions.POST("/:id/cancel", middleware.Audit(userRepo, models.AuditActionSessionCancel, "session"), sessionHandler.Cancel)
				sessions.POST("/:id/restore", middleware.Audit(userRepo, models.AuditActionSessionRestore, "session"), sessionHandler.Restore)
				sessions.POST("/:id/confirm", middleware.Audit(userRepo, models.AuditActionSessionConfirm, "session"), sessionHandler.Confirm)
				sessions.POST("/:id/duplicate", middleware.Audit(userRepo, models.AuditActionSessionCreate, "session"), sessionHandler.Duplicate)
			}

			billing := protected.Group("/billing")
			{
				billing.GET("/summary", billingHandler.Summary)
				billing.GET("/weekdays", billingHandler.Weekdays)
				billing.POST("/payments", billingHandler.MarkPayment)
			}

			rates := protected.Group("/rates")
			{
				rates.GET("", rateHandler.List)
				rates.PUT("/:student", rateHandler.Set)
				rates.DELETE("/:student", rateHandler.Remove)
			}

			settings := protected.Group("/settings")
			{
				settings.GET("", settingHandler.List)
				settings.PUT("", settingHandler.BulkUpdate)
				settings.GET("/:key", settingHandler.Get)
				settings.PUT("/:key", settingHandler.Update)
			}

			protected.GET("/dashboard", dashboardHandler.Overview)
			protected.GET("/metrics", metricsHandler.Snapshot)

			backups := protected.Group("/backups")
			{
				backups.GET("", backupHandler.List)
				backups.POST("", backupHandler.Create)
				backups.POST("/restore", backupHandler.RestoreLatest)
				backups.POST("/cleanup", backupHandler.Cleanup)
				backups.POST("/:id/restore", backupHandler.RestoreByID)
			}

			protected.GET("/export", backupHandler.Export)
			protected.POST("/import", middleware.Audit(userRepo, models.AuditActionImportApply, "import"), backupHandler.Import)

			protected.GET("/calendar/feed-url", calendarHandler.FeedURL)

			if reportHandler != nil {
				reports := protected.Group("/reports")
				{
					reports.GET("", reportHandler.List)
					reports.POST("", reportHandler.Generate)
					reports.GET("/:id", reportHandler.Status)
					reports.GET("/:id/download", reportHandler.Download)
				}
			}
		}
	}

	scheduler := startScheduler(ctx, cfg, location, logr, reminderSvc, backupSvc)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if reportQueue != nil {
		reportQueue.Stop()
	}
	logr.Sugar().Infow("bye")
}

// startScheduler wires the recurring jobs: the minute reminder poll, the
// midnight notified-set reset, the nightly auto-backup attempt and the
// retention sweep.
func startScheduler(ctx context.Context, cfg *config.Config, location *time.Location, logr *zap.Logger, reminders *service.ReminderService, backups *service.BackupService) *cron.Cron {
	if !cfg.Jobs.Enabled {
		logr.Sugar().Infow("background jobs disabled")
		return nil
	}

	c := cron.New(cron.WithLocation(location))

	mustAdd := func(spec, name string, fn func()) {
		if _, err := c.AddFunc(spec, fn); err != nil {
			logr.Sugar().Fatalw("failed to schedule job", "job", name, "spec", spec, "error", err)
		}
	}

	mustAdd("* * * * *", "reminder-poll", func() {
		if err := reminders.Poll(ctx); err != nil {
			logr.Sugar().Warnw("reminder poll failed", "error", err)
		}
	})
	mustAdd("0 0 * * *", "reminder-reset", func() {
		reminders.ClearNotified()
	})
	if cfg.Backup.AutoEnabled {
		mustAdd("15 2 * * *", "auto-backup", func() {
			if _, err := backups.RunAutoBackup(ctx); err != nil {
				logr.Sugar().Warnw("auto backup failed", "error", err)
			}
		})
		mustAdd("45 3 * * *", "retention-sweep", func() {
			if _, err := backups.RunRetentionSweep(ctx, nil); err != nil {
				logr.Sugar().Warnw("retention sweep failed", "error", err)
			}
		})
	}

	c.Start()
	logr.Sugar().Infow("background jobs scheduled", "timezone", location.String())
	return c
}
