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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/speaklab/booking-api/api/swagger"
	"github.com/speaklab/booking-api/internal/handler"
	"github.com/speaklab/booking-api/internal/middleware"
	"github.com/speaklab/booking-api/internal/models"
	"github.com/speaklab/booking-api/internal/repository"
	"github.com/speaklab/booking-api/internal/service"
	"github.com/speaklab/booking-api/pkg/cache"
	"github.com/speaklab/booking-api/pkg/config"
	"github.com/speaklab/booking-api/pkg/database"
	"github.com/speaklab/booking-api/pkg/export"
	"github.com/speaklab/booking-api/pkg/jobs"
	"github.com/speaklab/booking-api/pkg/logger"
	corsmiddleware "github.com/speaklab/booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/speaklab/booking-api/pkg/middleware/requestid"
	"github.com/speaklab/booking-api/pkg/storage"
)

// @title SpeakLab Booking API
// @version 1.0.0
// @description Multi-branch IELTS speaking test booking platform
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	branchRepo := repository.NewBranchRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	slotRepo := repository.NewSlotRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	reportRepo := repository.NewReportRepository(db)
	dashboardRepo := repository.NewDashboardRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, 5*time.Minute, logr, true)

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	settingsSvc := service.NewSettingsService(settingsRepo, auditRepo, cacheSvc, logr, models.BookingRules{
		MonthlyLimit:            cfg.Booking.MonthlyLimit,
		CancellationCutoffHours: cfg.Booking.CancellationCutoffHours,
		SlotMinDurationMinutes:  cfg.Slots.MinDurationMinutes,
		SlotMaxDurationMinutes:  cfg.Slots.MaxDurationMinutes,
	})

	notificationSvc := service.NewNotificationService(notificationRepo, logr)
	auditSvc := service.NewAuditService(auditRepo, logr)
	userSvc := service.NewUserService(userRepo, branchRepo, auditRepo, validate, logr)
	branchSvc := service.NewBranchService(branchRepo, validate, logr)
	catalogSvc := service.NewCatalogService(catalogRepo, branchRepo, validate, logr)

	slotSvc := service.NewSlotService(service.SlotServiceParams{
		Repo:      slotRepo,
		Users:     userRepo,
		Catalog:   catalogRepo,
		Bookings:  bookingRepo,
		Rules:     settingsSvc,
		Audit:     auditRepo,
		Validator: validate,
		Logger:    logr,
	})

	bookingSvc := service.NewBookingService(service.BookingServiceParams{
		Repo:          bookingRepo,
		Users:         userRepo,
		Rules:         settingsSvc,
		Notifications: notificationSvc,
		Audit:         auditRepo,
		Metrics:       metricsSvc,
		Validator:     validate,
		Logger:        logr,
	})

	assessmentSvc := service.NewAssessmentService(assessmentRepo, bookingRepo, notificationSvc, auditRepo, validate, logr)
	dashboardSvc := service.NewDashboardService(dashboardRepo, branchRepo, cacheSvc, cfg.Dashboard.CacheTTL, logr)
	importSvc := service.NewImportService(userRepo, branchRepo, auditRepo, validate, cfg.Import.MaxRows, logr)

	fileStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("report storage init failed", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(bookingRepo, assessmentRepo, fileStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter())

	reportWorker := service.NewReportWorker(reportRepo, exportSvc, metricsSvc, cfg.Reports.WorkerRetries, logr)
	reportQueue := jobs.NewQueue("reports", reportWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		BufferSize: 64,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 10 * time.Second,
		Logger:     logr,
	})
	reportQueue.Start(ctx)
	defer reportQueue.Stop()

	reportSvc := service.NewReportService(reportRepo, reportQueue, exportSvc, metricsSvc, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)

	startNotificationPurge(ctx, notificationSvc, cfg.Notifications.RetentionDays, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r, cfg, handlers{
		auth:          handler.NewAuthHandler(authSvc),
		users:         handler.NewUserHandler(userSvc),
		branches:      handler.NewBranchHandler(branchSvc),
		catalog:       handler.NewCatalogHandler(catalogSvc),
		slots:         handler.NewSlotHandler(slotSvc),
		bookings:      handler.NewBookingHandler(bookingSvc),
		assessments:   handler.NewAssessmentHandler(assessmentSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
		settings:      handler.NewSettingsHandler(settingsSvc),
		audits:        handler.NewAuditHandler(auditSvc),
		reports:       handler.NewReportHandler(reportSvc),
		imports:       handler.NewImportHandler(importSvc),
		dashboard:     handler.NewDashboardHandler(dashboardSvc),
	}, authSvc, auditRepo)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}

type handlers struct {
	auth          *handler.AuthHandler
	users         *handler.UserHandler
	branches      *handler.BranchHandler
	catalog       *handler.CatalogHandler
	slots         *handler.SlotHandler
	bookings      *handler.BookingHandler
	assessments   *handler.AssessmentHandler
	notifications *handler.NotificationHandler
	settings      *handler.SettingsHandler
	audits        *handler.AuditHandler
	reports       *handler.ReportHandler
	imports       *handler.ImportHandler
	dashboard     *handler.DashboardHandler
}

func registerRoutes(r *gin.Engine, cfg *config.Config, h handlers, authSvc *service.AuthService, auditRepo *repository.AuditRepository) {
	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", h.auth.Login)
		auth.POST("/refresh", h.auth.Refresh)
	}

	// The report download link is signed, the token is the credential.
	api.GET("/reports/download/:token", h.reports.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.POST("/auth/logout", h.auth.Logout)
		authed.POST("/auth/change-password", h.auth.ChangePassword)
		authed.GET("/auth/me", h.auth.Me)

		users := authed.Group("/users")
		{
			users.GET("", middleware.AdminOnly(), h.users.List)
			users.POST("", middleware.AdminOnly(), h.users.Create)
			users.GET("/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleBranchAdmin), "SELF"), h.users.Get)
			users.GET("/:id/booking-usage", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleBranchAdmin), "SELF"), h.bookings.Usage)
			users.PUT("/:id", middleware.AdminOnly(), h.users.Update)
			users.DELETE("/:id", middleware.AdminOnly(), h.users.Deactivate)
		}

		branches := authed.Group("/branches")
		{
			branches.GET("", h.branches.List)
			branches.GET("/:id", h.branches.Get)
			branches.POST("", middleware.RequireRoles(models.RoleSuperAdmin), h.branches.Create)
			branches.PUT("/:id", middleware.RequireRoles(models.RoleSuperAdmin), h.branches.Update)
			branches.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin), h.branches.Deactivate)
		}

		authed.GET("/service-types", h.catalog.ListServiceTypes)
		authed.POST("/service-types", middleware.RequireRoles(models.RoleSuperAdmin), h.catalog.CreateServiceType)
		authed.PUT("/service-types/:id", middleware.RequireRoles(models.RoleSuperAdmin), h.catalog.UpdateServiceType)
		authed.GET("/rooms", h.catalog.ListRooms)
		authed.POST("/rooms", middleware.AdminOnly(), h.catalog.CreateRoom)
		authed.PUT("/rooms/:id", middleware.AdminOnly(), h.catalog.UpdateRoom)

		slots := authed.Group("/slots")
		{
			slots.GET("", h.slots.List)
			slots.GET("/:id", h.slots.Get)
			slots.POST("", middleware.AdminOnly(), h.slots.Create)
			slots.PUT("/:id", middleware.AdminOnly(), h.slots.Update)
			slots.DELETE("/:id", middleware.AdminOnly(), h.slots.Delete)
		}

		bookings := authed.Group("/bookings")
		{
			bookings.GET("", h.bookings.List)
			bookings.GET("/:id", h.bookings.Get)
			bookings.POST("", h.bookings.Create)
			bookings.POST("/:id/cancel", h.bookings.Cancel)
			bookings.POST("/:id/complete", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleBranchAdmin, models.RoleTeacher), h.bookings.Complete)
			bookings.POST("/:id/no-show", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleBranchAdmin, models.RoleTeacher), h.bookings.NoShow)
			bookings.GET("/:id/assessment", h.assessments.GetByBooking)
		}

		assessments := authed.Group("/assessments")
		{
			assessments.GET("", h.assessments.List)
			assessments.GET("/:id", h.assessments.Get)
			assessments.POST("", middleware.RequireRoles(models.RoleTeacher, models.RoleSuperAdmin, models.RoleBranchAdmin), h.assessments.Record)
			assessments.PUT("/:id", middleware.RequireRoles(models.RoleTeacher, models.RoleSuperAdmin, models.RoleBranchAdmin), h.assessments.Update)
		}

		notifications := authed.Group("/notifications")
		{
			notifications.GET("", h.notifications.List)
			notifications.GET("/unread-count", h.notifications.UnreadCount)
			notifications.POST("/:id/read", h.notifications.MarkRead)
			notifications.POST("/read-all", h.notifications.MarkAllRead)
		}

		authed.GET("/settings", middleware.RequireRoles(models.RoleSuperAdmin), h.settings.List)
		authed.PUT("/settings/:key", middleware.RequireRoles(models.RoleSuperAdmin), h.settings.Update)

		authed.GET("/audit-logs", middleware.RequireRoles(models.RoleSuperAdmin), h.audits.List)

		authed.POST("/reports", middleware.AdminOnly(), middleware.Audit(auditRepo, models.AuditActionReportCreate, "reports"), h.reports.Create)
		authed.GET("/reports/:id", middleware.AdminOnly(), h.reports.Status)

		authed.POST("/imports/students", middleware.AdminOnly(), h.imports.ImportStudents)

		authed.GET("/dashboard", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleBranchAdmin, models.RoleTeacher), h.dashboard.Summary)
	}
}

func startNotificationPurge(ctx context.Context, svc *service.NotificationService, retentionDays int, logr *zap.Logger) {
	if retentionDays <= 0 {
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour
	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := svc.PurgeOlderThan(ctx, retention); err != nil {
					logr.Sugar().Errorw("notification purge failed", "error", err)
				} else if n > 0 {
					logr.Sugar().Infow("purged notifications", "count", n)
				}
			}
		}
	}()
}
