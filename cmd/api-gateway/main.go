package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/edu-manage-api/api/swagger"
	migrations "github.com/noah-isme/edu-manage-api/db/migrations"
	"github.com/noah-isme/edu-manage-api/internal/handler"
	"github.com/noah-isme/edu-manage-api/internal/repository"
	"github.com/noah-isme/edu-manage-api/internal/service"
	"github.com/noah-isme/edu-manage-api/pkg/cache"
	"github.com/noah-isme/edu-manage-api/pkg/config"
	"github.com/noah-isme/edu-manage-api/pkg/database"
	"github.com/noah-isme/edu-manage-api/pkg/jobs"
	"github.com/noah-isme/edu-manage-api/pkg/logger"
	"github.com/noah-isme/edu-manage-api/pkg/realtime"
	"github.com/noah-isme/edu-manage-api/pkg/storage"
)

// @title Edu Manage API
// @version 1.0.0
// @description Courses, enrollments, assignments, quizzes, grades and notifications for a school.
// @BasePath /api/v1
// @schemes http https
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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database, logr)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Migrations.AutoMigrate {
		migrator, err := database.NewMigrator(db.DB, migrations.FS, ".")
		if err != nil {
			return err
		}
		if err := migrator.Up(); err != nil {
			return err
		}
		logr.Info("migrations applied")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
			redisClient = nil
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	uploads, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		return fmt.Errorf("init upload storage: %w", err)
	}
	reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return fmt.Errorf("init report storage: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Redis.ReportCacheTTL, logr, redisClient != nil)

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	quizRepo := repository.NewQuizRepository(db)
	attemptRepo := repository.NewQuizAttemptRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	fileRepo := repository.NewFileRepository(db)
	reportRepo := repository.NewReportRepository(db)

	auditSvc := service.NewAuditService(auditRepo, logr)

	// The hub and the enrollment service depend on each other through notifications.
	var enrollmentSvc *service.EnrollmentService
	hub := realtime.NewHub(realtime.Config{
		PingInterval: cfg.Realtime.PingInterval,
		WriteTimeout: cfg.Realtime.WriteTimeout,
		SendBuffer:   cfg.Realtime.SendBuffer,
		CanJoinCourse: func(ctx context.Context, userID, courseID string) (bool, error) {
			return enrollmentSvc.CanJoinCourse(ctx, userID, courseID)
		},
		OnConnectionChange: metrics.AddLiveConnections,
		Logger:             logr.Named("realtime"),
	})
	defer hub.Close()

	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, enrollmentRepo, courseRepo, hub, metrics, validate, logr)
	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		Audience:           []string{cfg.JWT.Audience},
	})
	userSvc := service.NewUserService(userRepo, auditSvc, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, userRepo, auditSvc, validate, logr)
	enrollmentSvc = service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, notificationSvc, auditSvc, validate, logr)
	gradeCache := service.NewCacheService(cacheRepo, metrics, cfg.Redis.GPACacheTTL, logr, redisClient != nil)
	gradeSvc := service.NewGradeService(gradeRepo, submissionRepo, assignmentRepo, courseRepo, userRepo, gradeCache, notificationSvc, auditSvc, validate, logr, service.GradeServiceConfig{
		GPACacheTTL:     cfg.Redis.GPACacheTTL,
		LegacyQuizMatch: cfg.Grades.LegacyQuizMatch,
	})
	assignmentSvc := service.NewAssignmentService(assignmentRepo, submissionRepo, fileRepo, courseRepo, enrollmentRepo, notificationSvc, auditSvc, validate, logr)
	quizSvc := service.NewQuizService(quizRepo, attemptRepo, courseRepo, enrollmentRepo, gradeSvc, notificationSvc, metrics, auditSvc, validate, logr)

	apiPrefix := cfg.APIPrefix
	fileSvc := service.NewFileService(fileRepo, uploads, storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL), auditSvc, service.FileServiceConfig{
		MaxSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Uploads.AllowedMIMEs,
		DownloadPath: apiPrefix + "/files/download",
	}, logr)

	exportSvc := service.NewExportService(reportRepo, auditRepo, reportStore, logr)
	worker := service.NewReportWorker(reportRepo, exportSvc, metrics, logr.Named("reports"))
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 5 * time.Second,
		OnFailure:  worker.Fail,
		Logger:     logr.Named("jobs"),
	})
	queue.Start(ctx)
	defer queue.Stop()

	reportSvc := service.NewReportService(reportRepo, service.ReportStats{
		Users:       userRepo,
		Courses:     courseRepo,
		Enrollments: enrollmentRepo,
		Submissions: submissionRepo,
	}, queue, exportSvc, storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL), cacheSvc, auditSvc, validate, logr, service.ReportServiceConfig{
		OverviewTTL:     cfg.Redis.ReportCacheTTL,
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		DownloadPath:    apiPrefix + "/reports/download",
	})
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := newRouter(cfg, logr, routerDeps{
		auth:          authSvc,
		audit:         auditSvc,
		metrics:       metrics,
		users:         handler.NewUserHandler(userSvc),
		authH:         handler.NewAuthHandler(authSvc),
		courses:       handler.NewCourseHandler(courseSvc),
		enrollments:   handler.NewEnrollmentHandler(enrollmentSvc),
		assignments:   handler.NewAssignmentHandler(assignmentSvc),
		quizzes:       handler.NewQuizHandler(quizSvc),
		grades:        handler.NewGradeHandler(gradeSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
		auditLogs:     handler.NewAuditHandler(auditSvc),
		files:         handler.NewFileHandler(fileSvc),
		reports:       handler.NewReportHandler(reportSvc),
		realtime:      handler.NewRealtimeHandler(hub, authSvc, cfg.Realtime.AllowedOrigins, logr.Named("ws")),
		ops: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"database": handler.PingFunc(db.PingContext),
			"redis":    cacheRepo,
		}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
