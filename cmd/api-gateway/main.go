package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lentera-edu/lms-api/api/swagger"
	"github.com/lentera-edu/lms-api/internal/handler"
	"github.com/lentera-edu/lms-api/internal/metrics"
	"github.com/lentera-edu/lms-api/internal/repository"
	"github.com/lentera-edu/lms-api/internal/service"
	"github.com/lentera-edu/lms-api/pkg/cache"
	"github.com/lentera-edu/lms-api/pkg/config"
	"github.com/lentera-edu/lms-api/pkg/database"
	"github.com/lentera-edu/lms-api/pkg/jobs"
	"github.com/lentera-edu/lms-api/pkg/logger"
	"github.com/lentera-edu/lms-api/pkg/storage"
)

// @title Lentera LMS API
// @version 1.0
// @description Course lifecycle and enrollment engine for the Lentera learning platform.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
		}
	}

	validate := validator.New()
	registry := metrics.NewRegistry()

	userRepo := repository.NewUserRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	termRepo := repository.NewTermRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, log)

	authService := service.NewAuthService(userRepo, cfg.JWT, validate, log)
	applicationService := service.NewApplicationService(applicationRepo, userRepo, userRepo, validate, log)
	courseService := service.NewCourseService(courseRepo, cacheRepo, userRepo, validate, log, cfg.Cache.CourseTTL)
	termService := service.NewTermService(termRepo, courseRepo, userRepo, enrollmentRepo, cacheRepo, userRepo, validate, log, cfg.Cache.SeatsTTL)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, termRepo, courseRepo, userRepo, cacheRepo, registry, validate, log)

	handlers := handler.Handlers{
		Auth:         handler.NewAuthHandler(authService),
		Applications: handler.NewApplicationHandler(applicationService),
		Courses:      handler.NewCourseHandler(courseService),
		Terms:        handler.NewTermHandler(termService),
		Enrollments:  handler.NewEnrollmentHandler(enrollmentService),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			log.Fatal("prepare export storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportRepo := repository.NewExportRepository(db)

		worker := service.NewExportWorker(exportRepo, termRepo, enrollmentRepo, store, signer, registry, log)
		exportQueue = jobs.NewQueue("roster-exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     log,
		})
		exportQueue.Start(ctx)
		defer exportQueue.Stop()

		exportService := service.NewExportService(exportRepo, termRepo, exportQueue, store, signer, log)
		handlers.Exports = handler.NewExportHandler(exportService)
	}

	router := handler.NewRouter(cfg, log, db, registry, authService, handlers)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.Int("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
