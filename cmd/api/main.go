package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/auth"
	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/database"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/repository"
	"github.com/noah-isme/gema-exam-api/internal/router"
	"github.com/noah-isme/gema-exam-api/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("failed to connect to database")
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
	} else {
		logger.Warn().Msg("redis disabled; poll cache is node-local and fan-out relies on nats")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
	}

	registry := auth.NewRegistry(redisClient, cfg.TokenTTL)
	validate := validator.New(validator.WithRequiredStructEnabled())

	catalogRepo := repository.NewCatalogRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	resultRepo := repository.NewResultRepository(db)
	proctorRepo := repository.NewProctorRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	gradingService := service.NewGradingService(resultRepo, catalogRepo, nil, logger)
	attemptService := service.NewAttemptService(attemptRepo, catalogRepo, gradingService, logger)
	proctorService := service.NewProctorService(proctorRepo, attemptRepo, redisClient, cfg.PollCacheTTL, logger)
	activityService := service.NewActivityService(activityRepo, logger)
	resultViewService := service.NewResultViewService(catalogRepo, attemptRepo, resultRepo, logger)
	monitorService := service.NewMonitorService(catalogRepo, attemptRepo, resultRepo, proctorService, proctorRepo, logger)
	maintenanceService := service.NewMaintenanceService(attemptRepo, catalogRepo, attemptService, cfg.SweepInterval, logger)

	bus := service.InterventionBus{ChannelBase: cfg.ChannelBase}
	if cfg.InterventionFanout {
		bus.Redis = redisClient
		bus.NATS = natsConn
	}
	interventionService := service.NewInterventionService(catalogRepo, attemptRepo, attemptService, proctorService, activityService, bus, validate, logger)

	studentExamHandler := handler.NewStudentExamHandler(attemptService, proctorService, resultViewService, validate, logger)
	teacherProctorHandler := handler.NewTeacherProctorHandler(interventionService, monitorService, logger)
	activityHandler := handler.NewActivityHandler(activityService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowedOrigins: cfg.AllowedOrigins})
	router.Register(app, cfg, router.Dependencies{
		StudentExamHandler:    studentExamHandler,
		TeacherProctorHandler: teacherProctorHandler,
		ActivityHandler:       activityHandler,
		JWTMiddleware:         middleware.JWTProtected(cfg.JWTSecret, registry),
		LogoutHandler:         middleware.Logout(registry),
		HealthProbes:          healthProbes(db, redisClient),
	})

	background, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if cfg.SweeperEnabled {
		if err := maintenanceService.Start(background); err != nil {
			logger.Fatal().Err(err).Msg("failed to start maintenance sweeper")
		}
	}
	interventionService.Start(background)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, cfg.ShutdownTimeout, logger)

	stopBackground()
	maintenanceService.Stop()
	if err := registry.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close token registry")
	}
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			logger.Warn().Err(err).Msg("failed to drain nats connection")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info().Msg("server stopped")
}

func healthProbes(db *gorm.DB, redisClient *redis.Client) map[string]handler.Probe {
	probes := map[string]handler.Probe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return probes
}

func waitForShutdown(app *fiber.App, timeout time.Duration, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
