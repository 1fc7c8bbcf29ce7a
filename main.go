package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"schoolreg/config"
	"schoolreg/database"
	"schoolreg/database/seeders"
	"schoolreg/handlers"
	"schoolreg/middleware"
	"schoolreg/routes"
	"schoolreg/services/activitylog"
	"schoolreg/services/documents"
	"schoolreg/services/gateway"
	"schoolreg/services/health"
	"schoolreg/services/notifications"
	"schoolreg/services/reconciliation"
	"schoolreg/services/scheduler"
	"schoolreg/services/websocket"
	"schoolreg/storage"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	serviceName    = "School Registration API"
	serviceVersion = "1.0.0"
)

func init() {
	// Load configuration first so logging can honour LOG_LEVEL and LOG_FILE
	config.LoadConfig()
	setupLogging()

	// Connect to database and Redis
	database.Connect()
}

func main() {
	// `schoolreg seed` loads the starter courses and the first Admin, then exits
	if len(os.Args) > 1 && os.Args[1] == "seed" {
		if err := seeders.SeedAll(); err != nil {
			logrus.WithError(err).Fatal("Seeding failed")
		}
		database.Close()
		return
	}

	wsHub := websocket.NewHub()
	go wsHub.Run()

	verifier, err := gateway.NewFromConfig(config.AppConfig)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure payment gateway")
	}

	// LINE notices are optional; nil interfaces disable them
	var (
		linePusher notifications.LinePusher
		groupNamer handlers.GroupNamer
	)
	if line := notifications.NewLineMessagingService(config.AppConfig.LineChannelSecret, config.AppConfig.LineChannelToken); line != nil {
		linePusher, groupNamer = line, line
	} else {
		logrus.Info("LINE staff notices disabled: missing channel secret or token")
	}
	lineGroups := notifications.NewLineGroupRegistry(database.DB)
	sink := notifications.NewService(wsHub, linePusher, config.AppConfig.LineStaffGroupID).WithGroups(lineGroups)

	engine := reconciliation.NewEngine(
		reconciliation.NewGormStore(database.DB),
		verifier,
		reconciliation.WithLocker(reconciliation.NewRedisLocker(database.GetRedisClient())),
		reconciliation.WithEventSink(sink),
		reconciliation.WithApplicationTTL(config.AppConfig.PendingApplicationTTL),
	)

	var objectStore storage.ObjectStore
	if s3, err := storage.NewStorageService(context.Background()); err != nil {
		logrus.WithError(err).Warn("S3 storage unavailable; uploads and log archives are disabled")
	} else {
		objectStore = s3
	}

	logService := activitylog.NewService(database.DB, database.GetRedisClient(), objectStore)

	jobs, err := scheduler.New(scheduler.Schedules{
		PendingReaper:    config.AppConfig.PendingReaperSchedule,
		LogFlush:         config.AppConfig.LogFlushSchedule,
		LogArchive:       config.AppConfig.LogArchiveSchedule,
		LogRetentionDays: config.AppConfig.LogRetentionDays,
	}, engine, logService)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure scheduled jobs")
	}
	jobs.Start()

	healthService := health.NewService(health.Options{
		ServiceName:    serviceName,
		Version:        serviceVersion,
		Environment:    config.AppConfig.AppEnv,
		PaymentGateway: config.AppConfig.PaymentGateway,
		SkipMigrate:    config.AppConfig.SkipMigrate,
	}, database.DB, database.GetRedisClient(), wsHub)

	app := fiber.New(fiber.Config{
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		ErrorHandler: middleware.ErrorHandler,
		BodyLimit:    int(config.AppConfig.MaxFileSize) * 5,
		AppName:      serviceName,
	})

	middleware.UseGlobal(app)

	routes.SetupRoutes(app, routes.Services{
		Engine:    engine,
		Storage:   objectStore,
		Documents: documents.NewGenerator(config.AppConfig.SchoolName, config.AppConfig.SchoolAddress),
		Logs:      logService,
		Health:    healthService,
		Hub:       wsHub,
		LineHook:  handlers.NewLineWebhookHandler(config.AppConfig.LineChannelSecret, lineGroups, groupNamer),
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Route not found",
			"code":    fiber.StatusNotFound,
		})
	})

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":        config.AppConfig.Port,
			"environment": config.AppConfig.AppEnv,
			"gateway":     config.AppConfig.PaymentGateway,
			"version":     serviceVersion,
		}).Info("Server starting")
		if err := app.Listen(":" + config.AppConfig.Port); err != nil {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	<-jobs.Stop().Done()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logrus.WithError(err).Warn("Server shutdown did not finish cleanly")
	}

	// cached activity logs would otherwise wait for the next start
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if n, err := logService.FlushCachedLogs(ctx, 0); err != nil {
		logrus.WithError(err).Warn("Final activity log flush failed")
	} else if n > 0 {
		logrus.WithField("count", n).Info("Flushed cached activity logs")
	}
	database.Close()
}

// setupLogging configures the logging system
func setupLogging() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(config.AppConfig.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// Log to stdout in development, to the log file otherwise
	if config.AppConfig.AppEnv == "development" || config.AppConfig.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(config.AppConfig.LogFile), 0755); err != nil {
		logrus.WithError(err).Warn("Could not create log directory; logging to stdout")
		return
	}
	file, err := os.OpenFile(config.AppConfig.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.WithError(err).Warn("Could not open log file; logging to stdout")
		return
	}
	logrus.SetOutput(file)
}
