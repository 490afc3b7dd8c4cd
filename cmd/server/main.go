package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/cards/challenge"
	"github.com/tapestryhq/tapestry-backend/internal/cards/opportunity"
	"github.com/tapestryhq/tapestry-backend/internal/cards/poll"
	"github.com/tapestryhq/tapestry-backend/internal/cards/prompt"
	"github.com/tapestryhq/tapestry-backend/internal/cards/qna"
	"github.com/tapestryhq/tapestry-backend/internal/config"
	"github.com/tapestryhq/tapestry-backend/internal/database"
	"github.com/tapestryhq/tapestry-backend/internal/handlers"
	"github.com/tapestryhq/tapestry-backend/internal/lifecycle"
	"github.com/tapestryhq/tapestry-backend/internal/logging"
	"github.com/tapestryhq/tapestry-backend/internal/middleware"
	"github.com/tapestryhq/tapestry-backend/internal/moderation"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"github.com/tapestryhq/tapestry-backend/internal/posts"
	"github.com/tapestryhq/tapestry-backend/internal/routes"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	// Migrate shared models
	if err := database.MigrateShared(); err != nil {
		slog.Error("shared migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cleanupDone)

	// Shared collaborators
	dispatcher := notify.NewDispatcher(database.DB, cfg)
	if !dispatcher.IsAvailable() {
		slog.Warn("push gateway not configured, notifications disabled")
	}
	filter := moderation.NewFilter()

	// Card engines
	pollService := poll.NewService(database.DB, dispatcher)
	challengeService := challenge.NewService(database.DB, dispatcher, filter)
	engines := []cards.Engine{
		poll.NewEngine(pollService),
		prompt.NewEngine(prompt.NewService(database.DB, dispatcher, filter)),
		challenge.NewEngine(challengeService),
		qna.NewEngine(qna.NewService(database.DB, dispatcher, filter)),
		opportunity.NewEngine(),
	}

	// Migrate engine models
	for _, e := range engines {
		if models := e.Models(); len(models) > 0 {
			if err := database.MigrateModels(models); err != nil {
				slog.Error("engine migration failed", "engine", e.Type(), "error", err)
				os.Exit(1)
			}
			slog.Info("engine migrated", "engine", e.Type(), "models", len(models))
		}
	}

	// Handlers
	healthHandler := handlers.NewHealthHandler()
	postHandler := posts.NewHandler(posts.NewService(database.DB, engines, challengeService, pollService))
	lifecycleHandler := lifecycle.NewHandler(lifecycle.NewService(database.DB, dispatcher))
	deviceHandler := notify.NewDeviceHandler(database.DB)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, healthHandler, postHandler, lifecycleHandler, deviceHandler, engines)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Close database connections
	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
