package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sheetgenius/sheetgenius/app/repository"
	"github.com/sheetgenius/sheetgenius/internal/pkg/cache"
	"github.com/sheetgenius/sheetgenius/internal/pkg/database"
	"github.com/sheetgenius/sheetgenius/internal/pkg/env"
	"github.com/sheetgenius/sheetgenius/internal/pkg/metrics/counter"
	"github.com/sheetgenius/sheetgenius/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// Periodically drain the pending Redis counters into daily_stats.
	counter.StartFlusher(context.Background(), 1*time.Minute)

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1 MiB, JSON bodies only
		AppName:   "sheetgenius",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
