// Package main provides the Stagehand API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/web"
	"github.com/dukex/stagehand/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	manager  *workflow.Manager
	store    persistence.Persistence
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	manager *workflow.Manager,
	store persistence.Persistence,
) *API {
	return &API{
		logger:   logger,
		manager:  manager,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.manager, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stagehand API")
	})

	s := app.Group("/sessions")
	s.Get("/", handlers.GetSessions)
	s.Post("/", handlers.CreateSession)
	s.Get("/:id", handlers.GetSession)
	s.Post("/:id/cancel", handlers.CancelSession)
	s.Get("/:id/report", handlers.GetSessionReport)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
