// Package api assembles the HTTP surface: submission, queue status,
// leaderboard and site detail under /api/v1, plus health and metrics.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/wprank/backend/internal/api/handlers"
	"github.com/wprank/backend/internal/metrics"
	"github.com/wprank/backend/internal/middleware/ratelimit"
	"github.com/wprank/backend/internal/middleware/security"
	"github.com/wprank/backend/internal/middleware/validation"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

// Store is everything the read endpoints need from storage.
type Store interface {
	handlers.LeaderboardStore
	handlers.SiteStore
	handlers.Pinger
}

// Queue is the subset of the crawl queue the API uses.
type Queue interface {
	handlers.Submitter
	handlers.QueueReader
}

type Dependencies struct {
	Store Store
	Queue Queue
	// Cache is optional.
	Cache          handlers.LeaderboardCache
	LeaderboardTTL time.Duration
	// AccessLog enables the per-request log line.
	AccessLog bool
}

// NewApp builds the fiber app. The returned stop function releases the
// submission limiter.
func NewApp(cfg config.ServerConfig, deps Dependencies) (*fiber.App, func()) {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{HSTS: cfg.HSTS}))
	if deps.AccessLog {
		app.Use(fiberlogger.New())
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.SubmissionsPerMinute,
		Logger:               logger.Named("ratelimit"),
	})

	submissionHandler := handlers.NewSubmissionHandler(deps.Queue)
	queueHandler := handlers.NewQueueHandler(deps.Queue)
	leaderboardHandler := handlers.NewLeaderboardHandler(deps.Store, deps.Cache, deps.LeaderboardTTL)
	siteHandler := handlers.NewSiteHandler(deps.Store)
	healthHandler := handlers.NewHealthHandler(deps.Store)

	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Use(validation.Middleware(validation.Config{
		Logger: logger.Named("validation"),
	}))

	api.Post("/submissions", limiter.Middleware(), submissionHandler.Submit)
	api.Get("/queue/stats", queueHandler.Stats)
	api.Get("/queue/:id", queueHandler.GetItem)
	api.Get("/leaderboard", leaderboardHandler.List)
	api.Get("/sites/:domain", siteHandler.Get)

	return app, limiter.Stop
}
