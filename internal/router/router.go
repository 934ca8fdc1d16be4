package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/evo-learning/assess-api/internal/config"
	"github.com/evo-learning/assess-api/internal/handler"
	"github.com/evo-learning/assess-api/internal/middleware"
	"github.com/evo-learning/assess-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ParticipationHandler *handler.ParticipationHandler
	SubmissionHandler    *handler.SubmissionHandler
	GradingHandler       *handler.GradingHandler
	ExecutionHandler     *handler.ExecutionHandler
	LockHandler          *handler.LockHandler
	JWTMiddleware        fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	api.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Participations: joining, navigation, answers and code runs.
	if deps.ParticipationHandler != nil {
		participations := app.Group("/api/v1/participations", jwtMiddleware)
		deps.ParticipationHandler.Register(participations)

		if deps.SubmissionHandler != nil {
			deps.SubmissionHandler.Register(participations)
		}
		if deps.ExecutionHandler != nil {
			deps.ExecutionHandler.Register(participations)
		}

		// Assessment endpoints are for graders only.
		if deps.GradingHandler != nil {
			grading := app.Group("/api/v1/participations", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
			deps.GradingHandler.Register(grading)
		}
	}

	// Advisory edit locks for shared authoring surfaces.
	if deps.LockHandler != nil {
		locks := app.Group("/api/v1/locks", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
		deps.LockHandler.Register(locks)
	}
}
