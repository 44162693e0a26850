package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-engine/internal/config"
	"github.com/noah-isme/gema-grading-engine/internal/handler"
	"github.com/noah-isme/gema-grading-engine/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler    *handler.GradingHandler
	SubmissionHandler *handler.SubmissionHandler
	HealthProbes      map[string]handler.HealthProbe
	JWTMiddleware     fiber.Handler
	GradeRateLimit    fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	grading := app.Group("/api/v2/grading", jwtMiddleware)

	if deps.GradingHandler != nil {
		var guards []fiber.Handler
		if deps.GradeRateLimit != nil {
			guards = append(guards, deps.GradeRateLimit)
		}
		deps.GradingHandler.Register(grading, guards...)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(grading.Group("/submissions"))
	}
}
