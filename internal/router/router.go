package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	StudentExamHandler    *handler.StudentExamHandler
	TeacherProctorHandler *handler.TeacherProctorHandler
	ActivityHandler       *handler.ActivityHandler
	JWTMiddleware         fiber.Handler
	LogoutHandler         fiber.Handler
	HealthProbes          map[string]handler.Probe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	if cfg.MetricsEnabled {
		app.Get("/metrics", observability.MetricsHandler())
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.LogoutHandler != nil {
		session := app.Group("/api/v2/session", jwtMiddleware)
		session.Post("/logout", middleware.WithAuth(deps.LogoutHandler, middleware.AuthOptions{Role: middleware.AuthRoleAny}))
	}

	// Student exam lifecycle
	if deps.StudentExamHandler != nil {
		student := app.Group("/api/v2/student/exams", jwtMiddleware, middleware.RequireRole(middleware.AuthRoleStudent))
		telemetry := middleware.RateLimit("exam-telemetry", cfg.EventRateLimit, cfg.EventRateWindow)
		deps.StudentExamHandler.Register(student, telemetry)
	}

	// Teacher proctoring
	if deps.TeacherProctorHandler != nil {
		teacher := app.Group("/api/v2/teacher/exams", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
		deps.TeacherProctorHandler.Register(teacher)
	}

	if deps.ActivityHandler != nil {
		activity := app.Group("/api/v2/teacher/activity", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
		deps.ActivityHandler.Register(activity)
	}
}
