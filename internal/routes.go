package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	apphttp "fanout/internal/http"
)

// apiCORSConfig is the CORS setup shared by all API endpoints.
var apiCORSConfig = cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization",
}

// MountRoutes wires all endpoints onto the fiber app.
func MountRoutes(server *fiber.App, app *Application) {
	cfg := app.Config

	server.Use(recover.New())

	// Rate limiting is production-only; in development and test it would
	// interfere with exercising the API.
	conditionalRateLimiter := func(h fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return h(c)
			}
			return c.Next()
		}
	}
	apiRateLimiter := conditionalRateLimiter(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
	}))

	server.Get("/health", apphttp.HealthHandler(app.DBManager.GetConnection(), app.Manager, app.Logger))

	api := server.Group("/api/v1", cors.New(apiCORSConfig), apiRateLimiter)
	api.Get("/runners", apphttp.ListRunnersHandler(app.Runners))
	api.Post("/runs", apphttp.CreateRunHandler(app.Manager, app.Logger))
	api.Get("/runs", apphttp.ListRunsHandler(app.Manager, app.Logger))
	api.Get("/runs/:id", apphttp.GetRunHandler(app.Manager, app.Logger))
	api.Post("/runs/:id/stop", apphttp.StopRunHandler(app.Manager, app.Logger))
}
