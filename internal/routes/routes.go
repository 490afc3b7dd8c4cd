package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/tapestryhq/tapestry-backend/internal/cards"
	"github.com/tapestryhq/tapestry-backend/internal/config"
	"github.com/tapestryhq/tapestry-backend/internal/handlers"
	"github.com/tapestryhq/tapestry-backend/internal/lifecycle"
	"github.com/tapestryhq/tapestry-backend/internal/middleware"
	"github.com/tapestryhq/tapestry-backend/internal/notify"
	"github.com/tapestryhq/tapestry-backend/internal/posts"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	postHandler *posts.Handler,
	lifecycleHandler *lifecycle.Handler,
	deviceHandler *notify.DeviceHandler,
	engines []cards.Engine,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Health (public)
	api.Get("/health", healthHandler.Check)

	// Everything else requires a JWT
	protected := api.Group("", middleware.JWTProtected(cfg))

	protected.Post("/devices", deviceHandler.Register)
	protected.Delete("/devices", deviceHandler.Unregister)

	postHandler.RegisterRoutes(protected)
	lifecycleHandler.RegisterRoutes(protected)

	for _, engine := range engines {
		engine.RegisterRoutes(protected)
	}
}
