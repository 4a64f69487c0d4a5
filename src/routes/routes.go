package routes

import (
	"github.com/gofiber/fiber/v2"

	"trade-core/src/config"
	"trade-core/src/handlers"
	"trade-core/src/middleware"
)

func SetupRoutes(app *fiber.App, h *handlers.OrderHandler, availability *middleware.ServiceAvailability, cfg config.Config) {
	app.Use(availability.Middleware())
	app.Use(middleware.RequestLogger(cfg.API.RequestLoggingDisabled))

	api := app.Group("/api/v1")

	if !cfg.RateLimit.Disabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		api.Use(rateLimiter.Middleware())
	}

	api.Post("/orders", h.SubmitOrder)
	api.Delete("/orders/:id", h.CancelOrder)
	api.Get("/orders/:id", h.GetOrderStatus)
	api.Get("/orderbook/:symbol", h.GetOrderBook)

	api.Post("/prices", h.UpdatePrice)
	api.Get("/positions/:account/:symbol", h.GetPosition)
	api.Get("/pnl", h.GetPnLSummary)
	api.Get("/pnl/:account/:symbol", h.GetPnL)
	api.Get("/fills/:symbol", h.GetFills)

	app.Get("/health", h.HealthCheck)
	app.Get("/metrics", h.Metrics)
}

// Endpoints lists the registered routes for the startup log.
func Endpoints() []string {
	return []string{
		"POST   /api/v1/orders",
		"DELETE /api/v1/orders/:id",
		"GET    /api/v1/orders/:id",
		"GET    /api/v1/orderbook/:symbol",
		"POST   /api/v1/prices",
		"GET    /api/v1/positions/:account/:symbol",
		"GET    /api/v1/pnl",
		"GET    /api/v1/pnl/:account/:symbol",
		"GET    /api/v1/fills/:symbol",
		"GET    /health",
		"GET    /metrics",
	}
}
