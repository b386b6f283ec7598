package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dealer-support/internal/api/http/handlers"
	"github.com/spec-kit/dealer-support/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Sessions       *handlers.SessionsHandler
	Tickets        *handlers.TicketsHandler
	Presence       *handlers.PresenceHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/users/register", cfg.Sessions.RegisterUser)
	authGroup.Post("/users/login", cfg.Sessions.LoginUser)
	authGroup.Post("/staff/login", cfg.Sessions.LoginStaff)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	api.Post("/tickets", auth.RequireUser(), cfg.Tickets.Create)
	api.Get("/tickets", cfg.Tickets.List)
	api.Get("/tickets/key/:key", cfg.Tickets.GetByKey)
	api.Get("/tickets/:id", cfg.Tickets.Get)
	api.Patch("/tickets/:id/status", cfg.Tickets.SetStatus)
	api.Post("/tickets/:id/messages", cfg.Tickets.Reply)

	api.Get("/chat/presence", auth.RequireStaff(), cfg.Presence.Online)
}
