package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kzinvogon/apoyar-chat/internal/api/http/handlers"
	"github.com/kzinvogon/apoyar-chat/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Sessions       *handlers.SessionsHandler
	ChatWS         *handlers.ChatWSHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	chat := app.Group("/chat", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	chat.Get("/sessions", auth.RequireStaff(), cfg.Sessions.ListSessions)
	chat.Get("/sessions/:id", cfg.Sessions.GetSession)
	chat.Get("/sessions/:id/messages", cfg.Sessions.ListMessages)
	chat.Get("/agents/online", auth.RequireStaff(), cfg.Sessions.OnlineAgents)

	chat.Get("/ws", cfg.ChatWS.Upgrade, cfg.ChatWS.Handler())
}
