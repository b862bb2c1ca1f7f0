package app

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vibetube/vibetube/internal/database"
	"github.com/vibetube/vibetube/internal/plugins/auth"
)

const healthPath = "/healthz"

// RegisterRoutes sets up all application routes. This is the single place
// where routes are aggregated; each plugin registers its own.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// Health check for container orchestration.
	e.GET(healthPath, a.health)

	// auth plugin (register, login, logout, me)
	auth.RegisterRoutes(e, a.handler)
}

// health reports whether MariaDB and Redis answer a ping.
func (a *App) health(c echo.Context) error {
	if err := database.Ping(c.Request().Context(), a.DB, a.Redis); err != nil {
		slog.Warn("health check failed", slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
