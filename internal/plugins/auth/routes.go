package auth

import (
	"github.com/labstack/echo/v4"
)

// Endpoint paths. Login and register are CSRF-exempt because a first-time
// visitor cannot hold a secret yet; see CSRFSkipPaths.
const (
	RegisterPath = "/api/auth/register"
	LoginPath    = "/api/auth/login"
	LogoutPath   = "/api/auth/logout"
	MePath       = "/api/auth/me"
)

// CSRFSkipPaths lists the paths the CSRF guard must not check.
func CSRFSkipPaths() []string {
	return []string{LoginPath, RegisterPath}
}

// RegisterRoutes sets up the auth API on e. The auth pipeline middleware is
// installed globally by the app; only /me additionally requires a session.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.POST(RegisterPath, h.Register)
	e.POST(LoginPath, h.Login)
	e.POST(LogoutPath, h.Logout)
	e.GET(MePath, h.Me, RequireAuth())
}
