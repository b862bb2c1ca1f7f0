package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vibetube/vibetube/internal/middleware"
)

// RequireAuth returns middleware that lets only authenticated requests
// through. It must run after Pipeline.Middleware. Anonymous requests get
// 401 {"error": "Unauthorized"}; if they carried a token that failed to
// parse, the stale cookie is cleared as well.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetIdentity(c) == nil {
				if _, stale := c.Get(contextKeyTokenError).(error); stale {
					clearTokenCookie(c)
				}
				return middleware.JSONError(c, http.StatusUnauthorized, "Unauthorized")
			}
			return next(c)
		}
	}
}

// GetIdentity returns the authenticated identity stored by the pipeline, or
// nil for anonymous requests.
func GetIdentity(c echo.Context) *Identity {
	identity, ok := c.Get(contextKeyIdentity).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
