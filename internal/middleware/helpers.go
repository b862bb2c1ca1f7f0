// Package middleware provides HTTP middleware for the VibeTube echo server:
// request logging, panic recovery, security headers, CORS, proxy trust, and
// the CSRF guard. Registration order lives in internal/app.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKeyUserID is the echo context key under which the auth pipeline
// stores the authenticated user's ID (int64). Read by RequestLogger.
const ContextKeyUserID = "auth_user_id"

// IsMutatingMethod reports whether method changes server state and must pass
// CSRF validation.
func IsMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// IsSecure reports whether the request arrived over TLS, directly or via a
// TLS-terminating proxy. Cookies set on such requests get the Secure flag.
func IsSecure(req *http.Request) bool {
	return req.TLS != nil || req.Header.Get(echo.HeaderXForwardedProto) == "https"
}

// JSONError writes {"error": message} with the given status.
func JSONError(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]string{"error": message})
}
